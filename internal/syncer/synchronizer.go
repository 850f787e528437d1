package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/realtime"
	"github.com/viniciusmb/trampo-backend/internal/services/chat"
)

// Notifier is what the synchronizer needs from the websocket hub.
type Notifier interface {
	SendToUser(userID uuid.UUID, data interface{})
	SendToParticipants(clientID, professionalID uuid.UUID, data interface{})
}

// Synchronizer bridges the change feed to the projections each party
// renders. Every event triggers a full re-fetch of the topic's row set and
// a replacement push: duplicate or out-of-order delivery converges to the
// same snapshot, so no event bookkeeping is needed.
type Synchronizer struct {
	DB   *gorm.DB
	Feed *realtime.Feed
	Hub  Notifier

	// bounded exponential backoff for transient store failures
	RetryAttempts int
	RetryBase     time.Duration
}

func NewSynchronizer(db *gorm.DB, feed *realtime.Feed, hub Notifier) *Synchronizer {
	return &Synchronizer{
		DB:            db,
		Feed:          feed,
		Hub:           hub,
		RetryAttempts: 5,
		RetryBase:     100 * time.Millisecond,
	}
}

// ConversationView is the per-conversation read model: the ordered
// timeline, the proposal keyed by its message, and the lock flag.
type ConversationView struct {
	ConversationID string                     `json:"conversation_id"`
	Messages       []models.Message           `json:"messages"`
	Proposals      map[string]models.Proposal `json:"proposals"`
	ChatLocked     bool                       `json:"chat_locked"`
}

// Run consumes the feed until the context ends. Topics follow the naming
// convention in realtime: chat:<conv>, proposals:<conv>, unread:<user>.
func (s *Synchronizer) Run(ctx context.Context) {
	pubsub := s.Feed.Subscribe(ctx, "chat:*", "proposals:*", "unread:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("synchronizer: subscribed to change feed")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("synchronizer: bad event on %s: %v", msg.Channel, err)
				continue
			}
			if err := s.Handle(ctx, msg.Channel, ev); err != nil {
				log.Printf("synchronizer: handle %s: %v", msg.Channel, err)
			}
		}
	}
}

// Handle reconciles one topic. The event body is deliberately ignored
// beyond routing: the authoritative rows are always re-read.
func (s *Synchronizer) Handle(ctx context.Context, topic string, _ realtime.Event) error {
	switch {
	case strings.HasPrefix(topic, "chat:"), strings.HasPrefix(topic, "proposals:"):
		convID, err := uuid.Parse(topic[strings.Index(topic, ":")+1:])
		if err != nil {
			return err
		}
		return s.syncConversation(ctx, convID)

	case strings.HasPrefix(topic, "unread:"):
		userID, err := uuid.Parse(strings.TrimPrefix(topic, "unread:"))
		if err != nil {
			return err
		}
		return s.syncUnread(ctx, userID)
	}
	return nil
}

func (s *Synchronizer) syncConversation(ctx context.Context, conversationID uuid.UUID) error {
	var view *ConversationView
	var clientID, professionalID uuid.UUID

	err := s.withRetry(ctx, func() error {
		v, b, err := s.BuildConversationView(ctx, conversationID)
		if err != nil {
			return err
		}
		view = v
		clientID, professionalID = b.ClientID, b.ProfessionalID
		return nil
	})
	if err != nil {
		return err
	}

	s.Hub.SendToParticipants(clientID, professionalID, map[string]interface{}{
		"type":         "conversation_sync",
		"conversation": view,
	})
	return nil
}

func (s *Synchronizer) syncUnread(ctx context.Context, userID uuid.UUID) error {
	var count int64
	err := s.withRetry(ctx, func() error {
		c, err := chat.CountUnread(ctx, s.DB, userID)
		if err != nil {
			return err
		}
		count = c
		return nil
	})
	if err != nil {
		return err
	}

	s.Hub.SendToUser(userID, map[string]interface{}{
		"type":  "unread_count",
		"count": count,
	})
	return nil
}

// BuildConversationView re-reads the full row set for one conversation and
// assembles the replacement projection.
func (s *Synchronizer) BuildConversationView(ctx context.Context, conversationID uuid.UUID) (*ConversationView, *models.Booking, error) {
	var conv models.Conversation
	if err := s.DB.WithContext(ctx).Preload("Booking").First(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}
	if conv.Booking == nil {
		return nil, nil, domain.ErrNotFound
	}

	var msgs []models.Message
	if err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}

	var props []models.Proposal
	if err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&props).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}

	byMessage := make(map[string]models.Proposal, len(props))
	for _, p := range props {
		byMessage[p.MessageID.String()] = p
	}

	return &ConversationView{
		ConversationID: conversationID.String(),
		Messages:       msgs,
		Proposals:      byMessage,
		ChatLocked:     conv.Booking.ChatLocked,
	}, conv.Booking, nil
}

// withRetry retries transient store failures with doubling delays. Terminal
// errors (not found, forbidden) return immediately; exhaustion returns the
// last error and the at-least-once feed will bring another chance.
func (s *Synchronizer) withRetry(ctx context.Context, op func() error) error {
	delay := s.RetryBase
	var err error
	for attempt := 0; attempt < s.RetryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
