package chat

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/realtime"
)

// ChatService owns message ordering, read tracking and the writability
// gate. Every mutation records ChangeEvent rows in the same transaction and
// publishes them to the feed after commit.
type ChatService struct {
	DB   *gorm.DB
	Feed realtime.Publisher
}

func NewChatService(db *gorm.DB, feed realtime.Publisher) *ChatService {
	return &ChatService{DB: db, Feed: feed}
}

// OpenConversation lazily creates the thread bound to a booking. Either
// participant may open it; the unique index on booking_id resolves the race
// when both open at once.
func (s *ChatService) OpenConversation(ctx context.Context, session domain.Session, bookingID uuid.UUID) (*models.Conversation, bool, error) {
	var b models.Booking
	if err := s.DB.WithContext(ctx).First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, false, domain.WrapStore(err)
	}
	if b.ClientID != session.UserID && b.ProfessionalID != session.UserID {
		return nil, false, domain.ErrForbidden
	}

	var conv models.Conversation
	err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, domain.WrapStore(err)
	}

	conv = models.Conversation{BookingID: bookingID}
	if err := s.DB.WithContext(ctx).Create(&conv).Error; err != nil {
		// lost the creation race: the other party's row wins
		var existing models.Conversation
		if err2 := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&existing).Error; err2 == nil {
			return &existing, false, nil
		}
		return nil, false, domain.WrapStore(err)
	}
	return &conv, true, nil
}

// PostMessage appends a text message. Fails with ErrChatLocked once the
// booking is locked, regardless of which party writes.
func (s *ChatService) PostMessage(ctx context.Context, session domain.Session, conversationID uuid.UUID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrEmptyContent
	}

	conv, b, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if b.ClientID != session.UserID && b.ProfessionalID != session.UserID {
		return nil, domain.ErrForbidden
	}

	recipient := b.ClientID
	if session.UserID == b.ClientID {
		recipient = b.ProfessionalID
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       session.UserID,
		Content:        content,
		MessageType:    models.MessageText,
	}

	var events []realtime.Event
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// writing the lock column serializes this insert against a
		// concurrent dinheiro-accept; zero rows means the chat locked
		// after the read above
		res := tx.Model(&models.Booking{}).
			Where("id = ? AND chat_locked = ?", b.ID, false).
			Update("chat_locked", false)
		if res.Error != nil {
			return domain.WrapStore(res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrChatLocked
		}

		if err := tx.Create(&msg).Error; err != nil {
			return domain.WrapStore(err)
		}
		var err error
		events, err = recordEvents(tx, []models.ChangeEvent{
			models.NewChangeEvent(realtime.ChatTopic(conv.ID), "messages", "INSERT", msg.ID, msg),
			models.NewChangeEvent(realtime.UnreadTopic(recipient), "messages", "INSERT", msg.ID, nil),
		})
		if err != nil {
			return domain.WrapStore(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return &msg, nil
}

// MarkRead flips the read flag on every counterpart message still unread,
// then emits the reader's unread topic so the global badge recounts.
func (s *ChatService) MarkRead(ctx context.Context, session domain.Session, conversationID uuid.UUID) (int64, error) {
	conv, b, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if b.ClientID != session.UserID && b.ProfessionalID != session.UserID {
		return 0, domain.ErrForbidden
	}

	var flipped int64
	var events []realtime.Event
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id != ? AND read = ?", conv.ID, session.UserID, false).
			Updates(map[string]interface{}{"read": true, "read_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		flipped = res.RowsAffected
		if flipped == 0 {
			return nil
		}
		events, err = recordEvents(tx, []models.ChangeEvent{
			models.NewChangeEvent(realtime.ChatTopic(conv.ID), "messages", "UPDATE", conv.ID, nil),
			models.NewChangeEvent(realtime.UnreadTopic(session.UserID), "messages", "UPDATE", conv.ID, nil),
		})
		return err
	})
	if err != nil {
		return 0, domain.WrapStore(err)
	}

	s.publish(ctx, events)
	return flipped, nil
}

// Messages returns the full timeline ordered by (created_at, id) asc.
func (s *ChatService) Messages(ctx context.Context, session domain.Session, conversationID uuid.UUID) ([]models.Message, error) {
	conv, b, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if b.ClientID != session.UserID && b.ProfessionalID != session.UserID {
		return nil, domain.ErrForbidden
	}

	var msgs []models.Message
	if err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	return msgs, nil
}

// UnreadTotal recounts the user's unread messages across all of their
// conversations. Always a full count query, never an incremental adjust.
func (s *ChatService) UnreadTotal(ctx context.Context, session domain.Session) (int64, error) {
	return CountUnread(ctx, s.DB, session.UserID)
}

// CountUnread is shared with the synchronizer's unread-topic handler.
func CountUnread(ctx context.Context, db *gorm.DB, userID uuid.UUID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN conversations ON messages.conversation_id = conversations.id").
		Joins("JOIN bookings ON conversations.booking_id = bookings.id").
		Where("(bookings.client_id = ? OR bookings.professional_id = ?) AND messages.sender_id != ? AND messages.read = ?",
			userID, userID, userID, false).
		Count(&count).Error
	if err != nil {
		return 0, domain.WrapStore(err)
	}
	return count, nil
}

// ConversationListItem is one row of the chat list.
type ConversationListItem struct {
	ID            string          `json:"id"`
	BookingID     string          `json:"booking_id"`
	ServiceName   string          `json:"service_name"`
	BookingStatus string          `json:"booking_status"`
	ChatLocked    bool            `json:"chat_locked"`
	Counterpart   CounterpartInfo `json:"counterpart"`
	LastMessage   *models.Message `json:"last_message,omitempty"`
	UnreadCount   int64           `json:"unread_count"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CounterpartInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ListConversations builds the chat list for one user, newest activity
// first.
func (s *ChatService) ListConversations(ctx context.Context, session domain.Session) ([]ConversationListItem, error) {
	var convs []models.Conversation
	err := s.DB.WithContext(ctx).
		Preload("Booking").
		Preload("Booking.Service").
		Preload("Booking.Client").
		Preload("Booking.Professional").
		Joins("JOIN bookings ON bookings.id = conversations.booking_id").
		Where("bookings.client_id = ? OR bookings.professional_id = ?", session.UserID, session.UserID).
		Order("conversations.created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, domain.WrapStore(err)
	}

	out := make([]ConversationListItem, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		if conv.Booking == nil {
			continue
		}

		item := ConversationListItem{
			ID:            conv.ID.String(),
			BookingID:     conv.BookingID.String(),
			BookingStatus: conv.Booking.DisplayStatus(true),
			ChatLocked:    conv.Booking.ChatLocked,
			CreatedAt:     conv.CreatedAt,
		}
		if conv.Booking.Service != nil {
			item.ServiceName = conv.Booking.Service.Name
		}

		other := conv.Booking.Professional
		if conv.Booking.ProfessionalID == session.UserID {
			other = conv.Booking.Client
		}
		if other != nil {
			item.Counterpart = CounterpartInfo{
				ID:        other.ID.String(),
				Name:      other.Name,
				AvatarURL: other.AvatarURL,
			}
		}

		var last models.Message
		if err := s.DB.WithContext(ctx).
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC, id DESC").
			First(&last).Error; err == nil {
			item.LastMessage = &last
		}

		s.DB.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id != ? AND read = ?", conv.ID, session.UserID, false).
			Count(&item.UnreadCount)

		out = append(out, item)
	}

	// newest activity first; threads without messages rank by creation time
	lastAt := func(it ConversationListItem) time.Time {
		if it.LastMessage != nil {
			return it.LastMessage.CreatedAt
		}
		return it.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool { return lastAt(out[i]).After(lastAt(out[j])) })
	return out, nil
}

func (s *ChatService) loadConversation(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, *models.Booking, error) {
	var conv models.Conversation
	if err := s.DB.WithContext(ctx).Preload("Booking").First(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}
	if conv.Booking == nil {
		return nil, nil, domain.ErrNotFound
	}
	return &conv, conv.Booking, nil
}

func recordEvents(tx *gorm.DB, rows []models.ChangeEvent) ([]realtime.Event, error) {
	events := make([]realtime.Event, 0, len(rows))
	for i := range rows {
		if err := tx.Create(&rows[i]).Error; err != nil {
			return nil, err
		}
		events = append(events, realtime.Event{
			Topic:  rows[i].Topic,
			Table:  rows[i].TableName,
			Action: rows[i].Action,
			RowID:  rows[i].RowID,
		})
	}
	return events, nil
}

func (s *ChatService) publish(ctx context.Context, events []realtime.Event) {
	for _, ev := range events {
		if err := s.Feed.Publish(ctx, ev); err != nil {
			log.Printf("chat: publish %s: %v", ev.Topic, err)
		}
	}
}
