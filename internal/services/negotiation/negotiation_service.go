package negotiation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/realtime"
)

// supersededReason marks proposals auto-rejected because another one in the
// same conversation was accepted.
const supersededReason = "Outra proposta foi aceita."

// NegotiationService owns the proposal state machine. A proposal and its
// chat message are created in one transaction; accept/reject are one-shot
// transitions guarded by conditional writes.
type NegotiationService struct {
	DB   *gorm.DB
	Feed realtime.Publisher
}

func NewNegotiationService(db *gorm.DB, feed realtime.Publisher) *NegotiationService {
	return &NegotiationService{DB: db, Feed: feed}
}

type SendInput struct {
	ScheduledDate time.Time
	Price         float64
	PaymentMethod models.PaymentMethod
}

// SendProposal creates the proposal message and the proposal row atomically.
// Only the booking's provider may send; a locked chat refuses proposals the
// same way it refuses text.
func (s *NegotiationService) SendProposal(ctx context.Context, session domain.Session, conversationID uuid.UUID, in SendInput) (*models.Proposal, error) {
	if in.Price <= 0 {
		return nil, domain.ErrInvalidPrice
	}
	if !in.ScheduledDate.After(time.Now()) {
		return nil, domain.ErrInvalidDate
	}
	if in.PaymentMethod != models.PaymentPix && in.PaymentMethod != models.PaymentDinheiro {
		return nil, domain.ErrInvalidPayment
	}

	conv, b, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if b.ProfessionalID != session.UserID {
		return nil, domain.ErrForbidden
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       session.UserID,
		Content:        proposalContent(in),
		MessageType:    models.MessageProposal,
	}
	prop := models.Proposal{
		ConversationID: conv.ID,
		ProviderID:     session.UserID,
		ScheduledDate:  in.ScheduledDate,
		Price:          in.Price,
		PaymentMethod:  in.PaymentMethod,
		Status:         models.ProposalStatusPending,
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
		prop.MessageID = msg.ID
		if err := tx.Create(&prop).Error; err != nil {
			return domain.WrapStore(err)
		}
		var err error
		events, err = recordEvents(tx, []models.ChangeEvent{
			models.NewChangeEvent(realtime.ChatTopic(conv.ID), "messages", "INSERT", msg.ID, msg),
			models.NewChangeEvent(realtime.ProposalsTopic(conv.ID), "proposals", "INSERT", prop.ID, prop),
			models.NewChangeEvent(realtime.UnreadTopic(b.ClientID), "messages", "INSERT", msg.ID, nil),
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
	return &prop, nil
}

// Accept transitions the proposal pending→accepted exactly once, freezes
// the booking's final terms from the proposal, locks the chat on dinheiro
// and auto-rejects every other pending proposal of the conversation.
func (s *NegotiationService) Accept(ctx context.Context, session domain.Session, proposalID uuid.UUID) (*models.Proposal, *models.Booking, error) {
	var prop models.Proposal
	var b models.Booking
	var events []realtime.Event

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&prop, "id = ?", proposalID).Error; err != nil {
			return domain.WrapStore(err)
		}

		var conv models.Conversation
		if err := tx.Preload("Booking").First(&conv, "id = ?", prop.ConversationID).Error; err != nil {
			return domain.WrapStore(err)
		}
		if conv.Booking == nil {
			return domain.ErrNotFound
		}
		b = *conv.Booking

		if b.ClientID != session.UserID {
			return domain.ErrForbidden
		}
		if prop.Status != models.ProposalStatusPending {
			return domain.ErrInvalidState
		}

		res := tx.Model(&models.Proposal{}).
			Where("id = ? AND status = ?", prop.ID, models.ProposalStatusPending).
			Update("status", models.ProposalStatusAccepted)
		if res.Error != nil {
			return domain.WrapStore(res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrStateConflict
		}
		prop.Status = models.ProposalStatusAccepted

		msg := models.Message{
			ConversationID: conv.ID,
			SenderID:       session.UserID,
			Content:        "✅ Trampo aceito!",
			MessageType:    models.MessageProposalAccepted,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return domain.WrapStore(err)
		}

		updates := map[string]interface{}{
			"status":               models.BookingStatusAccepted,
			"final_price":          prop.Price,
			"final_scheduled_date": prop.ScheduledDate,
			"payment_method":       prop.PaymentMethod,
		}
		if prop.PaymentMethod == models.PaymentDinheiro {
			updates["chat_locked"] = true
			updates["chat_locked_at"] = time.Now()
		}
		resB := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", b.ID, models.BookingStatusPending).
			Updates(updates)
		if resB.Error != nil {
			return domain.WrapStore(resB.Error)
		}
		if resB.RowsAffected == 0 {
			// booking was cancelled or decided by a concurrent writer
			return domain.ErrStateConflict
		}

		// superseded siblings get no per-row events; the conversation's
		// proposals topic below already triggers a full re-fetch
		if err := tx.Model(&models.Proposal{}).
			Where("conversation_id = ? AND status = ? AND id != ?", conv.ID, models.ProposalStatusPending, prop.ID).
			Updates(map[string]interface{}{
				"status":           models.ProposalStatusRejected,
				"rejection_reason": supersededReason,
			}).Error; err != nil {
			return domain.WrapStore(err)
		}

		var err error
		events, err = recordEvents(tx, []models.ChangeEvent{
			models.NewChangeEvent(realtime.ChatTopic(conv.ID), "messages", "INSERT", msg.ID, msg),
			models.NewChangeEvent(realtime.ProposalsTopic(conv.ID), "proposals", "UPDATE", prop.ID, prop),
			models.NewChangeEvent(realtime.UnreadTopic(b.ProfessionalID), "messages", "INSERT", msg.ID, nil),
		})
		if err != nil {
			return domain.WrapStore(err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events)

	if err := s.DB.WithContext(ctx).First(&b, "id = ?", b.ID).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}
	return &prop, &b, nil
}

// Reject transitions pending→rejected with a mandatory reason. The booking
// is left as is: the provider may follow up with a new proposal.
func (s *NegotiationService) Reject(ctx context.Context, session domain.Session, proposalID uuid.UUID, reason string) (*models.Proposal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrMissingReason
	}

	var prop models.Proposal
	var events []realtime.Event

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&prop, "id = ?", proposalID).Error; err != nil {
			return domain.WrapStore(err)
		}

		var conv models.Conversation
		if err := tx.Preload("Booking").First(&conv, "id = ?", prop.ConversationID).Error; err != nil {
			return domain.WrapStore(err)
		}
		if conv.Booking == nil {
			return domain.ErrNotFound
		}
		if conv.Booking.ClientID != session.UserID {
			return domain.ErrForbidden
		}
		if prop.Status != models.ProposalStatusPending {
			return domain.ErrInvalidState
		}

		res := tx.Model(&models.Proposal{}).
			Where("id = ? AND status = ?", prop.ID, models.ProposalStatusPending).
			Updates(map[string]interface{}{
				"status":           models.ProposalStatusRejected,
				"rejection_reason": reason,
			})
		if res.Error != nil {
			return domain.WrapStore(res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrStateConflict
		}
		prop.Status = models.ProposalStatusRejected
		prop.RejectionReason = reason

		msg := models.Message{
			ConversationID: conv.ID,
			SenderID:       session.UserID,
			Content:        fmt.Sprintf("❌ Proposta recusada.\nMotivo: %s", reason),
			MessageType:    models.MessageProposalRejected,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return domain.WrapStore(err)
		}

		var err error
		events, err = recordEvents(tx, []models.ChangeEvent{
			models.NewChangeEvent(realtime.ChatTopic(conv.ID), "messages", "INSERT", msg.ID, msg),
			models.NewChangeEvent(realtime.ProposalsTopic(conv.ID), "proposals", "UPDATE", prop.ID, prop),
			models.NewChangeEvent(realtime.UnreadTopic(conv.Booking.ProfessionalID), "messages", "INSERT", msg.ID, nil),
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
	return &prop, nil
}

// ListByConversation returns the proposal-by-message-id map the read model
// renders proposal bubbles from.
func (s *NegotiationService) ListByConversation(ctx context.Context, session domain.Session, conversationID uuid.UUID) (map[string]models.Proposal, error) {
	_, b, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if b.ClientID != session.UserID && b.ProfessionalID != session.UserID {
		return nil, domain.ErrForbidden
	}

	var props []models.Proposal
	if err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&props).Error; err != nil {
		return nil, domain.WrapStore(err)
	}

	out := make(map[string]models.Proposal, len(props))
	for _, p := range props {
		out[p.MessageID.String()] = p
	}
	return out, nil
}

func (s *NegotiationService) loadConversation(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, *models.Booking, error) {
	var conv models.Conversation
	if err := s.DB.WithContext(ctx).Preload("Booking").First(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, nil, domain.WrapStore(err)
	}
	if conv.Booking == nil {
		return nil, nil, domain.ErrNotFound
	}
	return &conv, conv.Booking, nil
}

// proposalContent renders the structured offer as the pt-BR chat bubble.
func proposalContent(in SendInput) string {
	label := "PIX"
	if in.PaymentMethod == models.PaymentDinheiro {
		label = "Dinheiro"
	}
	return fmt.Sprintf("\U0001F4CB *PROPOSTA FINAL*\n\n"+
		"\U0001F4C5 Data: %s\n"+
		"⏰ Horario: %s\n"+
		"\U0001F4B0 Valor: %s\n"+
		"\U0001F4B3 Pagamento: %s\n\n"+
		"Aguardando sua confirmacao...",
		in.ScheduledDate.Format("02/01/2006"),
		in.ScheduledDate.Format("15:04"),
		FormatBRL(in.Price),
		label,
	)
}

// FormatBRL renders a price as "R$ 1.234,56".
func FormatBRL(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot+1:]

	var grouped strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(d)
	}
	return "R$ " + grouped.String() + "," + frac
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

func (s *NegotiationService) publish(ctx context.Context, events []realtime.Event) {
	for _, ev := range events {
		if err := s.Feed.Publish(ctx, ev); err != nil {
			log.Printf("negotiation: publish %s: %v", ev.Topic, err)
		}
	}
}
