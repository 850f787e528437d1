package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/utils"
)

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// BookingService owns the booking status transitions. All mutations are
// conditional single-row writes: a write that matches zero rows after the
// precondition read passed surfaces as domain.ErrStateConflict instead of
// silently overwriting a concurrent decision.
type BookingService struct {
	DB *gorm.DB
}

func NewBookingService(db *gorm.DB) *BookingService {
	return &BookingService{DB: db}
}

type RequestInput struct {
	ProviderID    uuid.UUID
	ServiceID     uuid.UUID
	ScheduledDate time.Time
	Description   string
}

// Request creates a booking in pending on behalf of the client.
func (s *BookingService) Request(ctx context.Context, session domain.Session, in RequestInput) (*models.Booking, error) {
	if !session.IsClient() {
		return nil, domain.ErrForbidden
	}
	if !in.ScheduledDate.After(time.Now()) {
		return nil, domain.ErrInvalidDate
	}

	var provider models.User
	if err := s.DB.WithContext(ctx).First(&provider, "id = ?", in.ProviderID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	if provider.Role != models.RoleProvider {
		return nil, domain.ErrForbidden
	}

	var svc models.Service
	if err := s.DB.WithContext(ctx).First(&svc, "id = ?", in.ServiceID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	if svc.ProviderID != in.ProviderID {
		return nil, domain.ErrForbidden
	}

	b := models.Booking{
		ClientID:       session.UserID,
		ProfessionalID: in.ProviderID,
		ServiceID:      in.ServiceID,
		Status:         models.BookingStatusPending,
		ScheduledDate:  in.ScheduledDate,
		Description:    strings.TrimSpace(in.Description),
	}
	if err := s.DB.WithContext(ctx).Create(&b).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	return &b, nil
}

// RespondDirect is the provider's decision on a pending booking without a
// proposal round. A direct accept freezes the requested date and the
// catalog price as the final terms; the payment method stays open.
func (s *BookingService) RespondDirect(ctx context.Context, session domain.Session, bookingID uuid.UUID, decision string) (*models.Booking, error) {
	var b models.Booking
	if err := s.DB.WithContext(ctx).Preload("Service").First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	if b.ProfessionalID != session.UserID {
		return nil, domain.ErrForbidden
	}
	if b.Status != models.BookingStatusPending {
		return nil, domain.ErrInvalidState
	}

	updates := map[string]interface{}{}
	switch decision {
	case DecisionAccept:
		updates["status"] = models.BookingStatusAccepted
		updates["final_scheduled_date"] = b.ScheduledDate
		if b.Service != nil {
			updates["final_price"] = b.Service.Price
		}
	case DecisionReject:
		updates["status"] = models.BookingStatusRejected
	default:
		return nil, domain.ErrInvalidState
	}

	res := s.DB.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", bookingID, models.BookingStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, domain.WrapStore(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrStateConflict
	}

	if err := s.DB.WithContext(ctx).Preload("Service").First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	return &b, nil
}

// Cancel is the client's withdrawal, allowed only while the persisted
// status is still pending (which covers the derived negotiating state).
// Existing messages are left untouched.
func (s *BookingService) Cancel(ctx context.Context, session domain.Session, bookingID uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	if err := s.DB.WithContext(ctx).First(&b, "id = ?", bookingID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}
	if b.ClientID != session.UserID {
		return nil, domain.ErrForbidden
	}
	if b.Status != models.BookingStatusPending {
		return nil, domain.ErrInvalidState
	}

	res := s.DB.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", bookingID, models.BookingStatusPending).
		Update("status", models.BookingStatusCancelled)
	if res.Error != nil {
		return nil, domain.WrapStore(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrStateConflict
	}

	b.Status = models.BookingStatusCancelled
	return &b, nil
}

// UserSummary is the counterpart profile embedded in list rows.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// BookingView is one denormalized row of the booking lists.
type BookingView struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"` // display status, may be "negotiating"
	ScheduledDate      time.Time  `json:"scheduled_date"`
	Description        string     `json:"description,omitempty"`
	FinalPrice         *float64   `json:"final_price,omitempty"`
	FinalScheduledDate *time.Time `json:"final_scheduled_date,omitempty"`
	PaymentMethod      string     `json:"payment_method,omitempty"`
	ChatLocked         bool       `json:"chat_locked"`
	CreatedAt          time.Time  `json:"created_at"`

	ServiceName    string      `json:"service_name"`
	ConversationID *string     `json:"conversation_id,omitempty"`
	Counterpart    UserSummary `json:"counterpart"`
	DistanceKm     *float64    `json:"distance_km,omitempty"`
}

// ListForClient is the "bookings-with-details" aggregate: service name and
// provider profile joined in, display status derived.
func (s *BookingService) ListForClient(ctx context.Context, session domain.Session) ([]BookingView, error) {
	var rows []models.Booking
	err := s.DB.WithContext(ctx).
		Preload("Service").
		Preload("Professional").
		Preload("Conversation").
		Where("client_id = ?", session.UserID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.WrapStore(err)
	}

	out := make([]BookingView, 0, len(rows))
	for i := range rows {
		out = append(out, s.toView(&rows[i], rows[i].Professional, nil))
	}
	return out, nil
}

// ListForProvider is the "bookings-with-distance" aggregate: client profile
// joined in, plus the provider→client distance when both sides have
// coordinates.
func (s *BookingService) ListForProvider(ctx context.Context, session domain.Session) ([]BookingView, error) {
	var me models.User
	if err := s.DB.WithContext(ctx).First(&me, "id = ?", session.UserID).Error; err != nil {
		return nil, domain.WrapStore(err)
	}

	var rows []models.Booking
	err := s.DB.WithContext(ctx).
		Preload("Service").
		Preload("Client").
		Preload("Conversation").
		Where("professional_id = ?", session.UserID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.WrapStore(err)
	}

	out := make([]BookingView, 0, len(rows))
	for i := range rows {
		var dist *float64
		if me.Latitude != nil && me.Longitude != nil &&
			rows[i].Client != nil && rows[i].Client.Latitude != nil && rows[i].Client.Longitude != nil {
			km := utils.HaversineKm(*me.Latitude, *me.Longitude,
				*rows[i].Client.Latitude, *rows[i].Client.Longitude)
			dist = &km
		}
		out = append(out, s.toView(&rows[i], rows[i].Client, dist))
	}
	return out, nil
}

func (s *BookingService) toView(b *models.Booking, counterpart *models.User, dist *float64) BookingView {
	v := BookingView{
		ID:                 b.ID.String(),
		Status:             b.DisplayStatus(b.Conversation != nil),
		ScheduledDate:      b.ScheduledDate,
		Description:        b.Description,
		FinalPrice:         b.FinalPrice,
		FinalScheduledDate: b.FinalScheduledDate,
		ChatLocked:         b.ChatLocked,
		CreatedAt:          b.CreatedAt,
		DistanceKm:         dist,
	}
	if b.PaymentMethod != nil {
		v.PaymentMethod = string(*b.PaymentMethod)
	}
	if b.Service != nil {
		v.ServiceName = b.Service.Name
	}
	if b.Conversation != nil {
		id := b.Conversation.ID.String()
		v.ConversationID = &id
	}
	if counterpart != nil {
		v.Counterpart = UserSummary{
			ID:        counterpart.ID.String(),
			Name:      counterpart.Name,
			AvatarURL: counterpart.AvatarURL,
		}
	}
	return v
}
