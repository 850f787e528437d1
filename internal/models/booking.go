package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

type PaymentMethod string

const (
	PaymentPix      PaymentMethod = "pix"
	PaymentDinheiro PaymentMethod = "dinheiro"
)

// DisplayStatusNegotiating is never persisted: a pending booking whose
// conversation already exists reads as "negotiating" in list endpoints.
const DisplayStatusNegotiating = "negotiating"

type Booking struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID       uuid.UUID `gorm:"type:uuid;index" json:"client_id"`
	ProfessionalID uuid.UUID `gorm:"type:uuid;index" json:"professional_id"`
	ServiceID      uuid.UUID `gorm:"type:uuid;index" json:"service_id"`

	Status        BookingStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	ScheduledDate time.Time     `json:"scheduled_date"`
	Description   string        `json:"description,omitempty"`

	// Final terms are frozen by an accepted proposal (or by a direct accept).
	FinalPrice         *float64       `json:"final_price,omitempty"`
	FinalScheduledDate *time.Time     `json:"final_scheduled_date,omitempty"`
	PaymentMethod      *PaymentMethod `gorm:"type:varchar(20)" json:"payment_method,omitempty"`

	// Lock is permanent: set only on dinheiro-accept, never cleared.
	ChatLocked   bool       `gorm:"default:false" json:"chat_locked"`
	ChatLockedAt *time.Time `json:"chat_locked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Client       *User         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Professional *User         `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
	Service      *Service      `gorm:"foreignKey:ServiceID" json:"service,omitempty"`
	Conversation *Conversation `gorm:"foreignKey:BookingID" json:"conversation,omitempty"`
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether no further transition may leave the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusRejected || s == BookingStatusCancelled || s == BookingStatusCompleted
}

// DisplayStatus derives the read-model status label.
func (b *Booking) DisplayStatus(hasConversation bool) string {
	if b.Status == BookingStatusPending && hasConversation {
		return DisplayStatusNegotiating
	}
	return string(b.Status)
}
