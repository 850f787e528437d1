package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusAccepted ProposalStatus = "accepted"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// Proposal is a structured counter-offer, always authored by the provider.
// Exactly one proposal exists per message with type "proposal".
type Proposal struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	MessageID      uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"message_id"`
	ProviderID     uuid.UUID `gorm:"type:uuid;index" json:"provider_id"`

	ScheduledDate time.Time     `json:"scheduled_date"`
	Price         float64       `json:"price"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20)" json:"payment_method"`

	Status          ProposalStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	RejectionReason string         `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Message *Message `gorm:"foreignKey:MessageID" json:"message,omitempty"`
}

func (p *Proposal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
