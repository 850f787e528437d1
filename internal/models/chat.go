package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is the chat thread bound 1:1 to a booking. It is created
// lazily by whichever party opens the chat first.
type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"booking_id"`

	CreatedAt time.Time `json:"created_at"`

	Booking  *Booking  `gorm:"foreignKey:BookingID" json:"booking,omitempty"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type MessageType string

const (
	MessageText             MessageType = "text"
	MessageProposal         MessageType = "proposal"
	MessageProposalAccepted MessageType = "proposal_accepted"
	MessageProposalRejected MessageType = "proposal_rejected"
)

// Message is immutable except for the read flag, which only the
// non-sender may set.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;index" json:"sender_id"`

	Content     string      `json:"content"`
	MessageType MessageType `gorm:"type:varchar(30);default:'text'" json:"message_type"`

	Read   bool       `gorm:"default:false" json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
