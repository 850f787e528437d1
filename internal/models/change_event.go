package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChangeEvent is the persisted change-feed envelope. It is written in the
// same transaction as the row mutation it describes and published to Redis
// after commit, so subscribers can always re-fetch a consistent row set and
// redelivery is harmless.
type ChangeEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Topic     string         `gorm:"index;not null" json:"topic"`
	TableName string         `gorm:"not null" json:"table"`
	Action    string         `gorm:"type:varchar(10);not null" json:"action"` // INSERT | UPDATE
	RowID     uuid.UUID      `gorm:"type:uuid" json:"row_id"`
	Payload   datatypes.JSON `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (e *ChangeEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// NewChangeEvent builds the envelope for one row mutation. A payload that
// fails to marshal is dropped rather than failing the transaction.
func NewChangeEvent(topic, table, action string, rowID uuid.UUID, payload interface{}) ChangeEvent {
	ev := ChangeEvent{Topic: topic, TableName: table, Action: action, RowID: rowID}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = datatypes.JSON(b)
		}
	}
	return ev
}
