package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is one entry of a provider's catalog. Catalog management itself
// lives outside this backend; bookings only reference and join these rows.
type Service struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProviderID uuid.UUID `gorm:"type:uuid;index" json:"provider_id"`

	Name  string  `gorm:"not null" json:"name"`
	Price float64 `json:"price"`
	Unit  string  `json:"unit,omitempty"` // e.g. "hora", "diaria"

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Provider *User `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`
}

func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
