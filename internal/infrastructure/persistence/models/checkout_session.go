package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
)

// CheckoutSessionModel is the persistence model for the CheckoutSession aggregate.
// Version backs the optimistic lock in Save.
type CheckoutSessionModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`
	Version   int        `gorm:"not null;default:1"`
	Status    string     `gorm:"type:varchar(32);not null;index"`
	Currency  string     `gorm:"type:varchar(3);not null"`
	Amount    int64      `gorm:"not null;default:0"`
	Document  string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (CheckoutSessionModel) TableName() string {
	return "checkout_sessions"
}

// ToDomain converts the persistence model to a domain Session
func (m *CheckoutSessionModel) ToDomain() (*checkout.Session, error) {
	s := &checkout.Session{}
	if err := json.Unmarshal([]byte(m.Document), s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session %s: %w", m.ID, err)
	}
	// columns are authoritative for identity and version
	s.BaseEntity = shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
	s.Version = m.Version
	return s, nil
}

// FromDomain populates the persistence model from a domain Session
func (m *CheckoutSessionModel) FromDomain(s *checkout.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode checkout session %s: %w", s.ID, err)
	}
	m.ID = s.ID
	m.CreatedAt = s.CreatedAt
	m.UpdatedAt = s.UpdatedAt
	m.Version = s.Version
	m.Status = s.Status.String()
	m.Currency = s.Currency.String()
	m.Amount = s.Amount()
	m.Document = string(doc)
	m.ExpiresAt = nil
	if !s.ExpiresAt.IsZero() {
		t := s.ExpiresAt.UTC()
		m.ExpiresAt = &t
	}
	return nil
}

// CheckoutSessionModelFromDomain creates a new persistence model from a domain Session
func CheckoutSessionModelFromDomain(s *checkout.Session) (*CheckoutSessionModel, error) {
	m := &CheckoutSessionModel{}
	if err := m.FromDomain(s); err != nil {
		return nil, err
	}
	return m, nil
}
