package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

func migratedModels() []any {
	return []any{&models.CheckoutSessionModel{}}
}

// GormSessionRepository implements checkout.SessionRepository using GORM
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// FindByID finds a session by ID
func (r *GormSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*checkout.Session, error) {
	var model models.CheckoutSessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, checkout.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	return model.ToDomain()
}

// Create inserts a new session
func (r *GormSessionRepository) Create(ctx context.Context, session *checkout.Session) error {
	model, err := models.CheckoutSessionModelFromDomain(session)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	return nil
}

// Save updates the session with optimistic locking (version check)
func (r *GormSessionRepository) Save(ctx context.Context, session *checkout.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var currentVersion int
		result := tx.Model(&models.CheckoutSessionModel{}).
			Where("id = ?", session.ID).
			Select("version").
			Scan(&currentVersion)
		if result.Error != nil {
			return fmt.Errorf("failed to read session version: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return checkout.ErrSessionNotFound
		}

		if currentVersion != session.Version {
			return shared.ErrConcurrencyConflict
		}

		next := session.Clone()
		next.Version = currentVersion + 1
		model, err := models.CheckoutSessionModelFromDomain(next)
		if err != nil {
			return err
		}

		// Update with version check
		result = tx.Model(&models.CheckoutSessionModel{}).
			Where("id = ? AND version = ?", session.ID, currentVersion).
			Updates(map[string]any{
				"status":     model.Status,
				"currency":   model.Currency,
				"amount":     model.Amount,
				"document":   model.Document,
				"expires_at": model.ExpiresAt,
				"version":    model.Version,
				"updated_at": model.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to save checkout session: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}

		session.Version = next.Version
		return nil
	})
}

// FindExpired lists non-terminal sessions that expired before the given time
func (r *GormSessionRepository) FindExpired(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.CheckoutSessionModel{}).
		Where("expires_at < ? AND status NOT IN ?", before.UTC(), terminalStatuses()).
		Order("expires_at").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired checkout sessions: %w", err)
	}
	return ids, nil
}

// Delete removes a session
func (r *GormSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&models.CheckoutSessionModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete checkout session: %w", err)
	}
	return nil
}

func terminalStatuses() []string {
	return []string{checkout.StatusCompleted.String(), checkout.StatusFailed.String()}
}

var (
	_ checkout.SessionRepository = (*GormSessionRepository)(nil)
	_ checkout.SessionPurger     = (*GormSessionRepository)(nil)
)
