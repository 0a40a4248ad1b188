package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions provides initialization parameters for Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the persistence of appointment records
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for appointment records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&UserAppointment{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize appointment table")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Create persists a new appointment
func (m *Manager) Create(ctx context.Context, a *UserAppointment) error {
	result := m.DB.WithContext(ctx).Create(a)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot create appointment")
	}
	return nil
}

// GetByDocumentID will try to return the appointment paired with the given content document
func (m *Manager) GetByDocumentID(ctx context.Context, docID string) (*UserAppointment, error) {
	var a UserAppointment
	result := m.DB.WithContext(ctx).First(&a, "document_id = ?", docID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, extErrors.Wrap(result.Error, "Cannot query appointment")
	}
	return &a, nil
}

// ListByUser returns the user's appointments, soonest first, excluding deleted ones
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]UserAppointment, error) {
	results := make([]UserAppointment, 0)
	result := m.DB.WithContext(ctx).
		Order("scheduled_at ASC").
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list appointments")
	}
	return results, nil
}

// SoftDeleteByDocumentID marks the paired appointment deleted
func (m *Manager) SoftDeleteByDocumentID(ctx context.Context, docID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&UserAppointment{}).
		Where("document_id = ? AND is_deleted = ?", docID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete appointment")
	}
	return result.RowsAffected, nil
}

// SoftDeleteBySubscription marks all appointments granted through a
// subscription record deleted. Used when the granting subscription's content
// document is removed.
func (m *Manager) SoftDeleteBySubscription(ctx context.Context, userSubscriptionID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&UserAppointment{}).
		Where("user_subscription_id = ? AND is_deleted = ?", userSubscriptionID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete appointments")
	}
	return result.RowsAffected, nil
}
