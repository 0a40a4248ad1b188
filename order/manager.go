package order

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

// Manager handles the persistence of order records
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for order records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Order{}, &OrderItem{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize order tables")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Create persists a new order with its line items
func (m *Manager) Create(ctx context.Context, o *Order) error {
	result := m.DB.WithContext(ctx).Create(o)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot create order")
	}
	return nil
}

// GetByDocumentID will try to return the order paired with the given content document
func (m *Manager) GetByDocumentID(ctx context.Context, docID string) (*Order, error) {
	var o Order
	result := m.DB.WithContext(ctx).Preload("Items").First(&o, "document_id = ?", docID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, extErrors.Wrap(result.Error, "Cannot query order")
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first, excluding deleted ones
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	results := make([]Order, 0)
	result := m.DB.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC").
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list orders")
	}
	return results, nil
}

// SoftDeleteByDocumentID marks the paired order deleted. Returns the number of
// rows affected so the deletion webhook can report replayed deletes.
func (m *Manager) SoftDeleteByDocumentID(ctx context.Context, docID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&Order{}).
		Where("document_id = ? AND is_deleted = ?", docID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete order")
	}
	return result.RowsAffected, nil
}

// SoftDeleteItems marks all live line items of an order deleted. Returns the
// number of rows affected.
func (m *Manager) SoftDeleteItems(ctx context.Context, orderID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&OrderItem{}).
		Where("order_id = ? AND is_deleted = ?", orderID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete order items")
	}
	return result.RowsAffected, nil
}

// SoftDeleteByUser marks all of a user's orders deleted
func (m *Manager) SoftDeleteByUser(ctx context.Context, userID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&Order{}).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete orders")
	}
	return result.RowsAffected, nil
}
