package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebound/storefront/content"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions provides initialization parameters for Manager
type ManagerOptions struct {
	DB      *gorm.DB
	Content content.Store
	Logger  *zap.Logger
}

// Manager owns the dual-store contract for purchase records: every record has
// one relational row and one content-store document, and every mutation
// attempts both. The relational write always goes first; a failing document
// write is logged and swallowed.
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for user subscriptions
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Content == nil {
		return nil, fmt.Errorf("nil Content is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&UserSubscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CreatePending persists a new purchase record in both stores, in
// status=pending. The document insert happens first (insert-then-patch); if
// the relational insert then fails the purchase fails, and the orphaned
// document is left inert.
func (m *Manager) CreatePending(ctx context.Context, rec *UserSubscription, doc *content.UserSubscriptionDoc) error {
	if err := m.Content.CreateUserSubscription(ctx, doc); err != nil {
		return extErrors.Wrap(err, "Cannot create pending record in content store")
	}
	rec.DocumentID = doc.ID
	rec.Status = StatusPending
	rec.IsActive = false
	result := m.DB.WithContext(ctx).Create(rec)
	if result.Error != nil {
		m.Logger.Error("Unable to create pending record in database, content document is orphaned",
			zap.String("DocumentID", doc.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create pending record")
	}
	return nil
}

// GetByID will try to return the record by its primary key
func (m *Manager) GetByID(ctx context.Context, id string) (*UserSubscription, error) {
	return m.getBy(ctx, "id = ?", id)
}

// GetByStripeSubscriptionID will try to return the record by the processor subscription id
func (m *Manager) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*UserSubscription, error) {
	return m.getBy(ctx, "stripe_subscription_id = ?", stripeSubscriptionID)
}

// GetByDocumentID will try to return the record paired with the given content document
func (m *Manager) GetByDocumentID(ctx context.Context, documentID string) (*UserSubscription, error) {
	return m.getBy(ctx, "document_id = ?", documentID)
}

// GetByStripeSessionID will try to return the record by the checkout session id
func (m *Manager) GetByStripeSessionID(ctx context.Context, stripeSessionID string) (*UserSubscription, error) {
	return m.getBy(ctx, "stripe_session_id = ?", stripeSessionID)
}

func (m *Manager) getBy(ctx context.Context, query string, arg string) (*UserSubscription, error) {
	var rec UserSubscription
	result := m.DB.WithContext(ctx).Where(query, arg).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription record")
	}
	return &rec, nil
}

// ListByUser returns the user's purchase records, newest first
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]UserSubscription, error) {
	results := make([]UserSubscription, 0, 1)
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("is_deleted = ?", false).
		Order("created_at desc").
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// Changes holds the absolute values a transition sets. Nil fields are left
// untouched. Handlers set absolute values from event payloads, never relative
// deltas, so replayed or out-of-order events converge.
type Changes struct {
	Status               *Status
	IsActive             *bool
	StripeSubscriptionID *string
	EndDate              *time.Time
	NextBillingDate      *time.Time
	CancellationDate     *time.Time
}

// Transition applies the changes to both copies of the record. The relational
// update goes first and its failure aborts the transition; the document patch
// afterwards is best-effort (the relational copy wins on conflict). rec is
// updated in place on success.
func (m *Manager) Transition(ctx context.Context, rec *UserSubscription, changes Changes) error {
	updates := map[string]interface{}{}
	if changes.Status != nil {
		updates["status"] = *changes.Status
	}
	if changes.IsActive != nil {
		updates["is_active"] = *changes.IsActive
	}
	if changes.StripeSubscriptionID != nil {
		updates["stripe_subscription_id"] = *changes.StripeSubscriptionID
	}
	if changes.EndDate != nil {
		updates["end_date"] = *changes.EndDate
	}
	if changes.NextBillingDate != nil {
		updates["next_billing_date"] = *changes.NextBillingDate
	}
	if changes.CancellationDate != nil {
		updates["cancellation_date"] = *changes.CancellationDate
	}
	if len(updates) == 0 {
		return nil
	}

	result := m.DB.WithContext(ctx).
		Model(&UserSubscription{}).
		Where("id = ?", rec.ID).
		Updates(updates)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot transition subscription record")
	}

	applyChanges(rec, changes)

	if len(rec.DocumentID) > 0 {
		patch := content.Patch{
			IsActive:             changes.IsActive,
			StripeSubscriptionID: changes.StripeSubscriptionID,
			EndDate:              changes.EndDate,
			NextBillingDate:      changes.NextBillingDate,
			CancellationDate:     changes.CancellationDate,
		}
		if changes.Status != nil {
			status := string(*changes.Status)
			patch.Status = &status
		}
		if err := m.Content.PatchUserSubscription(ctx, rec.DocumentID, patch); err != nil {
			m.Logger.Warn("Unable to patch content-store copy, relational copy wins",
				zap.String("DocumentID", rec.DocumentID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// SoftDeleteByDocumentID flags the row paired with the deleted content
// document. Returns the number of rows affected.
func (m *Manager) SoftDeleteByDocumentID(ctx context.Context, documentID string) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&UserSubscription{}).
		Where("document_id = ? AND is_deleted = ?", documentID, false).
		Update("is_deleted", true)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot soft delete subscription record")
	}
	return result.RowsAffected, nil
}

func applyChanges(rec *UserSubscription, changes Changes) {
	if changes.Status != nil {
		rec.Status = *changes.Status
	}
	if changes.IsActive != nil {
		rec.IsActive = *changes.IsActive
	}
	if changes.StripeSubscriptionID != nil {
		rec.StripeSubscriptionID = *changes.StripeSubscriptionID
	}
	if changes.EndDate != nil {
		rec.EndDate = changes.EndDate
	}
	if changes.NextBillingDate != nil {
		rec.NextBillingDate = changes.NextBillingDate
	}
	if changes.CancellationDate != nil {
		rec.CancellationDate = changes.CancellationDate
	}
}
