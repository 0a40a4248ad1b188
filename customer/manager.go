package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebound/storefront/payment"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions provides initialization parameters for Manager
type ManagerOptions struct {
	Processor payment.Processor
	DB        *gorm.DB
	Logger    *zap.Logger
}

// Manager resolves the payment-processor customer for a user, creating one
// lazily and caching the mapping in the database
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for customers
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize customer.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// GetByEmail will try to return the customer in the database by email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	var cust Customer

	result := m.DB.WithContext(ctx).First(&cust, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by email")
	}

	return &cust, nil
}

// ResolveStripeCustomer returns the processor customer id for the given user,
// reusing the cached mapping or an existing processor customer with the same
// email before creating a new one. The local cache write is best-effort.
func (m *Manager) ResolveStripeCustomer(ctx context.Context, userID, email string) (string, error) {
	cached, err := m.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if cached != nil && len(cached.StripeCustomerID) > 0 {
		return cached.StripeCustomerID, nil
	}

	existing, err := m.Processor.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot look up processor customer")
	}
	var stripeCustomerID string
	if existing != nil {
		stripeCustomerID = existing.ID
	} else {
		created, err := m.Processor.CreateCustomer(ctx, email, userID)
		if err != nil {
			return "", extErrors.Wrap(err, "Cannot create processor customer")
		}
		stripeCustomerID = created.ID
	}

	newCustomer := &Customer{
		ID:               uuid.New().String(),
		UserID:           userID,
		Email:            email,
		StripeCustomerID: stripeCustomerID,
	}
	if result := m.DB.WithContext(ctx).Create(newCustomer); result.Error != nil {
		// the mapping is only a cache, the processor id is already resolved
		m.Logger.Warn("Unable to cache customer mapping in database",
			zap.String("Email", email),
			zap.Error(result.Error),
		)
	}

	return stripeCustomerID, nil
}
