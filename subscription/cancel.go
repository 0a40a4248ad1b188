package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carebound/storefront/payment"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotOwner is returned when the record exists but belongs to another user
var ErrNotOwner = errors.New("subscription does not belong to this user")

// ErrRecordNotFound is returned when no record matches the given identifier
var ErrRecordNotFound = errors.New("subscription record not found")

// CancellerOptions provides initialization parameters for Canceller
type CancellerOptions struct {
	Records   *Manager
	Processor payment.Processor
	Logger    *zap.Logger
}

// Canceller ends a subscription either immediately or at the period end,
// keeping the local records in step with the processor.
type Canceller struct {
	CancellerOptions
}

// NewCanceller will return a new instance of the cancellation workflow
func NewCanceller(option CancellerOptions) (*Canceller, error) {
	if option.Records == nil {
		return nil, fmt.Errorf("nil Records is invalid")
	}
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Canceller{
		CancellerOptions: option,
	}, nil
}

// CancelOptions identifies the record and the cancellation mode
type CancelOptions struct {
	UserID string
	// ID is either the local record uuid or the processor subscription id
	ID        string
	Immediate bool
}

// CancelResult reports the state the record landed in
type CancelResult struct {
	Status            Status     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
	EndDate           *time.Time `json:"endDate,omitempty"`
}

// locate resolves the supplied identifier to a local record. Processor
// subscription ids carry the sub_ prefix and local ids are uuids, so the
// format decides which column to match.
func (c *Canceller) locate(ctx context.Context, id string) (*UserSubscription, error) {
	if strings.HasPrefix(id, "sub_") {
		return c.Records.GetByStripeSubscriptionID(ctx, id)
	}
	if _, err := uuid.Parse(id); err == nil {
		return c.Records.GetByID(ctx, id)
	}
	return nil, nil
}

// Cancel ends the subscription identified by opt.ID on behalf of opt.UserID.
// Cancelling an already cancelled record succeeds without touching the
// processor. A subscription that no longer exists upstream is treated as
// immediately cancelled locally.
func (c *Canceller) Cancel(ctx context.Context, opt CancelOptions) (*CancelResult, error) {
	logger := c.Logger.With(
		zap.String("UserID", opt.UserID),
		zap.String("ID", opt.ID),
	)

	rec, err := c.locate(ctx, opt.ID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot locate subscription record")
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if rec.UserID != opt.UserID {
		logger.Warn("Cancellation attempted on another user's subscription",
			zap.String("OwnerID", rec.UserID),
		)
		return nil, ErrNotOwner
	}

	if rec.Status == StatusCancelled {
		return &CancelResult{
			Status:  StatusCancelled,
			EndDate: rec.EndDate,
		}, nil
	}

	if opt.Immediate {
		return c.cancelNow(ctx, rec, logger)
	}
	return c.cancelAtPeriodEnd(ctx, rec, logger)
}

func (c *Canceller) cancelNow(ctx context.Context, rec *UserSubscription, logger *zap.Logger) (*CancelResult, error) {
	if len(rec.StripeSubscriptionID) > 0 {
		_, err := c.Processor.CancelNow(ctx, rec.StripeSubscriptionID)
		if err != nil && !errors.Is(err, payment.ErrSubscriptionGone) {
			return nil, extErrors.Wrap(err, "Cannot cancel subscription at processor")
		}
		if errors.Is(err, payment.ErrSubscriptionGone) {
			logger.Warn("Subscription already gone at processor, cancelling locally")
		}
	}

	now := time.Now()
	status := StatusCancelled
	inactive := false
	if err := c.Records.Transition(ctx, rec, Changes{
		Status:           &status,
		IsActive:         &inactive,
		EndDate:          &now,
		CancellationDate: &now,
	}); err != nil {
		return nil, err
	}

	logger.Info("Subscription cancelled immediately")

	return &CancelResult{
		Status:  StatusCancelled,
		EndDate: rec.EndDate,
	}, nil
}

func (c *Canceller) cancelAtPeriodEnd(ctx context.Context, rec *UserSubscription, logger *zap.Logger) (*CancelResult, error) {
	var periodEnd *time.Time

	if len(rec.StripeSubscriptionID) > 0 {
		remote, err := c.Processor.CancelAtPeriodEnd(ctx, rec.StripeSubscriptionID)
		if err != nil && !errors.Is(err, payment.ErrSubscriptionGone) {
			return nil, extErrors.Wrap(err, "Cannot schedule cancellation at processor")
		}
		if errors.Is(err, payment.ErrSubscriptionGone) {
			logger.Warn("Subscription already gone at processor, cancelling locally")
			return c.cancelNow(ctx, rec, logger)
		}
		if !remote.CurrentPeriodEnd.IsZero() {
			end := remote.CurrentPeriodEnd
			periodEnd = &end
		}
	} else {
		// never confirmed by the processor, nothing remote to wind down
		return c.cancelNow(ctx, rec, logger)
	}

	now := time.Now()
	status := StatusCancelling
	active := true
	if err := c.Records.Transition(ctx, rec, Changes{
		Status:           &status,
		IsActive:         &active,
		EndDate:          periodEnd,
		CancellationDate: &now,
	}); err != nil {
		return nil, err
	}

	logger.Info("Subscription scheduled to cancel at period end",
		zap.Timep("PeriodEnd", periodEnd),
	)

	return &CancelResult{
		Status:            StatusCancelling,
		CancelAtPeriodEnd: true,
		EndDate:           rec.EndDate,
	}, nil
}
