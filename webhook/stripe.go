package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/carebound/storefront/adtrack"
	"github.com/carebound/storefront/crm"
	"github.com/carebound/storefront/payment"
	resp "github.com/carebound/storefront/response"
	"github.com/carebound/storefront/subscription"
	"github.com/carebound/storefront/util"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

// Stripe recommends capping webhook payloads well below this
const maxBodyBytes = 65536

// errRecordNotFound makes the endpoint answer 404 so the processor retries
// the delivery; the race between checkout.session.completed and the first
// invoice resolves on a later attempt.
var errRecordNotFound = errors.New("no local record for processor event")

func (s *Service) handleStripe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read payload"))
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), s.StripeEndpointSecret)
	if err != nil {
		s.Logger.Warn("Webhook signature verification failed",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Signature verification failed"))
		return
	}

	if err := s.HandleEvent(r.Context(), event); err != nil {
		if errors.Is(err, errRecordNotFound) {
			resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No matching record"))
			return
		}
		s.Logger.Error("Unable to process processor event",
			zap.String("EventType", event.Type),
			zap.String("EventID", event.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, map[string]bool{"received": true})
}

// HandleEvent applies a verified processor event to the local records. All
// transitions set absolute values, so replayed deliveries converge on the
// same state.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoiceFailed(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.Logger.Debug("Ignoring unhandled event type",
			zap.String("EventType", event.Type),
		)
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}
	if session.Subscription == nil {
		// one-time payment sessions reconcile through the order flow
		return nil
	}

	rec, err := s.Records.GetByStripeSessionID(ctx, session.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		s.Logger.Warn("Completed session has no pending record",
			zap.String("SessionID", session.ID),
		)
		return nil
	}

	logger := s.Logger.With(
		zap.String("UserID", rec.UserID),
		zap.String("SessionID", session.ID),
		zap.String("StripeSubscriptionID", session.Subscription.ID),
	)

	status := subscription.StatusActive
	active := true
	stripeSubscriptionID := session.Subscription.ID
	if err := s.Records.Transition(ctx, rec, subscription.Changes{
		Status:               &status,
		IsActive:             &active,
		StripeSubscriptionID: &stripeSubscriptionID,
	}); err != nil {
		return err
	}

	logger.Info("Pending record linked to processor subscription")

	s.detachCRMSync(logger, rec)

	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}
	if invoice.Subscription == nil {
		return nil
	}

	rec, err := s.Records.GetByStripeSubscriptionID(ctx, invoice.Subscription.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errRecordNotFound
	}

	logger := s.Logger.With(
		zap.String("UserID", rec.UserID),
		zap.String("StripeSubscriptionID", invoice.Subscription.ID),
		zap.String("InvoiceID", invoice.ID),
	)

	status := subscription.StatusActive
	active := true
	changes := subscription.Changes{
		Status:   &status,
		IsActive: &active,
	}

	remote, err := s.Processor.GetSubscription(ctx, invoice.Subscription.ID)
	if err != nil && !errors.Is(err, payment.ErrSubscriptionGone) {
		return err
	}
	if remote != nil && !remote.CurrentPeriodEnd.IsZero() {
		periodEnd := remote.CurrentPeriodEnd
		changes.EndDate = &periodEnd
		changes.NextBillingDate = &periodEnd
	}

	if err := s.Records.Transition(ctx, rec, changes); err != nil {
		return err
	}

	logger.Info("Invoice payment reconciled")

	s.detachCRMSync(logger, rec)

	invoiceID := invoice.ID
	purchase := adtrack.PurchaseEvent{
		EventID:   invoiceID,
		UserEmail: rec.UserEmail,
		UserID:    rec.UserID,
		Value:     rec.BillingAmount,
		Currency:  "usd",
	}
	util.Detach(logger, "purchase-conversion-event", func(ctx context.Context) error {
		return s.AdTrack.SendPurchase(ctx, purchase)
	})

	return nil
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}
	if invoice.Subscription == nil {
		return nil
	}

	rec, err := s.Records.GetByStripeSubscriptionID(ctx, invoice.Subscription.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		// the delivery may have raced ahead of checkout.session.completed,
		// answer not-found so the sender retries
		return errRecordNotFound
	}

	// access continues through the processor's retry window
	status := subscription.StatusPastDue
	if err := s.Records.Transition(ctx, rec, subscription.Changes{
		Status: &status,
	}); err != nil {
		return err
	}

	s.Logger.Info("Invoice payment failure recorded",
		zap.String("UserID", rec.UserID),
		zap.String("StripeSubscriptionID", invoice.Subscription.ID),
	)

	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return err
	}

	rec, err := s.Records.GetByStripeSubscriptionID(ctx, remote.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		s.Logger.Warn("Updated subscription has no local record",
			zap.String("StripeSubscriptionID", remote.ID),
		)
		return nil
	}

	logger := s.Logger.With(
		zap.String("UserID", rec.UserID),
		zap.String("StripeSubscriptionID", remote.ID),
	)

	changes := subscription.Changes{}
	switch {
	case remote.Status == stripe.SubscriptionStatusCanceled:
		now := time.Now()
		status := subscription.StatusCancelled
		active := false
		changes.Status = &status
		changes.IsActive = &active
		changes.EndDate = &now
		changes.CancellationDate = &now
	case remote.CancelAtPeriodEnd:
		status := subscription.StatusCancelling
		active := true
		changes.Status = &status
		changes.IsActive = &active
		if remote.CurrentPeriodEnd > 0 {
			periodEnd := time.Unix(remote.CurrentPeriodEnd, 0)
			changes.EndDate = &periodEnd
		}
	case remote.Status == stripe.SubscriptionStatusPastDue:
		status := subscription.StatusPastDue
		changes.Status = &status
	case remote.Status == stripe.SubscriptionStatusActive:
		status := subscription.StatusActive
		active := true
		changes.Status = &status
		changes.IsActive = &active
	default:
		logger.Debug("Ignoring subscription update",
			zap.String("RemoteStatus", string(remote.Status)),
		)
		return nil
	}

	if err := s.Records.Transition(ctx, rec, changes); err != nil {
		return err
	}

	logger.Info("Subscription update reconciled",
		zap.String("Status", string(rec.Status)),
	)

	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return err
	}

	rec, err := s.Records.GetByStripeSubscriptionID(ctx, remote.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		s.Logger.Warn("Deleted subscription has no local record",
			zap.String("StripeSubscriptionID", remote.ID),
		)
		return nil
	}

	logger := s.Logger.With(
		zap.String("UserID", rec.UserID),
		zap.String("StripeSubscriptionID", remote.ID),
	)

	now := time.Now()
	status := subscription.StatusCancelled
	active := false
	if err := s.Records.Transition(ctx, rec, subscription.Changes{
		Status:           &status,
		IsActive:         &active,
		EndDate:          &now,
		CancellationDate: &now,
	}); err != nil {
		return err
	}

	logger.Info("Subscription deletion reconciled")

	s.detachCRMSync(logger, rec)

	return nil
}

// detachCRMSync pushes the record's current status to the CRM without
// blocking reconciliation
func (s *Service) detachCRMSync(logger *zap.Logger, rec *subscription.UserSubscription) {
	contact := crm.Contact{
		Email: rec.UserEmail,
		Tags:  []string{"subscriber"},
		CustomFields: map[string]string{
			"subscription_status": string(rec.Status),
			"subscription_plan":   rec.PlanName,
		},
	}
	util.Detach(logger, "crm-contact-sync", func(ctx context.Context) error {
		return s.CRM.UpsertContact(ctx, contact)
	})
}
