package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	resp "github.com/carebound/storefront/response"

	"go.uber.org/zap"
)

const contentSecretHeader = "X-Webhook-Secret"

// deletionPayload is the projection the content store sends when a document
// is removed
type deletionPayload struct {
	ID   string `json:"_id"`
	Type string `json:"_type"`
}

// handleContentDeletion soft-deletes the relational rows paired with a
// removed content document. The relational copy stays authoritative, so rows
// are flagged rather than dropped, and cascade failures are logged without
// failing the delivery.
func (s *Service) handleContentDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provided := r.Header.Get(contentSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.ContentSecret)) != 1 {
		s.Logger.Warn("Content deletion webhook with bad secret")
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	var payload deletionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if len(payload.ID) == 0 || len(payload.Type) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("_id and _type are required"))
		return
	}

	logger := s.Logger.With(
		zap.String("DocumentID", payload.ID),
		zap.String("DocumentType", payload.Type),
	)

	var (
		affected int64
		err      error
	)
	switch payload.Type {
	case "userSubscription":
		rec, getErr := s.Records.GetByDocumentID(ctx, payload.ID)
		if getErr != nil {
			err = getErr
			break
		}
		affected, err = s.Records.SoftDeleteByDocumentID(ctx, payload.ID)
		if err != nil || rec == nil {
			break
		}
		cascaded, cascadeErr := s.Appointments.SoftDeleteBySubscription(ctx, rec.ID)
		if cascadeErr != nil {
			logger.Error("Unable to cascade deletion to granted appointments",
				zap.String("UserSubscriptionID", rec.ID),
				zap.Error(cascadeErr),
			)
		} else if cascaded > 0 {
			logger.Info("Cascaded deletion to granted appointments",
				zap.Int64("Appointments", cascaded),
			)
		}
	case "order":
		ord, getErr := s.Orders.GetByDocumentID(ctx, payload.ID)
		if getErr != nil {
			err = getErr
			break
		}
		affected, err = s.Orders.SoftDeleteByDocumentID(ctx, payload.ID)
		if err != nil || ord == nil {
			break
		}
		cascaded, cascadeErr := s.Orders.SoftDeleteItems(ctx, ord.ID)
		if cascadeErr != nil {
			logger.Error("Unable to cascade deletion to order line items",
				zap.String("OrderID", ord.ID),
				zap.Error(cascadeErr),
			)
		} else if cascaded > 0 {
			logger.Info("Cascaded deletion to order line items",
				zap.Int64("Items", cascaded),
			)
		}
	case "userAppointment":
		affected, err = s.Appointments.SoftDeleteByDocumentID(ctx, payload.ID)
	default:
		logger.Debug("Ignoring deletion for unmapped document type")
		resp.WriteResponse(w, r, map[string]interface{}{"deleted": 0})
		return
	}
	if err != nil {
		logger.Error("Unable to apply content deletion",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	if affected == 0 {
		// replayed deletions are expected, answer success so the webhook
		// does not retry forever
		logger.Info("Content deletion matched no live rows")
	}

	resp.WriteResponse(w, r, map[string]interface{}{"deleted": affected})
}
