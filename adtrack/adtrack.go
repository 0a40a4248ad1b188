package adtrack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carebound/storefront/limiter"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options provides initialization parameters for Client
type Options struct {
	// Enabled short-circuits all calls when ad attribution is not configured
	Enabled bool

	Endpoint    string
	PixelID     string
	AccessToken string

	// Budget caps outbound events; when exhausted events are dropped, not queued
	Budget *limiter.Limiter

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client reports server-side conversion events to the ad platform. PII is
// hashed before it leaves the process. All operations are best-effort and
// callers run them detached.
type Client struct {
	Options
}

// New will return a new instance of the ad-attribution client
func New(option Options) (*Client, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Enabled {
		if len(option.Endpoint) == 0 {
			return nil, fmt.Errorf("empty Endpoint is invalid when enabled")
		}
		if len(option.PixelID) == 0 {
			return nil, fmt.Errorf("empty PixelID is invalid when enabled")
		}
		if len(option.AccessToken) == 0 {
			return nil, fmt.Errorf("empty AccessToken is invalid when enabled")
		}
		if option.Budget == nil {
			return nil, fmt.Errorf("nil Budget is invalid when enabled")
		}
	}
	if option.HTTPClient == nil {
		option.HTTPClient = &http.Client{
			Timeout: time.Second * 10,
		}
	}
	return &Client{
		Options: option,
	}, nil
}

// PurchaseEvent describes a completed purchase to attribute
type PurchaseEvent struct {
	// EventID deduplicates replays on the platform side; use the invoice or
	// session id
	EventID   string
	UserEmail string
	UserID    string
	Value     float64
	Currency  string
}

type userData struct {
	HashedEmail      []string `json:"em,omitempty"`
	HashedExternalID []string `json:"external_id,omitempty"`
}

type eventPayload struct {
	EventName    string   `json:"event_name"`
	EventTime    int64    `json:"event_time"`
	EventID      string   `json:"event_id"`
	ActionSource string   `json:"action_source"`
	UserData     userData `json:"user_data"`
	CustomData   struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
	} `json:"custom_data"`
}

type conversionRequest struct {
	Data []eventPayload `json:"data"`
}

// HashPII normalizes and hashes an identifier the way the platform expects:
// lowercased, trimmed, SHA-256 hex
func HashPII(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SendPurchase reports a Purchase conversion. Events over the configured
// budget are dropped.
func (c *Client) SendPurchase(ctx context.Context, event PurchaseEvent) error {
	if !c.Enabled {
		return nil
	}

	allowed, err := c.Budget.Allow("events")
	if err != nil {
		return extErrors.Wrap(err, "Cannot check event budget")
	}
	if !allowed {
		c.Logger.Warn("Conversion event dropped, budget exhausted",
			zap.String("EventID", event.EventID),
		)
		return nil
	}

	payload := eventPayload{
		EventName:    "Purchase",
		EventTime:    time.Now().Unix(),
		EventID:      event.EventID,
		ActionSource: "website",
		UserData: userData{
			HashedEmail:      []string{HashPII(event.UserEmail)},
			HashedExternalID: []string{HashPII(event.UserID)},
		},
	}
	payload.CustomData.Value = event.Value
	payload.CustomData.Currency = event.Currency

	body, err := json.Marshal(conversionRequest{
		Data: []eventPayload{payload},
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot serialize conversion event")
	}

	url := fmt.Sprintf("%s/%s/events?access_token=%s", c.Endpoint, c.PixelID, c.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return extErrors.Wrap(err, "Cannot construct conversion request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return extErrors.Wrap(err, "Cannot reach ad platform")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		c.Logger.Warn("Ad platform rejected conversion event",
			zap.String("EventID", event.EventID),
			zap.Int("StatusCode", res.StatusCode),
		)
		return fmt.Errorf("conversion event failed with status %d", res.StatusCode)
	}

	return nil
}
