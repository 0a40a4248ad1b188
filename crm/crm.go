package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options provides initialization parameters for Client
type Options struct {
	// Enabled short-circuits all calls when the CRM is not configured.
	// Sync failures never block the money path, so a disabled client is
	// indistinguishable from a healthy one to callers.
	Enabled bool

	BaseURL    string
	APIKey     string
	LocationID string

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client pushes contact updates to the CRM. All operations are best-effort
// and callers run them detached.
type Client struct {
	Options
}

// New will return a new instance of the CRM client
func New(option Options) (*Client, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Enabled {
		if len(option.BaseURL) == 0 {
			return nil, fmt.Errorf("empty BaseURL is invalid when enabled")
		}
		if len(option.APIKey) == 0 {
			return nil, fmt.Errorf("empty APIKey is invalid when enabled")
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

// Contact is the CRM-side view of a user. CustomFields is a flat bag keyed by
// the CRM's field names (e.g. subscription_status, subscription_plan).
type Contact struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customField,omitempty"`
}

type upsertRequest struct {
	Contact
	LocationID string `json:"locationId,omitempty"`
}

// UpsertContact creates or updates the contact keyed by email
func (c *Client) UpsertContact(ctx context.Context, contact Contact) error {
	if !c.Enabled {
		return nil
	}

	body, err := json.Marshal(upsertRequest{
		Contact:    contact,
		LocationID: c.LocationID,
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot serialize contact")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/contacts/upsert", bytes.NewReader(body))
	if err != nil {
		return extErrors.Wrap(err, "Cannot construct upsert request")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return extErrors.Wrap(err, "Cannot reach CRM")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		c.Logger.Warn("CRM rejected contact upsert",
			zap.String("Email", contact.Email),
			zap.Int("StatusCode", res.StatusCode),
			zap.ByteString("Body", snippet),
		)
		return fmt.Errorf("CRM upsert failed with status %d", res.StatusCode)
	}

	return nil
}
