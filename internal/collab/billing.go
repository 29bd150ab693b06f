package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrBillingDisabled is returned when no billing endpoint is configured.
	ErrBillingDisabled = errors.New("billing disabled")
	// ErrPaymentDeclined is returned when billing refuses the charge (HTTP 402).
	ErrPaymentDeclined = errors.New("payment declined")
)

// RecoveryProduct is the product code charged for a purchased recovery.
const RecoveryProduct = "streak_recovery"

// BillingClient charges users through the billing service.
type BillingClient struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewBillingClient builds a client for baseURL (scheme optional).
func NewBillingClient(baseURL string, o Options) *BillingClient {
	return &BillingClient{baseURL: normalizeBase(baseURL), http: newRetryClient(o.withDefaults())}
}

type chargeRequest struct {
	UserID  string `json:"user_id"`
	Product string `json:"product"`
}

// ChargeForRecovery calls POST {base}/charges. Retries reuse one
// Idempotency-Key so billing charges at most once.
func (c *BillingClient) ChargeForRecovery(ctx context.Context, userID string) error {
	if c == nil || c.baseURL == "" {
		return ErrBillingDisabled
	}
	body, err := json.Marshal(chargeRequest{UserID: userID, Product: RecoveryProduct})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("billing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrPaymentDeclined
	default:
		return fmt.Errorf("billing: unexpected status %d", resp.StatusCode)
	}
}

// DisabledBilling rejects every charge with ErrBillingDisabled.
type DisabledBilling struct{}

// ChargeForRecovery always fails.
func (DisabledBilling) ChargeForRecovery(context.Context, string) error {
	return ErrBillingDisabled
}
