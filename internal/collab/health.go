package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotConfigured is returned by clients built without a base URL.
var ErrNotConfigured = errors.New("collaborator not configured")

// HealthClient asks the health-signal service whether a user produced an
// engagement signal on a given day.
type HealthClient struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewHealthClient builds a client for baseURL (scheme optional).
func NewHealthClient(baseURL string, o Options) *HealthClient {
	return &HealthClient{baseURL: normalizeBase(baseURL), http: newRetryClient(o.withDefaults())}
}

type signalResponse struct {
	HasSignal bool `json:"has_signal"`
}

// HasEngagementSignal calls GET {base}/users/{id}/signals/{date}.
// 200 decodes has_signal; 404 means no signal; anything else is an error.
func (c *HealthClient) HasEngagementSignal(ctx context.Context, userID, date string) (bool, error) {
	if c == nil || c.baseURL == "" {
		return false, ErrNotConfigured
	}
	u := fmt.Sprintf("%s/users/%s/signals/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(date))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("health signal request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out signalResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
			return false, fmt.Errorf("decode health signal: %w", err)
		}
		return out.HasSignal, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("health signal: unexpected status %d", resp.StatusCode)
	}
}

// StaticSignal answers every lookup with Value. It stands in for the
// health-signal service in development.
type StaticSignal struct {
	Value bool
}

// HasEngagementSignal returns s.Value.
func (s StaticSignal) HasEngagementSignal(context.Context, string, string) (bool, error) {
	return s.Value, nil
}
