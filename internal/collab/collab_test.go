package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts() Options {
	return Options{Timeout: time.Second, RetryMax: 2, WaitMin: time.Millisecond, WaitMax: 5 * time.Millisecond}
}

func TestHealthClient_SignalPresentAndAbsent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/users/u1/signals/2025-10-22":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]bool{"has_signal": true})
		case "/users/u1/signals/2025-10-21":
			_ = json.NewEncoder(w).Encode(map[string]bool{"has_signal": false})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewHealthClient(ts.URL+"/", fastOpts())
	ctx := context.Background()

	ok, err := c.HasEngagementSignal(ctx, "u1", "2025-10-22")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasEngagementSignal(ctx, "u1", "2025-10-21")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.HasEngagementSignal(ctx, "u2", "2025-10-22")
	require.NoError(t, err, "404 means no signal")
	assert.False(t, ok)
}

func TestHealthClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"has_signal": true})
	}))
	defer ts.Close()

	ok, err := NewHealthClient(ts.URL, fastOpts()).HasEngagementSignal(context.Background(), "u1", "2025-10-22")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHealthClient_GivesUpAndNotConfigured(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewHealthClient(ts.URL, fastOpts()).HasEngagementSignal(context.Background(), "u1", "2025-10-22")
	require.Error(t, err)

	_, err = NewHealthClient("", fastOpts()).HasEngagementSignal(context.Background(), "u1", "2025-10-22")
	require.ErrorIs(t, err, ErrNotConfigured)

	ok, err := StaticSignal{Value: true}.HasEngagementSignal(context.Background(), "u1", "2025-10-22")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBillingClient_Charge(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charges", r.URL.Path)
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()

		var body chargeRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch body.UserID {
		case "flaky":
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case "broke":
			w.WriteHeader(http.StatusPaymentRequired)
		default:
			assert.Equal(t, RecoveryProduct, body.Product)
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	c := NewBillingClient(ts.URL, fastOpts())
	ctx := context.Background()

	require.NoError(t, c.ChargeForRecovery(ctx, "u1"))

	mu.Lock()
	keys = nil
	mu.Unlock()
	require.NoError(t, c.ChargeForRecovery(ctx, "flaky"))
	mu.Lock()
	seen := append([]string(nil), keys...)
	mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1], "retries must reuse the idempotency key")

	err := c.ChargeForRecovery(ctx, "broke")
	assert.True(t, errors.Is(err, ErrPaymentDeclined), "got %v", err)
}

func TestBilling_Disabled(t *testing.T) {
	assert.ErrorIs(t, DisabledBilling{}.ChargeForRecovery(context.Background(), "u1"), ErrBillingDisabled)
	assert.ErrorIs(t, NewBillingClient("  ", fastOpts()).ChargeForRecovery(context.Background(), "u1"), ErrBillingDisabled)
}
