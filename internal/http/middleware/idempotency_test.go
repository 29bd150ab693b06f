package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

func TestHelpers_GetIdempotencyKey_Replay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("expected GetIdempotencyKey to be absent for non-string value")
	}

	c.Set(ctxKeyIdemReplay, "yes") // wrong type
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-record value")
	}
	c.Set(ctxKeyIdemReplay, &domain.Idempotency{ResourceID: "2025-10-22", Status: 201})
	rec, ok := Replay(c)
	if !ok || rec.ResourceID != "2025-10-22" {
		t.Fatalf("Replay() = %+v, %v", rec, ok)
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	lookup := func(context.Context, string, string, string, time.Time) (*domain.Idempotency, error) {
		lookupCalled = true
		return nil, nil
	}
	r.Use(Identity(), IdempotencyValidator(IdempotencyOptions{Scope: "claims"}, lookup))
	r.POST("/claims", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Errorf("key should not be present when header missing")
		}
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/claims", nil)
	req.Header.Set(HeaderUserID, "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup should not be called when header missing")
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"default cap", IdempotencyOptions{}, strings.Repeat("a", 129)},
		{"pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"space", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "BAD_IDEMPOTENCY_KEY" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_AnonymousSkipsLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	lookup := func(context.Context, string, string, string, time.Time) (*domain.Idempotency, error) {
		t.Errorf("lookup must not run without a user")
		return nil, nil
	}
	r.Use(Identity(), IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/z", func(c *gin.Context) {
		if key, ok := GetIdempotencyKey(c); !ok || key != "abc-123" {
			t.Errorf("expected stashed key abc-123, got %q ok=%v", key, ok)
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/z", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc-123")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupMissErrorAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fixed := time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)
	stored := &domain.Idempotency{UserID: "u9", Scope: "claims", Key: "k-9", ResourceID: "2025-10-22", Status: 201}

	lookup := func(_ context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
		if userID != "u9" || scope != "claims" || !now.Equal(fixed) {
			t.Errorf("lookup args: uid=%q scope=%q now=%v", userID, scope, now)
		}
		switch key {
		case "k-9":
			return stored, nil
		case "k-err":
			return stored, errors.New("db down")
		}
		return nil, nil
	}

	r := gin.New()
	r.Use(Identity(), IdempotencyValidator(IdempotencyOptions{Scope: "claims", Now: func() time.Time { return fixed }}, lookup))
	r.POST("/claims", func(c *gin.Context) {
		rec, replay := Replay(c)
		if replay != IsRateBypass(c) {
			t.Errorf("replay and bypass must agree")
		}
		if replay {
			c.String(rec.Status, rec.ResourceID)
			return
		}
		c.String(http.StatusOK, "fresh")
	})

	for key, want := range map[string]string{"k-9": "2025-10-22", "k-new": "fresh", "k-err": "fresh"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/claims", nil)
		req.Header.Set(HeaderUserID, "u9")
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Body.String() != want {
			t.Fatalf("key %s: body %q; want %q", key, w.Body.String(), want)
		}
	}
}

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity())
	r.GET("/who", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })

	cases := map[string]string{
		"  u1 ":                 "u1",
		"":                      "",
		strings.Repeat("x", 65): "",
	}
	for in, want := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		if in != "" {
			req.Header.Set(HeaderUserID, in)
		}
		r.ServeHTTP(w, req)
		if w.Body.String() != want {
			t.Fatalf("Identity(%q) = %q; want %q", in, w.Body.String(), want)
		}
	}
}
