// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for claim submission. It validates
// an Idempotency-Key request header, looks up a previously completed request
// with the same (user, scope, key), and annotates the request context so
// downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - serve the stored outcome instead of re-applying the write (Replay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Persistence stays behind the narrow IdempotencyLookup function type.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *domain.Idempotency when a stored outcome exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Replay returns the stored outcome for this request's key, if any.
func Replay(c *gin.Context) (*domain.Idempotency, bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return nil, false
	}
	rec, _ := v.(*domain.Idempotency)
	return rec, rec != nil
}

// IsReplay reports whether Replay would return a record.
func IsReplay(c *gin.Context) bool {
	_, ok := Replay(c)
	return ok
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// Scope namespaces keys per operation (e.g. "claims").
	Scope string
	// MaxLen caps the accepted key length. Values <= 0 default to 128,
	// the width of the stored column.
	MaxLen int
	// Pattern restricts allowed characters. If nil, ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now is the lookup clock; defaults to time.Now.
	Now func() time.Time
}

// IdempotencyLookup returns the unexpired record for (userID, scope, key) at
// now, or nil when none exists. Errors are treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context and, when lookup finds a stored outcome,
// marks the request as a replay and lets it skip the rate limiter.
//
// Behavior:
//   - Header absent: no-op.
//   - Header invalid: 400 with code BAD_IDEMPOTENCY_KEY.
//   - Anonymous caller: the key is stashed but no lookup is made.
//
// The middleware never writes a cached payload; handlers decide how to
// serve replays.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "BAD_IDEMPOTENCY_KEY",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if uid := UserID(c); lookup != nil && uid != "" {
			if rec, err := lookup(c.Request.Context(), uid, opts.Scope, key, now().UTC()); err == nil && rec != nil {
				c.Set(ctxKeyIdemReplay, rec)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
