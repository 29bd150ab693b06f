// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint: the
// error envelope, engine-error translation and success writers. Handlers
// never build error bodies by hand.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/http/middleware"
	"github.com/tbourn/go-streak-engine/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code
	Code string `json:"code" example:"STREAK_NOT_FOUND"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"no streak for this user"`
	// Optional specifics, e.g. the offending date
	Detail string `json:"detail,omitempty" example:"2025-10-22"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg, detail string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Detail:    detail,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("detail", detail).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg, "") }

// failErr translates an engine error into the envelope. Internal causes are
// logged, never echoed.
func failErr(c *gin.Context, err error) {
	kind := services.KindOf(err)
	detail := ""
	var e *services.Error
	if errors.As(err, &e) {
		detail = e.Detail
	}
	if kind == services.KindInternal {
		middleware.LoggerFrom(c).Error().Err(err).Msg("engine failure")
		detail = ""
	}
	fail(c, StatusFor(kind), string(kind), messageFor(kind), detail)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
