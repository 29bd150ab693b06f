package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/services"
)

// StartRecoveryBody is the JSON payload for opening a recovery attempt.
type StartRecoveryBody struct {
	// weekend_warrior or purchased
	Type domain.RecoveryType `json:"recovery_type" binding:"required" example:"weekend_warrior"`
	// Defaults to the ledger's current break
	BrokenDate string `json:"broken_date" example:"2025-10-21"`
	Timezone   string `json:"timezone" example:"Europe/Athens"`
}

// StartRecovery godoc
// @ID          startRecovery
// @Summary     Start a recovery
// @Description Opens a recovery attempt for a broken streak. A purchased recovery is charged and completes immediately.
// @Tags        Recovery
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       body       body    handlers.StartRecoveryBody  true  "Recovery type"
// @Success     201  {object}  services.RecoveryView
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid recovery type"
// @Failure     402  {object}  handlers.ErrorResponse  "Payment failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Attempt already in progress"
// @Failure     422  {object}  handlers.ErrorResponse  "Nothing to recover or limit reached"
// @Router      /recoveries [post]
func (h *Handlers) StartRecovery(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var body StartRecoveryBody
	if !bind(c, &body, "recovery_type required") {
		return
	}
	v, err := h.recoveries.StartRecovery(c.Request.Context(), uid, services.StartRecoveryRequest{
		BrokenDate: strings.TrimSpace(body.BrokenDate),
		Type:       body.Type,
		Timezone:   timezone(c, body.Timezone),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// CurrentRecovery godoc
// @ID          currentRecovery
// @Summary     Current recovery attempt
// @Tags        Recovery
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Success     200  {object}  services.RecoveryView
// @Failure     404  {object}  handlers.ErrorResponse  "No attempt"
// @Router      /recoveries/current [get]
func (h *Handlers) CurrentRecovery(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	v, err := h.recoveries.CurrentRecovery(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// RecordAction godoc
// @ID          recordRecoveryAction
// @Summary     Record a recovery action
// @Description Counts one qualifying action toward a weekend_warrior attempt; the last one restores the streak.
// @Tags        Recovery
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true   "User ID"  example(user123)
// @Param       id         path    string  true   "Attempt ID"
// @Param       body       body    handlers.TimezoneBody  false  "Optional timezone"
// @Success     200  {object}  services.RecoveryView
// @Failure     404  {object}  handlers.ErrorResponse  "Attempt not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Attempt not pending"
// @Failure     410  {object}  handlers.ErrorResponse  "Attempt expired"
// @Router      /recoveries/{id}/actions [post]
func (h *Handlers) RecordAction(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "attempt id required", "")
		return
	}
	var body TimezoneBody
	if !bindOptional(c, &body) {
		return
	}
	v, err := h.recoveries.RecordAction(c.Request.Context(), uid, id, timezone(c, body.Timezone))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}
