// Streak HTTP handlers.
//
// This file exposes the per-user streak endpoints:
//   - GET  /streak             (current ledger view)
//   - GET  /streak/can-claim   (eligibility flags for a day)
//   - POST /streak/claims      (claim a day, Idempotency-Key aware)
//   - GET  /streak/claims      (claim history, paginated, ETag support)
//   - POST /streak/freezes     (spend a shield on a missed day)
//   - POST /streak/pause       (pause until a resume date)
//   - POST /streak/resume      (end a pause early)
//
// Handlers are transport-thin: they resolve identity and timezone, bind
// input, call the engine and translate results.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/http/middleware"
	"github.com/tbourn/go-streak-engine/internal/repo"
	"github.com/tbourn/go-streak-engine/internal/services"
	"github.com/tbourn/go-streak-engine/internal/sysutil"
	"github.com/tbourn/go-streak-engine/internal/utils"
)

// ClaimScope namespaces idempotency keys of claim submissions.
const ClaimScope = "claims"

// StreakEngine is the streak surface the handlers consume. Implementations
// must be safe for concurrent use and honor ctx.
type StreakEngine interface {
	CanClaim(ctx context.Context, userID, date, tz string) (*services.Eligibility, error)
	ClaimStreak(ctx context.Context, userID string, req services.ClaimRequest) (*services.ClaimResult, error)
	GetStreak(ctx context.Context, userID string) (*services.StreakView, error)
	ListClaims(ctx context.Context, userID string, page, pageSize int) ([]domain.ClaimRecord, int64, error)
	ClaimsVersion(ctx context.Context, userID string) (string, error)
	ActivateFreeze(ctx context.Context, userID, date, tz string) (*services.FreezeResult, error)
	PauseStreak(ctx context.Context, userID, resumeDate, tz string) (*services.StreakView, error)
	ResumeStreak(ctx context.Context, userID, tz string) (*services.StreakView, error)
}

// RecoveryEngine is the recovery surface the handlers consume.
type RecoveryEngine interface {
	StartRecovery(ctx context.Context, userID string, req services.StartRecoveryRequest) (*services.RecoveryView, error)
	RecordAction(ctx context.Context, userID, attemptID, tz string) (*services.RecoveryView, error)
	CurrentRecovery(ctx context.Context, userID string) (*services.RecoveryView, error)
}

// IdempotencyStore remembers the outcome of a keyed request.
type IdempotencyStore interface {
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error
}

// JobRunner runs a background job by name.
type JobRunner interface {
	Run(ctx context.Context, name string) (any, error)
}

// Handlers groups the HTTP endpoints. It depends only on the interfaces
// above so tests can substitute fakes.
type Handlers struct {
	streaks    StreakEngine
	recoveries RecoveryEngine
	idem       IdempotencyStore
	jobs       JobRunner
	cronSecret string
}

// New constructs Handlers bound to the given engine surfaces. idem may be
// nil, in which case Idempotency-Key headers are validated but not stored.
func New(streaks StreakEngine, recoveries RecoveryEngine, idem IdempotencyStore) *Handlers {
	return &Handlers{streaks: streaks, recoveries: recoveries, idem: idem}
}

// WithJobs enables the internal job trigger guarded by secret.
func (h *Handlers) WithJobs(jobs JobRunner, secret string) *Handlers {
	h.jobs = jobs
	h.cronSecret = secret
	return h
}

//
// DTOs
//

// ClaimBody is the JSON payload for claiming a day.
type ClaimBody struct {
	// Date to claim; empty means today in the caller's zone.
	Date string `json:"date" example:"2025-10-21"`
	// IANA zone; falls back to X-Timezone, then the ledger's zone.
	Timezone string `json:"timezone" example:"America/New_York"`
	// explicit (default) or retroactive.
	Method domain.ClaimMethod `json:"method" example:"explicit"`
}

// FreezeBody is the JSON payload for spending a shield.
type FreezeBody struct {
	Date     string `json:"date" binding:"required" example:"2025-10-21"`
	Timezone string `json:"timezone" example:"Europe/Athens"`
}

// PauseBody is the JSON payload for pausing a streak.
type PauseBody struct {
	ResumeDate string `json:"resume_date" binding:"required" example:"2025-11-05"`
	Timezone   string `json:"timezone" example:"Europe/Athens"`
}

// TimezoneBody is the optional payload of body-less actions.
type TimezoneBody struct {
	Timezone string `json:"timezone" example:"Asia/Tokyo"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListClaimsResponse wraps a page of claims and pagination information.
type ListClaimsResponse struct {
	Claims     []domain.ClaimRecord `json:"claims"`
	Pagination Pagination           `json:"pagination"`
}

//
// Helpers
//

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// requireUser returns the caller identity or writes 401.
func requireUser(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required", "")
		return "", false
	}
	return uid, true
}

// timezone picks the body value, then X-Timezone, then ?tz=.
func timezone(c *gin.Context, body string) string {
	return sysutil.FirstNonEmpty(body, c.GetHeader(middleware.HeaderTimezone), c.Query("tz"))
}

// bindOptional binds a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func bind(c *gin.Context, dst any, msg string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg, "")
		return false
	}
	return true
}

// claimResource encodes a claim outcome for the idempotency record.
func claimResource(r *services.ClaimResult) string {
	return r.ClaimDate + "/" + string(r.Method)
}

func parseClaimResource(s string) (date string, method domain.ClaimMethod) {
	d, m, _ := strings.Cut(s, "/")
	return d, domain.ClaimMethod(m)
}

//
// Handlers
//

// GetStreak godoc
// @ID          getStreak
// @Summary     Current streak
// @Description Returns the caller's ledger: current and longest streak, shields, pause and break state.
// @Tags        Streak
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Success     200  {object}  services.StreakView
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "No streak yet"
// @Router      /streak [get]
func (h *Handlers) GetStreak(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	v, err := h.streaks.GetStreak(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// CanClaim godoc
// @ID          canClaim
// @Summary     Claim eligibility
// @Description Reports whether a day can be claimed and why not. Never writes.
// @Tags        Streak
// @Produce     json
// @Param       X-User-ID   header  string  true   "User ID"        example(user123)
// @Param       X-Timezone  header  string  false  "IANA timezone"  example(America/New_York)
// @Param       date        query   string  false  "Day to check (YYYY-MM-DD), default today"
// @Success     200  {object}  services.Eligibility
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid date or timezone"
// @Router      /streak/can-claim [get]
func (h *Handlers) CanClaim(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	el, err := h.streaks.CanClaim(c.Request.Context(), uid, c.Query("date"), timezone(c, ""))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, el)
}

// PostClaim godoc
// @ID          postClaim
// @Summary     Claim a day
// @Description Records engagement for a day and returns the recomputed streak. A repeated Idempotency-Key returns the stored outcome with Idempotent-Replay: true.
// @Tags        Streak
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true   "User ID"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Client retry key"  example(claim-2025-10-22)
// @Param       body             body    handlers.ClaimBody  false  "Claim payload"
// @Success     201  {object}  services.ClaimResult
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid input"
// @Failure     409  {object}  handlers.ErrorResponse  "Already claimed"
// @Failure     422  {object}  handlers.ErrorResponse  "Not eligible"
// @Failure     503  {object}  handlers.ErrorResponse  "Health signal unavailable"
// @Router      /streak/claims [post]
func (h *Handlers) PostClaim(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()

	if rec, replay := middleware.Replay(c); replay {
		h.replayClaim(c, uid, rec)
		return
	}

	var body ClaimBody
	if !bindOptional(c, &body) {
		return
	}
	res, err := h.streaks.ClaimStreak(ctx, uid, services.ClaimRequest{
		Date:     strings.TrimSpace(body.Date),
		Timezone: timezone(c, body.Timezone),
		Method:   body.Method,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil {
		if err := h.idem.Remember(ctx, uid, ClaimScope, key, claimResource(res), http.StatusCreated); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}
	ok(c, http.StatusCreated, res)
}

// replayClaim answers a repeated key from the stored record and the
// ledger's current numbers.
func (h *Handlers) replayClaim(c *gin.Context, uid string, rec *domain.Idempotency) {
	v, err := h.streaks.GetStreak(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	date, method := parseClaimResource(rec.ResourceID)
	c.Header("Idempotent-Replay", "true")
	ok(c, rec.Status, services.ClaimResult{
		ClaimDate:        date,
		Method:           method,
		StreakCount:      v.CurrentStreak,
		LongestStreak:    v.LongestStreak,
		ShieldsAvailable: v.ShieldsAvailable,
		Message:          "Claim already recorded.",
	})
}

// ListClaims godoc
// @ID          listClaims
// @Summary     Claim history (paginated)
// @Description Returns the caller's claims, newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Streak
// @Produce     json
// @Param       X-User-ID      header  string  true   "User ID"                    example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListClaimsResponse
// @Header      200  {string}  ETag  "Weak ETag of the claim set"
// @Success     304  {string}  string  "Not Modified"
// @Router      /streak/claims [get]
func (h *Handlers) ListClaims(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := utils.Page(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)

	// Version covers the whole claim set; page and size select the slice.
	if version, err := h.streaks.ClaimsVersion(ctx, uid); err == nil {
		etag := fmt.Sprintf(`W/"%s:%d:%d"`, version, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.streaks.ListClaims(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListClaimsResponse{
		Claims: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ActivateFreeze godoc
// @ID          activateFreeze
// @Summary     Spend a shield
// @Description Covers a missed past day with one shield.
// @Tags        Streak
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       body       body    handlers.FreezeBody  true  "Day to cover"
// @Success     200  {object}  services.FreezeResult
// @Failure     409  {object}  handlers.ErrorResponse  "Day already covered"
// @Failure     422  {object}  handlers.ErrorResponse  "No shields or date out of range"
// @Router      /streak/freezes [post]
func (h *Handlers) ActivateFreeze(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var body FreezeBody
	if !bind(c, &body, "date required (YYYY-MM-DD)") {
		return
	}
	res, err := h.streaks.ActivateFreeze(c.Request.Context(), uid, strings.TrimSpace(body.Date), timezone(c, body.Timezone))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// PauseStreak godoc
// @ID          pauseStreak
// @Summary     Pause the streak
// @Description Freezes the streak until resume_date; paused days neither count nor break it.
// @Tags        Streak
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true  "User ID"  example(user123)
// @Param       body       body    handlers.PauseBody  true  "Resume date"
// @Success     200  {object}  services.StreakView
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid resume date"
// @Failure     409  {object}  handlers.ErrorResponse  "Already paused"
// @Router      /streak/pause [post]
func (h *Handlers) PauseStreak(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var body PauseBody
	if !bind(c, &body, "resume_date required (YYYY-MM-DD)") {
		return
	}
	v, err := h.streaks.PauseStreak(c.Request.Context(), uid, strings.TrimSpace(body.ResumeDate), timezone(c, body.Timezone))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// ResumeStreak godoc
// @ID          resumeStreak
// @Summary     End a pause early
// @Tags        Streak
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  true   "User ID"  example(user123)
// @Param       body       body    handlers.TimezoneBody  false  "Optional timezone"
// @Success     200  {object}  services.StreakView
// @Failure     409  {object}  handlers.ErrorResponse  "Not paused"
// @Router      /streak/resume [post]
func (h *Handlers) ResumeStreak(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var body TimezoneBody
	if !bindOptional(c, &body) {
		return
	}
	v, err := h.streaks.ResumeStreak(c.Request.Context(), uid, timezone(c, body.Timezone))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}
