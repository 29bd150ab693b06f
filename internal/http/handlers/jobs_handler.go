package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-streak-engine/internal/jobs"
	"github.com/tbourn/go-streak-engine/internal/http/middleware"
)

// HeaderCronSecret carries the shared secret of the internal job trigger.
const HeaderCronSecret = "X-Cron-Secret"

// JobResponse is the body of a completed job run.
type JobResponse struct {
	Job    string `json:"job" example:"daily_reconcile"`
	Report any    `json:"report"`
}

// RunJob godoc
// @ID          runJob
// @Summary     Trigger a background job
// @Description Runs a job synchronously and returns its report. Requires X-Cron-Secret.
// @Tags        Internal
// @Produce     json
// @Param       X-Cron-Secret  header  string  true  "Shared secret"
// @Param       name           path    string  true  "Job name"  Enums(daily_reconcile, recovery_expiry)
// @Success     200  {object}  handlers.JobResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Bad secret"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown job"
// @Router      /internal/jobs/{name} [post]
func (h *Handlers) RunJob(c *gin.Context) {
	if h.jobs == nil || h.cronSecret == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found", "")
		return
	}
	got := c.GetHeader(HeaderCronSecret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.cronSecret)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid cron secret", "")
		return
	}

	name := c.Param("name")
	report, err := h.jobs.Run(c.Request.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		fail(c, http.StatusNotFound, ErrCodeJobNotFound, "unknown job", name)
		return
	case err != nil:
		middleware.LoggerFrom(c).Error().Err(err).Str("job", name).Msg("job trigger failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "job failed", "")
		return
	}
	ok(c, http.StatusOK, JobResponse{Job: name, Report: report})
}
