// Package jobs runs the engine's background sweeps: the daily streak
// reconciliation and the recovery expiry. Each job pages through its work
// by key, handles every user independently under that user's lock, and
// never lets one user's failure abort the sweep.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
	"github.com/tbourn/go-streak-engine/internal/services"
)

// Job names, used for metrics labels, log fields and the internal route.
const (
	DailyReconcile   = "daily_reconcile"
	RecoveryExpiry   = "recovery_expiry"
	defaultBatchSize = 200
)

// UserReconciler reconciles a single user.
type UserReconciler interface {
	ReconcileUser(ctx context.Context, userID string) (*services.ReconcileResult, error)
}

// DailyReport summarises one reconciliation sweep.
type DailyReport struct {
	Scanned   int   `json:"scanned"`
	Unchanged int   `json:"unchanged"`
	Shielded  int   `json:"shielded"`
	Broken    int   `json:"broken"`
	Resumed   int   `json:"resumed"`
	Failed    int   `json:"failed"`
	Purged    int64 `json:"idempotency_purged"`
}

// DailyReconciler walks every active ledger once.
type DailyReconciler struct {
	DB        *gorm.DB
	Engine    UserReconciler
	BatchSize int
	Now       func() time.Time // idempotency purge cutoff; defaults to time.Now
}

// Run executes one sweep. Only a failure to page ledgers (or ctx ending)
// is returned as an error; per-user failures are counted in the report.
func (j *DailyReconciler) Run(ctx context.Context) (rep DailyReport, err error) {
	started := time.Now()
	defer func() {
		observability.ObserveJob(DailyReconcile, started, err)
		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("job", DailyReconcile).
			Int("scanned", rep.Scanned).
			Int("unchanged", rep.Unchanged).
			Int("shielded", rep.Shielded).
			Int("broken", rep.Broken).
			Int("resumed", rep.Resumed).
			Int("failed", rep.Failed).
			Int64("idempotency_purged", rep.Purged).
			Dur("took", time.Since(started)).
			Msg("job finished")
	}()

	batch := j.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	after := ""
	for {
		if err = ctx.Err(); err != nil {
			return rep, err
		}
		var page []domain.StreakLedger
		page, err = repo.ListActiveLedgers(ctx, j.DB, after, batch)
		if err != nil {
			return rep, err
		}
		for _, l := range page {
			rep.Scanned++
			j.reconcileOne(ctx, l.UserID, &rep)
		}
		if len(page) < batch {
			break
		}
		after = page[len(page)-1].UserID
	}

	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	n, perr := repo.PurgeExpiredIdempotency(ctx, j.DB, now())
	if perr != nil {
		log.Warn().Err(perr).Str("job", DailyReconcile).Msg("idempotency purge failed")
	}
	rep.Purged = n
	return rep, nil
}

func (j *DailyReconciler) reconcileOne(ctx context.Context, userID string, rep *DailyReport) {
	res, err := j.Engine.ReconcileUser(ctx, userID)
	if err != nil {
		rep.Failed++
		observability.JobUsers.WithLabelValues(DailyReconcile, "failed").Inc()
		log.Warn().Err(err).Str("job", DailyReconcile).Str("user_id", userID).Msg("reconcile user failed")
		return
	}
	if res.Resumed {
		rep.Resumed++
		observability.JobUsers.WithLabelValues(DailyReconcile, "resumed").Inc()
	}
	switch res.Outcome {
	case services.OutcomeShielded:
		rep.Shielded++
	case services.OutcomeBroken:
		rep.Broken++
	default:
		rep.Unchanged++
	}
	observability.JobUsers.WithLabelValues(DailyReconcile, string(res.Outcome)).Inc()
}
