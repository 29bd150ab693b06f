package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// AttemptExpirer expires one recovery attempt under its owner's lock.
type AttemptExpirer interface {
	ExpireAttempt(ctx context.Context, a domain.RecoveryAttempt) (bool, error)
}

// ExpiryReport summarises one expiry sweep.
type ExpiryReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// RecoveryExpirer moves overdue pending attempts to expired. It never
// touches ledgers, so an expired weekend warrior leaves the break in place.
type RecoveryExpirer struct {
	DB        *gorm.DB
	Engine    AttemptExpirer
	BatchSize int
	Now       func() time.Time
}

// Run executes one sweep.
func (j *RecoveryExpirer) Run(ctx context.Context) (rep ExpiryReport, err error) {
	started := time.Now()
	defer func() {
		observability.ObserveJob(RecoveryExpiry, started, err)
		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("job", RecoveryExpiry).
			Int("scanned", rep.Scanned).
			Int("expired", rep.Expired).
			Int("failed", rep.Failed).
			Dur("took", time.Since(started)).
			Msg("job finished")
	}()

	batch := j.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().UTC()

	after := ""
	for {
		if err = ctx.Err(); err != nil {
			return rep, err
		}
		var page []domain.RecoveryAttempt
		page, err = repo.ListExpiredPending(ctx, j.DB, cutoff, after, batch)
		if err != nil {
			return rep, err
		}
		for _, a := range page {
			rep.Scanned++
			changed, xerr := j.Engine.ExpireAttempt(ctx, a)
			switch {
			case xerr != nil:
				rep.Failed++
				observability.JobUsers.WithLabelValues(RecoveryExpiry, "failed").Inc()
				log.Warn().Err(xerr).Str("job", RecoveryExpiry).Str("attempt_id", a.ID).Msg("expire attempt failed")
			case changed:
				rep.Expired++
				observability.JobUsers.WithLabelValues(RecoveryExpiry, "expired").Inc()
			}
		}
		if len(page) < batch {
			return rep, nil
		}
		after = page[len(page)-1].ID
	}
}
