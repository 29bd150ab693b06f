package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// Outcome classifies what reconciliation did to one ledger.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeShielded  Outcome = "shielded"
	OutcomeBroken    Outcome = "broken"
	OutcomeSkipped   Outcome = "skipped" // still paused
)

// ReconcileResult reports the effect of ReconcileUser.
type ReconcileResult struct {
	Outcome     Outcome
	Resumed     bool // an expired pause was lifted first
	ShieldsUsed int
	BrokenDate  string
}

// ReconcileUser closes every finished local day the user left uncovered.
// Each such day consumes a shield when one is available; the first day that
// cannot be covered breaks the streak. Running it again for the same day
// changes nothing.
func (s *StreakService) ReconcileUser(ctx context.Context, userID string) (out *ReconcileResult, err error) {
	ctx, span := tracer().Start(ctx, "ReconcileUser", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	var (
		g      grant
		broken bool
	)
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		out = &ReconcileResult{Outcome: OutcomeUnchanged}
		g, broken = grant{}, false

		l, err := loadLedger(ctx, tx, userID)
		if err != nil {
			return err
		}
		changed, err := s.reconcileLedger(ctx, tx, l, out)
		if err != nil || !changed {
			return err
		}
		if out.ShieldsUsed > 0 {
			g = s.grantMilestones(l)
		}
		broken = out.Outcome == OutcomeBroken
		return repo.UpdateLedger(ctx, tx, l)
	})
	if err != nil {
		return nil, asError(err)
	}

	if out.ShieldsUsed > 0 {
		observability.ShieldsConsumed.WithLabelValues(string(domain.SourceAuto)).Add(float64(out.ShieldsUsed))
	}
	if broken {
		observability.StreakBreaks.Inc()
	}
	recordGrant(g)
	span.SetAttributes(attribute.String("reconcile.outcome", string(out.Outcome)))
	return out, nil
}

// reconcileLedger mutates l in place and reports whether it must be saved.
func (s *StreakService) reconcileLedger(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, out *ReconcileResult) (bool, error) {
	today, err := s.today(l.Timezone)
	if err != nil {
		return false, err
	}

	changed := false
	if l.Paused {
		end, err := s.pauseEnd(l)
		if err != nil {
			return false, err
		}
		if end.IsZero() || end.After(today) {
			out.Outcome = OutcomeSkipped
			return false, nil
		}
		if err := s.resumeLocked(ctx, tx, l, today); err != nil {
			return false, err
		}
		if err := recompute(ctx, tx, l, today); err != nil {
			return false, err
		}
		out.Resumed, changed = true, true
	}
	closed, err := s.closeDays(ctx, tx, l, today, out)
	return changed || closed, err
}

// closeDays judges every uncovered day after the latest covered one through
// local yesterday: a shield covers it while any remain, otherwise the streak
// breaks there. It reports whether l changed.
func (s *StreakService) closeDays(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, today calendar.Date, out *ReconcileResult) (bool, error) {
	if l.CurrentStreak == 0 {
		return false, nil
	}

	// Yesterday is judged even inside the grace window; a grace claim of
	// that day undoes what this did to it (see healGraceDay).
	lastClosed := today.AddDays(-1)
	latestRaw, err := repo.LatestCoveredDate(ctx, tx, l.UserID, lastClosed.String())
	if err != nil {
		return false, err
	}
	if latestRaw == "" {
		return false, nil
	}
	latest, err := calendar.ParseDate(latestRaw)
	if err != nil {
		return false, err
	}
	floor, err := calendar.ParsePtr(l.FloorDate)
	if err != nil {
		return false, err
	}
	start := latest.AddDays(1)
	if !floor.IsZero() {
		// The floor day is the previous break point and is never re-judged.
		start = calendar.Max(start, floor.AddDays(1))
	}

	for d := start; !d.After(lastClosed); d = d.AddDays(1) {
		if l.ShieldsAvailable > 0 {
			if err := coverWithShield(ctx, tx, l, d, domain.SourceAuto); err != nil {
				return false, err
			}
			out.ShieldsUsed++
			out.Outcome = OutcomeShielded
			continue
		}

		pre, err := runLength(ctx, tx, l, d.AddDays(-1))
		if err != nil {
			return false, err
		}
		l.PreBreakStreak = pre
		if pre > l.LongestStreak {
			l.LongestStreak = pre
		}
		l.BrokenDate = d.Ptr()
		l.PreBreakFloorDate = l.FloorDate
		l.FloorDate = d.Ptr()
		if err := recompute(ctx, tx, l, today); err != nil {
			return false, err
		}
		out.Outcome = OutcomeBroken
		out.BrokenDate = d.String()
		return true, nil
	}

	if out.ShieldsUsed > 0 {
		if err := recompute(ctx, tx, l, today); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
