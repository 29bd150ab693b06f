package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// FreezeResult is the outcome of ActivateFreeze.
type FreezeResult struct {
	Date             string     `json:"date" example:"2025-10-21"`
	ShieldsRemaining int        `json:"shields_remaining" example:"1"`
	StreakCount      int        `json:"streak_count" example:"13"`
	Milestone        *Milestone `json:"milestone,omitempty"`
	Message          string     `json:"message"`
}

// ActivateFreeze spends one shield to cover date, which must lie in
// [today-RetroWindowDays, today] and hold neither a claim nor coverage.
func (s *StreakService) ActivateFreeze(ctx context.Context, userID, date, tz string) (out *FreezeResult, err error) {
	ctx, span := tracer().Start(ctx, "ActivateFreeze",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("date", date)))
	defer func() { endSpan(span, err) }()

	var d calendar.Date
	if date != "" {
		if d, err = parseDay(date, KindInvalidDate); err != nil {
			return nil, err
		}
	}

	var g grant
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		l, err := loadLedger(ctx, tx, userID)
		if err != nil {
			return err
		}
		if l.ShieldsAvailable < 1 {
			return newErr(KindNoFreezesAvailable, "no shields left")
		}
		today, err := s.today(zoneFor(l, tz))
		if err != nil {
			return err
		}
		day := d
		if day.IsZero() {
			day = today
		}
		if day.After(today) || today.DaysSince(day) > s.rules().RetroWindowDays {
			return newErr(KindInvalidDateRange, "%s outside [%s, %s]", day, today.AddDays(-s.rules().RetroWindowDays), today)
		}

		if err := coverWithShield(ctx, tx, l, day, domain.SourceManual); err != nil {
			return err
		}
		if err := recompute(ctx, tx, l, today); err != nil {
			return err
		}
		g = s.grantMilestones(l)
		if err := repo.UpdateLedger(ctx, tx, l); err != nil {
			return err
		}
		out = &FreezeResult{
			Date:             day.String(),
			ShieldsRemaining: l.ShieldsAvailable,
			StreakCount:      l.CurrentStreak,
			Milestone:        g.Milestone,
		}
		return nil
	})
	if err != nil {
		return nil, asError(err)
	}
	observability.ShieldsConsumed.WithLabelValues(string(domain.SourceManual)).Inc()
	recordGrant(g)
	out.Message = freezeMessage(out.ShieldsRemaining)
	return out, nil
}

// coverWithShield records a shield on day and decrements the balance. A day
// that already holds a claim or coverage yields DATE_HAS_ACTIVITY.
func coverWithShield(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, day calendar.Date, source domain.CoverageSource) error {
	claimed, err := repo.HasClaim(ctx, tx, l.UserID, day.String())
	if err != nil {
		return err
	}
	if claimed {
		return newErr(KindDateHasActivity, "%s already claimed", day)
	}
	if _, err := repo.CreateCoverage(ctx, tx, l.UserID, day.String(), domain.CoverageShield, source); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return newErr(KindDateHasActivity, "%s already covered", day)
		}
		return err
	}
	l.ShieldsAvailable--
	return nil
}
