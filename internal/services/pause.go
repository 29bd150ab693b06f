package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// PauseStreak freezes the streak from today until ResumeStreak, a claim, or
// the daily job on resumeDate. An empty resumeDate pauses for the longest
// allowed span.
func (s *StreakService) PauseStreak(ctx context.Context, userID, resumeDate, tz string) (out *StreakView, err error) {
	ctx, span := tracer().Start(ctx, "PauseStreak",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("resume_date", resumeDate)))
	defer func() { endSpan(span, err) }()

	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		l, err := loadLedger(ctx, tx, userID)
		if err != nil {
			return err
		}
		if l.Paused {
			return newErr(KindAlreadyPaused, "paused since %s", deref(l.PauseStartDate))
		}
		today, err := s.today(zoneFor(l, tz))
		if err != nil {
			return err
		}

		limit := today.AddDays(s.rules().MaxPauseDays)
		resume := limit
		if resumeDate != "" {
			if resume, err = parseDay(resumeDate, KindInvalidResumeDate); err != nil {
				return err
			}
			if !resume.After(today) || resume.After(limit) {
				return newErr(KindInvalidResumeDate, "%s not in (%s, %s]", resume, today, limit)
			}
		}

		l.Paused = true
		l.PauseStartDate = today.Ptr()
		l.PauseResumeDate = resume.Ptr()
		if err := repo.UpdateLedger(ctx, tx, l); err != nil {
			return err
		}
		out = viewOf(l)
		return nil
	})
	return out, asError(err)
}

// ResumeStreak ends a pause, bridging the paused days so the run continues.
func (s *StreakService) ResumeStreak(ctx context.Context, userID, tz string) (out *StreakView, err error) {
	ctx, span := tracer().Start(ctx, "ResumeStreak", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	var g grant
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		l, err := loadLedger(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !l.Paused {
			return newErr(KindNotPaused, "streak is active")
		}
		today, err := s.today(zoneFor(l, tz))
		if err != nil {
			return err
		}
		if err := s.liftPause(ctx, tx, l, today); err != nil {
			return err
		}
		if err := recompute(ctx, tx, l, today); err != nil {
			return err
		}
		g = s.grantMilestones(l)
		if err := repo.UpdateLedger(ctx, tx, l); err != nil {
			return err
		}
		out = viewOf(l)
		return nil
	})
	if err != nil {
		return nil, asError(err)
	}
	recordGrant(g)
	return out, nil
}

// resumeLocked bridges the paused days and clears the pause fields. The
// bridge ends the day before today or the day before the pause end,
// whichever is earlier. The caller recomputes and persists.
func (s *StreakService) resumeLocked(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, today calendar.Date) error {
	start, err := calendar.ParsePtr(l.PauseStartDate)
	if err != nil {
		return err
	}
	end, err := s.pauseEnd(l)
	if err != nil {
		return err
	}
	if !start.IsZero() {
		through := today.AddDays(-1)
		if !end.IsZero() && end.Before(today) {
			through = end.AddDays(-1)
		}
		if err := bridge(ctx, tx, l.UserID, start, through, domain.SourcePause); err != nil {
			return err
		}
	}
	l.Paused = false
	l.PauseStartDate = nil
	l.PauseResumeDate = nil
	return nil
}

// liftPause ends the pause as of today. When the pause ran out before today
// the days since are judged like any missed day.
func (s *StreakService) liftPause(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, today calendar.Date) error {
	end, err := s.pauseEnd(l)
	if err != nil {
		return err
	}
	if err := s.resumeLocked(ctx, tx, l, today); err != nil {
		return err
	}
	if end.IsZero() || !end.Before(today) {
		return nil
	}
	if err := recompute(ctx, tx, l, today); err != nil {
		return err
	}
	_, err = s.closeDays(ctx, tx, l, today, &ReconcileResult{})
	return err
}

// pauseEnd is the day a pause lifts: the stored resume date, or the longest
// allowed pause for rows written without one.
func (s *StreakService) pauseEnd(l *domain.StreakLedger) (calendar.Date, error) {
	resume, err := calendar.ParsePtr(l.PauseResumeDate)
	if err != nil || !resume.IsZero() {
		return resume, err
	}
	start, err := calendar.ParsePtr(l.PauseStartDate)
	if err != nil || start.IsZero() {
		return calendar.Date{}, err
	}
	return start.AddDays(s.rules().MaxPauseDays), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
