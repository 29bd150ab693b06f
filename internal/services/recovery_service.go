// Package services – Recovery orchestration
//
// A broken streak (pre_break_streak > 0 with broken_date set) can be
// restored within the recovery window, once, through one of two products:
//
//   - weekend_warrior: two recorded actions within 24h of the start. The
//     second action completes the attempt, bridges the gap and marks today.
//   - purchased: billing is charged while the user's lock is held but outside
//     any transaction; success completes immediately, failure stores a
//     failed attempt. One completed purchase per rolling 365 days.
//
// Attempt status only moves forward (pending → completed | expired | failed)
// and every transition is conditional on the status read.

package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

const (
	weekendWarriorActions = 2
	weekendWarriorTTL     = 24 * time.Hour
	purchaseLimitWindow   = 365 * 24 * time.Hour
)

// StartRecoveryRequest is the input of StartRecovery. An empty BrokenDate
// targets the ledger's current break.
type StartRecoveryRequest struct {
	BrokenDate string
	Type       domain.RecoveryType
	Timezone   string
}

// RecoveryView is the public projection of a RecoveryAttempt.
type RecoveryView struct {
	ID               string                `json:"attempt_id"`
	Type             domain.RecoveryType   `json:"recovery_type" example:"weekend_warrior"`
	Status           domain.RecoveryStatus `json:"status" example:"pending"`
	BrokenDate       string                `json:"broken_date" example:"2025-10-21"`
	ActionsRequired  int                   `json:"actions_required"`
	ActionsCompleted int                   `json:"actions_completed"`
	ActionsRemaining int                   `json:"actions_remaining"`
	ExpiresAt        *time.Time            `json:"expires_at,omitempty"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	StreakCount      *int                  `json:"streak_count,omitempty"`
}

func recoveryView(a *domain.RecoveryAttempt, l *domain.StreakLedger) *RecoveryView {
	v := &RecoveryView{
		ID:               a.ID,
		Type:             a.RecoveryType,
		Status:           a.Status,
		BrokenDate:       a.BrokenDate,
		ActionsRequired:  a.ActionsRequired,
		ActionsCompleted: a.ActionsCompleted,
		ActionsRemaining: a.ActionsRemaining(),
		ExpiresAt:        a.ExpiresAt,
		CompletedAt:      a.CompletedAt,
	}
	if l != nil {
		n := l.CurrentStreak
		v.StreakCount = &n
	}
	return v
}

// StartRecovery opens a recovery attempt for the user's current break.
func (s *StreakService) StartRecovery(ctx context.Context, userID string, req StartRecoveryRequest) (out *RecoveryView, err error) {
	ctx, span := tracer().Start(ctx, "StartRecovery",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("recovery.type", string(req.Type)),
		))
	defer func() { endSpan(span, err) }()

	if !req.Type.Valid() {
		return nil, newErr(KindInvalidRecoveryType, "%q", req.Type)
	}
	var want calendar.Date
	if req.BrokenDate != "" {
		if want, err = parseDay(req.BrokenDate, KindInvalidDate); err != nil {
			return nil, err
		}
	}

	err = s.withUserLock(ctx, userID, func() error {
		var snapshot domain.StreakLedger
		err := s.inTx(ctx, func(tx *gorm.DB) error {
			l, err := loadLedger(ctx, tx, userID)
			if err != nil {
				return err
			}
			if err := s.checkRecoverable(ctx, tx, l, want, req.Timezone); err != nil {
				return err
			}
			snapshot = *l

			if req.Type != domain.RecoveryWeekendWarrior {
				return s.checkPurchaseLimit(ctx, tx, userID)
			}
			expires := s.now().Add(weekendWarriorTTL)
			a := &domain.RecoveryAttempt{
				UserID:          userID,
				BrokenDate:      deref(l.BrokenDate),
				RecoveryType:    domain.RecoveryWeekendWarrior,
				Status:          domain.RecoveryPending,
				ActionsRequired: weekendWarriorActions,
				PreBreakStreak:  l.PreBreakStreak,
				ExpiresAt:       &expires,
			}
			if err := repo.CreateRecovery(ctx, tx, a); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return newErr(KindAlreadyInProgress, "pending attempt exists")
				}
				return err
			}
			out = recoveryView(a, nil)
			return nil
		})
		if err != nil || req.Type == domain.RecoveryWeekendWarrior {
			return err
		}
		return s.purchase(ctx, &snapshot, req.Timezone, &out)
	})
	if err != nil {
		return nil, asError(err)
	}
	observability.Recoveries.WithLabelValues(string(out.Type), string(out.Status)).Inc()
	return out, nil
}

// checkRecoverable validates the absence of a pending attempt, then the
// break and its window.
func (s *StreakService) checkRecoverable(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, want calendar.Date, tz string) error {
	if _, err := repo.GetPendingRecovery(ctx, tx, l.UserID); err == nil {
		return newErr(KindAlreadyInProgress, "pending attempt exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	broken, err := calendar.ParsePtr(l.BrokenDate)
	if err != nil {
		return err
	}
	if l.PreBreakStreak <= 0 || broken.IsZero() || (!want.IsZero() && !want.Equal(broken)) {
		return newErr(KindNoBrokenStreak, "nothing to recover")
	}
	today, err := s.today(zoneFor(l, tz))
	if err != nil {
		return err
	}
	if today.DaysSince(broken) > s.rules().RecoveryWindowDays {
		return newErr(KindRecoveryWindowClosed, "broken on %s", broken)
	}
	return nil
}

func (s *StreakService) checkPurchaseLimit(ctx context.Context, tx *gorm.DB, userID string) error {
	n, err := repo.CountCompletedRecoveries(ctx, tx, userID, domain.RecoveryPurchased, s.now().Add(-purchaseLimitWindow))
	if err != nil {
		return err
	}
	if n > 0 {
		return newErr(KindRecoveryLimitReached, "one purchased recovery per 365 days")
	}
	return nil
}

// purchase charges billing and records the outcome. The caller holds the
// user lock; snap is the ledger as validated.
func (s *StreakService) purchase(ctx context.Context, snap *domain.StreakLedger, tz string, out **RecoveryView) error {
	attempt := func(status domain.RecoveryStatus) *domain.RecoveryAttempt {
		a := &domain.RecoveryAttempt{
			UserID:         snap.UserID,
			BrokenDate:     deref(snap.BrokenDate),
			RecoveryType:   domain.RecoveryPurchased,
			Status:         status,
			PreBreakStreak: snap.PreBreakStreak,
		}
		if status == domain.RecoveryCompleted {
			now := s.now()
			a.CompletedAt = &now
		}
		return a
	}

	var chargeErr error
	if s.Billing == nil {
		chargeErr = errors.New("billing not configured")
	} else {
		chargeErr = s.Billing.ChargeForRecovery(ctx, snap.UserID)
	}
	if chargeErr != nil {
		err := s.inTx(ctx, func(tx *gorm.DB) error {
			return repo.CreateRecovery(ctx, tx, attempt(domain.RecoveryFailed))
		})
		if err != nil {
			return err
		}
		observability.Recoveries.WithLabelValues(string(domain.RecoveryPurchased), string(domain.RecoveryFailed)).Inc()
		return &Error{Kind: KindPaymentFailed, Detail: "charge declined", Err: chargeErr}
	}

	var g grant
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		l, err := loadLedger(ctx, tx, snap.UserID)
		if err != nil {
			return err
		}
		today, err := s.today(zoneFor(l, tz))
		if err != nil {
			return err
		}
		a := attempt(domain.RecoveryCompleted)
		if err := repo.CreateRecovery(ctx, tx, a); err != nil {
			return err
		}
		if err := restore(ctx, tx, l, today.AddDays(-1)); err != nil {
			return err
		}
		if err := recompute(ctx, tx, l, today); err != nil {
			return err
		}
		g = s.grantMilestones(l)
		if err := repo.UpdateLedger(ctx, tx, l); err != nil {
			return err
		}
		*out = recoveryView(a, l)
		return nil
	})
	if err == nil {
		recordGrant(g)
	}
	return err
}

// restore bridges [broken_date, through], puts back the pre-break floor and
// clears the break fields. The caller recomputes and persists.
func restore(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, through calendar.Date) error {
	broken, err := calendar.ParsePtr(l.BrokenDate)
	if err != nil {
		return err
	}
	if err := bridge(ctx, tx, l.UserID, broken, through, domain.SourceRecovery); err != nil {
		return err
	}
	l.FloorDate = l.PreBreakFloorDate
	l.PreBreakFloorDate = nil
	l.BrokenDate = nil
	l.PreBreakStreak = 0
	return nil
}

// RecordAction counts one weekend-warrior action. The action that reaches
// the requirement completes the attempt and restores the streak through
// today. Actions on a completed attempt are no-ops.
func (s *StreakService) RecordAction(ctx context.Context, userID, attemptID, tz string) (out *RecoveryView, err error) {
	ctx, span := tracer().Start(ctx, "RecordAction",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("attempt.id", attemptID)))
	defer func() { endSpan(span, err) }()

	var (
		g         grant
		completed bool
	)
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		completed = false
		a, err := repo.GetRecovery(ctx, tx, attemptID, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return newErr(KindRecoveryNotFound, "%s", attemptID)
		}
		if err != nil {
			return err
		}
		if a.RecoveryType != domain.RecoveryWeekendWarrior {
			return newErr(KindInvalidRecoveryType, "%s takes no actions", a.RecoveryType)
		}
		switch a.Status {
		case domain.RecoveryCompleted:
			out = recoveryView(a, nil)
			return nil
		case domain.RecoveryExpired, domain.RecoveryFailed:
			return newErr(KindRecoveryNotPending, "attempt is %s", a.Status)
		}
		now := s.now()
		if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
			return newErr(KindRecoveryExpired, "expired at %s", a.ExpiresAt.Format(time.RFC3339))
		}

		a.ActionsCompleted++
		var l *domain.StreakLedger
		if a.ActionsCompleted >= a.ActionsRequired {
			a.Status = domain.RecoveryCompleted
			a.CompletedAt = &now
			if l, err = s.completeWeekendWarrior(ctx, tx, userID, tz); err != nil {
				return err
			}
			g = s.grantMilestones(l)
			if err := repo.UpdateLedger(ctx, tx, l); err != nil {
				return err
			}
			completed = true
		}
		if err := repo.UpdateRecovery(ctx, tx, a, domain.RecoveryPending); err != nil {
			return err
		}
		out = recoveryView(a, l)
		return nil
	})
	if err != nil {
		return nil, asError(err)
	}
	if completed {
		observability.Recoveries.WithLabelValues(string(domain.RecoveryWeekendWarrior), string(domain.RecoveryCompleted)).Inc()
		recordGrant(g)
	}
	return out, nil
}

// completeWeekendWarrior restores the ledger through yesterday and marks
// today with recovery coverage when nothing else covers it.
func (s *StreakService) completeWeekendWarrior(ctx context.Context, tx *gorm.DB, userID, tz string) (*domain.StreakLedger, error) {
	l, err := loadLedger(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	today, err := s.today(zoneFor(l, tz))
	if err != nil {
		return nil, err
	}
	if err := restore(ctx, tx, l, today.AddDays(-1)); err != nil {
		return nil, err
	}
	days, err := repo.LoadDays(ctx, tx, userID, today.String(), today.String())
	if err != nil {
		return nil, err
	}
	if !days[today.String()].Covered() {
		if _, err := repo.CreateCoverage(ctx, tx, userID, today.String(), domain.CoverageRecovery, domain.SourceRecovery); err != nil {
			return nil, err
		}
	}
	if err := recompute(ctx, tx, l, today); err != nil {
		return nil, err
	}
	return l, nil
}

// CurrentRecovery returns the user's pending attempt.
func (s *StreakService) CurrentRecovery(ctx context.Context, userID string) (out *RecoveryView, err error) {
	ctx, span := tracer().Start(ctx, "CurrentRecovery", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	a, err := repo.GetPendingRecovery(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindRecoveryNotFound, "no pending attempt")
	}
	if err != nil {
		return nil, asError(err)
	}
	return recoveryView(a, nil), nil
}

// ExpireAttempt moves a pending attempt past its deadline to expired under
// the owner's lock. It reports whether the attempt changed; the ledger is
// not touched.
func (s *StreakService) ExpireAttempt(ctx context.Context, a domain.RecoveryAttempt) (changed bool, err error) {
	err = s.withUserLock(ctx, a.UserID, func() error {
		changed, err = repo.ExpireRecovery(ctx, s.DB, a.ID, s.now())
		return err
	})
	if err != nil {
		return false, asError(err)
	}
	if changed {
		observability.Recoveries.WithLabelValues(string(a.RecoveryType), string(domain.RecoveryExpired)).Inc()
	}
	return changed, nil
}
