package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// recompute sets l.CurrentStreak from the covered days ending at the latest
// covered day on or before today, and raises LongestStreak to match.
func recompute(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, today calendar.Date) error {
	latest, err := repo.LatestCoveredDate(ctx, tx, l.UserID, today.String())
	if err != nil {
		return err
	}
	n := 0
	if latest != "" {
		start, err := calendar.ParseDate(latest)
		if err != nil {
			return err
		}
		if n, err = runLength(ctx, tx, l, start); err != nil {
			return err
		}
	}
	l.CurrentStreak = n
	if n > l.LongestStreak {
		l.LongestStreak = n
	}
	return nil
}

// runLength walks back from start one day at a time while the day is
// covered and not below the ledger floor, summing day weights.
func runLength(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, start calendar.Date) (int, error) {
	floor, err := calendar.ParsePtr(l.FloorDate)
	if err != nil {
		return 0, err
	}
	if !floor.IsZero() && start.Before(floor) {
		return 0, nil
	}
	days, err := repo.LoadDays(ctx, tx, l.UserID, floor.String(), start.String())
	if err != nil {
		return 0, err
	}

	n := 0
	for d := start; ; d = d.AddDays(-1) {
		if !floor.IsZero() && d.Before(floor) {
			break
		}
		m, ok := days[d.String()]
		if !ok || !m.Covered() {
			break
		}
		n += m.Weight()
	}
	return n, nil
}

// bridge inserts non-counting coverage on every uncovered day in [from, to].
func bridge(ctx context.Context, tx *gorm.DB, userID string, from, to calendar.Date, source domain.CoverageSource) error {
	if from.IsZero() || to.Before(from) {
		return nil
	}
	days, err := repo.LoadDays(ctx, tx, userID, from.String(), to.String())
	if err != nil {
		return err
	}
	for d := from; !d.After(to); d = d.AddDays(1) {
		if days[d.String()].Covered() {
			continue
		}
		if _, err := repo.CreateCoverage(ctx, tx, userID, d.String(), domain.CoverageBridge, source); err != nil {
			return err
		}
	}
	return nil
}
