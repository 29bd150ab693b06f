// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// StreakLedger model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - A missing ledger yields ErrNotFound.
//   - UpdateLedger is a compare-and-swap on Version and yields ErrConflict
//     when the stored version moved.
//   - Other DB errors are propagated raw.
//
// Functions:
//
//   - GetLedger(ctx, db, userID, forUpdate) -> *domain.StreakLedger, error
//     Reads one ledger; forUpdate adds SELECT ... FOR UPDATE where supported.
//
//   - CreateLedger(ctx, db, l) -> error
//     Inserts a fresh ledger at version 1. ErrDuplicate when it exists.
//
//   - UpdateLedger(ctx, db, l) -> error
//     Writes every mutable column guarded by the version read earlier.
//
//   - ListActiveLedgers(ctx, db, afterUserID, limit) -> []domain.StreakLedger, error
//     Keyset page over ledgers the daily job must look at.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

// GetLedger fetches the ledger for userID. With forUpdate the row is locked
// for the rest of the surrounding transaction on drivers that support it.
func GetLedger(ctx context.Context, db *gorm.DB, userID string, forUpdate bool) (*domain.StreakLedger, error) {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var l domain.StreakLedger
	if err := q.Where("user_id = ?", userID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLedger inserts l with Version 1. It returns ErrDuplicate when a
// ledger for the user already exists.
func CreateLedger(ctx context.Context, db *gorm.DB, l *domain.StreakLedger) error {
	now := time.Now().UTC()
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Timezone == "" {
		l.Timezone = "UTC"
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateLedger persists every mutable field of l if and only if the stored
// row still carries l.Version. On success l.Version is advanced.
func UpdateLedger(ctx context.Context, db *gorm.DB, l *domain.StreakLedger) error {
	now := time.Now().UTC()
	next := l.Version + 1
	res := db.WithContext(ctx).
		Model(&domain.StreakLedger{}).
		Where("user_id = ? AND version = ?", l.UserID, l.Version).
		Updates(map[string]any{
			"current_streak":            l.CurrentStreak,
			"longest_streak":            l.LongestStreak,
			"shields_available":         l.ShieldsAvailable,
			"last_claim_date":           l.LastClaimDate,
			"highest_milestone_granted": l.HighestMilestoneGranted,
			"paused":                    l.Paused,
			"pause_start_date":          l.PauseStartDate,
			"pause_resume_date":         l.PauseResumeDate,
			"timezone":                  l.Timezone,
			"pre_break_streak":          l.PreBreakStreak,
			"broken_date":               l.BrokenDate,
			"floor_date":                l.FloorDate,
			"pre_break_floor_date":      l.PreBreakFloorDate,
			"version":                   next,
			"updated_at":                now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	l.Version = next
	l.UpdatedAt = now
	return nil
}

// ListActiveLedgers returns up to limit ledgers with user_id > afterUserID
// that either hold a running streak or are paused, ordered by user_id.
func ListActiveLedgers(ctx context.Context, db *gorm.DB, afterUserID string, limit int) ([]domain.StreakLedger, error) {
	var out []domain.StreakLedger
	err := db.WithContext(ctx).
		Where("(current_streak > 0 OR paused = ?) AND user_id > ?", true, afterUserID).
		Order("user_id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
