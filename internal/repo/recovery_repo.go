// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// RecoveryAttempt model. Status transitions are conditional on the status
// the caller read, so two writers can never both move the same attempt.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

// CreateRecovery inserts a. ID and timestamps are filled when empty. A second
// pending attempt for the same user yields ErrDuplicate.
func CreateRecovery(ctx context.Context, db *gorm.DB, a *domain.RecoveryAttempt) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRecovery fetches attempt id owned by userID, or ErrNotFound.
func GetRecovery(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RecoveryAttempt, error) {
	var a domain.RecoveryAttempt
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetPendingRecovery returns the user's pending attempt, or ErrNotFound.
func GetPendingRecovery(ctx context.Context, db *gorm.DB, userID string) (*domain.RecoveryAttempt, error) {
	var a domain.RecoveryAttempt
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.RecoveryPending).
		Order("created_at desc").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateRecovery writes the mutable fields of a when the stored row still has
// status from. It returns ErrConflict when the row moved on.
func UpdateRecovery(ctx context.Context, db *gorm.DB, a *domain.RecoveryAttempt, from domain.RecoveryStatus) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.RecoveryAttempt{}).
		Where("id = ? AND status = ?", a.ID, from).
		Updates(map[string]any{
			"status":            a.Status,
			"actions_completed": a.ActionsCompleted,
			"completed_at":      a.CompletedAt,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	a.UpdatedAt = now
	return nil
}

// CountCompletedRecoveries counts attempts of type typ that userID completed
// at or after since.
func CountCompletedRecoveries(ctx context.Context, db *gorm.DB, userID string, typ domain.RecoveryType, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RecoveryAttempt{}).
		Where("user_id = ? AND recovery_type = ? AND status = ? AND completed_at >= ?",
			userID, typ, domain.RecoveryCompleted, since).
		Count(&n).Error
	return n, err
}

// ListExpiredPending pages through pending attempts whose expires_at is
// before now, ordered by id, starting after afterID.
func ListExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, afterID string, limit int) ([]domain.RecoveryAttempt, error) {
	var out []domain.RecoveryAttempt
	err := db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ? AND id > ?",
			domain.RecoveryPending, now, afterID).
		Order("id asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ExpireRecovery moves attempt id from pending to expired if it is still
// pending and past its deadline. It reports whether a row changed.
func ExpireRecovery(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.RecoveryAttempt{}).
		Where("id = ? AND status = ? AND expires_at < ?", id, domain.RecoveryPending, now).
		Updates(map[string]any{
			"status":     domain.RecoveryExpired,
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
