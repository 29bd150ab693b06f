package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

// DayMark describes what, if anything, covers one calendar day.
type DayMark struct {
	Claimed  bool
	Coverage domain.CoverageKind // empty when no coverage record
}

// Covered reports whether the day keeps a run contiguous.
func (m DayMark) Covered() bool { return m.Claimed || m.Coverage != "" }

// Weight is the day's contribution to the streak length.
func (m DayMark) Weight() int {
	if m.Claimed || (m.Coverage != "" && m.Coverage.Counts()) {
		return 1
	}
	return 0
}

// CreateClaim inserts an immutable ClaimRecord. A second claim for the same
// user and day yields ErrDuplicate.
func CreateClaim(ctx context.Context, db *gorm.DB, userID, date string, method domain.ClaimMethod) (*domain.ClaimRecord, error) {
	rec := &domain.ClaimRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		ClaimDate: date,
		Method:    method,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// HasClaim reports whether userID has claimed date.
func HasClaim(ctx context.Context, db *gorm.DB, userID, date string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ClaimRecord{}).
		Where("user_id = ? AND claim_date = ?", userID, date).
		Count(&n).Error
	return n > 0, err
}

// ListClaimsPage returns claims for userID newest day first.
func ListClaimsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ClaimRecord, error) {
	var out []domain.ClaimRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("claim_date desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountClaims returns the number of claims userID has made.
func CountClaims(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ClaimRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// LatestClaimDate returns the most recent claimed day, or "" when none.
func LatestClaimDate(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var days []string
	err := db.WithContext(ctx).
		Model(&domain.ClaimRecord{}).
		Where("user_id = ?", userID).
		Order("claim_date desc").
		Limit(1).
		Pluck("claim_date", &days).Error
	if err != nil || len(days) == 0 {
		return "", err
	}
	return days[0], nil
}

// CreateCoverage inserts a coverage marker. A marker already on the day
// yields ErrDuplicate.
func CreateCoverage(ctx context.Context, db *gorm.DB, userID, date string, kind domain.CoverageKind, source domain.CoverageSource) (*domain.CoverageRecord, error) {
	rec := &domain.CoverageRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		CoveredDate: date,
		Kind:        kind,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteCoverage removes the marker of the given kind and source on date
// and reports how many rows went.
func DeleteCoverage(ctx context.Context, db *gorm.DB, userID, date string, kind domain.CoverageKind, source domain.CoverageSource) (int64, error) {
	res := db.WithContext(ctx).
		Where("user_id = ? AND covered_date = ? AND kind = ? AND source = ?", userID, date, kind, source).
		Delete(&domain.CoverageRecord{})
	return res.RowsAffected, res.Error
}

// ListCoverage returns coverage markers for userID in [from, to]; either
// bound may be "" for an open end.
func ListCoverage(ctx context.Context, db *gorm.DB, userID, from, to string) ([]domain.CoverageRecord, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if from != "" {
		q = q.Where("covered_date >= ?", from)
	}
	if to != "" {
		q = q.Where("covered_date <= ?", to)
	}
	var out []domain.CoverageRecord
	err := q.Order("covered_date asc").Find(&out).Error
	return out, err
}

// LoadDays merges claims and coverage for userID in [from, to] into a map
// keyed by YYYY-MM-DD. Either bound may be "".
func LoadDays(ctx context.Context, db *gorm.DB, userID, from, to string) (map[string]DayMark, error) {
	q := db.WithContext(ctx).Model(&domain.ClaimRecord{}).Where("user_id = ?", userID)
	if from != "" {
		q = q.Where("claim_date >= ?", from)
	}
	if to != "" {
		q = q.Where("claim_date <= ?", to)
	}
	var claimed []string
	if err := q.Pluck("claim_date", &claimed).Error; err != nil {
		return nil, err
	}
	cov, err := ListCoverage(ctx, db, userID, from, to)
	if err != nil {
		return nil, err
	}

	out := make(map[string]DayMark, len(claimed)+len(cov))
	for _, d := range claimed {
		m := out[d]
		m.Claimed = true
		out[d] = m
	}
	for _, c := range cov {
		m := out[c.CoveredDate]
		m.Coverage = c.Kind
		out[c.CoveredDate] = m
	}
	return out, nil
}

// LatestCoveredDate returns the latest day on or before notAfter that holds
// a claim or a coverage marker, or "" when there is none.
func LatestCoveredDate(ctx context.Context, db *gorm.DB, userID, notAfter string) (string, error) {
	var claims, covers []string
	if err := db.WithContext(ctx).
		Model(&domain.ClaimRecord{}).
		Where("user_id = ? AND claim_date <= ?", userID, notAfter).
		Order("claim_date desc").
		Limit(1).
		Pluck("claim_date", &claims).Error; err != nil {
		return "", err
	}
	if err := db.WithContext(ctx).
		Model(&domain.CoverageRecord{}).
		Where("user_id = ? AND covered_date <= ?", userID, notAfter).
		Order("covered_date desc").
		Limit(1).
		Pluck("covered_date", &covers).Error; err != nil {
		return "", err
	}
	latest := ""
	if len(claims) > 0 {
		latest = claims[0]
	}
	if len(covers) > 0 && covers[0] > latest {
		latest = covers[0]
	}
	return latest, nil
}
