// Package domain defines the persistence models for the streak engine:
// the per-user ledger, claim records, coverage markers and recovery
// attempts. These types are mapped with GORM and form the core data layer.
//
// Calendar days are stored as YYYY-MM-DD text so they sort and compare
// lexicographically on every supported driver; conversion to
// calendar.Date happens in the service layer.
package domain

import "time"

// ClaimMethod describes how a claim was submitted.
type ClaimMethod string

const (
	// ClaimExplicit is a claim for the user's current local day.
	ClaimExplicit ClaimMethod = "explicit"
	// ClaimRetroactive is a claim for an earlier day inside the retro window.
	ClaimRetroactive ClaimMethod = "retroactive"
)

// Valid reports whether m is a known method.
func (m ClaimMethod) Valid() bool {
	return m == ClaimExplicit || m == ClaimRetroactive
}

// CoverageKind describes how a non-claim day participates in a run.
type CoverageKind string

const (
	// CoverageShield is a consumed shield. It counts as a streak day.
	CoverageShield CoverageKind = "shield"
	// CoverageRecovery marks the completion day of an action-based recovery.
	// It counts as a streak day.
	CoverageRecovery CoverageKind = "recovery"
	// CoverageBridge keeps a run contiguous without adding to it
	// (recovered gap days, paused days).
	CoverageBridge CoverageKind = "bridge"
)

// Counts reports whether the kind adds one to the streak length.
func (k CoverageKind) Counts() bool { return k != CoverageBridge }

// CoverageSource records which operation produced a coverage marker.
type CoverageSource string

const (
	SourceManual   CoverageSource = "manual"
	SourceAuto     CoverageSource = "auto"
	SourceRecovery CoverageSource = "recovery"
	SourcePause    CoverageSource = "pause"
)

// RecoveryType enumerates the recovery products.
type RecoveryType string

const (
	RecoveryWeekendWarrior RecoveryType = "weekend_warrior"
	RecoveryPurchased      RecoveryType = "purchased"
)

// Valid reports whether t is a known recovery type.
func (t RecoveryType) Valid() bool {
	return t == RecoveryWeekendWarrior || t == RecoveryPurchased
}

// RecoveryStatus is the lifecycle state of a RecoveryAttempt.
type RecoveryStatus string

const (
	RecoveryPending   RecoveryStatus = "pending"
	RecoveryCompleted RecoveryStatus = "completed"
	RecoveryExpired   RecoveryStatus = "expired"
	RecoveryFailed    RecoveryStatus = "failed"
)

// StreakLedger is the durable per-user streak state.
//
// Fields:
//   - CurrentStreak / LongestStreak: LongestStreak >= CurrentStreak always.
//   - HighestMilestoneGranted: one of 0, 30, 60, 100, 365.
//   - Timezone: last zone the user claimed with; jobs use it for "yesterday".
//   - PreBreakStreak / BrokenDate: captured when a reconciliation breaks the run.
//   - FloorDate: the backward walk never counts days before it.
//   - PreBreakFloorDate: floor to restore when a recovery succeeds.
//   - Version: incremented on every write; updates are compare-and-swap on it.
type StreakLedger struct {
	UserID                  string    `json:"user_id"                   gorm:"type:varchar(64);primaryKey"`
	CurrentStreak           int       `json:"current_streak"            gorm:"not null;default:0;index:idx_ledger_active,priority:1;check:current_streak >= 0"`
	LongestStreak           int       `json:"longest_streak"            gorm:"not null;default:0;check:longest_streak >= 0"`
	ShieldsAvailable        int       `json:"shields_available"         gorm:"not null;default:0;check:shields_available >= 0"`
	LastClaimDate           *string   `json:"last_claim_date,omitempty" gorm:"type:varchar(10)"`
	HighestMilestoneGranted int       `json:"highest_milestone_granted" gorm:"not null;default:0"`
	Paused                  bool      `json:"paused"                    gorm:"not null;default:false;index:idx_ledger_active,priority:2"`
	PauseStartDate          *string   `json:"pause_start_date,omitempty"  gorm:"type:varchar(10)"`
	PauseResumeDate         *string   `json:"pause_resume_date,omitempty" gorm:"type:varchar(10)"`
	Timezone                string    `json:"timezone"                  gorm:"type:varchar(64);not null;default:'UTC'"`
	PreBreakStreak          int       `json:"pre_break_streak"          gorm:"not null;default:0"`
	BrokenDate              *string   `json:"broken_date,omitempty"     gorm:"type:varchar(10)"`
	FloorDate               *string   `json:"-"                         gorm:"type:varchar(10)"`
	PreBreakFloorDate       *string   `json:"-"                         gorm:"type:varchar(10)"`
	Version                 int64     `json:"-"                         gorm:"not null;default:0"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// TableName returns the database table name for StreakLedger.
func (StreakLedger) TableName() string { return "streak_ledgers" }

// ClaimRecord is a user's claim for one calendar day. Rows are never updated.
type ClaimRecord struct {
	ID        string      `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string      `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_claim_user_date,priority:1"`
	ClaimDate string      `json:"claim_date" gorm:"type:varchar(10);not null;uniqueIndex:ux_claim_user_date,priority:2"`
	Method    ClaimMethod `json:"method"     gorm:"type:varchar(16);not null;check:method IN ('explicit','retroactive')"`
	CreatedAt time.Time   `json:"created_at"`
}

// TableName returns the database table name for ClaimRecord.
func (ClaimRecord) TableName() string { return "claim_records" }

// CoverageRecord marks a day covered by something other than a claim.
// A day holds at most one coverage record.
type CoverageRecord struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_coverage_user_date,priority:1"`
	CoveredDate string         `json:"covered_date" gorm:"type:varchar(10);not null;uniqueIndex:ux_coverage_user_date,priority:2"`
	Kind        CoverageKind   `json:"kind"         gorm:"type:varchar(16);not null;check:kind IN ('shield','recovery','bridge')"`
	Source      CoverageSource `json:"source"       gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName returns the database table name for CoverageRecord.
func (CoverageRecord) TableName() string { return "coverage_records" }

// RecoveryAttempt is one attempt to restore a broken streak. Status moves
// pending → completed | expired | failed in place; a user has at most one
// pending attempt (partial unique index ux_recovery_pending).
type RecoveryAttempt struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"           gorm:"type:varchar(64);not null;index:idx_recovery_user_type,priority:1;uniqueIndex:ux_recovery_pending,where:status = 'pending'"`
	BrokenDate       string         `json:"broken_date"       gorm:"type:varchar(10);not null"`
	RecoveryType     RecoveryType   `json:"recovery_type"     gorm:"type:varchar(32);not null;index:idx_recovery_user_type,priority:2;check:recovery_type IN ('weekend_warrior','purchased')"`
	Status           RecoveryStatus `json:"status"            gorm:"type:varchar(16);not null;index:idx_recovery_status_expiry,priority:1;check:status IN ('pending','completed','expired','failed')"`
	ActionsRequired  int            `json:"actions_required"  gorm:"not null;default:0"`
	ActionsCompleted int            `json:"actions_completed" gorm:"not null;default:0"`
	PreBreakStreak   int            `json:"pre_break_streak"  gorm:"not null;default:0"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"   gorm:"index:idx_recovery_status_expiry,priority:2"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TableName returns the database table name for RecoveryAttempt.
func (RecoveryAttempt) TableName() string { return "recovery_attempts" }

// ActionsRemaining returns how many actions are still needed.
func (a RecoveryAttempt) ActionsRemaining() int {
	if r := a.ActionsRequired - a.ActionsCompleted; r > 0 {
		return r
	}
	return 0
}
