package domain

import (
	"testing"
	"time"
)

func TestStreakTableNames(t *testing.T) {
	cases := map[string]string{
		StreakLedger{}.TableName():    "streak_ledgers",
		ClaimRecord{}.TableName():     "claim_records",
		CoverageRecord{}.TableName():  "coverage_records",
		RecoveryAttempt{}.TableName(): "recovery_attempts",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestEnums(t *testing.T) {
	if !ClaimExplicit.Valid() || !ClaimRetroactive.Valid() || ClaimMethod("auto").Valid() {
		t.Fatalf("ClaimMethod.Valid wrong")
	}
	if !RecoveryPurchased.Valid() || RecoveryType("free").Valid() {
		t.Fatalf("RecoveryType.Valid wrong")
	}
	if !CoverageShield.Counts() || !CoverageRecovery.Counts() || CoverageBridge.Counts() {
		t.Fatalf("CoverageKind.Counts wrong")
	}
	a := RecoveryAttempt{ActionsRequired: 2, ActionsCompleted: 3}
	if a.ActionsRemaining() != 0 {
		t.Fatalf("ActionsRemaining must not go negative")
	}
}

func TestStreakMigrations_UniqueIndexes(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&StreakLedger{}, &ClaimRecord{}, &CoverageRecord{}, &RecoveryAttempt{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, idx := range []struct {
		model any
		name  string
	}{
		{&ClaimRecord{}, "ux_claim_user_date"},
		{&CoverageRecord{}, "ux_coverage_user_date"},
		{&RecoveryAttempt{}, "ux_recovery_pending"},
		{&StreakLedger{}, "idx_ledger_active"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s", idx.name)
		}
	}

	now := time.Now().UTC()
	c1 := &ClaimRecord{ID: "c1", UserID: "u1", ClaimDate: "2025-10-22", Method: ClaimExplicit, CreatedAt: now}
	if err := db.Create(c1).Error; err != nil {
		t.Fatalf("insert claim: %v", err)
	}
	c2 := &ClaimRecord{ID: "c2", UserID: "u1", ClaimDate: "2025-10-22", Method: ClaimRetroactive, CreatedAt: now}
	if err := db.Create(c2).Error; err == nil {
		t.Fatalf("expected unique violation on (user_id, claim_date)")
	}

	// Only one pending attempt per user; terminal ones are unrestricted.
	exp := now.Add(24 * time.Hour)
	p1 := &RecoveryAttempt{ID: "r1", UserID: "u1", BrokenDate: "2025-10-21", RecoveryType: RecoveryWeekendWarrior, Status: RecoveryPending, ActionsRequired: 2, ExpiresAt: &exp}
	if err := db.Create(p1).Error; err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	p2 := &RecoveryAttempt{ID: "r2", UserID: "u1", BrokenDate: "2025-10-21", RecoveryType: RecoveryWeekendWarrior, Status: RecoveryPending, ActionsRequired: 2, ExpiresAt: &exp}
	if err := db.Create(p2).Error; err == nil {
		t.Fatalf("expected a second pending attempt to be rejected")
	}
	for i, st := range []RecoveryStatus{RecoveryExpired, RecoveryExpired, RecoveryFailed} {
		r := &RecoveryAttempt{ID: "t" + string(rune('a'+i)), UserID: "u1", BrokenDate: "2025-10-21", RecoveryType: RecoveryPurchased, Status: st}
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("insert terminal %s: %v", st, err)
		}
	}
}
