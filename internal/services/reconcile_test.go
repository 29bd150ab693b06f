package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_BreaksWithoutShields(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.at("2025-10-22")

	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBroken, res.Outcome)
	assert.Equal(t, "2025-10-21", res.BrokenDate)

	l := e.ledger(t, "u1")
	assert.Equal(t, 0, l.CurrentStreak)
	assert.Equal(t, 3, l.LongestStreak)
	assert.Equal(t, 3, l.PreBreakStreak)
	require.NotNil(t, l.BrokenDate)
	assert.Equal(t, "2025-10-21", *l.BrokenDate)

	// A second run the same day is a no-op.
	res, err = e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 3, e.ledger(t, "u1").PreBreakStreak)
}

func TestReconcile_ConsumesExactlyOneShield(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.setShields(t, "u1", 2)
	e.at("2025-10-22")

	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeShielded, res.Outcome)
	assert.Equal(t, 1, res.ShieldsUsed)

	l := e.ledger(t, "u1")
	assert.Equal(t, 1, l.ShieldsAvailable)
	assert.Equal(t, 4, l.CurrentStreak, "a shield counts as a streak day")

	res, err = e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, e.ledger(t, "u1").ShieldsAvailable)
}

func TestReconcile_ShieldsThenBreak(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.setShields(t, "u1", 1)
	e.at("2025-10-23")

	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBroken, res.Outcome)
	assert.Equal(t, 1, res.ShieldsUsed)
	assert.Equal(t, "2025-10-22", res.BrokenDate)

	l := e.ledger(t, "u1")
	assert.Equal(t, 0, l.ShieldsAvailable)
	assert.Equal(t, 0, l.CurrentStreak)
	assert.Equal(t, 4, l.PreBreakStreak)
	assert.Equal(t, 4, l.LongestStreak)
}

func TestReconcile_JudgesYesterdayInsideGrace(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.clock.Set(time.Date(2025, 10, 22, 0, 15, 0, 0, time.UTC))

	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBroken, res.Outcome)
	assert.Equal(t, "2025-10-21", res.BrokenDate)
	assert.Equal(t, 0, e.ledger(t, "u1").CurrentStreak)
}

func TestGraceClaimLiftsBreakOnThatDay(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.clock.Set(time.Date(2025, 10, 22, 0, 15, 0, 0, time.UTC))
	_, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)

	e.clock.Set(time.Date(2025, 10, 22, 1, 0, 0, 0, time.UTC))
	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{Date: "2025-10-21"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.StreakCount)

	l := e.ledger(t, "u1")
	assert.Nil(t, l.BrokenDate)
	assert.Nil(t, l.FloorDate)
	assert.Equal(t, 0, l.PreBreakStreak)

	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Outcome)
}

func TestGraceClaimRefundsAutoShield(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.setShields(t, "u1", 1)
	e.clock.Set(time.Date(2025, 10, 22, 0, 15, 0, 0, time.UTC))

	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeShielded, out.Outcome)
	require.Equal(t, 0, e.ledger(t, "u1").ShieldsAvailable)

	e.clock.Set(time.Date(2025, 10, 22, 2, 0, 0, 0, time.UTC))
	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{Date: "2025-10-21"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.StreakCount)
	assert.Equal(t, 1, res.ShieldsAvailable)
}

func TestClaimAfterGraceKeepsBreak(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.clock.Set(time.Date(2025, 10, 22, 0, 15, 0, 0, time.UTC))
	_, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)

	e.clock.Set(time.Date(2025, 10, 22, 4, 0, 0, 0, time.UTC))
	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{Date: "2025-10-21"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StreakCount)
	require.NotNil(t, e.ledger(t, "u1").BrokenDate)
}

func TestReconcile_UsesLedgerTimezone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	for _, d := range []string{"2025-10-19", "2025-10-20", "2025-10-21"} {
		_, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{Date: d, Timezone: "America/Los_Angeles"})
		require.NoError(t, err)
	}
	// 2025-10-22 08:00 UTC is 01:00 on 10-22 in Los Angeles: nothing closed yet.
	e.clock.Set(time.Date(2025, 10, 22, 8, 0, 0, 0, time.UTC))
	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
}

func TestReconcile_RerunAfterBreakWithClaimToday(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.at("2025-10-22")
	_, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{})
	require.NoError(t, err)

	res, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBroken, res.Outcome)
	l := e.ledger(t, "u1")
	assert.Equal(t, 1, l.CurrentStreak)
	assert.Equal(t, 3, l.PreBreakStreak)

	res, err = e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 3, e.ledger(t, "u1").PreBreakStreak)
}

func TestRetroClaimDoesNotRepairBreak(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.breakRun(t, "u1")

	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{Date: "2025-10-21"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StreakCount, "the run before the break stays broken")

	res, err = e.svc.ClaimStreak(ctx, "u1", ClaimRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StreakCount)
	assert.Equal(t, 3, res.LongestStreak)
}

func TestReconcile_MissingLedger(t *testing.T) {
	e := newEngine(t)
	_, err := e.svc.ReconcileUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrStreakNotFound)
}
