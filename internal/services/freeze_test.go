package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-streak-engine/internal/domain"
)

func TestActivateFreeze_Errors(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.svc.ActivateFreeze(ctx, "u1", "2025-10-21", "UTC")
	require.ErrorIs(t, err, ErrStreakNotFound)

	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.at("2025-10-22")
	_, err = e.svc.ActivateFreeze(ctx, "u1", "2025-10-21", "UTC")
	require.ErrorIs(t, err, ErrNoFreezesAvailable)

	e.setShields(t, "u1", 2)
	for _, d := range []string{"2025-10-14", "2025-10-23"} {
		_, err = e.svc.ActivateFreeze(ctx, "u1", d, "UTC")
		assert.ErrorIs(t, err, ErrInvalidDateRange, d)
	}
	_, err = e.svc.ActivateFreeze(ctx, "u1", "2025-10-20", "UTC")
	assert.ErrorIs(t, err, ErrDateHasActivity)
	_, err = e.svc.ActivateFreeze(ctx, "u1", "yesterday", "UTC")
	assert.ErrorIs(t, err, ErrInvalidDate)

	assert.Equal(t, 2, e.ledger(t, "u1").ShieldsAvailable, "failed freezes spend nothing")
}

func TestActivateFreeze_CoversGap(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	e.setShields(t, "u1", 2)
	e.at("2025-10-22")

	res, err := e.svc.ActivateFreeze(ctx, "u1", "2025-10-21", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-10-21", res.Date)
	assert.Equal(t, 1, res.ShieldsRemaining)
	assert.Equal(t, 4, res.StreakCount)
	assert.Contains(t, res.Message, "1 shield")

	_, err = e.svc.ActivateFreeze(ctx, "u1", "2025-10-21", "")
	assert.ErrorIs(t, err, ErrDateHasActivity)

	claim, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, claim.StreakCount)

	// The frozen day is covered, so the daily job finds nothing to do.
	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Outcome)
}

func TestPauseResume(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.ErrorIs(t, err, ErrStreakNotFound)

	e.run(t, "u1", "2025-10-18", "2025-10-20")

	for _, d := range []string{"2025-10-20", "2025-10-19", "2026-01-19", "soon"} {
		_, err = e.svc.PauseStreak(ctx, "u1", d, "UTC")
		assert.ErrorIs(t, err, ErrInvalidResumeDate, d)
	}
	_, err = e.svc.ResumeStreak(ctx, "u1", "UTC")
	assert.ErrorIs(t, err, ErrNotPaused)

	v, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.NoError(t, err)
	assert.True(t, v.Paused)
	_, err = e.svc.PauseStreak(ctx, "u1", "", "UTC")
	assert.ErrorIs(t, err, ErrAlreadyPaused)

	e.at("2025-10-24")
	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Outcome)

	v, err = e.svc.ResumeStreak(ctx, "u1", "UTC")
	require.NoError(t, err)
	assert.False(t, v.Paused)
	assert.Nil(t, v.PauseResumeDate)
	assert.Equal(t, 3, v.CurrentStreak, "paused days bridge without counting")

	out, err = e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out.Outcome)

	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.StreakCount)
}

func TestPause_MaxResumeDateAccepted(t *testing.T) {
	e := newEngine(t)
	e.run(t, "u1", "2025-10-20", "2025-10-20")

	v, err := e.svc.PauseStreak(context.Background(), "u1", "2026-01-18", "UTC")
	require.NoError(t, err)
	require.NotNil(t, v.PauseResumeDate)
	assert.Equal(t, "2026-01-18", *v.PauseResumeDate)
}

func TestPause_DefaultsToLongestSpan(t *testing.T) {
	e := newEngine(t)
	e.run(t, "u1", "2025-10-20", "2025-10-20")

	v, err := e.svc.PauseStreak(context.Background(), "u1", "", "UTC")
	require.NoError(t, err)
	require.NotNil(t, v.PauseResumeDate)
	assert.Equal(t, "2026-01-18", *v.PauseResumeDate)
}

func TestReconcile_EndsOverduePauseAndJudgesTheGap(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	_, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.NoError(t, err)

	e.at("2026-09-01")
	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, OutcomeBroken, out.Outcome)
	assert.Equal(t, "2026-01-18", out.BrokenDate, "the first day after the pause")

	l := e.ledger(t, "u1")
	assert.False(t, l.Paused)
	assert.Equal(t, 0, l.CurrentStreak)
	assert.Equal(t, 3, l.PreBreakStreak)

	_, err = e.svc.ResumeStreak(ctx, "u1", "UTC")
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestReconcile_PauseWithoutStoredResumeDateIsCapped(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	_, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.NoError(t, err)
	// Rows written before resume dates were mandatory carry none.
	require.NoError(t, e.db.Model(&domain.StreakLedger{}).
		Where("user_id = ?", "u1").
		Update("pause_resume_date", nil).Error)

	e.at("2026-09-01")
	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, OutcomeBroken, out.Outcome)
}

func TestResumeAfterOverduePauseBreaks(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	_, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.NoError(t, err)

	e.at("2026-09-01")
	v, err := e.svc.ResumeStreak(ctx, "u1", "UTC")
	require.NoError(t, err)
	assert.False(t, v.Paused)
	assert.Equal(t, 0, v.CurrentStreak)
	require.NotNil(t, v.BrokenDate)
	assert.Equal(t, "2026-01-18", *v.BrokenDate)
	assert.Equal(t, 3, v.PreBreakStreak)
}

func TestReconcile_AutoResumesOnResumeDate(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	_, err := e.svc.PauseStreak(ctx, "u1", "2025-10-23", "UTC")
	require.NoError(t, err)

	e.at("2025-10-22")
	out, err := e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out.Outcome)

	e.at("2025-10-23")
	out, err = e.svc.ReconcileUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, OutcomeUnchanged, out.Outcome)

	l := e.ledger(t, "u1")
	assert.False(t, l.Paused)
	assert.Equal(t, 3, l.CurrentStreak)
}

func TestClaimWhilePausedEndsPause(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	e.run(t, "u1", "2025-10-18", "2025-10-20")
	_, err := e.svc.PauseStreak(ctx, "u1", "", "UTC")
	require.NoError(t, err)

	e.at("2025-10-22")
	res, err := e.svc.ClaimStreak(ctx, "u1", ClaimRequest{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.StreakCount)
	assert.False(t, e.ledger(t, "u1").Paused)
}
