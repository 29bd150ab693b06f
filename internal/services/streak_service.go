// Package services – StreakService
//
// This file declares StreakService, the component that owns every mutation
// of a user's streak ledger, together with the claim operations built on it.
// Each mutation runs under the user's lock inside a DB transaction, reads
// the ledger FOR UPDATE and writes it back with a version compare-and-swap;
// lost races are retried a bounded number of times.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry the user id and the resolved local day where applicable.

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/lock"
	"github.com/tbourn/go-streak-engine/internal/observability"
	"github.com/tbourn/go-streak-engine/internal/repo"
)

// maxTxAttempts bounds the read-modify-write retries of one mutation.
const maxTxAttempts = 3

// HealthSignal reports whether a user produced an engagement signal on a day.
type HealthSignal interface {
	HasEngagementSignal(ctx context.Context, userID, date string) (bool, error)
}

// Billing charges a user for a purchased recovery.
type Billing interface {
	ChargeForRecovery(ctx context.Context, userID string) error
}

// Rules are the tunable streak rules.
type Rules struct {
	RetroWindowDays    int // claims and freezes reach back this many days
	ShieldCap          int // shields_available never exceeds this
	RecoveryWindowDays int // a break older than this cannot be recovered
	MaxPauseDays       int // furthest resume date accepted by PauseStreak
}

// DefaultRules returns the production defaults.
func DefaultRules() Rules {
	return Rules{RetroWindowDays: 7, ShieldCap: 5, RecoveryWindowDays: 7, MaxPauseDays: 90}
}

// StreakService coordinates claims, shields, pauses, recoveries and
// reconciliation for individual users. The zero-valued optional fields fall
// back to safe defaults: a nil Health accepts every claim, a nil Billing
// declines every charge, a nil Locks uses a process-wide Local locker.
type StreakService struct {
	DB       *gorm.DB
	Calendar *calendar.Resolver
	Locks    lock.Locker
	Health   HealthSignal
	Billing  Billing
	Rules    Rules
}

var (
	defaultLocks    = lock.NewLocal()
	defaultCalendar = calendar.NewResolver(time.Now, 3*time.Hour)
)

func (s *StreakService) cal() *calendar.Resolver {
	if s.Calendar != nil {
		return s.Calendar
	}
	return defaultCalendar
}

func (s *StreakService) locks() lock.Locker {
	if s.Locks != nil {
		return s.Locks
	}
	return defaultLocks
}

func (s *StreakService) rules() Rules {
	r, d := s.Rules, DefaultRules()
	if r.RetroWindowDays <= 0 {
		r.RetroWindowDays = d.RetroWindowDays
	}
	if r.ShieldCap <= 0 {
		r.ShieldCap = d.ShieldCap
	}
	if r.RecoveryWindowDays <= 0 {
		r.RecoveryWindowDays = d.RecoveryWindowDays
	}
	if r.MaxPauseDays <= 0 {
		r.MaxPauseDays = d.MaxPauseDays
	}
	return r
}

func (s *StreakService) now() time.Time { return s.cal().Now().UTC() }

func tracer() trace.Tracer { return otel.Tracer("services/StreakService") }

// endSpan records err on span, then ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, string(KindOf(err)))
		span.SetAttributes(attribute.String("error.kind", string(KindOf(err))))
	}
	span.End()
}

// withUserLock runs fn while holding userID's lock.
func (s *StreakService) withUserLock(ctx context.Context, userID string, fn func() error) error {
	release, err := s.locks().Lock(ctx, userID)
	if err != nil {
		return &Error{Kind: KindConflict, Detail: "user is busy", Err: err}
	}
	defer release()
	return fn()
}

// inTx runs fn in a transaction, retrying the whole function when it fails
// with a retryable error. fn must rebuild all of its state on each call.
func (s *StreakService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if err == nil || !repo.IsRetryable(err) {
			return err
		}
		if attempt < maxTxAttempts {
			observability.TxRetries.Inc()
		}
	}
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf("gave up after %d attempts", maxTxAttempts), Err: err}
}

// mutate is the standard path for a single-user write.
func (s *StreakService) mutate(ctx context.Context, userID string, fn func(tx *gorm.DB) error) error {
	return s.withUserLock(ctx, userID, func() error {
		return s.inTx(ctx, fn)
	})
}

// loadLedger reads the ledger for update, mapping a missing row to
// STREAK_NOT_FOUND.
func loadLedger(ctx context.Context, tx *gorm.DB, userID string) (*domain.StreakLedger, error) {
	l, err := repo.GetLedger(ctx, tx, userID, true)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindStreakNotFound, "no streak for user")
	}
	return l, err
}

// zoneFor picks the request zone, falling back to the one stored on the ledger.
func zoneFor(l *domain.StreakLedger, tz string) string {
	if tz == "" && l != nil {
		return l.Timezone
	}
	return tz
}

// today resolves the local day in tz, mapping a bad zone to INVALID_TIMEZONE.
func (s *StreakService) today(tz string) (calendar.Date, error) {
	d, err := s.cal().Today(tz)
	if err != nil {
		return calendar.Date{}, newErr(KindInvalidTimezone, "%q", tz)
	}
	return d, nil
}

func parseDay(raw string, k Kind) (calendar.Date, error) {
	d, err := calendar.ParseDate(raw)
	if err != nil {
		return calendar.Date{}, newErr(k, "%q is not YYYY-MM-DD", raw)
	}
	return d, nil
}

// ---- Views ----

// Eligibility is the result of CanClaim.
type Eligibility struct {
	Date              string `json:"date" example:"2025-10-22"`
	CanClaim          bool   `json:"can_claim"`
	AlreadyClaimed    bool   `json:"already_claimed"`
	HasHealthData     bool   `json:"has_health_data"`
	GracePeriodActive bool   `json:"grace_period_active"`
	Reason            Kind   `json:"reason,omitempty" example:"NO_HEALTH_DATA"`
}

// Milestone reports a threshold reached by a recompute.
type Milestone struct {
	Threshold      int `json:"threshold" example:"30"`
	ShieldsGranted int `json:"shields_granted" example:"1"`
}

// ClaimRequest is the input of ClaimStreak. Empty Date means local today;
// empty Method is derived from the date.
type ClaimRequest struct {
	Date     string
	Timezone string
	Method   domain.ClaimMethod
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	ClaimDate        string             `json:"claim_date" example:"2025-10-22"`
	Method           domain.ClaimMethod `json:"method" example:"explicit"`
	StreakCount      int                `json:"streak_count" example:"12"`
	LongestStreak    int                `json:"longest_streak" example:"40"`
	ShieldsAvailable int                `json:"shields_available" example:"2"`
	Milestone        *Milestone         `json:"milestone,omitempty"`
	Message          string             `json:"message" example:"Day 12 of your streak."`
}

// StreakView is the public projection of a ledger.
type StreakView struct {
	UserID                  string  `json:"user_id"`
	CurrentStreak           int     `json:"current_streak"`
	LongestStreak           int     `json:"longest_streak"`
	ShieldsAvailable        int     `json:"shields_available"`
	LastClaimDate           *string `json:"last_claim_date,omitempty"`
	HighestMilestoneGranted int     `json:"highest_milestone_granted"`
	NextMilestone           *int    `json:"next_milestone,omitempty"`
	Paused                  bool    `json:"paused"`
	PauseResumeDate         *string `json:"pause_resume_date,omitempty"`
	Timezone                string  `json:"timezone"`
	BrokenDate              *string `json:"broken_date,omitempty"`
	PreBreakStreak          int     `json:"pre_break_streak,omitempty"`
}

func viewOf(l *domain.StreakLedger) *StreakView {
	v := &StreakView{
		UserID:                  l.UserID,
		CurrentStreak:           l.CurrentStreak,
		LongestStreak:           l.LongestStreak,
		ShieldsAvailable:        l.ShieldsAvailable,
		LastClaimDate:           l.LastClaimDate,
		HighestMilestoneGranted: l.HighestMilestoneGranted,
		Paused:                  l.Paused,
		PauseResumeDate:         l.PauseResumeDate,
		Timezone:                l.Timezone,
		BrokenDate:              l.BrokenDate,
		PreBreakStreak:          l.PreBreakStreak,
	}
	if next, ok := nextMilestone(l.HighestMilestoneGranted); ok {
		v.NextMilestone = &next
	}
	return v
}

// ---- Claims ----

// CanClaim evaluates every claim rule for (userID, date) without writing.
// Rule failures are reported through Eligibility.Reason; only a bad zone or
// date, or an infrastructure failure, yields an error.
func (s *StreakService) CanClaim(ctx context.Context, userID, date, tz string) (out *Eligibility, err error) {
	ctx, span := tracer().Start(ctx, "CanClaim",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("date", date)))
	defer func() { endSpan(span, err) }()

	today, err := s.today(tz)
	if err != nil {
		return nil, err
	}
	d := today
	if date != "" {
		if d, err = parseDay(date, KindInvalidDate); err != nil {
			return nil, err
		}
	}
	el, err := s.evaluate(ctx, userID, d, today, tz)
	if err != nil {
		return nil, asError(err)
	}
	return el, nil
}

// evaluate runs the claim rules in order and stops at the first failure.
func (s *StreakService) evaluate(ctx context.Context, userID string, d, today calendar.Date, tz string) (*Eligibility, error) {
	el := &Eligibility{Date: d.String()}

	if d.After(today) {
		el.Reason = KindFutureDate
		return el, nil
	}
	if today.DaysSince(d) > s.rules().RetroWindowDays {
		el.Reason = KindTooOld
		return el, nil
	}
	if d.Equal(today.AddDays(-1)) {
		grace, err := s.cal().InGrace(tz)
		if err != nil {
			return nil, newErr(KindInvalidTimezone, "%q", tz)
		}
		el.GracePeriodActive = grace
	}

	claimed, err := repo.HasClaim(ctx, s.DB, userID, d.String())
	if err != nil {
		return nil, err
	}
	if claimed {
		el.AlreadyClaimed = true
		el.Reason = KindAlreadyClaimed
		return el, nil
	}

	has := true
	if s.Health != nil {
		if has, err = s.Health.HasEngagementSignal(ctx, userID, d.String()); err != nil {
			return nil, &Error{Kind: KindUnavailable, Detail: "health signal lookup failed", Err: err}
		}
	}
	el.HasHealthData = has
	if !has {
		el.Reason = KindNoHealthData
		return el, nil
	}
	el.CanClaim = true
	return el, nil
}

// ClaimStreak records a claim and recomputes the streak. The ledger is
// created on first claim. A claim while paused ends the pause first so the
// paused days are bridged before the walk.
func (s *StreakService) ClaimStreak(ctx context.Context, userID string, req ClaimRequest) (out *ClaimResult, err error) {
	ctx, span := tracer().Start(ctx, "ClaimStreak",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("date", req.Date)))
	method := "unknown"
	defer func() {
		result := "ok"
		if err != nil {
			result = string(KindOf(err))
		}
		observability.ClaimsTotal.WithLabelValues(method, result).Inc()
		endSpan(span, err)
	}()

	today, err := s.today(req.Timezone)
	if err != nil {
		return nil, err
	}
	d := today
	if req.Date != "" {
		if d, err = parseDay(req.Date, KindInvalidDate); err != nil {
			return nil, err
		}
	}
	if req.Method == "" {
		req.Method = domain.ClaimRetroactive
		if d.Equal(today) {
			req.Method = domain.ClaimExplicit
		}
	}
	if !req.Method.Valid() {
		return nil, newErr(KindInvalidArgument, "unknown claim method %q", req.Method)
	}
	method = string(req.Method)
	span.SetAttributes(attribute.String("claim.date", d.String()), attribute.String("claim.method", string(req.Method)))

	el, err := s.evaluate(ctx, userID, d, today, req.Timezone)
	if err != nil {
		return nil, asError(err)
	}
	if !el.CanClaim {
		return nil, newErr(el.Reason, "%s", d)
	}

	var g grant
	err = s.mutate(ctx, userID, func(tx *gorm.DB) error {
		l, err := repo.GetLedger(ctx, tx, userID, true)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			l = &domain.StreakLedger{UserID: userID, Timezone: req.Timezone}
			if err := repo.CreateLedger(ctx, tx, l); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return repo.ErrConflict
				}
				return err
			}
		case err != nil:
			return err
		}

		if l.Paused {
			if err := s.liftPause(ctx, tx, l, today); err != nil {
				return err
			}
		}

		if _, err := repo.CreateClaim(ctx, tx, userID, d.String(), req.Method); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return newErr(KindAlreadyClaimed, "%s", d)
			}
			return err
		}
		if el.GracePeriodActive {
			if err := s.healGraceDay(ctx, tx, l, d); err != nil {
				return err
			}
		}

		if err := recompute(ctx, tx, l, today); err != nil {
			return err
		}
		if last, _ := calendar.ParsePtr(l.LastClaimDate); last.IsZero() || d.After(last) {
			l.LastClaimDate = d.Ptr()
		}
		if req.Timezone != "" {
			l.Timezone = req.Timezone
		}
		g = s.grantMilestones(l)
		if err := repo.UpdateLedger(ctx, tx, l); err != nil {
			return err
		}

		out = &ClaimResult{
			ClaimDate:        d.String(),
			Method:           req.Method,
			StreakCount:      l.CurrentStreak,
			LongestStreak:    l.LongestStreak,
			ShieldsAvailable: l.ShieldsAvailable,
			Milestone:        g.Milestone,
		}
		return nil
	})
	if err != nil {
		return nil, asError(err)
	}
	out.Message = claimMessage(out.StreakCount, out.Milestone)
	recordGrant(g)
	span.SetAttributes(attribute.Int("streak.count", out.StreakCount))
	return out, nil
}

// healGraceDay undoes what the daily job did to d before the grace window
// closed: an auto shield spent on d is refunded and a break on d is lifted.
// A pending recovery attempt keeps the break it was opened for.
func (s *StreakService) healGraceDay(ctx context.Context, tx *gorm.DB, l *domain.StreakLedger, d calendar.Date) error {
	n, err := repo.DeleteCoverage(ctx, tx, l.UserID, d.String(), domain.CoverageShield, domain.SourceAuto)
	if err != nil {
		return err
	}
	if n > 0 && l.ShieldsAvailable < s.rules().ShieldCap {
		l.ShieldsAvailable++
	}

	broken, err := calendar.ParsePtr(l.BrokenDate)
	if err != nil || !broken.Equal(d) {
		return err
	}
	if _, err := repo.GetPendingRecovery(ctx, tx, l.UserID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	l.FloorDate = l.PreBreakFloorDate
	l.PreBreakFloorDate = nil
	l.BrokenDate = nil
	l.PreBreakStreak = 0
	return nil
}

// GetStreak returns the user's ledger view.
func (s *StreakService) GetStreak(ctx context.Context, userID string) (out *StreakView, err error) {
	ctx, span := tracer().Start(ctx, "GetStreak", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	l, err := repo.GetLedger(ctx, s.DB, userID, false)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindStreakNotFound, "no streak for user")
	}
	if err != nil {
		return nil, asError(err)
	}
	return viewOf(l), nil
}

// ListClaims returns a page of the user's claims (newest day first) with
// the total count.
func (s *StreakService) ListClaims(ctx context.Context, userID string, page, pageSize int) (items []domain.ClaimRecord, total int64, err error) {
	ctx, span := tracer().Start(ctx, "ListClaims",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		))
	defer func() { endSpan(span, err) }()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err = repo.CountClaims(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, asError(err)
	}
	if total == 0 {
		return []domain.ClaimRecord{}, 0, nil
	}
	items, err = repo.ListClaimsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, asError(err)
	}
	return items, total, nil
}

// ClaimsVersion returns a weak validator for the user's claim list; it
// changes whenever a claim is added.
func (s *StreakService) ClaimsVersion(ctx context.Context, userID string) (string, error) {
	count, latest, err := repo.ClaimsStats(ctx, s.DB, userID)
	if err != nil {
		return "", asError(err)
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf("claims:%s:%d:%d", userID, count, ts), nil
}
