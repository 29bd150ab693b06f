package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-streak-engine/internal/calendar"
	"github.com/tbourn/go-streak-engine/internal/domain"
	"github.com/tbourn/go-streak-engine/internal/http/middleware"
	"github.com/tbourn/go-streak-engine/internal/jobs"
	"github.com/tbourn/go-streak-engine/internal/lock"
	"github.com/tbourn/go-streak-engine/internal/repo"
	"github.com/tbourn/go-streak-engine/internal/services"
)

// ---------- fixture ----------

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// idemShim stores idempotency records the way the router does.
type idemShim struct{ db *gorm.DB }

func (s idemShim) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, time.Hour)
	return err
}

type fakeRunner struct {
	calls []string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string) (any, error) {
	f.calls = append(f.calls, name)
	if name != jobs.DailyReconcile {
		return nil, jobs.ErrUnknownJob
	}
	if f.err != nil {
		return nil, f.err
	}
	return jobs.DailyReport{Scanned: 3, Unchanged: 3}, nil
}

type api struct {
	r      *gin.Engine
	db     *gorm.DB
	clk    *clock
	runner *fakeRunner
}

const cronSecret = "s3cret"

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clk := &clock{now: time.Date(2025, 10, 22, 12, 0, 0, 0, time.UTC)}
	svc := &services.StreakService{
		DB:       db,
		Calendar: calendar.NewResolver(clk.Now, 3*time.Hour),
		Locks:    lock.NewLocal(),
		Rules:    services.DefaultRules(),
	}
	runner := &fakeRunner{}
	h := New(svc, svc, idemShim{db: db}).WithJobs(runner, cronSecret)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	g := r.Group("/streak")
	g.GET("", h.GetStreak)
	g.GET("/can-claim", h.CanClaim)
	g.POST("/claims",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: ClaimScope}, idemLookup(db)),
		h.PostClaim)
	g.GET("/claims", h.ListClaims)
	g.POST("/freezes", h.ActivateFreeze)
	g.POST("/pause", h.PauseStreak)
	g.POST("/resume", h.ResumeStreak)
	r.POST("/recoveries", h.StartRecovery)
	r.GET("/recoveries/current", h.CurrentRecovery)
	r.POST("/recoveries/:id/actions", h.RecordAction)
	r.POST("/internal/jobs/:name", h.RunJob)

	return &api{r: r, db: db, clk: clk, runner: runner}
}

func idemLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
		return repo.GetIdempotency(ctx, db, userID, scope, key, now)
	}
}

// at moves the clock to noon UTC on day.
func (a *api) at(day string) {
	t, err := time.Parse(calendar.Layout, day)
	if err != nil {
		panic(err)
	}
	a.clk.Set(t.Add(12 * time.Hour))
}

func (a *api) do(method, path, user string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	if got := decode[ErrorResponse](t, w).Code; got != code {
		t.Fatalf("code=%q want %q", got, code)
	}
}

// ---------- error mapping ----------

func TestKindTable_CoversEveryKind(t *testing.T) {
	for _, k := range services.Kinds {
		if _, ok := kindTable[k]; !ok {
			t.Errorf("kind %s has no HTTP mapping", k)
		}
	}
	if len(kindTable) != len(services.Kinds) {
		t.Fatalf("kindTable has %d entries, Kinds has %d", len(kindTable), len(services.Kinds))
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[services.Kind]int{
		services.KindAlreadyClaimed:  http.StatusConflict,
		services.KindNoHealthData:    http.StatusUnprocessableEntity,
		services.KindInvalidTimezone: http.StatusBadRequest,
		services.KindStreakNotFound:  http.StatusNotFound,
		services.KindPaymentFailed:   http.StatusPaymentRequired,
		services.KindRecoveryExpired: http.StatusGone,
		services.KindUnavailable:     http.StatusServiceUnavailable,
		services.Kind("NOPE"):        http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := StatusFor(k); got != want {
			t.Errorf("StatusFor(%s)=%d want %d", k, got, want)
		}
	}
}

func TestFailErr_HidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) { failErr(c, errors.New("dial tcp 10.0.0.1:5432: refused")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.0.0.1") {
		t.Fatalf("internal cause leaked: %s", w.Body.String())
	}
}

// ---------- streak endpoints ----------

func TestMissingIdentity_Unauthorized(t *testing.T) {
	a := newAPI(t)
	for _, p := range []string{"/streak", "/streak/claims", "/recoveries/current"} {
		expectError(t, a.do(http.MethodGet, p, "", nil, nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	}
}

func TestClaimThenGetStreak(t *testing.T) {
	a := newAPI(t)

	expectError(t, a.do(http.MethodGet, "/streak", "u1", nil, nil), http.StatusNotFound, "STREAK_NOT_FOUND")

	w := a.do(http.MethodPost, "/streak/claims", "u1", ClaimBody{}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("claim status=%d body=%s", w.Code, w.Body.String())
	}
	res := decode[services.ClaimResult](t, w)
	if res.ClaimDate != "2025-10-22" || res.StreakCount != 1 || res.Method != "explicit" {
		t.Fatalf("unexpected claim result: %+v", res)
	}

	a.at("2025-10-23")
	if w := a.do(http.MethodPost, "/streak/claims", "u1", nil, nil); w.Code != http.StatusCreated {
		t.Fatalf("second claim status=%d body=%s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodGet, "/streak", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	v := decode[services.StreakView](t, w)
	if v.CurrentStreak != 2 || v.LongestStreak != 2 {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	a := newAPI(t)
	if w := a.do(http.MethodPost, "/streak/claims", "u1", nil, nil); w.Code != http.StatusCreated {
		t.Fatalf("first claim status=%d", w.Code)
	}
	w := a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)
	expectError(t, w, http.StatusConflict, "ALREADY_CLAIMED")
	if d := decode[ErrorResponse](t, w).Detail; d == "" {
		t.Fatalf("expected detail with the date")
	}
}

func TestClaim_BadInput(t *testing.T) {
	a := newAPI(t)
	expectError(t, a.do(http.MethodPost, "/streak/claims", "u1", ClaimBody{Date: "22-10-2025"}, nil),
		http.StatusBadRequest, "INVALID_DATE")
	expectError(t, a.do(http.MethodPost, "/streak/claims", "u1", nil, map[string]string{middleware.HeaderTimezone: "Mars/Olympus"}),
		http.StatusBadRequest, "INVALID_TIMEZONE")
	expectError(t, a.do(http.MethodPost, "/streak/claims", "u1", ClaimBody{Date: "2025-10-30"}, nil),
		http.StatusUnprocessableEntity, "FUTURE_DATE")

	req := httptest.NewRequest(http.MethodPost, "/streak/claims", strings.NewReader("{"))
	req.Header.Set(middleware.HeaderUserID, "u1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestClaim_IdempotentReplay(t *testing.T) {
	a := newAPI(t)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "claim-2025-10-22"}

	first := a.do(http.MethodPost, "/streak/claims", "u1", nil, hdr)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status=%d body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("first call must not be a replay")
	}

	second := a.do(http.MethodPost, "/streak/claims", "u1", nil, hdr)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status=%d body=%s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header")
	}
	res := decode[services.ClaimResult](t, second)
	if res.ClaimDate != "2025-10-22" || res.Method != "explicit" || res.StreakCount != 1 {
		t.Fatalf("unexpected replay body: %+v", res)
	}

	n, err := repo.CountClaims(context.Background(), a.db, "u1")
	if err != nil || n != 1 {
		t.Fatalf("claims=%d err=%v; want exactly one", n, err)
	}

	// Same key, different user: no replay.
	if w := a.do(http.MethodPost, "/streak/claims", "u2", nil, hdr); w.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("key must be scoped per user")
	}
}

func TestClaim_FailedClaimIsNotRemembered(t *testing.T) {
	a := newAPI(t)
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "k1"}

	expectError(t, a.do(http.MethodPost, "/streak/claims", "u1", ClaimBody{Date: "2025-10-30"}, hdr),
		http.StatusUnprocessableEntity, "FUTURE_DATE")

	w := a.do(http.MethodPost, "/streak/claims", "u1", nil, hdr)
	if w.Code != http.StatusCreated || w.Header().Get("Idempotent-Replay") != "" {
		t.Fatalf("status=%d replay=%q", w.Code, w.Header().Get("Idempotent-Replay"))
	}
}

func TestCanClaim(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/streak/can-claim", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if el := decode[services.Eligibility](t, w); !el.CanClaim || el.Date != "2025-10-22" {
		t.Fatalf("unexpected eligibility: %+v", el)
	}

	a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)

	w = a.do(http.MethodGet, "/streak/can-claim?date=2025-10-22", "u1", nil, nil)
	el := decode[services.Eligibility](t, w)
	if el.CanClaim || !el.AlreadyClaimed || el.Reason != services.KindAlreadyClaimed {
		t.Fatalf("unexpected eligibility after claim: %+v", el)
	}
}

func TestListClaims_PaginationAndETag(t *testing.T) {
	a := newAPI(t)
	for _, d := range []string{"2025-10-20", "2025-10-21", "2025-10-22"} {
		a.at(d)
		if w := a.do(http.MethodPost, "/streak/claims", "u1", nil, nil); w.Code != http.StatusCreated {
			t.Fatalf("claim %s status=%d", d, w.Code)
		}
	}

	w := a.do(http.MethodGet, "/streak/claims?page=1&page_size=2", "u1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	page := decode[ListClaimsResponse](t, w)
	if len(page.Claims) != 2 || page.Pagination.Total != 3 || page.Pagination.TotalPages != 2 || !page.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", page.Pagination)
	}
	if page.Claims[0].ClaimDate != "2025-10-22" {
		t.Fatalf("want newest first, got %s", page.Claims[0].ClaimDate)
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("missing weak etag: %q", etag)
	}
	w = a.do(http.MethodGet, "/streak/claims?page=1&page_size=2", "u1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("want 304, got %d", w.Code)
	}

	a.at("2025-10-23")
	a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)
	w = a.do(http.MethodGet, "/streak/claims?page=1&page_size=2", "u1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("stale etag should yield 200, got %d", w.Code)
	}

	w = a.do(http.MethodGet, "/streak/claims", "nobody", nil, nil)
	if got := decode[ListClaimsResponse](t, w); len(got.Claims) != 0 || got.Pagination.Total != 0 {
		t.Fatalf("expected empty list: %+v", got)
	}
}

func TestFreeze(t *testing.T) {
	a := newAPI(t)
	expectError(t, a.do(http.MethodPost, "/streak/freezes", "u1", map[string]string{}, nil),
		http.StatusBadRequest, ErrCodeBadRequest)

	a.at("2025-10-20")
	a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)
	a.at("2025-10-22")
	expectError(t, a.do(http.MethodPost, "/streak/freezes", "u1", FreezeBody{Date: "2025-10-21"}, nil),
		http.StatusUnprocessableEntity, "NO_FREEZES_AVAILABLE")
}

func TestPauseAndResume(t *testing.T) {
	a := newAPI(t)
	a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)

	expectError(t, a.do(http.MethodPost, "/streak/pause", "u1", map[string]string{}, nil),
		http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(http.MethodPost, "/streak/resume", "u1", nil, nil),
		http.StatusConflict, "NOT_PAUSED")

	w := a.do(http.MethodPost, "/streak/pause", "u1", PauseBody{ResumeDate: "2025-10-27"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status=%d body=%s", w.Code, w.Body.String())
	}
	if v := decode[services.StreakView](t, w); !v.Paused || v.PauseResumeDate == nil || *v.PauseResumeDate != "2025-10-27" {
		t.Fatalf("unexpected paused view: %+v", v)
	}
	expectError(t, a.do(http.MethodPost, "/streak/pause", "u1", PauseBody{ResumeDate: "2025-10-28"}, nil),
		http.StatusConflict, "ALREADY_PAUSED")

	a.at("2025-10-25")
	w = a.do(http.MethodPost, "/streak/resume", "u1", TimezoneBody{}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume status=%d body=%s", w.Code, w.Body.String())
	}
	if v := decode[services.StreakView](t, w); v.Paused || v.CurrentStreak != 1 {
		t.Fatalf("unexpected resumed view: %+v", v)
	}
}

// ---------- recovery endpoints ----------

func TestRecovery_Errors(t *testing.T) {
	a := newAPI(t)
	a.do(http.MethodPost, "/streak/claims", "u1", nil, nil)

	expectError(t, a.do(http.MethodGet, "/recoveries/current", "u1", nil, nil),
		http.StatusNotFound, "RECOVERY_NOT_FOUND")
	expectError(t, a.do(http.MethodPost, "/recoveries", "u1", map[string]string{}, nil),
		http.StatusBadRequest, ErrCodeBadRequest)
	expectError(t, a.do(http.MethodPost, "/recoveries", "u1", StartRecoveryBody{Type: "lottery"}, nil),
		http.StatusBadRequest, "INVALID_RECOVERY_TYPE")
	expectError(t, a.do(http.MethodPost, "/recoveries", "u1", StartRecoveryBody{Type: "weekend_warrior"}, nil),
		http.StatusUnprocessableEntity, "NO_BROKEN_STREAK")
	expectError(t, a.do(http.MethodPost, "/recoveries/missing/actions", "u1", nil, nil),
		http.StatusNotFound, "RECOVERY_NOT_FOUND")
}

// ---------- job trigger ----------

func TestRunJob(t *testing.T) {
	a := newAPI(t)

	expectError(t, a.do(http.MethodPost, "/internal/jobs/daily_reconcile", "", nil, nil),
		http.StatusUnauthorized, ErrCodeUnauthorized)
	expectError(t, a.do(http.MethodPost, "/internal/jobs/daily_reconcile", "", nil, map[string]string{HeaderCronSecret: "wrong"}),
		http.StatusUnauthorized, ErrCodeUnauthorized)

	auth := map[string]string{HeaderCronSecret: cronSecret}
	expectError(t, a.do(http.MethodPost, "/internal/jobs/nope", "", nil, auth),
		http.StatusNotFound, ErrCodeJobNotFound)

	w := a.do(http.MethodPost, "/internal/jobs/daily_reconcile", "", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Job    string         `json:"job"`
		Report map[string]any `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Job != jobs.DailyReconcile || body.Report == nil {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	a.runner.err = errors.New("db down")
	expectError(t, a.do(http.MethodPost, "/internal/jobs/daily_reconcile", "", nil, auth),
		http.StatusInternalServerError, ErrCodeInternal)
}

func TestRunJob_DisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, nil, nil).WithJobs(&fakeRunner{}, "")
	r := gin.New()
	r.POST("/internal/jobs/:name", h.RunJob)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/daily_reconcile", nil)
	req.Header.Set(HeaderCronSecret, "")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", w.Code)
	}
}
