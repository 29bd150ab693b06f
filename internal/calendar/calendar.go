// Package calendar resolves instants into user-local calendar days.
//
// Every streak rule is phrased in terms of the user's local day, so all
// date arithmetic in the engine goes through this package. A Date is a
// civil day stored as UTC midnight; the server's own time zone is never
// consulted.
//
// Usage:
//
//	r := calendar.NewResolver(time.Now, 3*time.Hour)
//	today, err := r.Today("Europe/Athens")
//	yesterday := today.AddDays(-1)
//	_ = today.DaysSince(yesterday) // 1
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Layout is the wire and storage format of a Date.
const Layout = "2006-01-02"

var (
	// ErrInvalidTimezone is returned for time zone names the runtime cannot load.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidDate is returned when a date string is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
)

// Date is a calendar day without time-of-day or zone.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its components. Out-of-range values are
// normalized the way time.Date normalizes them.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on bad input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String formats the date as YYYY-MM-DD. The zero Date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// AddDays returns d shifted by n days (n may be negative).
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysSince returns the number of days from o to d (positive when d is later).
func (d Date) DaysSince(o Date) int {
	return int(d.t.Sub(o.t).Hours() / 24)
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Ptr returns the string form as a pointer, convenient for nullable columns.
func (d Date) Ptr() *string {
	s := d.String()
	return &s
}

// ParsePtr parses a nullable date column. A nil or empty value yields the
// zero Date and no error.
func ParsePtr(s *string) (Date, error) {
	if s == nil || *s == "" {
		return Date{}, nil
	}
	return ParseDate(*s)
}

// Max returns the later of a and b.
func Max(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// Resolver derives local days from an injected clock.
type Resolver struct {
	now   func() time.Time
	grace time.Duration

	mu    sync.RWMutex
	zones map[string]*time.Location
}

// NewResolver returns a Resolver reading time from now. grace is the length
// of the morning window in which yesterday is still treated as open.
func NewResolver(now func() time.Time, grace time.Duration) *Resolver {
	if now == nil {
		now = time.Now
	}
	if grace < 0 {
		grace = 0
	}
	return &Resolver{now: now, grace: grace, zones: make(map[string]*time.Location)}
}

// Now returns the resolver's current instant.
func (r *Resolver) Now() time.Time { return r.now() }

// Grace returns the configured grace window.
func (r *Resolver) Grace() time.Duration { return r.grace }

// Location loads (and caches) an IANA time zone. An empty name is UTC.
func (r *Resolver) Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	r.mu.RLock()
	loc, ok := r.zones[tz]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}
	// "Local" would leak the server zone into user day boundaries.
	if tz == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	r.mu.Lock()
	r.zones[tz] = loc
	r.mu.Unlock()
	return loc, nil
}

// DateOf returns the local calendar day of ts in tz.
func (r *Resolver) DateOf(ts time.Time, tz string) (Date, error) {
	loc, err := r.Location(tz)
	if err != nil {
		return Date{}, err
	}
	lt := ts.In(loc)
	return NewDate(lt.Year(), lt.Month(), lt.Day()), nil
}

// Today returns the current local day in tz.
func (r *Resolver) Today(tz string) (Date, error) {
	return r.DateOf(r.now(), tz)
}

// Yesterday returns the local day before Today.
func (r *Resolver) Yesterday(tz string) (Date, error) {
	d, err := r.Today(tz)
	if err != nil {
		return Date{}, err
	}
	return d.AddDays(-1), nil
}

// InGrace reports whether the local wall clock in tz is still within the
// grace window after midnight.
func (r *Resolver) InGrace(tz string) (bool, error) {
	if r.grace == 0 {
		return false, nil
	}
	loc, err := r.Location(tz)
	if err != nil {
		return false, err
	}
	lt := r.now().In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return lt.Sub(midnight) < r.grace, nil
}
