// Package ratelimit implements the fixed-window request limiter used in
// front of the login and token endpoints.
//
// Each key owns a window start, a request count and an optional block.  A
// request inside an active block is rejected.  Otherwise the window is
// restarted when it has elapsed (or a block has just ended), and the request
// is admitted while count < max.  The request that finds count == max is
// rejected and blocks the key for one further window; once that block has
// passed the key starts from an empty window, so the next request counts as 1.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/magiclink-auth/internal/config"
)

// Profile is a named (max, window) pair.
type Profile struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	// DefaultProfile is applied broadly: 60 requests per 60 seconds.
	DefaultProfile = Profile{Name: "default", Max: 60, Window: 60 * time.Second}
	// StrictProfile guards sensitive endpoints: 5 requests per 300 seconds.
	StrictProfile = Profile{Name: "strict", Max: 5, Window: 300 * time.Second}
)

// ProfilesFrom returns the default and strict profiles with the limits from
// cfg.
func ProfilesFrom(cfg config.RateLimitConfig) (def, strict Profile) {
	def = Profile{Name: DefaultProfile.Name, Max: cfg.DefaultMax, Window: cfg.DefaultWindow}
	strict = Profile{Name: StrictProfile.Name, Max: cfg.StrictMax, Window: cfg.StrictWindow}
	return def, strict
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time     // end of the current window, or of the block
	RetryAfter time.Duration // zero when Allowed
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1 when
// the request was rejected.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store persists per-key window state and applies one request to it.
type Store interface {
	Hit(ctx context.Context, key string, p Profile, now time.Time) (Decision, error)
}

// ErrInvalidProfile is returned for a profile with max < 1 or a window under
// one second.
var ErrInvalidProfile = errors.New("ratelimit: invalid profile")

// Limiter checks requests against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New returns a limiter over store using the wall clock.
func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	cp := *l
	cp.now = now
	return &cp
}

// Check counts one request for key under profile p.  Profiles keep separate
// counters for the same key.
func (l *Limiter) Check(ctx context.Context, key string, p Profile) (Decision, error) {
	if p.Max < 1 || p.Window < time.Second {
		return Decision{}, ErrInvalidProfile
	}
	return l.store.Hit(ctx, p.Name+":"+key, p, l.now())
}

// state is the persisted window of one key.
type state struct {
	WindowStart  time.Time
	Count        int
	BlockedUntil time.Time
}

// apply runs the fixed-window algorithm for a single request.  Backends that
// keep state outside Redis share it.
func apply(st state, p Profile, now time.Time) (state, Decision) {
	if !st.BlockedUntil.IsZero() && st.BlockedUntil.After(now) {
		return st, Decision{
			Limit:      p.Max,
			Reset:      st.BlockedUntil,
			RetryAfter: st.BlockedUntil.Sub(now),
		}
	}
	if st.WindowStart.IsZero() || !st.BlockedUntil.IsZero() || now.Sub(st.WindowStart) >= p.Window {
		st = state{WindowStart: now}
	}
	if st.Count >= p.Max {
		st.BlockedUntil = now.Add(p.Window)
		return st, Decision{
			Limit:      p.Max,
			Reset:      st.BlockedUntil,
			RetryAfter: p.Window,
		}
	}
	st.Count++
	return st, Decision{
		Allowed:   true,
		Limit:     p.Max,
		Remaining: p.Max - st.Count,
		Reset:     st.WindowStart.Add(p.Window),
	}
}
