// Package ratelimit enforces per-account hourly and daily quotas with
// lazily reset windows persisted on the account's integration record.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/propreach/internal/outreach"
	"github.com/wolfman30/propreach/pkg/logging"
)

// Kind names an independently metered action.
type Kind string

const (
	KindSMS      Kind = "sms"
	KindEmail    Kind = "email"
	KindCRMWrite Kind = "crm_write"
)

// KindForChannel maps an outreach channel to its message quota.
func KindForChannel(ch outreach.Channel) Kind {
	if ch == outreach.ChannelEmail {
		return KindEmail
	}
	return KindSMS
}

// Limits caps a kind per rolling hour and day. Zero means unlimited.
type Limits struct {
	Hourly int
	Daily  int
}

// DefaultLimits mirrors the CRM vendor's published throttles.
func DefaultLimits() map[Kind]Limits {
	return map[Kind]Limits{
		KindSMS:      {Hourly: 12, Daily: 200},
		KindEmail:    {Hourly: 12, Daily: 200},
		KindCRMWrite: {Hourly: 100, Daily: 1000},
	}
}

// ErrConflict is returned by a CounterStore when the stored window changed
// since it was loaded.
var ErrConflict = errors.New("ratelimit: counter changed concurrently")

// CounterStore persists windows with compare-and-swap semantics.
type CounterStore interface {
	LoadWindow(ctx context.Context, accountID string, kind Kind) (Window, error)
	SwapWindow(ctx context.Context, accountID string, kind Kind, prev, next Window) error
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed         bool
	HourlyRemaining int
	DailyRemaining  int
	RetryAfter      time.Duration
}

// Limiter checks and consumes quotas.
type Limiter struct {
	store      CounterStore
	limits     map[Kind]Limits
	maxRetries int
	now        func() time.Time
	logger     *logging.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMaxRetries bounds compare-and-swap retries on contention.
func WithMaxRetries(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// New builds a limiter. Kinds missing from limits are unlimited.
func New(store CounterStore, limits map[Kind]Limits, logger *logging.Logger, opts ...Option) *Limiter {
	if store == nil {
		panic("ratelimit: counter store required")
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &Limiter{
		store:      store,
		limits:     limits,
		maxRetries: 5,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether one more action of kind fits, without consuming it.
func (l *Limiter) Check(ctx context.Context, accountID string, kind Kind) (Decision, error) {
	w, err := l.store.LoadWindow(ctx, accountID, kind)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: load %s window: %w", kind, err)
	}
	return l.decide(w.Reset(l.now()), kind), nil
}

// CheckAndReserve consumes one action of kind only if it fits. A denied
// reservation returns Allowed=false and a nil error.
func (l *Limiter) CheckAndReserve(ctx context.Context, accountID string, kind Kind) (Decision, error) {
	var decision Decision
	err := l.swap(ctx, accountID, kind, func(w Window, now time.Time) (Window, bool) {
		decision = l.decide(w.Reset(now), kind)
		if !decision.Allowed {
			return w, false
		}
		if decision.HourlyRemaining > 0 {
			decision.HourlyRemaining--
		}
		if decision.DailyRemaining > 0 {
			decision.DailyRemaining--
		}
		return w.Advance(now, 1), true
	})
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allowed {
		l.logger.Info("quota exhausted", "user_id", accountID, "kind", kind, "retry_after", decision.RetryAfter.String())
	}
	return decision, nil
}

// Consume records n actions of kind unconditionally.
func (l *Limiter) Consume(ctx context.Context, accountID string, kind Kind, n int) error {
	if n <= 0 {
		return nil
	}
	return l.swap(ctx, accountID, kind, func(w Window, now time.Time) (Window, bool) {
		return w.Advance(now, n), true
	})
}

// Release hands back n reserved actions of kind, for reservations whose
// action never happened.
func (l *Limiter) Release(ctx context.Context, accountID string, kind Kind, n int) error {
	if n <= 0 {
		return nil
	}
	return l.swap(ctx, accountID, kind, func(w Window, now time.Time) (Window, bool) {
		return w.Release(now, n), true
	})
}

func (l *Limiter) swap(ctx context.Context, accountID string, kind Kind, fn func(Window, time.Time) (Window, bool)) error {
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		prev, err := l.store.LoadWindow(ctx, accountID, kind)
		if err != nil {
			return fmt.Errorf("ratelimit: load %s window: %w", kind, err)
		}
		next, write := fn(prev, l.now())
		if !write {
			return nil
		}
		err = l.store.SwapWindow(ctx, accountID, kind, prev, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("ratelimit: save %s window: %w", kind, err)
		}
		l.logger.Debug("rate counter contention", "user_id", accountID, "kind", kind, "attempt", attempt)
	}
	return fmt.Errorf("ratelimit: %s window for %s: %w", kind, accountID, ErrConflict)
}

func (l *Limiter) decide(w Window, kind Kind) Decision {
	lim, ok := l.limits[kind]
	if !ok {
		return Decision{Allowed: true, HourlyRemaining: -1, DailyRemaining: -1}
	}
	d := Decision{
		HourlyRemaining: remaining(lim.Hourly, w.HourlyCount),
		DailyRemaining:  remaining(lim.Daily, w.DailyCount),
	}
	now := l.now()
	switch {
	case d.DailyRemaining == 0:
		d.RetryAfter = w.LastDayReset.Add(24 * time.Hour).Sub(now)
	case d.HourlyRemaining == 0:
		d.RetryAfter = w.LastHourReset.Add(time.Hour).Sub(now)
	default:
		d.Allowed = true
	}
	return d
}

// remaining returns -1 for unlimited caps.
func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
