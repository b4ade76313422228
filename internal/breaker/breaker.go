// Package breaker guards calls to external dependencies. One Breaker per
// dependency (db, search, redis); state transitions follow the classic
// closed -> open -> half-open cycle.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/datallboy/nzbidx/internal/domain"
	"github.com/datallboy/nzbidx/internal/infra/config"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Breaker struct {
	name string
	cfg  config.BreakerConfig
	log  *slog.Logger
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New builds a breaker with the wall clock.
func New(name string, cfg config.BreakerConfig, log *slog.Logger) *Breaker {
	return NewWithClock(name, cfg, log, time.Now)
}

// NewWithClock injects the clock so tests control time.
func NewWithClock(name string, cfg config.BreakerConfig, log *slog.Logger, now func() time.Time) *Breaker {
	return &Breaker{name: name, cfg: cfg, log: log.With("breaker", name), now: now, state: Closed}
}

// Name identifies the guarded dependency.
func (b *Breaker) Name() string { return b.name }

// ResetSeconds exposes the configured open-state timeout; the ingest loop
// uses it as a sleep floor while a dependency is down.
func (b *Breaker) ResetSeconds() float64 { return b.cfg.ResetSeconds }

// State returns the current state, applying the open -> half-open timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.resetElapsedLocked() {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) resetElapsedLocked() bool {
	reset := time.Duration(b.cfg.ResetSeconds * float64(time.Second))
	return b.now().Sub(b.openedAt) > reset
}

// Call runs op behind the breaker. When the breaker is open the call fails
// immediately with ErrCircuitOpen and op is never invoked. In the closed
// state op is retried up to RetryMax times with uniform-random backoff in
// [base, base+jitter]. The half-open state grants a single trial.
func (b *Breaker) Call(ctx context.Context, op func() error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case Open:
		b.mu.Unlock()
		return domain.ErrCircuitOpen
	case HalfOpen:
		b.state = HalfOpen
		b.mu.Unlock()
		return b.trial(op)
	}
	b.mu.Unlock()

	err := retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(uint(b.cfg.RetryMax+1)),
		retry.Delay(b.cfg.RetryBase),
		retry.MaxJitter(b.cfg.RetryJitter),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return nil
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold && b.state != Open {
		b.state = Open
		b.openedAt = b.now()
		b.log.Warn("breaker_open_total", "failures", b.failures)
	}
	return err
}

// trial is the single half-open probe: success closes the breaker, failure
// reopens it and restarts the reset clock.
func (b *Breaker) trial(op func() error) error {
	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.state = Closed
		b.failures = 0
		b.log.Info("breaker_closed")
		return nil
	}
	b.state = Open
	b.openedAt = b.now()
	b.log.Warn("breaker_reopened", "error", err)
	return err
}
