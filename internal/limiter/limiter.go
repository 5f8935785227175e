package limiter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"release-tracker/internal/util"
)

// Config bounds outbound calls per source
type Config struct {
	Concurrency int           // per-source concurrency ceiling
	MinSpacing  time.Duration // minimum gap between requests to one source
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // backoff base, doubled per attempt
	MaxDelay    time.Duration // backoff cap
	Timeout     time.Duration // per-call timeout
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

type sourceState struct {
	sem      *semaphore.Weighted
	mu       sync.Mutex
	lastCall time.Time
}

// Limiter wraps outbound calls with a per-source concurrency ceiling, minimum
// inter-request spacing, and retry with exponential backoff on transient
// failures. Each source gets independent state; one slow source never starves
// another.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	sources map[string]*sourceState
	logger  *zap.Logger
}

// New creates a Limiter
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		sources: make(map[string]*sourceState),
		logger:  util.GetLogger(),
	}
}

func (l *Limiter) state(source string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sources[source]
	if !ok {
		st = &sourceState{sem: semaphore.NewWeighted(int64(l.cfg.Concurrency))}
		l.sources[source] = st
	}
	return st
}

// Do runs fn under the source's concurrency ceiling and spacing, retrying
// transient failures with doubling backoff. After MaxAttempts the last error
// is surfaced, never swallowed.
func (l *Limiter) Do(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	st := l.state(source)

	if err := st.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer st.sem.Release(1)

	var lastErr error
	delay := l.cfg.BaseDelay

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := l.waitSpacing(ctx, st); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if IsFatal(err) {
			return err
		}

		lastErr = err
		if attempt == l.cfg.MaxAttempts {
			break
		}

		util.RetryAttemptsTotal.WithLabelValues(source).Inc()
		l.logger.Warn("Transient failure, backing off",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.cfg.MaxDelay {
			delay = l.cfg.MaxDelay
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", l.cfg.MaxAttempts, lastErr)
}

func (l *Limiter) waitSpacing(ctx context.Context, st *sourceState) error {
	if l.cfg.MinSpacing <= 0 {
		return nil
	}

	st.mu.Lock()
	wait := l.cfg.MinSpacing - time.Since(st.lastCall)
	if wait < 0 {
		wait = 0
	}
	st.lastCall = time.Now().Add(wait)
	st.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// FatalError marks an error as not worth retrying (schema violations,
// non-429 4xx responses).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the limiter will not retry it
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// StatusError carries an HTTP status from an upstream call
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// IsFatal classifies an error. Connection-level errors, 429 and 5xx are
// transient; everything explicitly marked fatal and other 4xx are not retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		if status.StatusCode == 429 || status.StatusCode >= 500 {
			return false
		}
		return status.StatusCode >= 400
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}

	// unclassified errors default to transient so store hiccups get retried
	return false
}
