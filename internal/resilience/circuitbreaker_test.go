package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var errQuota = errors.New("tts: status 429: quota exceeded")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *clock) {
	cfg.Logger = discardLogger()
	cb := NewCircuitBreaker(cfg)
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = c.Now
	return cb, c
}

func fail(cb *CircuitBreaker, n int, err error) {
	for range n {
		_ = cb.Execute(func() error { return err })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "gtts"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%s/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		run  func(cb *CircuitBreaker, c *clock)
		want State
	}{
		{
			name: "failures below the limit stay closed",
			run:  func(cb *CircuitBreaker, _ *clock) { fail(cb, 2, errQuota) },
			want: StateClosed,
		},
		{
			name: "consecutive failures open",
			run:  func(cb *CircuitBreaker, _ *clock) { fail(cb, 3, errQuota) },
			want: StateOpen,
		},
		{
			name: "a success resets the count",
			run: func(cb *CircuitBreaker, _ *clock) {
				fail(cb, 2, errQuota)
				_ = cb.Execute(func() error { return nil })
				fail(cb, 2, errQuota)
			},
			want: StateClosed,
		},
		{
			name: "cancelled synthesis never counts",
			run:  func(cb *CircuitBreaker, _ *clock) { fail(cb, 10, fmt.Errorf("synthesize: %w", context.Canceled)) },
			want: StateClosed,
		},
		{
			name: "open becomes half-open after the reset timeout",
			run: func(cb *CircuitBreaker, c *clock) {
				fail(cb, 3, errQuota)
				c.Advance(time.Minute)
			},
			want: StateHalfOpen,
		},
		{
			name: "a failed trial re-opens",
			run: func(cb *CircuitBreaker, c *clock) {
				fail(cb, 3, errQuota)
				c.Advance(time.Minute)
				fail(cb, 1, errQuota)
			},
			want: StateOpen,
		},
		{
			name: "enough successful trials close",
			run: func(cb *CircuitBreaker, c *clock) {
				fail(cb, 3, errQuota)
				c.Advance(time.Minute)
				for range 2 {
					_ = cb.Execute(func() error { return nil })
				}
			},
			want: StateClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb, c := newTestBreaker(CircuitBreakerConfig{
				Name:         "elevenlabs",
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
				HalfOpenMax:  2,
			})
			tt.run(cb, c)
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	fail(cb, 1, errQuota)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("backend called through an open circuit")
	}
}

func TestCircuitBreaker_TrialBudget(t *testing.T) {
	t.Parallel()
	cb, c := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	fail(cb, 1, errQuota)
	c.Advance(time.Second)

	// Two trials in flight use up the budget; a third caller is turned away.
	release := make(chan struct{})
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	for range 2 {
		wg.Go(func() {
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		})
	}
	<-started
	<-started
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after two successful trials", cb.State())
	}
}

func TestCircuitBreaker_CancelledTrialFreesSlot(t *testing.T) {
	t.Parallel()
	cb, c := newTestBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	fail(cb, 1, errQuota)
	c.Advance(time.Second)

	_ = cb.Execute(func() error { return context.Canceled })
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("trial after a cancelled one: err = %v, called = %v", err, called)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomFailurePredicate(t *testing.T) {
	t.Parallel()
	errBadVoice := errors.New("unknown voice")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, errBadVoice) },
	})
	fail(cb, 5, errBadVoice)
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed: caller errors must not trip the circuit", cb.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half_open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
