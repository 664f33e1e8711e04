package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, maxFailures, halfOpenMax int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Now:          clock.Now,
	})
}

func trip(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "llm" {
		t.Errorf("Name = %q, want llm", cb.Name())
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newFakeClock(), 3, 1)
	trip(cb, 3)

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newFakeClock(), 3, 1)
	trip(cb, 2)
	_ = cb.Execute(func() error { return nil })
	trip(cb, 2)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newFakeClock(), 2, 1)
	for range 5 {
		err := cb.Execute(func() error { return fmt.Errorf("embed: %w", context.Canceled) })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	// Deadlines do count: a backend that never answers is a failing backend.
	for range 2 {
		_ = cb.Execute(func() error { return context.DeadlineExceeded })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after deadlines", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []error
		want   State
	}{
		{"all probes succeed", []error{nil, nil}, StateClosed},
		{"first probe fails", []error{errTest}, StateOpen},
		{"second probe fails", []error{nil, errTest}, StateOpen},
		{"not enough probes yet", []error{nil}, StateHalfOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			cb := newTestBreaker(clock, 2, 2)
			trip(cb, 2)

			clock.Advance(59 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v, want open before reset timeout", cb.State())
			}
			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
			}

			for _, perr := range tc.probes {
				_ = cb.Execute(func() error { return perr })
			}
			if cb.State() != tc.want {
				t.Fatalf("state = %v, want %v", cb.State(), tc.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 1)
	trip(cb, 1)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := newTestBreaker(newFakeClock(), 2, 1)
	trip(cb, 2)
	cb.Reset()

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "embeddings",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clock.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	trip(cb, 1)
	clock.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []string{
		"embeddings:closed->open",
		"embeddings:open->half-open",
		"embeddings:half-open->closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
