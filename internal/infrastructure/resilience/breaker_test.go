package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailed = errors.New("failed")

func run(b *Breaker, success bool) error {
	return b.Do(func() error {
		if success {
			return nil
		}
		return errFailed
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Failures: 2, Cooldown: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{Failures: 3, Cooldown: time.Minute},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			settings:      Settings{Failures: 2, Cooldown: time.Minute},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", tt.settings)
			for _, success := range tt.requests {
				_ = run(breaker, success)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Failures: 5, Cooldown: time.Minute})

	require.NoError(t, run(breaker, true))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, run(breaker, false), errFailed)
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenFailsFast(t *testing.T) {
	breaker := New("test", Settings{Failures: 2, Cooldown: time.Minute})
	_ = run(breaker, false)
	_ = run(breaker, false)

	called := false
	err := breaker.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	breaker := New("test", Settings{Failures: 2, Cooldown: 30 * time.Millisecond, Trials: 2})
	_ = run(breaker, false)
	_ = run(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, run(breaker, true))
	require.NoError(t, run(breaker, true))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker := New("test", Settings{Failures: 1, Cooldown: 20 * time.Millisecond})
	_ = run(breaker, false)
	time.Sleep(30 * time.Millisecond)

	assert.ErrorIs(t, run(breaker, false), errFailed)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpenLimitsTrials(t *testing.T) {
	breaker := New("test", Settings{Failures: 1, Cooldown: 10 * time.Millisecond, Trials: 1})
	_ = run(breaker, false)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = breaker.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, run(breaker, true), ErrTooManyRequests)
	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerReset(t *testing.T) {
	breaker := New("test", Settings{Failures: 1, Cooldown: time.Hour})
	_ = run(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	breaker.Reset()
	assert.Equal(t, StateClosed, breaker.State())
	assert.NoError(t, run(breaker, true))
}

func TestBreakerCallbacks(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	breaker := New("test", Settings{
		Failures: 2,
		Cooldown: 10 * time.Millisecond,
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = run(breaker, false)
	_ = run(breaker, false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half-open"}, transitions)
}
