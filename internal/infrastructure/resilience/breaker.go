package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Failures is the number of consecutive failures that opens the circuit
	Failures uint32
	// Cooldown is how long the circuit stays open before allowing trial calls
	Cooldown time.Duration
	// Trials is the number of trial calls allowed while half-open; that many
	// consecutive successes close the circuit
	Trials uint32
	// OnStateChange is called whenever the state changes, with the lock released
	OnStateChange func(name string, from State, to State)
}

// Counts holds statistics since the last state change
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker fails calls fast after repeated failures
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inflight uint32
}

type transition struct {
	from, to State
}

// New creates a circuit breaker, filling unset settings with defaults
func New(name string, settings Settings) *Breaker {
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Trials == 0 {
		settings.Trials = 1
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, promoting open to half-open once the
// cooldown has passed
func (b *Breaker) State() State {
	b.mu.Lock()
	tr := b.refresh(time.Now())
	state := b.state
	b.mu.Unlock()

	b.notify(tr)
	return state
}

// Counts returns a copy of the counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn unless the circuit rejects the call
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	succeeded := false
	defer func() {
		b.record(succeeded)
	}()

	err := fn()
	succeeded = err == nil
	return err
}

// Reset closes the circuit and clears counts
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.set(StateClosed)
	b.counts = Counts{}
	b.inflight = 0
	b.mu.Unlock()

	b.notify(tr)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	tr := b.refresh(time.Now())
	var err error
	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.inflight >= b.settings.Trials {
			err = ErrTooManyRequests
		}
	}
	if err == nil {
		b.inflight++
		b.counts.Requests++
	}
	b.mu.Unlock()

	b.notify(tr)
	return err
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	if b.inflight > 0 {
		b.inflight--
	}

	var tr *transition
	if success {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Trials {
			tr = b.set(StateClosed)
		}
	} else {
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.Failures {
			tr = b.set(StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(tr)
}

// refresh must be called with b.mu held
func (b *Breaker) refresh(now time.Time) *transition {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		return b.set(StateHalfOpen)
	}
	return nil
}

// set must be called with b.mu held
func (b *Breaker) set(state State) *transition {
	if b.state == state {
		return nil
	}
	tr := &transition{from: b.state, to: state}
	b.state = state
	b.counts = Counts{}
	if state == StateOpen {
		b.openedAt = time.Now()
	}
	return tr
}

func (b *Breaker) notify(tr *transition) {
	if tr != nil && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, tr.from, tr.to)
	}
}
