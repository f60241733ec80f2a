package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen rejects calls while the upstream is considered down
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open probe budget
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings tunes a Breaker. Zero values take defaults.
type Settings struct {
	Probes   uint32        // calls admitted while half-open; default 1
	Window   time.Duration // closed-state counts reset this often; default 1m
	Cooldown time.Duration // time spent open before probing; default 1m

	// Trip is consulted after each closed-state failure
	Trip func(Counts) bool
	// IsSuccessful decides whether a call's error counts as an upstream
	// failure. The default treats only nil as success.
	IsSuccessful func(error) bool
	// OnStateChange observes transitions
	OnStateChange func(name string, from, to State)
}

// Counts tallies calls since the last reset
type Counts struct {
	Calls         uint32
	Successes     uint32
	Failures      uint32
	SuccessStreak uint32
	FailureStreak uint32
}

// Breaker fails fast once an upstream keeps failing and lets a few probe
// calls through after a cooldown.
type Breaker struct {
	name string
	cfg  Settings
	now  func() time.Time

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every reset; late results from older epochs are ignored
	counts   Counts
	deadline time.Time
}

// New returns a closed breaker
func New(name string, cfg Settings) *Breaker {
	if cfg.Probes == 0 {
		cfg.Probes = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Trip == nil {
		cfg.Trip = func(c Counts) bool { return c.FailureStreak > 5 }
	}
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}

	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.deadline = b.now().Add(cfg.Window)
	return b
}

// State reports the state after applying any due timed transition
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.state
}

// Counts returns the tallies of the current epoch
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute calls fn unless the breaker rejects it, and records the result.
// A panic in fn counts as a failure and is re-raised.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	epoch, err := b.admit()
	if err != nil {
		var zero T
		return zero, err
	}

	settled := false
	defer func() {
		if !settled {
			b.record(epoch, false)
		}
	}()

	result, err := fn()
	settled = true
	b.record(epoch, b.cfg.IsSuccessful(err))
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	switch b.state {
	case StateOpen:
		return b.epoch, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Calls >= b.cfg.Probes {
			return b.epoch, ErrTooManyRequests
		}
	}
	b.counts.Calls++
	return b.epoch, nil
}

func (b *Breaker) record(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.advance(now)
	if epoch != b.epoch {
		return
	}

	c := &b.counts
	if ok {
		c.Successes++
		c.SuccessStreak++
		c.FailureStreak = 0
		if b.state == StateHalfOpen && c.SuccessStreak >= b.cfg.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	c.Failures++
	c.FailureStreak++
	c.SuccessStreak = 0
	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen, now)
	case b.state == StateClosed && b.cfg.Trip(*c):
		b.transition(StateOpen, now)
	}
}

// advance applies the transitions that only depend on the clock
func (b *Breaker) advance(now time.Time) {
	if b.deadline.IsZero() || !now.After(b.deadline) {
		return
	}
	switch b.state {
	case StateClosed:
		b.reset(now)
	case StateOpen:
		b.transition(StateHalfOpen, now)
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.reset(now)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// reset starts a new epoch with zeroed counts and the deadline of the
// current state. Half-open has no deadline.
func (b *Breaker) reset(now time.Time) {
	b.epoch++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Window)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Cooldown)
	default:
		b.deadline = time.Time{}
	}
}
