// Package circuitbreaker tracks consecutive failures per endpoint and
// short-circuits calls to an endpoint that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type endpointState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

type Option func(*CircuitBreaker)

// WithClock replaces time.Now for cooldown accounting.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// New returns a breaker that opens after threshold consecutive failures and
// admits a single probe once cooldown has passed.
func New(threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call to endpoint may proceed. An open endpoint past
// its cooldown moves to half-open and lets exactly one probe through.
func (cb *CircuitBreaker) Allow(endpoint string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.endpoints[endpoint]; ok {
		s.state = StateClosed
		s.consecutiveFailures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.endpoints[endpoint]
	if !ok {
		s = &endpointState{}
		cb.endpoints[endpoint] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.now()
	}
}

// State returns the current state of endpoint without changing it.
func (cb *CircuitBreaker) State(endpoint string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.endpoints[endpoint]; ok {
		return s.state
	}
	return StateClosed
}
