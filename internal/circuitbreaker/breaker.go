// Package circuitbreaker stops calling an integration after repeated
// failures and lets a single trial call through once the cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type integrationState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks one state machine per integration ID.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*integrationState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*integrationState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock overrides the clock used for cooldowns.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow returns ErrCircuitOpen while the integration must not be called.
// The first caller after the cooldown makes the half-open trial call.
func (cb *CircuitBreaker) Allow(integrationID string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[integrationID]
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

func (cb *CircuitBreaker) RecordSuccess(integrationID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.states, integrationID)
}

// RecordFailure opens the circuit at the threshold. A failed half-open trial call
// reopens it at once.
func (cb *CircuitBreaker) RecordFailure(integrationID string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[integrationID]
	if !ok {
		s = &integrationState{state: StateClosed}
		cb.states[integrationID] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.now()
	}
}

// State reports the current state without advancing it.
func (cb *CircuitBreaker) State(integrationID string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[integrationID]
	if !ok {
		return StateClosed
	}
	return s.state
}
