package reliability

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is one circuit breaker's current mode.
type BreakerState int

const (
	// BreakerClosed delivers every call normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls outright until Timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets calls back through on a trial basis to probe
	// whether the client has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ClientBreaker guards one client's outbound reconfigure/resalloc
// delivery. A client that times out or errors repeatedly trips the
// breaker so the malleability coordinator's taskflow fan-out stops
// burning its own deadline budget dialing a client that is clearly
// unreachable, and instead dead-letters the call immediately.
type ClientBreaker struct {
	mu               sync.RWMutex
	state            BreakerState
	consecutiveFails int
	consecutiveOK    int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	lastFailure      time.Time
	lastTransition   time.Time
	reopenAt         time.Time
}

// CircuitBreakerConfig tunes a ClientBreaker (or every breaker a
// CircuitBreakerManager creates).
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening; default 5
	SuccessThreshold int           // consecutive half-open successes before closing; default 2
	Timeout          time.Duration // how long an open breaker stays open; default 30s
}

// NewCircuitBreaker builds a closed ClientBreaker from config, filling
// in defaults for any unset field.
func NewCircuitBreaker(config CircuitBreakerConfig) *ClientBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &ClientBreaker{
		state:            BreakerClosed,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		cooldown:         config.Timeout,
		lastTransition:   time.Now(),
	}
}

// Call runs fn if the breaker currently admits calls, recording the
// outcome either way.
func (b *ClientBreaker) Call(fn func() error) error {
	if !b.AllowRequest() {
		return fmt.Errorf("circuit breaker open")
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// AllowRequest reports whether a call should be attempted right now,
// flipping an expired Open breaker to HalfOpen as a side effect.
func (b *ClientBreaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Now().Before(b.reopenAt) {
			return false
		}
		b.state = BreakerHalfOpen
		b.consecutiveOK = 0
		b.consecutiveFails = 0
		b.lastTransition = time.Now()
		return true
	default:
		return false
	}
}

// RecordSuccess notes a delivered call, closing a probing HalfOpen
// breaker once enough trial calls land.
func (b *ClientBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.consecutiveOK++

	if b.state == BreakerHalfOpen && b.consecutiveOK >= b.successThreshold {
		b.state = BreakerClosed
		b.consecutiveOK = 0
		b.lastTransition = time.Now()
	}
}

// RecordFailure notes a failed call. A HalfOpen probe failure reopens
// immediately; a Closed breaker opens once consecutive failures reach
// failureThreshold.
func (b *ClientBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveOK = 0
	b.consecutiveFails++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.consecutiveFails >= b.failureThreshold {
			b.open()
		}
	case BreakerHalfOpen:
		b.open()
	}
}

// open transitions to Open and arms the cooldown; callers hold b.mu.
func (b *ClientBreaker) open() {
	b.state = BreakerOpen
	b.reopenAt = time.Now().Add(b.cooldown)
	b.lastTransition = time.Now()
}

// State reports the breaker's current mode.
func (b *ClientBreaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker back to Closed, e.g. after an operator
// confirms the client is reachable again.
func (b *ClientBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.lastTransition = time.Now()
}

// Snapshot reports the breaker's counters for the admin API.
type BreakerSnapshot struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	ConsecutiveOK    int       `json:"consecutive_ok"`
	FailureThreshold int       `json:"failure_threshold"`
	SuccessThreshold int       `json:"success_threshold"`
	CooldownSeconds  float64   `json:"cooldown_seconds"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	LastTransition   time.Time `json:"last_transition"`
	ReopenAt         time.Time `json:"reopen_at,omitempty"`
}

// Snapshot captures the breaker's current counters.
func (b *ClientBreaker) Snapshot() BreakerSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BreakerSnapshot{
		State:            b.state.String(),
		ConsecutiveFails: b.consecutiveFails,
		ConsecutiveOK:    b.consecutiveOK,
		FailureThreshold: b.failureThreshold,
		SuccessThreshold: b.successThreshold,
		CooldownSeconds:  b.cooldown.Seconds(),
		LastFailure:      b.lastFailure,
		LastTransition:   b.lastTransition,
		ReopenAt:         b.reopenAt,
	}
}

// CircuitBreakerManager keys one ClientBreaker per client ID, so the
// coordinator can address an arbitrarily large, dynamically registered
// client population without pre-declaring breakers.
type CircuitBreakerManager struct {
	mu            sync.RWMutex
	breakers      map[string]*ClientBreaker
	defaultConfig CircuitBreakerConfig
	onTransition  func(clientID string, from, to BreakerState)
}

// NewCircuitBreakerManager builds a manager that lazily creates every
// breaker from config on first reference to a given client ID.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:      make(map[string]*ClientBreaker),
		defaultConfig: config,
	}
}

// breakerFor returns clientID's breaker, creating it if this is the
// first call for that client.
func (m *CircuitBreakerManager) breakerFor(clientID string) *ClientBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[clientID]
	if !ok {
		b = NewCircuitBreaker(m.defaultConfig)
		m.breakers[clientID] = b
	}
	return b
}

// Call runs fn through clientID's breaker and fires the transition
// callback (if any) when the call causes a state change.
func (m *CircuitBreakerManager) Call(clientID string, fn func() error) error {
	b := m.breakerFor(clientID)

	before := b.State()
	err := b.Call(fn)
	after := b.State()

	if before != after && m.onTransition != nil {
		m.onTransition(clientID, before, after)
	}
	return err
}

// AllowRequest reports whether clientID's breaker currently admits
// calls, without actually attempting one.
func (m *CircuitBreakerManager) AllowRequest(clientID string) bool {
	return m.breakerFor(clientID).AllowRequest()
}

// Reset forces clientID's breaker back to Closed.
func (m *CircuitBreakerManager) Reset(clientID string) {
	m.breakerFor(clientID).Reset()
}

// State reports clientID's breaker state, or Closed for a client that
// has never been dialed through this manager.
func (m *CircuitBreakerManager) State(clientID string) BreakerState {
	m.mu.RLock()
	b, ok := m.breakers[clientID]
	m.mu.RUnlock()
	if !ok {
		return BreakerClosed
	}
	return b.State()
}

// Snapshots reports every client breaker this manager has created so
// far. The admin API does not serve it.
func (m *CircuitBreakerManager) Snapshots() map[string]BreakerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(m.breakers))
	for clientID, b := range m.breakers {
		out[clientID] = b.Snapshot()
	}
	return out
}

// OnTransition installs a callback fired whenever a client's breaker
// changes state, e.g. to log an operator-visible warning when a client
// trips open.
func (m *CircuitBreakerManager) OnTransition(callback func(clientID string, from, to BreakerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = callback
}
