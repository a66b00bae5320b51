// Package circuitbreaker guards the refinement process against extreme or erroneous
// market signals.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/metrics"
	"github.com/yourorg/vehicle-valuation/internal/model"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, signals are rejected
	StateHalfOpen              // Testing if the feed has recovered
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

var (
	// ErrOpen is returned while the breaker rejects signals for a key
	ErrOpen = errors.New("signal guard open")

	// ErrTripped is returned for the signal that tripped the breaker
	ErrTripped = errors.New("signal guard tripped")
)

// maxTrackedKeys bounds the per-key circuit table
const maxTrackedKeys = 10000

// keyCircuit is the breaker state of one signal key
type keyCircuit struct {
	state        State
	lastTrip     time.Time
	successCount int
	lastPrice    float64
}

// CircuitBreaker trips when a market signal moves implausibly far. Each signal key
// has its own circuit: a tripped key rejects its signals until it has cooled down
// and seen enough good ones again, while other keys keep flowing.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Timestamp and reason of the most recent trip on any key
	lastTrip   time.Time
	lastReason string

	// Duration before auto-reset attempt
	resetDelay time.Duration

	mu sync.Mutex

	circuits map[string]*keyCircuit

	// Number of accepted signals required to close a half-open key
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, signal model.MarketSignal)

	now func() time.Time
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum allowed trend magnitude in percent (e.g. 50 for ±50%)
	MaxTrendPercent float64 `json:"max_trend_percent"`

	// Maximum allowed relative change of the reference price against the last
	// accepted signal for the same key (e.g. 0.5 for 50%)
	MaxPriceChange float64 `json:"max_price_change"`
}

// Status is a point-in-time view of the breaker. State is the worst state of any key.
type Status struct {
	State        string     `json:"state"`
	LastTrip     *time.Time `json:"last_trip,omitempty"`
	LastReason   string     `json:"last_reason,omitempty"`
	OpenKeys     []string   `json:"open_keys,omitempty"`
	HalfOpenKeys []string   `json:"half_open_keys,omitempty"`
	TrackedKeys  int        `json:"tracked_keys"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	cb := &CircuitBreaker{
		thresholds:       t,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		circuits:         make(map[string]*keyCircuit),
		now:              time.Now,
	}
	metrics.SetGuardState(int(StateClosed))
	return cb
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of accepted signals needed to close a key
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when a key trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, signal model.MarketSignal)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the wall clock
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Check evaluates a signal against the thresholds. While the signal's key is open
// it is rejected with ErrOpen; a violating signal trips its key and yields ErrTripped.
func (cb *CircuitBreaker) Check(signal model.MarketSignal) error {
	key := signal.Key()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	if c.state == StateOpen {
		if cb.now().Sub(c.lastTrip) <= cb.resetDelay {
			return fmt.Errorf("%w for %s", ErrOpen, key)
		}
		c.state = StateHalfOpen
		c.successCount = 0
		cb.publishState()
		logrus.WithField("key", key).Info("Signal guard half-open: testing signal recovery")
	}

	if math.Abs(signal.TrendPercent) > cb.thresholds.MaxTrendPercent {
		reason := fmt.Sprintf("trend exceeds maximum threshold for %s: %.2f%% > %.2f%%",
			key, signal.TrendPercent, cb.thresholds.MaxTrendPercent)
		cb.trip(c, reason, signal)
		return fmt.Errorf("%w: %s", ErrTripped, reason)
	}

	if c.lastPrice > 0 {
		changeRatio := math.Abs(signal.ReferencePrice-c.lastPrice) / c.lastPrice
		if changeRatio > cb.thresholds.MaxPriceChange {
			reason := fmt.Sprintf("reference price change too drastic for %s: %.2f%% (threshold: %.2f%%)",
				key, changeRatio*100, cb.thresholds.MaxPriceChange*100)
			cb.trip(c, reason, signal)
			return fmt.Errorf("%w: %s", ErrTripped, reason)
		}
	}

	logrus.WithField("key", key).Debug("Signal guard checks passed")
	c.lastPrice = signal.ReferencePrice

	if c.state == StateHalfOpen {
		c.successCount++
		if c.successCount >= cb.successThreshold {
			c.state = StateClosed
			c.successCount = 0
			cb.publishState()
			logrus.WithField("key", key).Info("Signal guard closed: signal has recovered")
		}
	}

	return nil
}

// GetState returns the worst state across all keys
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.overallState()
}

// KeyState returns the state of one signal key
func (cb *CircuitBreaker) KeyState(key string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Status returns a snapshot for the admin surface
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Status{
		State:       cb.overallState().String(),
		LastReason:  cb.lastReason,
		TrackedKeys: len(cb.circuits),
	}
	for key, c := range cb.circuits {
		switch c.state {
		case StateOpen:
			s.OpenKeys = append(s.OpenKeys, key)
		case StateHalfOpen:
			s.HalfOpenKeys = append(s.HalfOpenKeys, key)
		}
	}
	sort.Strings(s.OpenKeys)
	sort.Strings(s.HalfOpenKeys)
	if !cb.lastTrip.IsZero() {
		t := cb.lastTrip
		s.LastTrip = &t
	}
	return s
}

// Reset forcibly closes every key. Accepted prices are kept as baselines.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for _, c := range cb.circuits {
		c.state = StateClosed
		c.successCount = 0
	}
	metrics.SetGuardState(int(StateClosed))
	logrus.Info("Signal guard manually reset to closed state")
}

// LastAcceptedPrice returns the reference price last accepted for a signal key
func (cb *CircuitBreaker) LastAcceptedPrice(key string) (float64, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c, ok := cb.circuits[key]
	if !ok || c.lastPrice <= 0 {
		return 0, false
	}
	return c.lastPrice, true
}

// circuit returns the circuit for key, creating it and keeping the table bounded
func (cb *CircuitBreaker) circuit(key string) *keyCircuit {
	if c, ok := cb.circuits[key]; ok {
		return c
	}
	if len(cb.circuits) >= maxTrackedKeys {
		cb.evictOne()
	}
	c := &keyCircuit{state: StateClosed}
	cb.circuits[key] = c
	return c
}

// evictOne drops a closed circuit, or any circuit when all are tripped
func (cb *CircuitBreaker) evictOne() {
	victim := ""
	for k, c := range cb.circuits {
		victim = k
		if c.state == StateClosed {
			break
		}
	}
	delete(cb.circuits, victim)
}

func (cb *CircuitBreaker) overallState() State {
	overall := StateClosed
	for _, c := range cb.circuits {
		switch c.state {
		case StateOpen:
			return StateOpen
		case StateHalfOpen:
			overall = StateHalfOpen
		}
	}
	return overall
}

func (cb *CircuitBreaker) publishState() {
	metrics.SetGuardState(int(cb.overallState()))
}

// trip opens the key's circuit with the current time
func (cb *CircuitBreaker) trip(c *keyCircuit, reason string, signal model.MarketSignal) {
	now := cb.now()
	c.state = StateOpen
	c.lastTrip = now
	c.successCount = 0
	cb.lastTrip = now
	cb.lastReason = reason
	cb.publishState()
	logrus.Warnf("Signal guard tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, signal)
	}
}
