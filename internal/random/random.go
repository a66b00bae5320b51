// Package random provides the injectable randomness used by the trend and demand synthesis.
package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source yields floats in [0,1).
type Source interface {
	Next() float64
}

// Seeded is a goroutine-safe PCG-backed source.
type Seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded returns a reproducible source for a non-zero seed and a time-seeded one for 0.
func NewSeeded(seed uint64) *Seeded {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Seeded{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns the next float in [0,1)
func (s *Seeded) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Sequence replays a fixed list of values, cycling when exhausted. Used to pin outputs in tests.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

// NewSequence returns a source that replays values in order.
// An empty sequence always returns 0.5.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: append([]float64(nil), values...)}
}

// Next returns the next value in the sequence
func (s *Sequence) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0.5
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}

// Drawn returns how many values have been consumed
func (s *Sequence) Drawn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Between maps a draw from src onto [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Next()*(hi-lo)
}
