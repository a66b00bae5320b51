// Package market resolves external market signals for stored vehicles.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// FuzzyMinYear is the oldest signal year eligible for a same-brand fallback match.
const FuzzyMinYear = 2015

// Match describes how a signal was found
type Match string

// Match kinds
const (
	MatchExact Match = "exact"
	MatchFuzzy Match = "fuzzy"
)

// Query identifies the vehicle a signal is wanted for
type Query struct {
	Brand string
	Model string
	Year  int
}

// QueryFor builds a lookup query from a vehicle's attributes
func QueryFor(attrs model.VehicleAttributes) Query {
	return Query{Brand: attrs.Brand, Model: attrs.Model, Year: attrs.Year}
}

// Key returns the exact signal key for the query
func (q Query) Key() string {
	return model.SignalKey(q.Brand, q.Model, q.Year)
}

// Result is a resolved signal plus how it matched
type Result struct {
	Signal model.MarketSignal `json:"signal"`
	Match  Match              `json:"match"`
}

// Source looks up the market signal for a vehicle. Absence is (Result{}, false, nil).
type Source interface {
	Lookup(ctx context.Context, q Query) (Result, bool, error)
}

// StaticSource serves signals held in memory, loaded from reference data.
type StaticSource struct {
	mu      sync.RWMutex
	exact   map[string]model.MarketSignal
	byBrand map[string][]model.MarketSignal
}

// NewStaticSource creates a source holding the given signals
func NewStaticSource(signals ...model.MarketSignal) *StaticSource {
	s := &StaticSource{
		exact:   make(map[string]model.MarketSignal),
		byBrand: make(map[string][]model.MarketSignal),
	}
	for _, sig := range signals {
		s.Upsert(sig)
	}
	return s
}

// ReadSignalFile reads a JSON array of signals from path
func ReadSignalFile(path string) ([]model.MarketSignal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}
	var signals []model.MarketSignal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("failed to parse signal file: %w", err)
	}
	return signals, nil
}

// LoadStaticFile builds a static source from the signal file at path
func LoadStaticFile(path string) (*StaticSource, error) {
	signals, err := ReadSignalFile(path)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path":    path,
		"signals": len(signals),
	}).Info("Loaded market signals")
	return NewStaticSource(signals...), nil
}

// Upsert adds or replaces the signal for its brand, model and year
func (s *StaticSource) Upsert(sig model.MarketSignal) {
	key := sig.Key()
	brand := normalizeBrand(sig.Brand)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exact[key]; exists {
		list := s.byBrand[brand]
		for i := range list {
			if list[i].Key() == key {
				list[i] = sig
				break
			}
		}
	} else {
		s.byBrand[brand] = append(s.byBrand[brand], sig)
	}
	s.exact[key] = sig
}

// Len returns the number of signals held
func (s *StaticSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact)
}

// Lookup returns the exact brand/model/year signal, falling back to the same-brand
// signal from FuzzyMinYear onward whose year is closest to the query.
func (s *StaticSource) Lookup(_ context.Context, q Query) (Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sig, ok := s.exact[q.Key()]; ok {
		return Result{Signal: sig, Match: MatchExact}, true, nil
	}

	var candidates []model.MarketSignal
	for _, sig := range s.byBrand[normalizeBrand(q.Brand)] {
		if sig.Year >= FuzzyMinYear {
			candidates = append(candidates, sig)
		}
	}
	if len(candidates) == 0 {
		return Result{}, false, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := yearDistance(candidates[i].Year, q.Year), yearDistance(candidates[j].Year, q.Year)
		if di != dj {
			return di < dj
		}
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.After(candidates[j].Timestamp)
		}
		return candidates[i].Key() < candidates[j].Key()
	})
	return Result{Signal: candidates[0], Match: MatchFuzzy}, true, nil
}

func normalizeBrand(brand string) string {
	return strings.ToLower(strings.TrimSpace(brand))
}

func yearDistance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
