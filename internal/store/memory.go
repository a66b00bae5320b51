package store

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// MemoryStore keeps valuations in a map. Values are deep-copied on the way in and out.
type MemoryStore struct {
	mu         sync.RWMutex
	valuations map[string]model.StoredValuation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{valuations: make(map[string]model.StoredValuation)}
}

// Insert stores a new valuation
func (s *MemoryStore) Insert(_ context.Context, v model.StoredValuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.valuations[v.ID]; ok {
		return ErrAlreadyExists
	}
	s.valuations[v.ID] = v.Clone()
	return nil
}

// Load returns a copy of the valuation
func (s *MemoryStore) Load(_ context.Context, id string) (model.StoredValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.valuations[id]
	if !ok {
		return model.StoredValuation{}, ErrNotFound
	}
	return v.Clone(), nil
}

// Save applies the patch under the write lock after checking the version
func (s *MemoryStore) Save(_ context.Context, id string, patch model.Patch) (model.StoredValuation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.valuations[id]
	if !ok {
		return model.StoredValuation{}, ErrNotFound
	}
	if v.Version != patch.ExpectedVersion {
		return model.StoredValuation{}, ErrVersionConflict
	}
	v = v.Clone()
	patch.Apply(&v)
	s.valuations[id] = v
	return v.Clone(), nil
}

// ListCompleted returns completed valuations ordered by creation time
func (s *MemoryStore) ListCompleted(_ context.Context) ([]model.StoredValuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StoredValuation, 0, len(s.valuations))
	for _, v := range s.valuations {
		if v.Status == model.StatusCompleted {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
