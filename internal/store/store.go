// Package store persists valuations. Every backend enforces optimistic concurrency:
// a save carries the version it loaded and is rejected when the record moved on.
package store

import (
	"context"
	"errors"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// Sentinel errors shared by all backends
var (
	ErrNotFound        = errors.New("valuation not found")
	ErrVersionConflict = errors.New("valuation version conflict")
	ErrAlreadyExists   = errors.New("valuation already exists")
)

// Gateway is the read-modify-write surface used by the refinement process.
type Gateway interface {
	// Load returns ErrNotFound when the id is unknown
	Load(ctx context.Context, id string) (model.StoredValuation, error)

	// Save applies the patch if the stored version equals patch.ExpectedVersion,
	// otherwise it returns ErrVersionConflict
	Save(ctx context.Context, id string, patch model.Patch) (model.StoredValuation, error)
}

// Inserter creates new valuations
type Inserter interface {
	Insert(ctx context.Context, v model.StoredValuation) error
}

// Lister scans completed valuations
type Lister interface {
	ListCompleted(ctx context.Context) ([]model.StoredValuation, error)
}

// Store is implemented by every backend
type Store interface {
	Gateway
	Inserter
	Lister
}
