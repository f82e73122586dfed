// Package index provides the shared types and error taxonomy for vector
// search indexes.
package index

import (
	"errors"
	"fmt"
)

// ErrInvalidK is returned when the number of requested neighbors is not positive.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension is returned when a configured dimension is not positive.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrDuplicateID is returned when an identifier already has a live entry.
// Duplicate adds are rejected rather than overwritten so the graph stays
// consistent with the store.
type ErrDuplicateID struct {
	ID uint64
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id: %d already has a live entry", e.ID)
}

// ErrNotFound is returned when an identifier has no live entry.
type ErrNotFound struct {
	ID uint64
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("id %d: no live entry", e.ID)
}

// ErrCapacityExceeded is returned when an add would grow the index past its
// configured capacity. Recoverable: the caller may Resize and retry.
type ErrCapacityExceeded struct {
	Capacity int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("capacity exceeded: index holds at most %d elements", e.Capacity)
}

// ValidateDimension checks a configured dimension.
func ValidateDimension(dim int) error {
	if dim <= 0 {
		return &ErrInvalidDimension{Dimension: dim}
	}
	return nil
}

// SearchResult represents a single nearest-neighbor search result.
type SearchResult struct {
	// ID is the caller-supplied identifier of the matched vector.
	ID uint64

	// Distance is the distance between the query vector and the result vector.
	Distance float32
}

// SearchOptions carries per-query knobs.
type SearchOptions struct {
	// EFSearch overrides the index-level beam width for this query.
	// Zero means use the index default. Values below k are raised to k.
	EFSearch int
}

// Stats describes the current state of an index.
type Stats struct {
	Dimension      int
	Metric         string
	M              int
	EFConstruction int
	EFSearch       int
	MaxElements    int
	Count          int // Total slots, including tombstoned entries
	LiveCount      int // Live (searchable) entries
	MaxLevel       int
	EntryPoint     uint64 // External id of the entry point (undefined when LiveCount is 0)
}
