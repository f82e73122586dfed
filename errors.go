package annidx

import (
	"errors"
	"fmt"

	"github.com/annidx/annidx/embedding"
	"github.com/annidx/annidx/index"
	"github.com/annidx/annidx/persistence"
)

var (
	// ErrNotFound is returned when an identifier has no live entry.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrDuplicateID is returned when an identifier already has a live entry.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrCapacityExceeded is returned when an add would exceed the configured
	// capacity. Recoverable: the caller may Resize and retry.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrCorruptSnapshot is returned when a persisted artifact cannot be
	// decoded. The index keeps whatever state it had before the failed load.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrEmbeddingFailed is returned when the configured embedder could not
	// produce a vector.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrNoEmbedder is returned by text operations when no embedder is
	// configured.
	ErrNoEmbedder = errors.New("no embedder configured")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps internal package errors onto the root error surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var dup *index.ErrDuplicateID
	if errors.As(err, &dup) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}

	var nf *index.ErrNotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var ce *index.ErrCapacityExceeded
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
	}

	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	if errors.Is(err, persistence.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	if errors.Is(err, embedding.ErrEmbeddingFailed) {
		return fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	return err
}
