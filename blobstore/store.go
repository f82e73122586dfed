// Package blobstore abstracts durable storage for index snapshot artifacts.
//
// A snapshot is written and read as a single stream. Backends exist for the
// local file system, in-memory storage (testing), S3 and MinIO.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for storing and retrieving snapshot blobs.
type Store interface {
	// Put writes the blob under name, replacing any existing blob
	// atomically. The reader is consumed to EOF.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open opens the named blob for reading. The caller must close the
	// returned reader.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Stat returns the size of the named blob in bytes.
	Stat(ctx context.Context, name string) (int64, error)

	// Delete removes the named blob. Deleting a missing blob is not an
	// error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
