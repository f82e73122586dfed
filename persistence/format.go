// Package persistence serializes an index to a single binary artifact and
// restores it. The codec only ever observes index state to write it, or
// builds fresh state from a byte stream; it holds no long-lived references.
package persistence

import (
	"errors"
	"fmt"

	"github.com/annidx/annidx/distance"
)

const (
	// MagicNumber identifies index snapshot files (ASCII: "ANX0").
	MagicNumber = 0x414E5830

	// Version is the current snapshot format version.
	Version uint32 = 1

	// preambleSize is the fixed prefix before the payload: magic, version,
	// compression byte, payload length and payload CRC32.
	preambleSize = 4 + 4 + 1 + 8 + 4

	// maxPayloadSize bounds the decoded payload so a corrupt length field
	// cannot drive an absurd allocation.
	maxPayloadSize = 16 << 30
)

// Compression selects the payload compression of a snapshot.
type Compression uint8

const (
	// CompressionNone stores the payload uncompressed.
	CompressionNone Compression = iota

	// CompressionLZ4 compresses the payload with the LZ4 frame format.
	CompressionLZ4

	// CompressionZstd compresses the payload with zstandard.
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// ErrCorrupt is wrapped by every decode failure: bad magic, unsupported
// version, checksum mismatch, truncation and inconsistent sections.
var ErrCorrupt = errors.New("corrupt snapshot")

// ChecksumMismatchError reports a payload CRC32 mismatch. It unwraps to
// ErrCorrupt.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("corrupt snapshot: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrCorrupt }

// Params is the index configuration carried in the snapshot header. A
// restored index always adopts these over whatever the caller configured.
type Params struct {
	Dimension      int
	Metric         distance.Metric
	M              int
	EFConstruction int
	EFSearch       int
	MaxElements    int
}
