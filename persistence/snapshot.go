package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/index/hnsw"
	"github.com/annidx/annidx/vectorstore"
)

// Snapshot layout, little-endian:
//
//	uint32  magic "ANX0"
//	uint32  version
//	uint8   compression
//	uint64  payload length
//	uint32  payload CRC32
//	bytes   payload, possibly compressed
//
// The payload is the params block followed by the store section and the
// graph section:
//
//	uint32  dimension
//	uint8   metric
//	uint32  M
//	uint32  ef_construction
//	uint32  ef_search
//	uint64  max_elements
//	uint64  entry count
//	uint64  live count
//	uint8   entry point flag
//	uint64  entry point id

// Encode writes a snapshot of the store and graph to w.
func Encode(w io.Writer, compression Compression, p Params, store *vectorstore.Store, graph *hnsw.Graph) error {
	var payload bytes.Buffer
	cw := NewChecksumWriter(&payload)

	var pw io.Writer = cw
	var closeCompressor func() error

	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		zw := lz4.NewWriter(cw)
		pw = zw
		closeCompressor = zw.Close
	case CompressionZstd:
		zw, err := zstd.NewWriter(cw)
		if err != nil {
			return fmt.Errorf("snapshot compressor: %w", err)
		}
		pw = zw
		closeCompressor = zw.Close
	default:
		return fmt.Errorf("unknown compression %d", compression)
	}

	if err := encodePayload(pw, p, store, graph); err != nil {
		return err
	}
	if closeCompressor != nil {
		if err := closeCompressor(); err != nil {
			return err
		}
	}

	var preamble [preambleSize]byte
	binary.LittleEndian.PutUint32(preamble[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(preamble[4:8], Version)
	preamble[8] = byte(compression)
	binary.LittleEndian.PutUint64(preamble[9:17], uint64(payload.Len()))
	binary.LittleEndian.PutUint32(preamble[17:21], cw.Sum())

	if _, err := w.Write(preamble[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

func encodePayload(w io.Writer, p Params, store *vectorstore.Store, graph *hnsw.Graph) error {
	var buf [41]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Dimension))
	buf[4] = byte(p.Metric)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(p.M))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(p.EFConstruction))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(p.EFSearch))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(p.MaxElements))
	binary.LittleEndian.PutUint64(buf[25:33], uint64(store.Count()))

	var entryID uint64
	var hasEntry byte
	if ep, ok := graph.EntryPoint(); ok {
		hasEntry = 1
		entryID = store.IDOf(ep)
	}
	binary.LittleEndian.PutUint64(buf[33:41], uint64(store.CountLive()))

	if _, err := w.Write(buf[:41]); err != nil {
		return err
	}

	var entryBuf [9]byte
	entryBuf[0] = hasEntry
	binary.LittleEndian.PutUint64(entryBuf[1:9], entryID)
	if _, err := w.Write(entryBuf[:]); err != nil {
		return err
	}

	if err := store.WriteTo(w); err != nil {
		return err
	}
	return graph.WriteTo(w)
}

// Decode reads a snapshot and reconstructs the store and graph it describes.
// The returned params always reflect the artifact, not the caller's
// configuration. Extra graph options, such as the random seed for later
// inserts, are forwarded to the graph; M and the beam widths come from the
// artifact.
func Decode(r io.Reader, optFns ...func(o *hnsw.Options)) (Params, *vectorstore.Store, *hnsw.Graph, error) {
	var preamble [preambleSize]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return Params{}, nil, nil, corruptf("preamble: %v", err)
	}

	if magic := binary.LittleEndian.Uint32(preamble[0:4]); magic != MagicNumber {
		return Params{}, nil, nil, corruptf("invalid magic number 0x%08x", magic)
	}
	if version := binary.LittleEndian.Uint32(preamble[4:8]); version != Version {
		return Params{}, nil, nil, corruptf("unsupported version %d", version)
	}
	compression := Compression(preamble[8])
	payloadLen := binary.LittleEndian.Uint64(preamble[9:17])
	wantSum := binary.LittleEndian.Uint32(preamble[17:21])

	if payloadLen > maxPayloadSize {
		return Params{}, nil, nil, corruptf("payload length %d exceeds limit", payloadLen)
	}

	payload := make([]byte, payloadLen)
	cr := NewChecksumReader(io.LimitReader(r, int64(payloadLen)))
	if _, err := io.ReadFull(cr, payload); err != nil {
		return Params{}, nil, nil, corruptf("payload: %v", err)
	}
	if cr.Sum() != wantSum {
		return Params{}, nil, nil, &ChecksumMismatchError{Expected: wantSum, Actual: cr.Sum()}
	}

	var pr io.Reader = bytes.NewReader(payload)
	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		pr = lz4.NewReader(pr)
	case CompressionZstd:
		zr, err := zstd.NewReader(pr)
		if err != nil {
			return Params{}, nil, nil, corruptf("zstd payload: %v", err)
		}
		defer zr.Close()
		pr = zr
	default:
		return Params{}, nil, nil, corruptf("unknown compression %d", compression)
	}

	return decodePayload(pr, optFns...)
}

func decodePayload(r io.Reader, optFns ...func(o *hnsw.Options)) (Params, *vectorstore.Store, *hnsw.Graph, error) {
	var buf [41]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Params{}, nil, nil, corruptf("params: %v", err)
	}

	p := Params{
		Dimension:      int(binary.LittleEndian.Uint32(buf[0:4])),
		Metric:         distance.Metric(buf[4]),
		M:              int(binary.LittleEndian.Uint32(buf[5:9])),
		EFConstruction: int(binary.LittleEndian.Uint32(buf[9:13])),
		EFSearch:       int(binary.LittleEndian.Uint32(buf[13:17])),
		MaxElements:    int(binary.LittleEndian.Uint64(buf[17:25])),
	}
	count := binary.LittleEndian.Uint64(buf[25:33])
	liveCount := binary.LittleEndian.Uint64(buf[33:41])

	if p.Dimension <= 0 {
		return Params{}, nil, nil, corruptf("invalid dimension %d", p.Dimension)
	}
	distFunc, err := distance.Provider(p.Metric)
	if err != nil {
		return Params{}, nil, nil, corruptf("%v", err)
	}
	if p.MaxElements <= 0 {
		return Params{}, nil, nil, corruptf("invalid capacity %d", p.MaxElements)
	}
	// A capacity whose slab could not fit in a payload is garbage; checking
	// here keeps a corrupt header from triggering a huge allocation.
	if uint64(p.MaxElements) > maxPayloadSize/4/uint64(p.Dimension) {
		return Params{}, nil, nil, corruptf("capacity %d out of range for dimension %d", p.MaxElements, p.Dimension)
	}
	if p.MaxElements < int(count) {
		return Params{}, nil, nil, corruptf("%d entries exceed capacity %d", count, p.MaxElements)
	}

	var entryBuf [9]byte
	if _, err := io.ReadFull(r, entryBuf[:]); err != nil {
		return Params{}, nil, nil, corruptf("entry point: %v", err)
	}
	hasEntry := entryBuf[0] != 0
	entryID := binary.LittleEndian.Uint64(entryBuf[1:9])

	store, err := vectorstore.ReadSection(r, p.Dimension, p.MaxElements)
	if err != nil {
		return Params{}, nil, nil, corruptf("%v", err)
	}
	if store.Count() != int(count) {
		return Params{}, nil, nil, corruptf("store holds %d entries, header says %d", store.Count(), count)
	}
	if store.CountLive() != int(liveCount) {
		return Params{}, nil, nil, corruptf("store holds %d live entries, header says %d", store.CountLive(), liveCount)
	}

	opts := append([]func(o *hnsw.Options){func(o *hnsw.Options) {
		o.M = p.M
		o.EFConstruction = p.EFConstruction
		o.EFSearch = p.EFSearch
	}}, optFns...)

	graph, err := hnsw.ReadSection(r, store, distFunc, opts...)
	if err != nil {
		return Params{}, nil, nil, corruptf("%v", err)
	}

	if ep, ok := graph.EntryPoint(); ok != hasEntry {
		return Params{}, nil, nil, corruptf("entry point flag disagrees with graph")
	} else if ok && store.IDOf(ep) != entryID {
		return Params{}, nil, nil, corruptf("entry point id %d does not match graph slot %d", entryID, ep)
	}

	return p, store, graph, nil
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
