package vectorstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/annidx/annidx/core"
)

// Snapshot section layout, little-endian:
//
//	uint32  entry count
//	uint64  external id per entry
//	uint32  tombstone bitmap byte length
//	bytes   roaring bitmap (portable serialization)
//	float32 slab, count*dim values

// WriteTo serializes the store section to w.
func (s *Store) WriteTo(w io.Writer) error {
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(s.ids)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}

	for _, id := range s.ids {
		binary.LittleEndian.PutUint64(scratch[:8], id)
		if _, err := w.Write(scratch[:8]); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(scratch[:4], uint32(s.dead.GetSerializedSizeInBytes()))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}
	if _, err := s.dead.WriteTo(w); err != nil {
		return err
	}

	return writeFloat32s(w, s.slab)
}

// ReadSection deserializes a store section written by WriteTo into a fresh
// store with the given dimension and capacity. Any truncated or inconsistent
// input fails with a descriptive error; nothing is ever silently padded.
func ReadSection(r io.Reader, dim, capacity int) (*Store, error) {
	var scratch [8]byte

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, fmt.Errorf("store entry count: %w", err)
	}
	count := int(binary.LittleEndian.Uint32(scratch[:4]))
	if count > capacity {
		return nil, fmt.Errorf("store holds %d entries but capacity is %d", count, capacity)
	}

	s := New(dim, capacity)

	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return nil, fmt.Errorf("store id %d: %w", i, err)
		}
		id := binary.LittleEndian.Uint64(scratch[:8])
		s.ids = append(s.ids, id)
		s.slots[id] = core.Slot(i)
	}

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, fmt.Errorf("store tombstone length: %w", err)
	}
	bitmapLen := int(binary.LittleEndian.Uint32(scratch[:4]))
	bitmapBytes := make([]byte, bitmapLen)
	if _, err := io.ReadFull(r, bitmapBytes); err != nil {
		return nil, fmt.Errorf("store tombstones: %w", err)
	}
	s.dead = roaring.New()
	if err := s.dead.UnmarshalBinary(bitmapBytes); err != nil {
		return nil, fmt.Errorf("store tombstones: %w", err)
	}

	s.slab = s.slab[:count*dim]
	if err := readFloat32s(r, s.slab); err != nil {
		return nil, fmt.Errorf("store vectors: %w", err)
	}

	s.live = count - int(s.dead.GetCardinality())
	return s, nil
}

func writeFloat32s(w io.Writer, values []float32) error {
	buf := make([]byte, 0, 4*4096)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		if len(buf) == cap(buf) {
			if _, err := w.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readFloat32s(r io.Reader, dst []float32) error {
	buf := make([]byte, 4*4096)
	for len(dst) > 0 {
		n := len(dst) * 4
		if n > len(buf) {
			n = len(buf)
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return err
		}
		for i := 0; i < n; i += 4 {
			dst[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i : i+4]))
			dst = dst[1:]
		}
	}
	return nil
}
