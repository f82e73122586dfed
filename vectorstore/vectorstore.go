// Package vectorstore owns the authoritative vector data of an index.
//
// Vectors live in a single contiguous float32 slab addressed by dense slots,
// giving good cache locality for distance kernels. The caller-facing 64-bit
// identifiers map to slots through a lookup table; tombstones are tracked in
// a roaring bitmap over slots so the graph can keep referencing dead nodes
// without returning them.
//
// Thread safety: the store performs no internal locking. The index controller
// serializes writers and excludes them from readers.
package vectorstore

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/annidx/annidx/core"
	"github.com/annidx/annidx/index"
)

// Store maps external identifiers to fixed-dimension vectors and a tombstone
// flag. Slots are append-only; a tombstoned slot is never reused because the
// proximity graph may still hold edges to it.
type Store struct {
	dim      int
	capacity int

	slab  []float32 // vectors[slot] = slab[slot*dim : (slot+1)*dim]
	ids   []core.ExternalID
	slots map[core.ExternalID]core.Slot
	dead  *roaring.Bitmap
	live  int
}

// New creates a store for vectors of the given dimension with room for
// capacity entries. The slab is allocated up front so adds never reallocate
// until an explicit Resize.
func New(dim, capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{
		dim:      dim,
		capacity: capacity,
		slab:     make([]float32, 0, capacity*dim),
		ids:      make([]core.ExternalID, 0, capacity),
		slots:    make(map[core.ExternalID]core.Slot, capacity),
		dead:     roaring.New(),
	}
}

// Dimension returns the vector dimensionality.
func (s *Store) Dimension() int { return s.dim }

// Capacity returns the maximum number of entries the store will accept.
func (s *Store) Capacity() int { return s.capacity }

// Count returns the total number of entries, tombstoned included.
func (s *Store) Count() int { return len(s.ids) }

// CountLive returns the number of entries that are not tombstoned.
func (s *Store) CountLive() int { return s.live }

// Put appends a vector under the given identifier and returns its slot.
// It fails with ErrDimensionMismatch if the vector has the wrong length,
// ErrDuplicateID if a live entry already exists for the identifier, and
// ErrCapacityExceeded when the store is full.
func (s *Store) Put(id core.ExternalID, vector []float32) (core.Slot, error) {
	if len(vector) != s.dim {
		return 0, &index.ErrDimensionMismatch{Expected: s.dim, Actual: len(vector)}
	}
	if slot, ok := s.slots[id]; ok && !s.dead.Contains(uint32(slot)) {
		return 0, &index.ErrDuplicateID{ID: id}
	}
	if len(s.ids) >= s.capacity {
		return 0, &index.ErrCapacityExceeded{Capacity: s.capacity}
	}

	slot := core.Slot(len(s.ids))
	s.slab = append(s.slab, vector...)
	s.ids = append(s.ids, id)
	s.slots[id] = slot
	s.live++

	return slot, nil
}

// Get returns the vector of a live entry. The returned slice aliases the
// internal slab; callers must not modify it.
func (s *Store) Get(id core.ExternalID) ([]float32, error) {
	slot, ok := s.slots[id]
	if !ok || s.dead.Contains(uint32(slot)) {
		return nil, &index.ErrNotFound{ID: id}
	}
	return s.VectorBySlot(slot), nil
}

// VectorBySlot returns the vector stored at a slot, tombstoned or not.
// Graph traversal needs the coordinates of dead nodes to route through them.
func (s *Store) VectorBySlot(slot core.Slot) []float32 {
	start := int(slot) * s.dim
	return s.slab[start : start+s.dim : start+s.dim]
}

// SlotOf returns the slot of a live entry.
func (s *Store) SlotOf(id core.ExternalID) (core.Slot, bool) {
	slot, ok := s.slots[id]
	if !ok || s.dead.Contains(uint32(slot)) {
		return 0, false
	}
	return slot, true
}

// IDOf returns the external identifier assigned to a slot.
func (s *Store) IDOf(slot core.Slot) core.ExternalID {
	return s.ids[slot]
}

// Tombstone marks the entry dead. It fails with ErrNotFound if no live
// entry exists for the identifier.
func (s *Store) Tombstone(id core.ExternalID) error {
	slot, ok := s.slots[id]
	if !ok || s.dead.Contains(uint32(slot)) {
		return &index.ErrNotFound{ID: id}
	}
	s.dead.Add(uint32(slot))
	s.live--
	return nil
}

// IsDead reports whether a slot is tombstoned.
func (s *Store) IsDead(slot core.Slot) bool {
	return s.dead.Contains(uint32(slot))
}

// Resize grows the store to hold up to capacity entries, reallocating the
// slab. Shrinking below the current entry count is rejected.
func (s *Store) Resize(capacity int) error {
	if capacity < len(s.ids) {
		return &index.ErrCapacityExceeded{Capacity: capacity}
	}
	slab := make([]float32, len(s.slab), capacity*s.dim)
	copy(slab, s.slab)
	s.slab = slab

	ids := make([]core.ExternalID, len(s.ids), capacity)
	copy(ids, s.ids)
	s.ids = ids

	s.capacity = capacity
	return nil
}
