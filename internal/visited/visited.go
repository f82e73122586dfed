// Package visited tracks slots already expanded during a graph traversal.
package visited

import "github.com/annidx/annidx/core"

// Set marks visited slots in a bitset and keeps a dirty list so Reset only
// touches the words a traversal actually set.
type Set struct {
	bits  []uint64
	dirty []core.Slot
}

// New creates a set sized for the given number of slots.
func New(capacity int) *Set {
	return &Set{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]core.Slot, 0, 128),
	}
}

// Visit marks a slot as visited.
func (s *Set) Visit(slot core.Slot) {
	word := int(slot >> 6)
	mask := uint64(1) << (slot & 63)

	if word >= len(s.bits) {
		s.grow(word + 1)
	}
	if s.bits[word]&mask == 0 {
		s.bits[word] |= mask
		s.dirty = append(s.dirty, slot)
	}
}

// Visited reports whether the slot has been visited.
func (s *Set) Visited(slot core.Slot) bool {
	word := int(slot >> 6)
	if word >= len(s.bits) {
		return false
	}
	return s.bits[word]&(uint64(1)<<(slot&63)) != 0
}

// Reset clears the visited status of every slot marked since the last reset.
func (s *Set) Reset() {
	for _, slot := range s.dirty {
		s.bits[slot>>6] &^= uint64(1) << (slot & 63)
	}
	s.dirty = s.dirty[:0]
}

// EnsureCapacity grows the bitset to hold at least capacity slots.
func (s *Set) EnsureCapacity(capacity int) {
	if words := (capacity + 63) / 64; words > len(s.bits) {
		s.grow(words)
	}
}

func (s *Set) grow(newLen int) {
	newCap := len(s.bits) * 2
	if newCap < newLen {
		newCap = newLen
	}
	bits := make([]uint64, newCap)
	copy(bits, s.bits)
	s.bits = bits
}
