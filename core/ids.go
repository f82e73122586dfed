package core

// Slot is a dense, internal identifier for a vector inside a single index
// instance. It is strictly 32-bit and addresses hot-path structures directly
// (graph adjacency, visited sets, heaps), while the caller-facing identifier
// stays a sparse uint64.
type Slot uint32

// MaxSlot is the maximum possible value for a Slot.
const MaxSlot = ^Slot(0)

// ExternalID is the caller-supplied 64-bit identifier of a vector. It is
// never interpreted by the index beyond uniqueness among live entries.
type ExternalID = uint64
