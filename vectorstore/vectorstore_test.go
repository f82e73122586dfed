package vectorstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annidx/annidx/index"
)

func TestStore_PutGet(t *testing.T) {
	s := New(3, 4)

	slot, err := s.Put(7, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), uint32(slot))

	v, err := s.Get(7)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 1, s.CountLive())
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := New(4, 4)

	_, err := s.Put(1, []float32{1, 2, 3})
	var dimErr *index.ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
	assert.Equal(t, 0, s.CountLive())
}

func TestStore_DuplicateID(t *testing.T) {
	s := New(2, 4)

	_, err := s.Put(1, []float32{1, 0})
	require.NoError(t, err)

	_, err = s.Put(1, []float32{0, 1})
	var dupErr *index.ErrDuplicateID
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, uint64(1), dupErr.ID)
	assert.Equal(t, 1, s.CountLive())

	// the original vector is untouched
	v, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
}

func TestStore_CapacityExceeded(t *testing.T) {
	s := New(2, 2)

	_, err := s.Put(1, []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Put(2, []float32{0, 1})
	require.NoError(t, err)

	_, err = s.Put(3, []float32{1, 1})
	var capErr *index.ErrCapacityExceeded
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Capacity)
}

func TestStore_Tombstone(t *testing.T) {
	s := New(2, 4)

	slot, err := s.Put(1, []float32{1, 0})
	require.NoError(t, err)

	require.NoError(t, s.Tombstone(1))
	assert.Equal(t, 0, s.CountLive())
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.IsDead(slot))

	_, err = s.Get(1)
	var nfErr *index.ErrNotFound
	require.ErrorAs(t, err, &nfErr)

	// tombstoning twice reports not found
	err = s.Tombstone(1)
	require.ErrorAs(t, err, &nfErr)

	// dead slots still resolve for graph traversal
	assert.Equal(t, []float32{1, 0}, s.VectorBySlot(slot))

	// the id can be reused after a tombstone
	slot2, err := s.Put(1, []float32{0, 1})
	require.NoError(t, err)
	assert.NotEqual(t, slot, slot2)
	assert.Equal(t, 1, s.CountLive())
}

func TestStore_Resize(t *testing.T) {
	s := New(2, 1)

	_, err := s.Put(1, []float32{1, 0})
	require.NoError(t, err)

	_, err = s.Put(2, []float32{0, 1})
	var capErr *index.ErrCapacityExceeded
	require.ErrorAs(t, err, &capErr)

	require.NoError(t, s.Resize(4))
	assert.Equal(t, 4, s.Capacity())

	_, err = s.Put(2, []float32{0, 1})
	require.NoError(t, err)

	v, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)

	err = s.Resize(1)
	require.ErrorAs(t, err, &capErr)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := New(3, 8)
	_, err := s.Put(10, []float32{1, 2, 3})
	require.NoError(t, err)
	_, err = s.Put(20, []float32{4, 5, 6})
	require.NoError(t, err)
	_, err = s.Put(30, []float32{7, 8, 9})
	require.NoError(t, err)
	require.NoError(t, s.Tombstone(20))

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo(&buf))

	restored, err := ReadSection(&buf, 3, 8)
	require.NoError(t, err)

	assert.Equal(t, 3, restored.Count())
	assert.Equal(t, 2, restored.CountLive())

	v, err := restored.Get(10)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)

	_, err = restored.Get(20)
	var nfErr *index.ErrNotFound
	require.ErrorAs(t, err, &nfErr)

	slot, ok := restored.SlotOf(30)
	require.True(t, ok)
	assert.Equal(t, uint64(30), restored.IDOf(slot))
}

func TestStore_SnapshotTruncated(t *testing.T) {
	s := New(3, 8)
	_, err := s.Put(10, []float32{1, 2, 3})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo(&buf))

	raw := buf.Bytes()
	for _, cut := range []int{2, len(raw) / 2, len(raw) - 1} {
		_, err := ReadSection(bytes.NewReader(raw[:cut]), 3, 8)
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestStore_SnapshotOverCapacity(t *testing.T) {
	s := New(2, 4)
	_, err := s.Put(1, []float32{1, 0})
	require.NoError(t, err)
	_, err = s.Put(2, []float32{0, 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.WriteTo(&buf))

	_, err = ReadSection(&buf, 2, 1)
	assert.Error(t, err)
}
