package annidx

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/embedding"
	"github.com/annidx/annidx/index"
	"github.com/annidx/annidx/persistence"
)

func newTestIndex(t *testing.T, dim int, optFns ...Option) *Index {
	t.Helper()

	opts := append([]Option{WithRandomSeed(42), WithMaxElements(256)}, optFns...)
	idx, err := New(dim, opts...)
	require.NoError(t, err)
	return idx
}

func TestNew_InvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)

	_, err = New(-5)
	assert.Error(t, err)
}

func TestIndex_AddThenSearchSelf(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithMetric(distance.MetricL2))

	r := rand.New(rand.NewSource(7))
	vectors := make(map[uint64][]float32)
	for i := 1; i <= 50; i++ {
		v := []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
		vectors[uint64(i)] = v
		require.NoError(t, idx.Add(ctx, uint64(i), v))
	}

	for id, v := range vectors {
		res, err := idx.Search(ctx, v, 1, &index.SearchOptions{EFSearch: 1})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, id, res[0].ID)
		assert.InDelta(t, 0, res[0].Distance, 1e-5)
	}
}

func TestIndex_DuplicateID(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))

	err := idx.Add(ctx, 1, []float32{0, 1})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, idx.Count())
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4)

	err := idx.Add(ctx, 1, []float32{1, 2, 3})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
	assert.Equal(t, 0, idx.Count())

	err = idx.Add(ctx, 1, nil)
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 0, dm.Actual)
	assert.Equal(t, 0, idx.Count())

	_, err = idx.Search(ctx, []float32{1, 2, 3}, 1, nil)
	assert.ErrorAs(t, err, &dm)
}

func TestIndex_KGreaterThanLiveCount(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2, WithMetric(distance.MetricL2))

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1}))

	res, err := idx.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestIndex_EmptySearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4)

	res, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIndex_InvalidK(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))

	_, err := idx.Search(ctx, []float32{1, 0}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestIndex_TwoClusterCosine(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4,
		WithMetric(distance.MetricCosine),
		WithM(8),
		WithEFConstruction(100),
	)

	r := rand.New(rand.NewSource(42))
	jitter := func() float32 { return (r.Float32() - 0.5) * 0.1 }

	for i := 1; i <= 100; i++ {
		var v []float32
		if i <= 50 {
			v = []float32{1 + jitter(), jitter(), jitter(), jitter()}
		} else {
			v = []float32{jitter(), 1 + jitter(), jitter(), jitter()}
		}
		require.NoError(t, idx.Add(ctx, uint64(i), v))
	}

	res, err := idx.Search(ctx, []float32{0.9, 0.1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 5)
	for _, hit := range res {
		assert.LessOrEqual(t, hit.ID, uint64(50), "id %d belongs to the wrong cluster", hit.ID)
	}
}

func TestIndex_Delete(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2, WithMetric(distance.MetricL2))

	require.NoError(t, idx.Add(ctx, 1, []float32{0, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{1, 0}))

	require.NoError(t, idx.Delete(ctx, 1))
	assert.Equal(t, 1, idx.Count())

	res, err := idx.Search(ctx, []float32{0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint64(2), res[0].ID)

	err = idx.Delete(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	err = idx.Delete(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_CapacityAndResize(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2, WithMaxElements(2), WithMetric(distance.MetricL2))

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1}))

	err := idx.Add(ctx, 3, []float32{1, 1})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, idx.Resize(ctx, 10))
	require.NoError(t, idx.Add(ctx, 3, []float32{1, 1}))
	assert.Equal(t, 3, idx.Count())

	err = idx.Resize(ctx, 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithMetric(distance.MetricCosine))

	r := rand.New(rand.NewSource(11))
	queries := make([][]float32, 10)
	for i := 1; i <= 80; i++ {
		v := []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
		require.NoError(t, idx.Add(ctx, uint64(i), v))
	}
	for i := range queries {
		queries[i] = []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
	}
	require.NoError(t, idx.Delete(ctx, 7))

	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, idx.Save(ctx, path))

	fresh := newTestIndex(t, 4)
	require.NoError(t, fresh.Load(ctx, path))

	assert.Equal(t, idx.Count(), fresh.Count())
	assert.Equal(t, idx.Stats(), fresh.Stats())

	for _, q := range queries {
		want, err := idx.Search(ctx, q, 5, nil)
		require.NoError(t, err)
		got, err := fresh.Search(ctx, q, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIndex_SaveLoadCompressed(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithCompression(persistence.CompressionZstd))

	for i := 1; i <= 20; i++ {
		require.NoError(t, idx.Add(ctx, uint64(i), []float32{float32(i), 1, 2, 3}))
	}

	var buf bytes.Buffer
	require.NoError(t, idx.SaveTo(ctx, &buf))

	fresh := newTestIndex(t, 4)
	require.NoError(t, fresh.LoadFrom(ctx, &buf))
	assert.Equal(t, 20, fresh.Count())
}

func TestIndex_TruncatedLoadLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2, WithMetric(distance.MetricL2))

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1}))

	var buf bytes.Buffer
	require.NoError(t, idx.SaveTo(ctx, &buf))
	truncated := buf.Bytes()[:buf.Len()/2]

	err := idx.LoadFrom(ctx, bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrCorruptSnapshot)

	// prior state still serves queries
	res, err := idx.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, uint64(1), res[0].ID)
}

func TestIndex_LoadAdoptsArtifactParams(t *testing.T) {
	ctx := context.Background()

	src, err := New(3,
		WithMetric(distance.MetricL2),
		WithM(4),
		WithEFConstruction(64),
		WithEFSearch(16),
		WithMaxElements(50),
		WithRandomSeed(5),
	)
	require.NoError(t, err)
	require.NoError(t, src.Add(ctx, 1, []float32{1, 2, 3}))

	var buf bytes.Buffer
	require.NoError(t, src.SaveTo(ctx, &buf))

	dst := newTestIndex(t, 8, WithMetric(distance.MetricCosine))
	require.NoError(t, dst.LoadFrom(ctx, &buf))

	stats := dst.Stats()
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, "l2", stats.Metric)
	assert.Equal(t, 4, stats.M)
	assert.Equal(t, 64, stats.EFConstruction)
	assert.Equal(t, 16, stats.EFSearch)
	assert.Equal(t, 50, stats.MaxElements)

	// the restored index keeps accepting adds under the loaded config
	require.NoError(t, dst.Add(ctx, 2, []float32{3, 2, 1}))
	assert.Equal(t, 2, dst.Count())
}

func TestIndex_Stats(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithM(8), WithEFConstruction(100), WithEFSearch(30))

	stats := idx.Stats()
	assert.Equal(t, 4, stats.Dimension)
	assert.Equal(t, "cosine", stats.Metric)
	assert.Equal(t, 8, stats.M)
	assert.Equal(t, 100, stats.EFConstruction)
	assert.Equal(t, 30, stats.EFSearch)
	assert.Equal(t, 0, stats.LiveCount)
	assert.Equal(t, -1, stats.MaxLevel)

	require.NoError(t, idx.Add(ctx, 42, []float32{1, 0, 0, 0}))

	stats = idx.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.LiveCount)
	assert.GreaterOrEqual(t, stats.MaxLevel, 0)
	assert.Equal(t, uint64(42), stats.EntryPoint)
}

func TestIndex_TextOperations(t *testing.T) {
	ctx := context.Background()

	embedder := embedding.Func(func(ctx context.Context, text string) ([]float32, error) {
		// toy deterministic embedding
		v := make([]float32, 4)
		for i, r := range text {
			v[i%4] += float32(r) / 1000
		}
		return v, nil
	})

	idx := newTestIndex(t, 4, WithEmbedder(embedder), WithMetric(distance.MetricCosine))

	require.NoError(t, idx.AddText(ctx, 1, "alpha"))
	require.NoError(t, idx.AddText(ctx, 2, "beta"))

	res, err := idx.SearchText(ctx, "alpha", 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, uint64(1), res[0].ID)
}

func TestIndex_TextOperationsWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4)

	err := idx.AddText(ctx, 1, "text")
	assert.ErrorIs(t, err, ErrNoEmbedder)

	_, err = idx.SearchText(ctx, "text", 5, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestIndex_EmbedderFailure(t *testing.T) {
	ctx := context.Background()

	embedder := embedding.Func(func(ctx context.Context, text string) ([]float32, error) {
		return nil, embedding.ErrEmbeddingFailed
	})

	idx := newTestIndex(t, 4, WithEmbedder(embedder))

	err := idx.AddText(ctx, 1, "text")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, 0, idx.Count())
}

func TestIndex_ConcurrentSearches(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithMetric(distance.MetricL2))

	r := rand.New(rand.NewSource(3))
	for i := 1; i <= 100; i++ {
		require.NoError(t, idx.Add(ctx, uint64(i), []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rr := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				q := []float32{rr.Float32(), rr.Float32(), rr.Float32(), rr.Float32()}
				res, err := idx.Search(ctx, q, 5, nil)
				assert.NoError(t, err)
				assert.Len(t, res, 5)
			}
		}(int64(w))
	}
	wg.Wait()
}

func TestIndex_ConcurrentAddsAndSearches(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 4, WithMetric(distance.MetricL2), WithMaxElements(1024))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(1))
		for i := 1; i <= 200; i++ {
			_ = idx.Add(ctx, uint64(i), []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()})
		}
	}()

	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(2))
		for i := 0; i < 200; i++ {
			q := []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
			_, err := idx.Search(ctx, q, 3, nil)
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	assert.Equal(t, 200, idx.Count())
}

func TestIndex_MetricsCollected(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	idx := newTestIndex(t, 2, WithMetricsCollector(metrics), WithMetric(distance.MetricL2))

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	_ = idx.Add(ctx, 1, []float32{1, 0}) // duplicate

	_, _ = idx.Search(ctx, []float32{1, 0}, 1, nil)

	var buf bytes.Buffer
	require.NoError(t, idx.SaveTo(ctx, &buf))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.AddCount)
	assert.Equal(t, int64(1), stats.AddErrors)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SaveCount)
}

func TestCosineDistanceEdgeCases(t *testing.T) {
	v := []float32{0.3, 0.4, 0.5, 0.1}

	assert.InDelta(t, 0, distance.Cosine(v, v), 1e-6)
	assert.Equal(t, float32(1.0), distance.Cosine(v, []float32{0, 0, 0, 0}))
	assert.Equal(t, float32(1.0), distance.Cosine([]float32{0, 0, 0, 0}, v))
}
