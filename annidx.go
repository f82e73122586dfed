package annidx

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/index"
	"github.com/annidx/annidx/index/hnsw"
	"github.com/annidx/annidx/persistence"
	"github.com/annidx/annidx/vectorstore"
)

// Defaults match a small document-embedding workload: a few thousand
// sentence-transformer vectors behind a cosine metric.
const (
	// DefaultM is the default number of bidirectional links per layer.
	DefaultM = 16

	// DefaultEFConstruction is the default beam width during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width during search.
	DefaultEFSearch = 50

	// DefaultMaxElements is the default index capacity.
	DefaultMaxElements = 10000
)

// Index is a single authoritative ANN index instance: the vector store and
// proximity graph behind one reader-writer lock. Searches run fully in
// parallel; add, delete, resize, save and load take the write lock.
type Index struct {
	mu   sync.RWMutex
	opts options

	dim      int
	metric   distance.Metric
	distFunc distance.Func
	store    *vectorstore.Store
	graph    *hnsw.Graph
}

// New creates an empty index for vectors of the given dimension.
func New(dimension int, optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)

	if err := index.ValidateDimension(dimension); err != nil {
		return nil, translateError(err)
	}

	distFunc, err := distance.Provider(opts.metric)
	if err != nil {
		return nil, err
	}

	store := vectorstore.New(dimension, opts.maxElements)

	idx := &Index{
		opts:     opts,
		dim:      dimension,
		metric:   opts.metric,
		distFunc: distFunc,
		store:    store,
		graph:    hnsw.New(store, distFunc, opts.graphOptions()),
	}

	return idx, nil
}

func (o *options) graphOptions() func(g *hnsw.Options) {
	return func(g *hnsw.Options) {
		g.M = o.m
		g.EFConstruction = o.efConstruction
		g.EFSearch = o.efSearch
		g.Heuristic = o.heuristic
		g.RandomSeed = o.randomSeed
	}
}

// Dimension returns the vector dimensionality.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Count returns the number of live entries.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.store.CountLive()
}

// Add inserts a vector under the given identifier. If the graph insertion
// fails after the store write, the store write is rolled back so the two
// stay in sync.
func (idx *Index) Add(ctx context.Context, id uint64, vector []float32) error {
	start := time.Now()
	err := idx.add(ctx, id, vector)

	idx.opts.metrics.RecordAdd(time.Since(start), err)
	idx.opts.logger.LogAdd(ctx, id, len(vector), err)

	return translateError(err)
}

func (idx *Index) add(ctx context.Context, id uint64, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot, err := idx.store.Put(id, vector)
	if err != nil {
		return err
	}

	if err := idx.graph.Insert(slot, idx.store.VectorBySlot(slot)); err != nil {
		_ = idx.store.Tombstone(id)
		return err
	}

	return nil
}

// AddText embeds the text through the configured embedder and inserts the
// resulting vector under the given identifier.
func (idx *Index) AddText(ctx context.Context, id uint64, text string) error {
	if idx.opts.embedder == nil {
		return ErrNoEmbedder
	}

	vector, err := idx.opts.embedder.Embed(ctx, text)
	if err != nil {
		idx.opts.logger.LogAdd(ctx, id, 0, err)
		return translateError(err)
	}

	return idx.Add(ctx, id, vector)
}

// Search returns the k nearest live entries to the query vector, ascending
// by distance. If fewer than k live entries exist, all of them are
// returned. opts may be nil.
func (idx *Index) Search(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	start := time.Now()
	res, err := idx.search(ctx, query, k, opts)

	idx.opts.metrics.RecordSearch(k, time.Since(start), err)
	idx.opts.logger.LogSearch(ctx, k, len(res), err)

	return res, translateError(err)
}

func (idx *Index) search(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dim {
		return nil, &index.ErrDimensionMismatch{Expected: idx.dim, Actual: len(query)}
	}

	ef := 0
	if opts != nil {
		ef = opts.EFSearch
	}

	return idx.graph.Search(query, k, ef)
}

// SearchText embeds the query text and searches for its k nearest entries.
func (idx *Index) SearchText(ctx context.Context, text string, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if idx.opts.embedder == nil {
		return nil, ErrNoEmbedder
	}

	query, err := idx.opts.embedder.Embed(ctx, text)
	if err != nil {
		idx.opts.logger.LogSearch(ctx, k, 0, err)
		return nil, translateError(err)
	}

	return idx.Search(ctx, query, k, opts)
}

// Delete tombstones the entry. The graph keeps routing through the dead
// node, but search never returns it.
func (idx *Index) Delete(ctx context.Context, id uint64) error {
	start := time.Now()
	err := idx.delete(ctx, id)

	idx.opts.metrics.RecordDelete(time.Since(start), err)
	idx.opts.logger.LogDelete(ctx, id, err)

	return translateError(err)
}

func (idx *Index) delete(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.store.Tombstone(id)
}

// Resize grows the index capacity, reallocating the underlying storage.
// Shrinking below the current entry count fails.
func (idx *Index) Resize(ctx context.Context, maxElements int) error {
	idx.mu.Lock()
	err := idx.store.Resize(maxElements)
	if err == nil {
		idx.opts.maxElements = maxElements
	}
	idx.mu.Unlock()

	idx.opts.logger.LogResize(ctx, maxElements, err)
	return translateError(err)
}

// Stats returns a snapshot of the index configuration and state.
func (idx *Index) Stats() index.Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := index.Stats{
		Dimension:      idx.dim,
		Metric:         idx.metric.String(),
		M:              idx.graph.M(),
		EFConstruction: idx.graph.EFConstruction(),
		EFSearch:       idx.graph.EFSearch(),
		MaxElements:    idx.store.Capacity(),
		Count:          idx.store.Count(),
		LiveCount:      idx.store.CountLive(),
		MaxLevel:       idx.graph.MaxLevel(),
	}
	if ep, ok := idx.graph.EntryPoint(); ok {
		s.EntryPoint = idx.store.IDOf(ep)
	}
	return s
}

// SaveTo serializes the whole index to w. The exclusive lock is held for
// the full duration, so a snapshot is always internally consistent.
func (idx *Index) SaveTo(ctx context.Context, w io.Writer) error {
	start := time.Now()
	err := idx.saveTo(w)

	idx.opts.metrics.RecordSave(time.Since(start), err)
	idx.opts.logger.LogSnapshot(ctx, "writer", err)

	return translateError(err)
}

func (idx *Index) saveTo(w io.Writer) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return persistence.Encode(w, idx.opts.compression, idx.params(), idx.store, idx.graph)
}

func (idx *Index) params() persistence.Params {
	return persistence.Params{
		Dimension:      idx.dim,
		Metric:         idx.metric,
		M:              idx.graph.M(),
		EFConstruction: idx.graph.EFConstruction(),
		EFSearch:       idx.graph.EFSearch(),
		MaxElements:    idx.store.Capacity(),
	}
}

// Save writes the index to a file, atomically replacing any previous
// artifact under that path.
func (idx *Index) Save(ctx context.Context, path string) error {
	start := time.Now()
	err := persistence.SaveToFile(path, func(w io.Writer) error {
		return idx.saveTo(w)
	})

	idx.opts.metrics.RecordSave(time.Since(start), err)
	idx.opts.logger.LogSnapshot(ctx, path, err)

	return translateError(err)
}

// LoadFrom replaces the index state with the snapshot read from r. The
// snapshot is decoded into a staging instance first and swapped in only on
// success, so a corrupt or truncated stream leaves the previous state
// untouched.
func (idx *Index) LoadFrom(ctx context.Context, r io.Reader) error {
	start := time.Now()
	count, err := idx.loadFrom(r)

	idx.opts.metrics.RecordLoad(time.Since(start), err)
	idx.opts.logger.LogRestore(ctx, "reader", count, err)

	return translateError(err)
}

func (idx *Index) loadFrom(r io.Reader) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p, store, graph, err := persistence.Decode(r, func(g *hnsw.Options) {
		g.Heuristic = idx.opts.heuristic
		g.RandomSeed = idx.opts.randomSeed
	})
	if err != nil {
		return 0, err
	}

	distFunc, err := distance.Provider(p.Metric)
	if err != nil {
		return 0, err
	}

	// Swap. The artifact's parameters are authoritative from here on.
	idx.dim = p.Dimension
	idx.metric = p.Metric
	idx.distFunc = distFunc
	idx.store = store
	idx.graph = graph
	idx.opts.maxElements = p.MaxElements

	return store.CountLive(), nil
}

// Load replaces the index state with the snapshot stored at path.
func (idx *Index) Load(ctx context.Context, path string) error {
	start := time.Now()

	var count int
	err := persistence.LoadFromFile(path, func(r io.Reader) error {
		var loadErr error
		count, loadErr = idx.loadFrom(r)
		return loadErr
	})

	idx.opts.metrics.RecordLoad(time.Since(start), err)
	idx.opts.logger.LogRestore(ctx, path, count, err)

	return translateError(err)
}
