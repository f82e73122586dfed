// Package annidx provides an embedded approximate nearest neighbor index
// for Go, built on a Hierarchical Navigable Small World (HNSW) graph.
//
// The index maps caller-supplied 64-bit identifiers to fixed-dimension
// float32 vectors and answers k-nearest-neighbor queries under a configurable
// metric (cosine, squared L2 or inner product). Reads run fully in parallel;
// writes are serialized behind a reader-writer lock.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, err := annidx.New(384,
//	    annidx.WithMetric(distance.MetricCosine),
//	    annidx.WithM(16),
//	    annidx.WithEFConstruction(200),
//	    annidx.WithMaxElements(10000),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	if err := idx.Add(ctx, 1, vector); err != nil {
//	    panic(err)
//	}
//
//	results, err := idx.Search(ctx, query, 5, nil)
//
// # Persistence
//
// Save writes the whole index to a single binary artifact; Load replaces the
// index state atomically, so a failed load leaves the previous state
// untouched:
//
//	if err := idx.Save("vector_index.bin"); err != nil { ... }
//	if err := idx.Load("vector_index.bin"); err != nil { ... }
//
// # Tuning
//
// Recall and latency trade off through the beam widths: EFConstruction
// governs build quality, EFSearch (index-wide default, overridable per
// query) governs search quality. M controls graph connectivity and memory.
package annidx
