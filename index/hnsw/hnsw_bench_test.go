package hnsw

import (
	"math/rand"
	"testing"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/vectorstore"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()
		}
		vectors[i] = v
	}
	return vectors
}

func BenchmarkInsert(b *testing.B) {
	dim := 128
	vectors := randomVectors(b.N, dim, 1)

	store := vectorstore.New(dim, b.N+1)
	seed := int64(42)
	g := New(store, distance.SquaredL2, func(o *Options) {
		o.RandomSeed = &seed
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		slot, err := store.Put(uint64(i+1), vectors[i])
		if err != nil {
			b.Fatal(err)
		}
		if err := g.Insert(slot, store.VectorBySlot(slot)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	dim := 128
	n := 10000
	vectors := randomVectors(n, dim, 1)

	store := vectorstore.New(dim, n)
	seed := int64(42)
	g := New(store, distance.SquaredL2, func(o *Options) {
		o.RandomSeed = &seed
	})

	for i := 0; i < n; i++ {
		slot, err := store.Put(uint64(i+1), vectors[i])
		if err != nil {
			b.Fatal(err)
		}
		if err := g.Insert(slot, store.VectorBySlot(slot)); err != nil {
			b.Fatal(err)
		}
	}

	queries := randomVectors(256, dim, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.Search(queries[i%len(queries)], 10, 50); err != nil {
			b.Fatal(err)
		}
	}
}
