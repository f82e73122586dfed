// Package hnsw implements the Hierarchical Navigable Small World proximity
// graph for approximate nearest neighbor search.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/annidx/annidx/core"
	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/index"
	"github.com/annidx/annidx/internal/queue"
	"github.com/annidx/annidx/internal/visited"
	"github.com/annidx/annidx/vectorstore"
)

const (
	// layerNormalizationBase is the base constant for the exponential layer
	// probability distribution.
	layerNormalizationBase = 1.0

	// mmax0Multiplier is the multiplier for maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// maxLayers bounds the assigned layer of any node. With M >= 2 the draw
	// exceeding this is vanishingly unlikely; the bound keeps snapshot decoding
	// from trusting absurd levels.
	maxLayers = 64

	// DefaultM is the default number of bidirectional links per layer.
	DefaultM = 16

	// DefaultEFConstruction is the default beam width during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width during search.
	DefaultEFSearch = 50
)

// Options configures the graph.
type Options struct {
	M              int
	EFConstruction int
	EFSearch       int
	Heuristic      bool
	RandomSeed     *int64
}

// DefaultOptions holds the default graph configuration.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Heuristic:      true,
}

// node holds the per-layer adjacency of a single slot. A slot whose store
// write was rolled back keeps a zero node; nothing ever links to it.
type node struct {
	layers [][]core.Slot // layers[l] = neighbors at layer l; level = len(layers)-1
}

// Graph is the multi-layer proximity graph over the slots of a vector store.
//
// Thread safety: the graph performs no internal locking. The index controller
// excludes writers from readers; concurrent searches are safe because Search
// only reads adjacency.
type Graph struct {
	store    *vectorstore.Store
	distFunc distance.Func

	m              int
	mmax0          int
	efConstruction int
	efSearch       int
	heuristic      bool
	levelMult      float64

	rng   *rand.Rand
	rngMu sync.Mutex

	nodes    []node
	entry    core.Slot
	hasEntry bool
	maxLevel int

	minQueuePool *sync.Pool
	maxQueuePool *sync.Pool
	visitedPool  *sync.Pool
}

// New creates an empty graph over the given store.
func New(store *vectorstore.Store, distFunc distance.Func, optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Graph{
		store:          store,
		distFunc:       distFunc,
		m:              opts.M,
		mmax0:          mmax0Multiplier * opts.M,
		efConstruction: opts.EFConstruction,
		efSearch:       opts.EFSearch,
		heuristic:      opts.Heuristic,
		levelMult:      layerNormalizationBase / math.Log(float64(opts.M)),
		rng:            rng,
		nodes:          make([]node, 0, store.Capacity()),
		minQueuePool: &sync.Pool{
			New: func() any { return queue.NewMin(opts.EFConstruction) },
		},
		maxQueuePool: &sync.Pool{
			New: func() any { return queue.NewMax(opts.EFConstruction) },
		},
		visitedPool: &sync.Pool{
			New: func() any { return visited.New(1024) },
		},
	}
}

// M returns the maximum neighbors per node per layer above layer 0.
func (g *Graph) M() int { return g.m }

// EFConstruction returns the beam width used during insertion.
func (g *Graph) EFConstruction() int { return g.efConstruction }

// EFSearch returns the default beam width used during search.
func (g *Graph) EFSearch() int { return g.efSearch }

// Len returns the number of slots the graph has seen, rolled-back ones
// included.
func (g *Graph) Len() int { return len(g.nodes) }

// MaxLevel returns the level of the entry point, or -1 for an empty graph.
func (g *Graph) MaxLevel() int {
	if !g.hasEntry {
		return -1
	}
	return g.maxLevel
}

// EntryPoint returns the current entry point slot.
func (g *Graph) EntryPoint() (core.Slot, bool) {
	return g.entry, g.hasEntry
}

// Insert adds the slot to the graph. Slots arrive in store order; gaps left
// by rolled-back store writes are padded with zero nodes that nothing ever
// links to.
func (g *Graph) Insert(slot core.Slot, vec []float32) error {
	if int(slot) < len(g.nodes) {
		return fmt.Errorf("hnsw: slot %d already inserted", slot)
	}

	level := g.drawLevel()

	for len(g.nodes) < int(slot) {
		g.nodes = append(g.nodes, node{})
	}
	g.nodes = append(g.nodes, node{layers: make([][]core.Slot, level+1)})

	if !g.hasEntry {
		g.entry = slot
		g.maxLevel = level
		g.hasEntry = true
		return nil
	}

	currSlot := g.entry
	currDist := g.dist(vec, currSlot)

	// Greedy descent above the insertion level, one best candidate per layer.
	for l := g.maxLevel; l > level; l-- {
		currSlot, currDist = g.greedyStep(vec, currSlot, currDist, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		results := g.searchLayer(vec, currSlot, currDist, l, g.efConstruction, false)

		if best, ok := results.Min(); ok {
			currSlot = best.Slot
			currDist = best.Distance
		}

		maxConns := g.m
		if l == 0 {
			maxConns = g.mmax0
		}

		neighbors := g.selectNeighbors(results, maxConns)

		results.Reset()
		g.maxQueuePool.Put(results)

		g.nodes[slot].layers[l] = neighbors

		for _, n := range neighbors {
			g.link(n, slot, vec, l)
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = slot
	}

	return nil
}

// Search returns the k nearest live slots to the query as external
// identifier and distance pairs, ascending by distance. Tombstoned slots are
// traversed but never returned. ef overrides the configured search beam
// width when positive; it is always raised to at least k.
func (g *Graph) Search(q []float32, k, ef int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if !g.hasEntry {
		return []index.SearchResult{}, nil
	}

	if ef <= 0 {
		ef = g.efSearch
	}
	if ef < k {
		ef = k
	}

	currSlot := g.entry
	currDist := g.dist(q, currSlot)

	for l := g.maxLevel; l > 0; l-- {
		currSlot, currDist = g.greedyStep(q, currSlot, currDist, l)
	}

	results := g.searchLayer(q, currSlot, currDist, 0, ef, true)
	defer func() {
		results.Reset()
		g.maxQueuePool.Put(results)
	}()

	// Max-heap pops worst first; drop the overflow, then fill back to front.
	for results.Len() > k {
		_, _ = results.Pop()
	}

	res := make([]index.SearchResult, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		item, _ := results.Pop()
		res[i] = index.SearchResult{ID: g.store.IDOf(item.Slot), Distance: item.Distance}
	}

	return res, nil
}

// drawLevel samples the layer for a new node from the exponential
// distribution that gives HNSW its hierarchy.
func (g *Graph) drawLevel() int {
	g.rngMu.Lock()
	r := g.rng.Float64()
	g.rngMu.Unlock()

	for r == 0 {
		g.rngMu.Lock()
		r = g.rng.Float64()
		g.rngMu.Unlock()
	}

	level := int(math.Floor(-math.Log(r) * g.levelMult))
	if level >= maxLayers {
		level = maxLayers - 1
	}
	return level
}

// greedyStep walks one layer greedily, moving to the closest neighbor until
// no neighbor improves the distance.
func (g *Graph) greedyStep(q []float32, currSlot core.Slot, currDist float32, layer int) (core.Slot, float32) {
	for changed := true; changed; {
		changed = false
		for _, next := range g.neighbors(currSlot, layer) {
			if d := g.dist(q, next); d < currDist {
				currSlot = next
				currDist = d
				changed = true
			}
		}
	}
	return currSlot, currDist
}

// searchLayer runs a best-first beam search at one layer. The returned
// max-heap holds up to ef candidates and must be returned to maxQueuePool by
// the caller. When skipDead is set, tombstoned slots are expanded for
// navigation but excluded from the result heap.
func (g *Graph) searchLayer(q []float32, epSlot core.Slot, epDist float32, layer, ef int, skipDead bool) *queue.PriorityQueue {
	seen := g.visitedPool.Get().(*visited.Set)
	seen.Reset()
	defer g.visitedPool.Put(seen)

	candidates := g.minQueuePool.Get().(*queue.PriorityQueue)
	candidates.Reset()
	defer func() {
		candidates.Reset()
		g.minQueuePool.Put(candidates)
	}()

	results := g.maxQueuePool.Get().(*queue.PriorityQueue)
	results.Reset()

	seen.Visit(epSlot)
	candidates.Push(queue.Item{Slot: epSlot, Distance: epDist})
	if !skipDead || !g.store.IsDead(epSlot) {
		results.Push(queue.Item{Slot: epSlot, Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()

		if results.Len() >= ef {
			if worst, ok := results.Top(); ok && curr.Distance > worst.Distance {
				break
			}
		}

		for _, next := range g.neighbors(curr.Slot, layer) {
			if seen.Visited(next) {
				continue
			}
			seen.Visit(next)

			nextDist := g.dist(q, next)

			if results.Len() >= ef {
				if worst, _ := results.Top(); nextDist > worst.Distance {
					continue
				}
			}

			candidates.Push(queue.Item{Slot: next, Distance: nextDist})
			if !skipDead || !g.store.IsDead(next) {
				results.Push(queue.Item{Slot: next, Distance: nextDist})
				if results.Len() > ef {
					_, _ = results.Pop()
				}
			}
		}
	}

	return results
}

// selectNeighbors picks up to m neighbors from the candidate heap. The heap
// is consumed.
func (g *Graph) selectNeighbors(candidates *queue.PriorityQueue, m int) []core.Slot {
	if g.heuristic && candidates.Len() > m {
		return g.selectNeighborsHeuristic(candidates, m)
	}
	return g.selectNeighborsSimple(candidates, m)
}

func (g *Graph) selectNeighborsSimple(candidates *queue.PriorityQueue, m int) []core.Slot {
	for candidates.Len() > m {
		_, _ = candidates.Pop()
	}

	res := make([]core.Slot, candidates.Len())
	for i := candidates.Len() - 1; i >= 0; i-- {
		item, _ := candidates.Pop()
		res[i] = item.Slot
	}
	return res
}

// selectNeighborsHeuristic prefers diverse neighbors: a candidate is kept
// only if it is closer to the query node than to every neighbor selected so
// far. Remaining capacity is filled with the skipped candidates, nearest
// first, to keep the node well connected.
func (g *Graph) selectNeighborsHeuristic(candidates *queue.PriorityQueue, m int) []core.Slot {
	// Pop the max-heap worst-to-best, filling the slice back to front to get
	// candidates ordered nearest first.
	ordered := make([]queue.Item, candidates.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i], _ = candidates.Pop()
	}

	result := make([]core.Slot, 0, m)
	resultVecs := make([][]float32, 0, m)
	skipped := make([]core.Slot, 0, len(ordered))

	for _, cand := range ordered {
		if len(result) >= m {
			break
		}

		candVec := g.store.VectorBySlot(cand.Slot)

		keep := true
		for _, selVec := range resultVecs {
			if g.distFunc(candVec, selVec) < cand.Distance {
				keep = false
				break
			}
		}

		if keep {
			result = append(result, cand.Slot)
			resultVecs = append(resultVecs, candVec)
		} else {
			skipped = append(skipped, cand.Slot)
		}
	}

	for _, s := range skipped {
		if len(result) >= m {
			break
		}
		result = append(result, s)
	}

	return result
}

// link adds a bidirectional edge from an existing node to the new one,
// pruning the existing node's list with the selection heuristic when it
// overflows.
func (g *Graph) link(slot, target core.Slot, targetVec []float32, layer int) {
	conns := g.nodes[slot].layers[layer]

	for _, c := range conns {
		if c == target {
			return
		}
	}

	maxConns := g.m
	if layer == 0 {
		maxConns = g.mmax0
	}

	if len(conns) < maxConns {
		g.nodes[slot].layers[layer] = append(conns, target)
		return
	}

	src := g.store.VectorBySlot(slot)

	candidates := g.maxQueuePool.Get().(*queue.PriorityQueue)
	candidates.Reset()
	defer g.maxQueuePool.Put(candidates)

	for _, c := range conns {
		candidates.Push(queue.Item{Slot: c, Distance: g.distFunc(src, g.store.VectorBySlot(c))})
	}
	candidates.Push(queue.Item{Slot: target, Distance: g.distFunc(src, targetVec)})

	g.nodes[slot].layers[layer] = g.selectNeighbors(candidates, maxConns)
	candidates.Reset()
}

func (g *Graph) neighbors(slot core.Slot, layer int) []core.Slot {
	n := &g.nodes[slot]
	if layer >= len(n.layers) {
		return nil
	}
	return n.layers[layer]
}

func (g *Graph) dist(q []float32, slot core.Slot) float32 {
	return g.distFunc(q, g.store.VectorBySlot(slot))
}
