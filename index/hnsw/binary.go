package hnsw

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/annidx/annidx/core"
	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/vectorstore"
)

// Snapshot section layout, little-endian:
//
//	uint8   entry point flag (0 = empty graph)
//	uint32  entry point slot
//	uint32  node count
//	per node:
//	  uint8   layer count (0 marks a rolled-back slot)
//	  per layer:
//	    uint32  neighbor count
//	    uint32  neighbor slot each

// WriteTo serializes the graph section to w.
func (g *Graph) WriteTo(w io.Writer) error {
	var scratch [8]byte

	if g.hasEntry {
		scratch[0] = 1
	} else {
		scratch[0] = 0
	}
	binary.LittleEndian.PutUint32(scratch[1:5], uint32(g.entry))
	if _, err := w.Write(scratch[:5]); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(g.nodes)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return err
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		scratch[0] = byte(len(n.layers))
		if _, err := w.Write(scratch[:1]); err != nil {
			return err
		}
		for _, conns := range n.layers {
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(conns)))
			if _, err := w.Write(scratch[:4]); err != nil {
				return err
			}
			for _, c := range conns {
				binary.LittleEndian.PutUint32(scratch[:4], uint32(c))
				if _, err := w.Write(scratch[:4]); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// ReadSection deserializes a graph section written by WriteTo into a fresh
// graph over the given store. Adjacency referencing slots outside the node
// range, implausible levels, and truncation all fail with a descriptive
// error.
func ReadSection(r io.Reader, store *vectorstore.Store, distFunc distance.Func, optFns ...func(o *Options)) (*Graph, error) {
	g := New(store, distFunc, optFns...)

	var scratch [8]byte

	if _, err := io.ReadFull(r, scratch[:5]); err != nil {
		return nil, fmt.Errorf("graph entry point: %w", err)
	}
	hasEntry := scratch[0] != 0
	entry := core.Slot(binary.LittleEndian.Uint32(scratch[1:5]))

	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, fmt.Errorf("graph node count: %w", err)
	}
	count := int(binary.LittleEndian.Uint32(scratch[:4]))
	if count != store.Count() {
		return nil, fmt.Errorf("graph holds %d nodes but store holds %d entries", count, store.Count())
	}

	g.nodes = make([]node, count)

	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, scratch[:1]); err != nil {
			return nil, fmt.Errorf("graph node %d: %w", i, err)
		}
		layerCount := int(scratch[0])
		if layerCount > maxLayers {
			return nil, fmt.Errorf("graph node %d: implausible level %d", i, layerCount-1)
		}
		if layerCount == 0 {
			continue
		}

		layers := make([][]core.Slot, layerCount)
		for l := 0; l < layerCount; l++ {
			if _, err := io.ReadFull(r, scratch[:4]); err != nil {
				return nil, fmt.Errorf("graph node %d layer %d: %w", i, l, err)
			}
			neighborCount := int(binary.LittleEndian.Uint32(scratch[:4]))
			if neighborCount > count {
				return nil, fmt.Errorf("graph node %d layer %d: %d neighbors exceeds node count", i, l, neighborCount)
			}

			conns := make([]core.Slot, neighborCount)
			for j := range conns {
				if _, err := io.ReadFull(r, scratch[:4]); err != nil {
					return nil, fmt.Errorf("graph node %d layer %d: %w", i, l, err)
				}
				c := binary.LittleEndian.Uint32(scratch[:4])
				if int(c) >= count {
					return nil, fmt.Errorf("graph node %d layer %d: neighbor slot %d out of range", i, l, c)
				}
				conns[j] = core.Slot(c)
			}
			layers[l] = conns
		}
		g.nodes[i].layers = layers
	}

	if hasEntry {
		if int(entry) >= count {
			return nil, fmt.Errorf("graph entry point slot %d out of range", entry)
		}
		if len(g.nodes[entry].layers) == 0 {
			return nil, fmt.Errorf("graph entry point slot %d has no adjacency", entry)
		}
		g.entry = entry
		g.maxLevel = len(g.nodes[entry].layers) - 1
		g.hasEntry = true
	} else if count > 0 {
		return nil, fmt.Errorf("graph has %d nodes but no entry point", count)
	}

	return g, nil
}
