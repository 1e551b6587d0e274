package memory

import (
	"bytes"
	"slices"
	"sync"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

// IncomingGraph accumulates the transpose of a directed graph in memory:
// for every target, the sources that point at it and their weights.
// Memory grows with the number of edges added.
type IncomingGraph struct {
	incoming  map[identity.NodeID][]storage.Edge // target -> edges whose Target is the source
	edgeCount int
	mu        sync.RWMutex
}

// NewIncomingGraph creates an empty graph
func NewIncomingGraph() *IncomingGraph {
	return &IncomingGraph{
		incoming: make(map[identity.NodeID][]storage.Edge),
	}
}

// AddEdge records source -> target with weight
func (g *IncomingGraph) AddEdge(source, target identity.NodeID, weight float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.incoming[target] = append(g.incoming[target], storage.Edge{Target: source, Weight: weight})
	g.edgeCount++
}

// AddRecord records every edge of a forward adjacency record
func (g *IncomingGraph) AddRecord(rec storage.AdjacencyRecord) {
	for _, e := range rec.Connections {
		g.AddEdge(rec.ID, e.Target, e.Weight)
	}
}

// Targets returns every node with at least one incoming edge, in ascending
// byte order
func (g *IncomingGraph) Targets() []identity.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	targets := make([]identity.NodeID, 0, len(g.incoming))
	for id := range g.incoming {
		targets = append(targets, id)
	}
	SortIDs(targets)
	return targets
}

// Incoming returns the incoming edges of target ordered by weight descending,
// then source id ascending. Each edge's Target field holds the source.
func (g *IncomingGraph) Incoming(target identity.NodeID) []storage.Edge {
	g.mu.RLock()
	edges := slices.Clone(g.incoming[target])
	g.mu.RUnlock()

	SortIncoming(edges)
	return edges
}

// GetStats returns current graph statistics
func (g *IncomingGraph) GetStats() (targetCount, edgeCount int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.incoming), g.edgeCount
}

// SortIDs orders ids by their byte representation
func SortIDs(ids []identity.NodeID) {
	slices.SortFunc(ids, func(a, b identity.NodeID) int {
		return bytes.Compare(a[:], b[:])
	})
}

// SortIncoming orders edges by weight descending, then id ascending
func SortIncoming(edges []storage.Edge) {
	slices.SortStableFunc(edges, func(a, b storage.Edge) int {
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		}
		return bytes.Compare(a.Target[:], b.Target[:])
	})
}
