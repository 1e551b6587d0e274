// Package pathfind searches the compacted artist graph for a chain of
// similar artists between two nodes.
package pathfind

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/metastore"
	"github.com/alvmarrod/artist-weaver/internal/storage"
)

// ErrArtistNotFound is returned when a name has no entry in the lookup
var ErrArtistNotFound = errors.New("artist not found")

// DefaultTopRelated is the number of strongest connections followed per node
const DefaultTopRelated = 80

// Graph yields the outgoing edges of a node. Unknown nodes have none.
type Graph interface {
	Neighbors(id identity.NodeID) ([]storage.Edge, error)
}

// StoreGraph reads edges from a mapped graph file through its offset index
type StoreGraph struct {
	Reader *graphstore.Reader
	Index  *graphstore.Index
}

// Neighbors returns the edges recorded for id
func (g StoreGraph) Neighbors(id identity.NodeID) ([]storage.Edge, error) {
	rec, ok, err := g.Reader.Neighbors(id, g.Index)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Edges, nil
}

// Options filters the edges a search follows
type Options struct {
	MinMatch   float32 // edges below this similarity are ignored
	TopRelated int     // strongest edges kept per node, 0 for DefaultTopRelated
}

// Step is one node of a path with the similarity of the edge that reached it.
// The first step has similarity 0.
type Step struct {
	ID         identity.NodeID
	Similarity float32
}

// Result is the outcome of a search. Path is nil when target is unreachable.
type Result struct {
	Path    []Step
	Visited int
	Elapsed time.Duration
}

// Hops returns the number of edges on the path
func (r Result) Hops() int {
	if len(r.Path) == 0 {
		return 0
	}
	return len(r.Path) - 1
}

type parent struct {
	from       identity.NodeID
	similarity float32
}

// connections returns the filtered edges of id, strongest first
func connections(g Graph, id identity.NodeID, opts Options) ([]storage.Edge, error) {
	edges, err := g.Neighbors(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read neighbors of %s: %w", id, err)
	}

	kept := make([]storage.Edge, 0, len(edges))
	for _, e := range edges {
		if opts.MinMatch > 0 && e.Weight < opts.MinMatch {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Weight > kept[j].Weight
	})

	top := opts.TopRelated
	if top <= 0 {
		top = DefaultTopRelated
	}
	if len(kept) > top {
		kept = kept[:top]
	}
	return kept, nil
}

func reconstruct(parents map[identity.NodeID]parent, start, target identity.NodeID) []Step {
	var path []Step
	for current := target; current != start; {
		p := parents[current]
		path = append(path, Step{ID: current, Similarity: p.similarity})
		current = p.from
	}
	path = append(path, Step{ID: start})

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// BFS finds a path with the fewest hops
func BFS(g Graph, start, target identity.NodeID, opts Options) (Result, error) {
	began := time.Now()

	queue := []identity.NodeID{start}
	visited := map[identity.NodeID]struct{}{start: {}}
	parents := make(map[identity.NodeID]parent)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == target {
			return Result{Path: reconstruct(parents, start, target), Visited: len(visited), Elapsed: time.Since(began)}, nil
		}

		edges, err := connections(g, current, opts)
		if err != nil {
			return Result{Visited: len(visited), Elapsed: time.Since(began)}, err
		}
		for _, e := range edges {
			if _, ok := visited[e.Target]; ok {
				continue
			}
			visited[e.Target] = struct{}{}
			parents[e.Target] = parent{from: current, similarity: e.Weight}
			queue = append(queue, e.Target)
		}
	}

	return Result{Visited: len(visited), Elapsed: time.Since(began)}, nil
}

// Dijkstra finds the path with the lowest total cost, where an edge costs
// one minus its similarity
func Dijkstra(g Graph, start, target identity.NodeID, opts Options) (Result, error) {
	began := time.Now()

	distances := map[identity.NodeID]float64{start: 0}
	parents := make(map[identity.NodeID]parent)
	settled := make(map[identity.NodeID]struct{})
	pq := &costQueue{{id: start}}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(costItem)
		if item.id == target {
			return Result{Path: reconstruct(parents, start, target), Visited: len(settled), Elapsed: time.Since(began)}, nil
		}
		if _, ok := settled[item.id]; ok {
			continue
		}
		settled[item.id] = struct{}{}

		edges, err := connections(g, item.id, opts)
		if err != nil {
			return Result{Visited: len(settled), Elapsed: time.Since(began)}, err
		}
		for _, e := range edges {
			cost := item.cost + 1 - float64(e.Weight)
			if known, ok := distances[e.Target]; ok && cost >= known {
				continue
			}
			distances[e.Target] = cost
			parents[e.Target] = parent{from: item.id, similarity: e.Weight}
			heap.Push(pq, costItem{id: e.Target, cost: cost})
		}
	}

	return Result{Visited: len(settled), Elapsed: time.Since(began)}, nil
}

type costItem struct {
	id   identity.NodeID
	cost float64
}

// costQueue is a min-heap on cost
type costQueue []costItem

func (q costQueue) Len() int           { return len(q) }
func (q costQueue) Less(i, j int) bool { return q[i].cost < q[j].cost }
func (q costQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *costQueue) Push(x any)        { *q = append(*q, x.(costItem)) }
func (q *costQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Resolve picks the node for name. When several nodes share the normalized
// name, the one whose display name matches case-insensitively wins, else the
// first in the lookup.
func Resolve(store *metastore.Store, name string) (identity.NodeID, error) {
	ids := store.Lookup(name)
	if len(ids) == 0 {
		return identity.Nil, fmt.Errorf("%w: %q", ErrArtistNotFound, name)
	}
	if len(ids) > 1 {
		for _, id := range ids {
			if rec, ok := store.Metadata(id); ok && strings.EqualFold(rec.Name, name) {
				return id, nil
			}
		}
	}
	return ids[0], nil
}
