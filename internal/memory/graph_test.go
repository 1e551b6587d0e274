package memory

import (
	"testing"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIncomingGraphOrdering(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000000")
	b := uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000000")
	c := uuid.MustParse("cccccccc-0000-4000-8000-000000000000")
	x := uuid.MustParse("0f000000-0000-4000-8000-000000000000")
	y := uuid.MustParse("ff000000-0000-4000-8000-000000000000")

	g := NewIncomingGraph()
	g.AddRecord(storage.AdjacencyRecord{ID: c, Connections: []storage.Edge{{Target: y, Weight: 0.5}, {Target: x, Weight: 0.2}}})
	g.AddRecord(storage.AdjacencyRecord{ID: a, Connections: []storage.Edge{{Target: y, Weight: 0.5}}})
	g.AddRecord(storage.AdjacencyRecord{ID: b, Connections: []storage.Edge{{Target: y, Weight: 0.9}}})

	assert.Equal(t, []identity.NodeID{x, y}, g.Targets())
	assert.Equal(t, []storage.Edge{
		{Target: b, Weight: 0.9},
		{Target: a, Weight: 0.5},
		{Target: c, Weight: 0.5},
	}, g.Incoming(y))

	targets, edges := g.GetStats()
	assert.Equal(t, 2, targets)
	assert.Equal(t, 4, edges)
}

func TestIncomingOfUnknownTarget(t *testing.T) {
	g := NewIncomingGraph()
	assert.Empty(t, g.Incoming(uuid.New()))
	assert.Empty(t, g.Targets())
}
