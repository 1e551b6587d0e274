package pathfind

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvmarrod/artist-weaver/internal/graphstore"
	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/alvmarrod/artist-weaver/internal/metastore"
	"github.com/alvmarrod/artist-weaver/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeA = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000000")
	nodeB = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000000")
	nodeC = uuid.MustParse("cccccccc-0000-4000-8000-000000000000")
	nodeD = uuid.MustParse("dddddddd-0000-4000-8000-000000000000")
	nodeE = uuid.MustParse("eeeeeeee-0000-4000-8000-000000000000")
)

type fixture struct {
	graph StoreGraph
	store *metastore.Store
}

func appendAll[T any](t *testing.T, path string, records []T) {
	t.Helper()
	log, err := storage.OpenAppendLog(path, false)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, log.Append(rec))
	}
	require.NoError(t, log.Close())
}

// compacted runs the compactor steps over a small graph:
//
//	A -0.9-> B -0.9-> D
//	A -0.5-> C -0.6-> D
//	A -0.1-> D -0.3-> A
//
// E has metadata but no edges in or out.
func compacted(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	graphLog := filepath.Join(dir, "graph.ndjson")
	appendAll(t, graphLog, []storage.AdjacencyRecord{
		{ID: nodeA, Connections: []storage.Edge{{Target: nodeD, Weight: 0.1}, {Target: nodeC, Weight: 0.5}, {Target: nodeB, Weight: 0.9}}},
		{ID: nodeB, Connections: []storage.Edge{{Target: nodeD, Weight: 0.9}}},
		{ID: nodeC, Connections: []storage.Edge{{Target: nodeD, Weight: 0.6}}},
		{ID: nodeD, Connections: []storage.Edge{{Target: nodeA, Weight: 0.3}}},
	})
	metadataLog := filepath.Join(dir, "metadata.ndjson")
	appendAll(t, metadataLog, []storage.MetadataRecord{
		{ID: nodeA, Name: "Björk", URL: "https://www.last.fm/music/Bj%C3%B6rk"},
		{ID: nodeB, Name: "Bjork", URL: "https://www.last.fm/music/Bjork"},
		{ID: nodeC, Name: "Sigur Rós", URL: "https://www.last.fm/music/Sigur+R%C3%B3s"},
		{ID: nodeD, Name: "Air", URL: "https://www.last.fm/music/Air"},
		{ID: nodeE, Name: "Orphan", URL: ""},
	})

	graphBin := filepath.Join(dir, "graph.bin")
	forward, _, err := graphstore.ConvertForward(graphLog, graphBin, graphstore.Options{})
	require.NoError(t, err)

	metaBin := filepath.Join(dir, "metadata.bin")
	_, err = metastore.Build(metaBin, metastore.Input{MetadataLog: metadataLog, Forward: forward})
	require.NoError(t, err)

	store, err := metastore.Open(metaBin)
	require.NoError(t, err)
	reader, err := graphstore.Open(graphBin)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	return fixture{graph: StoreGraph{Reader: reader, Index: store.Forward}, store: store}
}

func ids(path []Step) []identity.NodeID {
	out := make([]identity.NodeID, len(path))
	for i, s := range path {
		out[i] = s.ID
	}
	return out
}

func TestBFSFindsFewestHops(t *testing.T) {
	fx := compacted(t)

	res, err := BFS(fx.graph, nodeA, nodeD, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Step{{ID: nodeA}, {ID: nodeD, Similarity: 0.1}}, res.Path)
	assert.Equal(t, 1, res.Hops())
	assert.Equal(t, 4, res.Visited)
}

func TestDijkstraPrefersStrongerChain(t *testing.T) {
	fx := compacted(t)

	res, err := Dijkstra(fx.graph, nodeA, nodeD, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Step{{ID: nodeA}, {ID: nodeB, Similarity: 0.9}, {ID: nodeD, Similarity: 0.9}}, res.Path)
	assert.Equal(t, 2, res.Hops())
}

func TestMinMatchSkipsWeakEdges(t *testing.T) {
	fx := compacted(t)

	res, err := BFS(fx.graph, nodeA, nodeD, Options{MinMatch: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []identity.NodeID{nodeA, nodeB, nodeD}, ids(res.Path))

	res, err = BFS(fx.graph, nodeA, nodeD, Options{MinMatch: 0.95})
	require.NoError(t, err)
	assert.Nil(t, res.Path)
}

func TestTopRelatedKeepsStrongestEdges(t *testing.T) {
	fx := compacted(t)

	res, err := BFS(fx.graph, nodeA, nodeD, Options{TopRelated: 1})
	require.NoError(t, err)
	assert.Equal(t, []identity.NodeID{nodeA, nodeB, nodeD}, ids(res.Path))

	// With only B followed from A, C is never reached
	res, err = Dijkstra(fx.graph, nodeA, nodeC, Options{TopRelated: 1})
	require.NoError(t, err)
	assert.Nil(t, res.Path)
}

func TestNoPath(t *testing.T) {
	fx := compacted(t)

	for name, search := range map[string]func(Graph, identity.NodeID, identity.NodeID, Options) (Result, error){
		"bfs":      BFS,
		"dijkstra": Dijkstra,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := search(fx.graph, nodeA, nodeE, Options{})
			require.NoError(t, err)
			assert.Nil(t, res.Path)
			assert.Equal(t, 0, res.Hops())

			// E has no record, so nothing is reachable from it
			res, err = search(fx.graph, nodeE, nodeA, Options{})
			require.NoError(t, err)
			assert.Nil(t, res.Path)
		})
	}
}

func TestSameStartAndTarget(t *testing.T) {
	fx := compacted(t)

	res, err := BFS(fx.graph, nodeC, nodeC, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Step{{ID: nodeC}}, res.Path)

	res, err = Dijkstra(fx.graph, nodeC, nodeC, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Step{{ID: nodeC}}, res.Path)
}

func TestStoreIndexMatchesGraphScan(t *testing.T) {
	fx := compacted(t)

	scanned, err := graphstore.IndexBinary(fx.graph.Reader.Path())
	require.NoError(t, err)
	assert.Equal(t, fx.store.Forward.Entries(), scanned.Entries())

	res, err := BFS(StoreGraph{Reader: fx.graph.Reader, Index: scanned}, nodeD, nodeB, Options{})
	require.NoError(t, err)
	assert.Equal(t, []identity.NodeID{nodeD, nodeA, nodeB}, ids(res.Path))
}

type failingGraph struct{}

func (failingGraph) Neighbors(identity.NodeID) ([]storage.Edge, error) {
	return nil, graphstore.ErrCorrupt
}

func TestReadErrorsAbortSearch(t *testing.T) {
	_, err := BFS(failingGraph{}, nodeA, nodeB, Options{})
	assert.ErrorIs(t, err, graphstore.ErrCorrupt)

	_, err = Dijkstra(failingGraph{}, nodeA, nodeB, Options{})
	assert.ErrorIs(t, err, graphstore.ErrCorrupt)
}

func TestResolve(t *testing.T) {
	fx := compacted(t)

	cases := map[string]identity.NodeID{
		"Bjork":     nodeB, // exact display name beats lookup order
		"BJÖRK":     nodeA,
		"björk":     nodeA,
		"bJORK":     nodeB,
		"sigur ros": nodeC,
		"AIR":       nodeD,
	}
	for name, want := range cases {
		got, err := Resolve(fx.store, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := Resolve(fx.store, "Nobody")
	assert.True(t, errors.Is(err, ErrArtistNotFound))
}

func TestRender(t *testing.T) {
	fx := compacted(t)
	res := Result{
		Path:    []Step{{ID: nodeA}, {ID: nodeB, Similarity: 0.9}, {ID: nodeD, Similarity: 0.9}},
		Visited: 3,
		Elapsed: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, fx.store, res, "Björk", "Air", Display{ShowSimilarity: true}))
	assert.Equal(t, `"Björk" → "Bjork" → "Air"

1. "Björk" - https://www.last.fm/music/Bj%C3%B6rk
2. "Bjork" [sim 0.900] - https://www.last.fm/music/Bjork
3. "Air" [sim 0.900] - https://www.last.fm/music/Air
`, buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, fx.store, res, "Björk", "Air", Display{HideURLs: true, Verbose: true}))
	assert.Equal(t, `Found path with 2 steps
"Björk" → "Bjork" → "Air"

1. "Björk"
2. "Bjork"
3. "Air"
Explored 3 artists in 1.500 sec
`, buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, fx.store, res, "Björk", "Air", Display{Quiet: true}))
	assert.Equal(t, "\"Björk\" → \"Bjork\" → \"Air\"\n", buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, fx.store, Result{Visited: 5}, "Björk", "Orphan", Display{}))
	assert.Equal(t, "No path found from \"Björk\" to \"Orphan\"\n", buf.String())
}
