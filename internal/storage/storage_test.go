package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alvmarrod/artist-weaver/internal/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idA = uuid.MustParse("11111111-1111-4111-8111-111111111111")
	idB = uuid.MustParse("22222222-2222-4222-8222-222222222222")
	idC = uuid.MustParse("33333333-3333-4333-8333-333333333333")
)

func TestAppendLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logs, err := OpenLogs(filepath.Join(dir, "graph.ndjson"), filepath.Join(dir, "metadata.ndjson"), false)
	require.NoError(t, err)

	rec := AdjacencyRecord{ID: idA, Connections: []Edge{{Target: idB, Weight: 0.9}, {Target: idC, Weight: 0.4}}}
	require.NoError(t, logs.AppendAdjacency(rec))
	require.NoError(t, logs.AppendMetadata(MetadataRecord{ID: idA, Name: "Artist A", URL: "https://last.fm/a"}))
	require.NoError(t, logs.Close())

	var got []AdjacencyRecord
	stats, err := ReadAdjacencyLog(filepath.Join(dir, "graph.ndjson"), func(r AdjacencyRecord) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 0, stats.Skipped())
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])

	var meta []MetadataRecord
	_, err = ReadMetadataLog(filepath.Join(dir, "metadata.ndjson"), func(m MetadataRecord) error {
		meta = append(meta, m)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []MetadataRecord{{ID: idA, Name: "Artist A", URL: "https://last.fm/a"}}, meta)
}

func TestAdjacencyLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.ndjson")
	log, err := OpenAppendLog(path, true)
	require.NoError(t, err)
	require.NoError(t, log.Append(AdjacencyRecord{ID: idA, Connections: []Edge{{Target: idB, Weight: 0.5}}}))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":"11111111-1111-4111-8111-111111111111","connections":[["22222222-2222-4222-8222-222222222222",0.5]]}`+"\n",
		string(data))
}

func TestReaderSkipsMalformedAndIncompleteTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.ndjson")
	content := `{"id":"11111111-1111-4111-8111-111111111111","connections":[]}` + "\n" +
		"this is not json\n" +
		`{"id":"not-a-uuid","connections":[]}` + "\n" +
		`{"id":"22222222-2222-4222-8222-222222222222","connections":[["33333333-3333-4333-8333-333333333333",0.25]]}` + "\n" +
		`{"id":"33333333-3333-4333-8333-3333`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var ids []identity.NodeID
	stats, err := ReadAdjacencyLog(path, func(r AdjacencyRecord) error {
		ids = append(ids, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []identity.NodeID{idA, idB}, ids)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 2, stats.Malformed)
	assert.True(t, stats.IncompleteTail)
	assert.Equal(t, 3, stats.Skipped())
}

func TestReopenIsolatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.ndjson")
	torn := `{"id":"11111111-1111-4111-8111-111111111111","name":"A","url":""}` + "\n" + `{"id":"2222`
	require.NoError(t, os.WriteFile(path, []byte(torn), 0644))

	log, err := OpenAppendLog(path, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(MetadataRecord{ID: idC, Name: "C", URL: "u"}))
	require.NoError(t, log.Close())

	var got []identity.NodeID
	stats, err := ReadMetadataLog(path, func(m MetadataRecord) error {
		got = append(got, m.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []identity.NodeID{idA, idC}, got)
	assert.Equal(t, 1, stats.Malformed)
	assert.False(t, stats.IncompleteTail)
}

func TestRecordValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.ndjson")
	content := `{"connections":[]}` + "\n" +
		`{"id":"11111111-1111-4111-8111-111111111111"}` + "\n" +
		`{"id":"11111111-1111-4111-8111-111111111111","connections":[["22222222-2222-4222-8222-222222222222"]]}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	stats, err := ReadAdjacencyLog(path, func(AdjacencyRecord) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Records)
	assert.Equal(t, 3, stats.Malformed)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cp := Checkpoint{StatePath: filepath.Join(dir, "collection_state.json"), SeenPath: filepath.Join(dir, "seen_metadata.txt")}

	_, _, ok, err := cp.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	state := FrontierState{Processed: []identity.NodeID{idA}, Queue: []identity.NodeID{idB, idC}}
	require.NoError(t, cp.Save(state, []identity.NodeID{idA, idB, idC}))

	loaded, seen, ok, err := cp.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state, loaded)
	assert.Equal(t, []identity.NodeID{idA, idB, idC}, seen)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestCheckpointEmptyStateIsArrays(t *testing.T) {
	dir := t.TempDir()
	cp := Checkpoint{StatePath: filepath.Join(dir, "state.json"), SeenPath: filepath.Join(dir, "seen.txt")}
	require.NoError(t, cp.Save(FrontierState{}, nil))

	data, err := os.ReadFile(cp.StatePath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed_mbids":[],"queue":[]}`, string(data))
}

func TestNameIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := NewNameIndex(filepath.Join(dir, "names.db"), 2)
	require.NoError(t, err)
	defer idx.Close()

	missing, err := idx.Get(idA)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, idx.Put(MetadataRecord{ID: idA, Name: "First", URL: "u1"}))
	require.NoError(t, idx.Put(MetadataRecord{ID: idA, Name: "Second", URL: "u2"}))

	got, err := idx.Get(idA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "First", got.Name)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNameIndexRebuild(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "metadata.ndjson")
	log, err := OpenAppendLog(metaPath, false)
	require.NoError(t, err)
	require.NoError(t, log.Append(MetadataRecord{ID: idB, Name: "B", URL: "ub"}))
	require.NoError(t, log.Append(MetadataRecord{ID: idC, Name: "C", URL: "uc"}))
	require.NoError(t, log.Append(MetadataRecord{ID: idB, Name: "B again", URL: "ub2"}))
	require.NoError(t, log.Close())

	idx, err := NewNameIndex(filepath.Join(dir, "names.db"), 16)
	require.NoError(t, err)
	defer idx.Close()

	stats, err := idx.Rebuild(metaPath)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := idx.Get(idB)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "B", got.Name)
}
