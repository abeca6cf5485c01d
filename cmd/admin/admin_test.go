package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chunkmap.dev/internal/persistence/indexdb"
	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
)

func seedIndex(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "chunks.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, idx.UpsertConfig(tuning.Defaults()))

	f, err := genpkg.NewTileFactory(grid.DefaultConfig(), genpkg.DefaultParams())
	require.NoError(t, err)
	for _, id := range []string{"s1", "s2"} {
		idx.RecordSessionOpen(id, "127.0.0.1:1")
		m := world.New(f.Config(), f)
		m.SetSession(id)
		m.SetEventLogger(idx)
		m.Update(0, 0)
		m.Update(2048, 1024)
		idx.RecordSessionClose(id, m.Metrics())
	}
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBQueries(t *testing.T) {
	db := seedIndex(t)

	sessions, err := querySessions(db, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.Equal(t, 11, s.Created)
		require.Equal(t, 2, s.Destroyed)
		require.NotEmpty(t, s.ClosedAt)
	}

	counts, err := queryCounts(db)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"CREATE": 22, "DESTROY": 4}, counts)

	hot, err := queryHotChunks(db, 3)
	require.NoError(t, err)
	require.Len(t, hot, 3)
	// Every chunk was created once per session; ties order by row then column.
	require.Equal(t, hotChunk{CX: 0, CY: 0, Created: 2}, hot[0])

	evs, err := querySessionEvents(db, "s2", 100)
	require.NoError(t, err)
	require.Len(t, evs, 13)
	require.Equal(t, int64(1), evs[0].Seq)
	require.Equal(t, "CREATE", evs[0].Kind)
	require.Len(t, evs[0].Digest, 64)
	require.Equal(t, "DESTROY", evs[4].Kind)

	cfg, err := queryConfig(db)
	require.NoError(t, err)
	require.Contains(t, cfg, "tuning")
	require.NotEmpty(t, cfg["tuning_digest"])
	raw, err := json.Marshal(cfg["tuning"])
	require.NoError(t, err)
	require.Contains(t, string(raw), `"chunk_size_px":1024`)
}

func TestSummarizeSegment(t *testing.T) {
	evs := []world.ChunkEvent{
		{Session: "a", Kind: world.ChunkCreated, Key: 1, Histogram: map[string]int{"water": 1000, "sand": 24}},
		{Session: "a", Kind: world.ChunkCreated, Key: 65536, Histogram: map[string]int{"water": 24, "grass": 1000}},
		{Session: "b", Kind: world.ChunkCreated, Key: 1, Histogram: map[string]int{"water": 1024}},
		{Session: "a", Kind: world.ChunkDestroyed, Key: 1},
	}
	s := summarizeSegment("seg", evs)
	require.Equal(t, 4, s.Events)
	require.Equal(t, map[string]int{"CREATE": 3, "DESTROY": 1}, s.Kinds)
	require.Equal(t, map[string]int{"a": 3, "b": 1}, s.Sessions)
	require.Equal(t, 2, s.Chunks)
	require.Equal(t, map[string]int{"water": 2048, "sand": 24, "grass": 1000}, s.Terrain)
}

func TestFetchState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write([]byte(`{"metrics":{}}` + "\n"))
	}))
	defer ts.Close()

	body, err := fetchState(ts.URL + "/")
	require.NoError(t, err)
	require.Equal(t, `{"metrics":{}}`, body)

	_, err = fetchState(ts.URL + "/nested")
	require.ErrorContains(t, err, "status 404")
}
