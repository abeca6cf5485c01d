package main

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/transport/observer"
)

type sliceLogger struct {
	events []world.ChunkEvent
	err    error
}

func (s *sliceLogger) WriteChunkEvent(ev world.ChunkEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestMultiEventLoggerFansOut(t *testing.T) {
	a := &sliceLogger{err: errors.New("disk full")}
	b := &sliceLogger{}
	m := multiEventLogger{a: a, b: b}

	err := m.WriteChunkEvent(world.ChunkEvent{Seq: 1, Kind: world.ChunkCreated})
	require.EqualError(t, err, "disk full")
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1, "second sink must still receive the event")

	require.NoError(t, multiEventLogger{b: b}.WriteChunkEvent(world.ChunkEvent{Seq: 2}))
	require.Len(t, b.events, 2)
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, observer.Metrics{ActiveSessions: 2, SessionsTotal: 5, Resident: 8, Created: 13, Destroyed: 5, Updates: 21})
	out := buf.String()
	for _, line := range []string{
		"chunkmap_sessions_active 2",
		"chunkmap_sessions_total 5",
		"chunkmap_resident_chunks 8",
		`chunkmap_chunks_total{kind="created"} 13`,
		`chunkmap_chunks_total{kind="destroyed"} 5`,
		"chunkmap_updates_total 21",
		"# TYPE chunkmap_updates_total counter",
	} {
		require.Contains(t, out, line+"\n")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	require.True(t, isLoopbackRemote("127.0.0.1:1234"))
	require.True(t, isLoopbackRemote("[::1]:80"))
	require.False(t, isLoopbackRemote("10.0.0.1:80"))
	require.False(t, isLoopbackRemote("not-an-ip"))
}

func TestOpenRuntimeIndexBackends(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	tune := tuning.Defaults()

	idx, err := openRuntimeIndex(t.TempDir(), tune, true, logger)
	require.NoError(t, err)
	require.Nil(t, idx)

	t.Setenv("CHUNKMAP_INDEX_BACKEND", "none")
	idx, err = openRuntimeIndex(t.TempDir(), tune, false, logger)
	require.NoError(t, err)
	require.Nil(t, idx)

	t.Setenv("CHUNKMAP_INDEX_BACKEND", "remote")
	_, err = openRuntimeIndex(t.TempDir(), tune, false, logger)
	require.ErrorContains(t, err, "CHUNKMAP_INDEX_REMOTE_URL")

	t.Setenv("CHUNKMAP_INDEX_BACKEND", "postgres")
	_, err = openRuntimeIndex(t.TempDir(), tune, false, logger)
	require.ErrorContains(t, err, "unsupported")

	t.Setenv("CHUNKMAP_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(t.TempDir(), tune, false, logger)
	require.NoError(t, err)
	require.NoError(t, idx.WriteChunkEvent(world.ChunkEvent{Session: "s", Seq: 1, Kind: world.ChunkCreated}))
	var buf bytes.Buffer
	idx.WriteMetrics(&buf)
	require.Contains(t, buf.String(), `chunkmap_index_queue_depth{backend="sqlite"}`)
	require.NoError(t, idx.Close())
}

func TestMirrorDisabledByDefault(t *testing.T) {
	r, err := buildR2MirrorRuntime(t.TempDir(), nil)
	require.NoError(t, err)
	require.False(t, r.enabled)
	require.Nil(t, r.loggerOptions().OnClose)

	var buf bytes.Buffer
	r.writeMetrics(&buf)
	require.Zero(t, buf.Len())
	r.Close()

	t.Setenv("CHUNKMAP_R2_MIRROR", "true")
	_, err = buildR2MirrorRuntime(t.TempDir(), nil)
	require.ErrorContains(t, err, "CHUNKMAP_R2_ENDPOINT")
}

func TestMuxRoutes(t *testing.T) {
	f, err := genpkg.NewTileFactory(grid.DefaultConfig(), genpkg.DefaultParams())
	require.NoError(t, err)
	obs := observer.NewServer(f, nil, observer.Options{})
	mirror, err := buildR2MirrorRuntime(t.TempDir(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(newMux(obs, muxOptions{Mirror: mirror, EnableAdmin: true}))
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	code, body := get("/healthz")
	require.Equal(t, 200, code)
	require.Equal(t, "ok", body)

	code, body = get("/metrics")
	require.Equal(t, 200, code)
	require.Contains(t, body, "chunkmap_sessions_active 0")

	code, body = get("/v1/bootstrap")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"chunks_per_edge":8`)

	code, body = get("/admin/v1/state")
	require.Equal(t, 200, code)
	require.True(t, strings.Contains(body, `"world_params"`) && strings.Contains(body, `"metrics"`), body)

	code, _ = get("/debug/pprof/")
	require.Equal(t, http.StatusNotFound, code)
}
