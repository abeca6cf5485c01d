package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func flush(t *testing.T, idx *SQLiteIndex) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSQLiteIndex_ChunkEvents(t *testing.T) {
	idx, _ := openTestIndex(t)

	_ = idx.WriteChunkEvent(world.ChunkEvent{Session: "a", Seq: 1, Kind: world.ChunkCreated, CX: 0, CY: 0, Digest: "d0", Histogram: map[string]int{"grass": 1024}})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Session: "a", Seq: 2, Kind: world.ChunkCreated, CX: 1, CY: 0, Key: 1})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Session: "a", Seq: 3, Kind: world.ChunkDestroyed, CX: 0, CY: 0})
	_ = idx.WriteChunkEvent(world.ChunkEvent{Session: "b", Seq: 1, Kind: world.ChunkCreated, CX: 7, CY: 7, Key: 7<<16 ^ 7})
	flush(t, idx)

	ctx := context.Background()
	if n, err := idx.CountEvents(ctx, world.ChunkCreated); err != nil || n != 3 {
		t.Fatalf("CountEvents(CREATE)=%d,%v want 3", n, err)
	}
	if n, err := idx.CountEvents(ctx, ""); err != nil || n != 4 {
		t.Fatalf("CountEvents(all)=%d,%v want 4", n, err)
	}

	evs, err := idx.SessionEvents(ctx, "a")
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("session a events=%d want 3", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("events out of order: %+v", evs)
		}
	}
	if evs[0].Histogram["grass"] != 1024 || evs[0].Digest != "d0" {
		t.Fatalf("first event lost fields: %+v", evs[0])
	}
}

func TestSQLiteIndex_SessionsAndConfig(t *testing.T) {
	idx, path := openTestIndex(t)

	if err := idx.UpsertConfig(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	idx.RecordSessionOpen("s1", "127.0.0.1:5555")
	idx.RecordSessionClose("s1", world.Metrics{Created: 9, Destroyed: 4})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		remote    string
		closedAt  sql.NullString
		created   int64
		destroyed int64
	)
	row := db.QueryRow(`SELECT remote,closed_at,chunks_created,chunks_destroyed FROM sessions WHERE id='s1'`)
	if err := row.Scan(&remote, &closedAt, &created, &destroyed); err != nil {
		t.Fatalf("Scan session: %v", err)
	}
	if remote != "127.0.0.1:5555" || !closedAt.Valid || created != 9 || destroyed != 4 {
		t.Fatalf("session row mismatch: remote=%q closed=%v created=%d destroyed=%d", remote, closedAt, created, destroyed)
	}

	var digest, js string
	if err := db.QueryRow(`SELECT digest,json FROM config WHERE name='tuning'`).Scan(&digest, &js); err != nil {
		t.Fatalf("Scan config: %v", err)
	}
	if len(digest) != 64 || js == "" {
		t.Fatalf("config row mismatch: digest=%q json=%q", digest, js)
	}
	var pv string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='protocol_version'`).Scan(&pv); err != nil || pv != "0.1" {
		t.Fatalf("protocol_version=%q,%v", pv, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	_ = s.WriteChunkEvent(world.ChunkEvent{Seq: 2})
	s.RecordSessionOpen("x", "")
	s.RecordSessionClose("x", world.Metrics{})

	st := s.Stats()
	if st.DropEventTotal != 1 {
		t.Fatalf("DropEventTotal=%d want=1", st.DropEventTotal)
	}
	if st.DropSessionTotal != 2 {
		t.Fatalf("DropSessionTotal=%d want=2", st.DropSessionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesAfterCloseAreIgnored(t *testing.T) {
	idx, _ := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteChunkEvent(world.ChunkEvent{Seq: 1}); err != nil {
		t.Fatalf("WriteChunkEvent after close: %v", err)
	}
	idx.RecordSessionOpen("late", "")
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after close: %v", err)
	}
}
