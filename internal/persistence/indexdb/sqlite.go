package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
)

// SQLiteIndex is a read-model of chunk lifecycle events and observer sessions.
// Writes are queued and applied by a single goroutine; the zstd event log
// remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent   atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSessionOpen
	reqSessionClose
	reqFlush
)

type req struct {
	kind reqKind

	event   world.ChunkEvent
	session sessionRow
	done    chan struct{}
}

type sessionRow struct {
	ID        string
	Remote    string
	At        string
	Created   uint64
	Destroyed uint64
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropEventTotal   uint64 `json:"drop_event_total"`
	DropSessionTotal uint64 `json:"drop_session_total"`
}

const (
	commitEvery   = 2000
	commitMaxWait = 250 * time.Millisecond
)

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Fast drags over a large radius create bursts of events.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			update_no INTEGER NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			chunk_key INTEGER NOT NULL,
			digest TEXT,
			histogram_json TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_pos ON chunk_events(cx, cy);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_kind ON chunk_events(kind);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			remote TEXT NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			chunks_created INTEGER NOT NULL DEFAULT 0,
			chunks_destroyed INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropEventTotal:   s.dropEvent.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

func (s *SQLiteIndex) WriteChunkEvent(ev world.ChunkEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		// Drop if the indexer falls behind.
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSessionOpen(id, remote string) {
	if s == nil || s.closed.Load() || id == "" {
		return
	}
	r := sessionRow{ID: id, Remote: remote, At: time.Now().UTC().Format(time.RFC3339Nano)}
	select {
	case s.ch <- req{kind: reqSessionOpen, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) RecordSessionClose(id string, m world.Metrics) {
	if s == nil || s.closed.Load() || id == "" {
		return
	}
	r := sessionRow{
		ID:        id,
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		Created:   m.Created,
		Destroyed: m.Destroyed,
	}
	select {
	case s.ch <- req{kind: reqSessionClose, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

// Flush blocks until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertConfig stores the tuning the server actually applies, as canonical JSON.
func (s *SQLiteIndex) UpsertConfig(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('protocol_version',?)`, tune.ProtocolVersion); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES('tuning',?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// CountEvents counts indexed events of one kind; an empty kind counts all.
func (s *SQLiteIndex) CountEvents(ctx context.Context, kind world.ChunkEventKind) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_events WHERE kind=?`, string(kind)).Scan(&n)
	}
	return n, err
}

// SessionEvents returns a session's indexed events in sequence order.
func (s *SQLiteIndex) SessionEvents(ctx context.Context, session string) ([]world.ChunkEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM chunk_events WHERE session=? ORDER BY seq`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.ChunkEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return out, err
		}
		var ev world.ChunkEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunk_events(session,seq,update_no,kind,cx,cy,chunk_key,digest,histogram_json,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	openSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,remote,opened_at) VALUES(?,?,?)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET closed_at=?, chunks_created=?, chunks_destroyed=? WHERE id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, openSession, closeSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// An idle writer must not hold the only connection open in a transaction.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			raw, _ := json.Marshal(ev)
			var hist any
			if len(ev.Histogram) > 0 {
				b, _ := json.Marshal(ev.Histogram)
				hist = string(b)
			}
			var digest any
			if ev.Digest != "" {
				digest = ev.Digest
			}
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					ev.Session,
					int64(ev.Seq),
					int64(ev.Update),
					string(ev.Kind),
					ev.CX, ev.CY,
					ev.Key,
					digest,
					hist,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSessionOpen:
			se := r.session
			if openSession != nil {
				if _, err := tx.Stmt(openSession).Exec(se.ID, se.Remote, se.At); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSessionClose:
			se := r.session
			if closeSession != nil {
				if _, err := tx.Stmt(closeSession).Exec(se.At, int64(se.Created), int64(se.Destroyed), se.ID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
