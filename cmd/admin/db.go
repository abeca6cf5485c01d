package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type sessionRow struct {
	ID        string `json:"id"`
	Remote    string `json:"remote"`
	OpenedAt  string `json:"opened_at"`
	ClosedAt  string `json:"closed_at,omitempty"`
	Created   int    `json:"chunks_created"`
	Destroyed int    `json:"chunks_destroyed"`
}

type eventRow struct {
	Seq    int64  `json:"seq"`
	Update int64  `json:"update"`
	Kind   string `json:"kind"`
	CX     int    `json:"cx"`
	CY     int    `json:"cy"`
	Digest string `json:"digest,omitempty"`
}

type hotChunk struct {
	CX      int `json:"cx"`
	CY      int `json:"cy"`
	Created int `json:"created"`
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/chunks.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	session := fs.String("session", "", "session id (events query)")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "chunks.sqlite")
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var out any
	switch q {
	case "sessions":
		out, err = querySessions(db, *limit)
	case "counts":
		out, err = queryCounts(db)
	case "hot":
		out, err = queryHotChunks(db, *limit)
	case "events":
		if *session == "" {
			fmt.Fprintln(os.Stderr, "events requires -session")
			os.Exit(2)
		}
		out, err = querySessionEvents(db, *session, *limit)
	case "config":
		out, err = queryConfig(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(sessions|counts|hot|events|config)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(out)
}

func querySessions(db *sql.DB, limit int) ([]sessionRow, error) {
	rows, err := db.Query(`SELECT id, remote, opened_at, COALESCE(closed_at, ''), chunks_created, chunks_destroyed
		FROM sessions ORDER BY opened_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []sessionRow{}
	for rows.Next() {
		var r sessionRow
		if err := rows.Scan(&r.ID, &r.Remote, &r.OpenedAt, &r.ClosedAt, &r.Created, &r.Destroyed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryCounts(db *sql.DB) (map[string]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM chunk_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// queryHotChunks ranks chunks by how often renderers brought them into view.
func queryHotChunks(db *sql.DB, limit int) ([]hotChunk, error) {
	rows, err := db.Query(`SELECT cx, cy, COUNT(*) AS n FROM chunk_events WHERE kind = 'CREATE'
		GROUP BY cx, cy ORDER BY n DESC, cy, cx LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []hotChunk{}
	for rows.Next() {
		var h hotChunk
		if err := rows.Scan(&h.CX, &h.CY, &h.Created); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func querySessionEvents(db *sql.DB, session string, limit int) ([]eventRow, error) {
	rows, err := db.Query(`SELECT seq, update_no, kind, cx, cy, COALESCE(digest, '')
		FROM chunk_events WHERE session = ? ORDER BY seq LIMIT ?`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []eventRow{}
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.Seq, &r.Update, &r.Kind, &r.CX, &r.CY, &r.Digest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryConfig(db *sql.DB) (map[string]any, error) {
	out := map[string]any{}
	meta := map[string]string{}
	rows, err := db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	out["meta"] = meta

	var digest, raw, updated string
	err = db.QueryRow(`SELECT digest, json, updated_at FROM config WHERE name = 'tuning'`).Scan(&digest, &raw, &updated)
	switch {
	case err == sql.ErrNoRows:
		return out, nil
	case err != nil:
		return nil, err
	}
	out["tuning_digest"] = digest
	out["tuning_updated_at"] = updated
	out["tuning"] = json.RawMessage(raw)
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
