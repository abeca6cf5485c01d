package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "chunkmap.dev/internal/persistence/log"
	"chunkmap.dev/internal/sim/world"
	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/sim/world/terrain/store"
)

// verifier replays chunk events, checking each session's lifecycle and that
// every created chunk regenerates to the logged digest.
type verifier struct {
	f       *genpkg.TileFactory
	cfg     grid.Config
	only    string
	digests map[grid.ChunkCoord]string

	sessions map[string]*sessionState
	creates  int
	destroys int
}

type sessionState struct {
	seq      uint64
	resident map[grid.Key]bool
}

func newVerifier(f *genpkg.TileFactory, only string) *verifier {
	return &verifier{
		f:        f,
		cfg:      f.Config(),
		only:     only,
		digests:  map[grid.ChunkCoord]string{},
		sessions: map[string]*sessionState{},
	}
}

func (v *verifier) resident() int {
	n := 0
	for _, s := range v.sessions {
		n += len(s.resident)
	}
	return n
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "chunks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func (v *verifier) replayFile(path string) error {
	evs, err := persistlog.ReadEvents(path)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		if err := v.apply(ev); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (v *verifier) apply(ev world.ChunkEvent) error {
	if v.only != "" && ev.Session != v.only {
		return nil
	}
	s := v.sessions[ev.Session]
	if s == nil {
		s = &sessionState{resident: map[grid.Key]bool{}}
		v.sessions[ev.Session] = s
	}
	if ev.Seq != s.seq+1 {
		return fmt.Errorf("session %s: seq gap: want=%d got=%d", ev.Session, s.seq+1, ev.Seq)
	}
	s.seq = ev.Seq

	c := grid.ChunkCoord{CX: ev.CX, CY: ev.CY}
	if !v.cfg.ValidChunk(c) {
		return fmt.Errorf("session %s seq %d: chunk %v outside world", ev.Session, ev.Seq, c)
	}
	k := v.cfg.Key(c)
	if int64(k) != ev.Key {
		return fmt.Errorf("session %s seq %d: key mismatch for %v: got=%d want=%d", ev.Session, ev.Seq, c, ev.Key, k)
	}

	switch ev.Kind {
	case world.ChunkCreated:
		if s.resident[k] {
			return fmt.Errorf("session %s seq %d: %v created twice", ev.Session, ev.Seq, c)
		}
		if want := v.digest(c); ev.Digest != want {
			return fmt.Errorf("session %s seq %d: digest mismatch at %v: got=%s want=%s", ev.Session, ev.Seq, c, ev.Digest, want)
		}
		s.resident[k] = true
		v.creates++
	case world.ChunkDestroyed:
		if !s.resident[k] {
			return fmt.Errorf("session %s seq %d: %v destroyed while not resident", ev.Session, ev.Seq, c)
		}
		delete(s.resident, k)
		v.destroys++
	default:
		return fmt.Errorf("session %s seq %d: unknown kind %q", ev.Session, ev.Seq, ev.Kind)
	}
	return nil
}

// digest regenerates a chunk once per coordinate.
func (v *verifier) digest(c grid.ChunkCoord) string {
	if d, ok := v.digests[c]; ok {
		return d
	}
	ch := store.NewChunk(v.cfg, c, v.f)
	sum := ch.Digest()
	ch.Destroy()
	d := hex.EncodeToString(sum[:])
	v.digests[c] = d
	return d
}
