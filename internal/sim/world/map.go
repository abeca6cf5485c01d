package world

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/sim/world/terrain/store"
)

var ErrNotResident = errors.New("chunk not resident")

// Map keeps the chunks around a viewpoint resident. It has a single owner and
// is not safe for concurrent use; the factory it shares is.
type Map struct {
	cfg     grid.Config
	factory *genpkg.TileFactory

	// Accessed only from the owning goroutine.
	chunks map[grid.Key]*store.Chunk

	session string
	log     *log.Logger
	events  EventLogger

	seq     uint64
	metrics Metrics
}

// Delta reports what one reconciliation changed.
type Delta struct {
	Center    grid.ChunkCoord   `json:"center"`
	Created   []grid.ChunkCoord `json:"created,omitempty"`
	Destroyed []grid.ChunkCoord `json:"destroyed,omitempty"`
}

func (d Delta) Empty() bool { return len(d.Created) == 0 && len(d.Destroyed) == 0 }

// ChunkView is a renderer-facing copy of a resident chunk.
type ChunkView struct {
	Coord  grid.ChunkCoord
	Rect   grid.Rect
	Edge   int
	Tiles  []genpkg.Tile // row-major, index tx + ty*Edge
	Digest [32]byte
}

func (v ChunkView) Tile(tx, ty int) (genpkg.Tile, error) {
	if tx < 0 || ty < 0 || tx >= v.Edge || ty >= v.Edge {
		return genpkg.Tile{}, fmt.Errorf("%w: tile (%d,%d) outside chunk %v", grid.ErrInvalidCoordinate, tx, ty, v.Coord)
	}
	return v.Tiles[tx+ty*v.Edge], nil
}

func (v ChunkView) Packed() []byte {
	out := make([]byte, len(v.Tiles))
	for i, t := range v.Tiles {
		out[i] = store.PackTile(t)
	}
	return out
}

func New(cfg grid.Config, f *genpkg.TileFactory) *Map {
	return &Map{
		cfg:     cfg,
		factory: f,
		chunks:  map[grid.Key]*store.Chunk{},
	}
}

// Open builds a map with its own tile factory.
func Open(cfg grid.Config, p genpkg.Params) (*Map, error) {
	f, err := genpkg.NewTileFactory(cfg, p)
	if err != nil {
		return nil, err
	}
	return New(cfg, f), nil
}

func (m *Map) SetLogger(l *log.Logger)      { m.log = l }
func (m *Map) SetEventLogger(l EventLogger) { m.events = l }
func (m *Map) SetSession(id string)         { m.session = id }

func (m *Map) Config() grid.Config          { return m.cfg }
func (m *Map) Factory() *genpkg.TileFactory { return m.factory }
func (m *Map) Session() string              { return m.session }
func (m *Map) Len() int                     { return len(m.chunks) }

func (m *Map) ChunkIndexForPixel(px, py float64) grid.ChunkCoord {
	return m.cfg.ChunkIndexForPixel(px, py)
}

// Update makes exactly the chunks within the view radius of the viewpoint's
// chunk resident. Only resident chunks and the new neighbourhood are visited,
// so the cost does not grow with the world.
func (m *Map) Update(px, py float64) Delta {
	start := time.Now()
	center := m.ChunkIndexForPixel(px, py)
	r := m.cfg.ViewRadius()
	d := Delta{Center: center}

	var leaving []grid.ChunkCoord
	for _, ch := range m.chunks {
		if !grid.InNeighborhood(ch.Coord(), center, r) {
			leaving = append(leaving, ch.Coord())
		}
	}
	grid.SortCoords(leaving)
	for _, c := range leaving {
		if m.DestroyChunk(c.CX, c.CY) {
			d.Destroyed = append(d.Destroyed, c)
		}
	}
	for _, c := range m.cfg.Neighborhood(center, r) {
		if m.RenderChunk(c.CX, c.CY) {
			d.Created = append(d.Created, c)
		}
	}

	m.finishUpdate(start)
	return d
}

// FullSweep reconciles by visiting every cell 0 <= i, j <= ChunksPerEdge. The
// extra row and column past the world are no-ops in RenderChunk/DestroyChunk.
// It leaves the same chunks resident as Update.
func (m *Map) FullSweep(px, py float64) Delta {
	start := time.Now()
	center := m.ChunkIndexForPixel(px, py)
	r := m.cfg.ViewRadius()
	d := Delta{Center: center}

	n := m.cfg.ChunksPerEdge()
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			c := grid.ChunkCoord{CX: i, CY: j}
			if grid.InNeighborhood(c, center, r) {
				if m.RenderChunk(i, j) {
					d.Created = append(d.Created, c)
				}
			} else if m.DestroyChunk(i, j) {
				d.Destroyed = append(d.Destroyed, c)
			}
		}
	}
	grid.SortCoords(d.Created)
	grid.SortCoords(d.Destroyed)

	m.finishUpdate(start)
	return d
}

func (m *Map) finishUpdate(start time.Time) {
	m.metrics.Updates++
	m.metrics.Resident = len(m.chunks)
	m.metrics.LastUpdateMS = float64(time.Since(start).Microseconds()) / 1000
}

// RenderChunk creates the chunk unless it is outside the world or already
// resident. It reports whether a chunk was created.
func (m *Map) RenderChunk(cx, cy int) bool {
	c := grid.ChunkCoord{CX: cx, CY: cy}
	if !m.cfg.ValidChunk(c) {
		return false
	}
	k := m.cfg.Key(c)
	if _, ok := m.chunks[k]; ok {
		return false
	}
	ch := store.NewChunk(m.cfg, c, m.factory)
	m.chunks[k] = ch
	m.metrics.Created++
	m.metrics.Resident = len(m.chunks)
	if m.log != nil {
		m.log.Printf("creating chunk: %d with index: %d %d", k, cx, cy)
	}
	m.emit(ChunkCreated, k, ch)
	return true
}

// DestroyChunk removes and releases a resident chunk. Absent chunks are a no-op.
func (m *Map) DestroyChunk(cx, cy int) bool {
	c := grid.ChunkCoord{CX: cx, CY: cy}
	if !m.cfg.ValidChunk(c) {
		return false
	}
	k := m.cfg.Key(c)
	ch, ok := m.chunks[k]
	if !ok {
		return false
	}
	delete(m.chunks, k)
	m.metrics.Destroyed++
	m.metrics.Resident = len(m.chunks)
	if m.log != nil {
		m.log.Printf("destroying chunk: %d with index: %d %d", k, cx, cy)
	}
	m.emit(ChunkDestroyed, k, ch)
	ch.Destroy()
	return true
}

func (m *Map) Resident() []grid.ChunkCoord {
	out := make([]grid.ChunkCoord, 0, len(m.chunks))
	for _, ch := range m.chunks {
		out = append(out, ch.Coord())
	}
	grid.SortCoords(out)
	return out
}

func (m *Map) IsResident(cx, cy int) bool {
	c := grid.ChunkCoord{CX: cx, CY: cy}
	if !m.cfg.ValidChunk(c) {
		return false
	}
	_, ok := m.chunks[m.cfg.Key(c)]
	return ok
}

func (m *Map) Chunk(cx, cy int) (ChunkView, bool) {
	c := grid.ChunkCoord{CX: cx, CY: cy}
	if !m.cfg.ValidChunk(c) {
		return ChunkView{}, false
	}
	ch, ok := m.chunks[m.cfg.Key(c)]
	if !ok {
		return ChunkView{}, false
	}
	return viewOf(ch), true
}

// Views returns copies of all resident chunks, ordered like Resident.
func (m *Map) Views() []ChunkView {
	coords := m.Resident()
	out := make([]ChunkView, 0, len(coords))
	for _, c := range coords {
		out = append(out, viewOf(m.chunks[m.cfg.Key(c)]))
	}
	return out
}

func viewOf(ch *store.Chunk) ChunkView {
	return ChunkView{
		Coord:  ch.Coord(),
		Rect:   ch.BoundingRect(),
		Edge:   ch.Edge(),
		Tiles:  ch.Snapshot(),
		Digest: ch.Digest(),
	}
}

// Tile reads a chunk-local tile of a resident chunk.
func (m *Map) Tile(cx, cy, tx, ty int) (genpkg.Tile, error) {
	c := grid.ChunkCoord{CX: cx, CY: cy}
	if !m.cfg.ValidChunk(c) {
		return genpkg.Tile{}, fmt.Errorf("%w: chunk %v outside world of %d chunks per edge", grid.ErrInvalidCoordinate, c, m.cfg.ChunksPerEdge())
	}
	ch, ok := m.chunks[m.cfg.Key(c)]
	if !ok {
		return genpkg.Tile{}, fmt.Errorf("%w: %v", ErrNotResident, c)
	}
	return ch.Get(tx, ty)
}

// Pick resolves a pixel to its chunk and tile. The tile is only meaningful when
// ok is true, i.e. the chunk is resident.
type Pick struct {
	Chunk grid.ChunkCoord
	Tile  grid.TileCoord
	Value genpkg.Tile
	OK    bool
}

func (m *Map) TileAtPixel(px, py float64) Pick {
	cc, tc := m.cfg.TileForPixel(px, py)
	p := Pick{Chunk: cc, Tile: tc}
	if v, err := m.Tile(cc.CX, cc.CY, tc.TX, tc.TY); err == nil {
		p.Value = v
		p.OK = true
	}
	return p
}

// Close destroys every resident chunk.
func (m *Map) Close() {
	for _, c := range m.Resident() {
		m.DestroyChunk(c.CX, c.CY)
	}
}

func (m *Map) Metrics() Metrics {
	out := m.metrics
	out.Resident = len(m.chunks)
	return out
}

func (m *Map) emit(kind ChunkEventKind, k grid.Key, ch *store.Chunk) {
	if m.events == nil {
		return
	}
	m.seq++
	ev := ChunkEvent{
		Session: m.session,
		Seq:     m.seq,
		Update:  m.metrics.Updates,
		Kind:    kind,
		CX:      ch.Coord().CX,
		CY:      ch.Coord().CY,
		Key:     int64(k),
	}
	if kind == ChunkCreated {
		digest := ch.Digest()
		ev.Digest = hex.EncodeToString(digest[:])
		ev.Histogram = map[string]int{}
		for t, n := range ch.Histogram() {
			ev.Histogram[t.String()] = n
		}
	}
	if err := m.events.WriteChunkEvent(ev); err != nil && m.log != nil {
		m.log.Printf("chunk event: %v", err)
	}
}
