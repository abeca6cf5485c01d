package store

import (
	"crypto/sha256"
	"fmt"

	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
)

// treeBit marks the tree subtype in a packed tile byte.
const treeBit = 0x10

type Chunk struct {
	coord grid.ChunkCoord
	rect  grid.Rect
	edge  int

	Tiles []genpkg.Tile // len = edge*edge, index tx + ty*edge

	destroyed bool
	hash      [32]byte
}

// NewChunk classifies every tile of the chunk before returning it.
func NewChunk(cfg grid.Config, coord grid.ChunkCoord, c genpkg.Classifier) *Chunk {
	edge := cfg.TilesPerChunkEdge()
	ch := &Chunk{
		coord: coord,
		rect:  cfg.ChunkRect(coord),
		edge:  edge,
		Tiles: make([]genpkg.Tile, edge*edge),
	}
	ch.generate(c)
	return ch
}

func (c *Chunk) generate(cl genpkg.Classifier) {
	for ty := 0; ty < c.edge; ty++ {
		for tx := 0; tx < c.edge; tx++ {
			c.Tiles[c.index(tx, ty)] = cl.Classify(c.coord.CX, c.coord.CY, tx, ty)
		}
	}
	c.hash = c.digest()
}

func (c *Chunk) index(tx, ty int) int {
	return tx + ty*c.edge
}

func (c *Chunk) Coord() grid.ChunkCoord { return c.coord }

// BoundingRect is the chunk's rectangle in pixel space.
func (c *Chunk) BoundingRect() grid.Rect { return c.rect }

func (c *Chunk) Edge() int { return c.edge }

func (c *Chunk) Destroyed() bool { return c.destroyed }

func (c *Chunk) Get(tx, ty int) (genpkg.Tile, error) {
	if c.destroyed {
		return genpkg.Tile{}, fmt.Errorf("%w: chunk %v destroyed", grid.ErrInvalidCoordinate, c.coord)
	}
	if tx < 0 || ty < 0 || tx >= c.edge || ty >= c.edge {
		return genpkg.Tile{}, fmt.Errorf("%w: tile (%d,%d) outside chunk %v of edge %d", grid.ErrInvalidCoordinate, tx, ty, c.coord, c.edge)
	}
	return c.Tiles[c.index(tx, ty)], nil
}

// Snapshot copies the tile grid in row-major order.
func (c *Chunk) Snapshot() []genpkg.Tile {
	out := make([]genpkg.Tile, len(c.Tiles))
	copy(out, c.Tiles)
	return out
}

// Packed returns one byte per tile: the texture index, with treeBit set for trees.
func (c *Chunk) Packed() []byte {
	out := make([]byte, len(c.Tiles))
	for i, t := range c.Tiles {
		out[i] = PackTile(t)
	}
	return out
}

func (c *Chunk) Histogram() map[genpkg.Terrain]int {
	h := map[genpkg.Terrain]int{}
	for _, t := range c.Tiles {
		h[t.Terrain]++
	}
	return h
}

// Digest identifies the tile contents; two chunks generated from the same
// factory state and coordinate share it.
func (c *Chunk) Digest() [32]byte { return c.hash }

func (c *Chunk) digest() [32]byte {
	h := sha256.New()
	h.Write(c.Packed())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Destroy releases the tile storage. The chunk must not be used afterwards;
// Get reports ErrInvalidCoordinate on a destroyed chunk.
func (c *Chunk) Destroy() {
	c.Tiles = nil
	c.destroyed = true
	c.hash = [32]byte{}
}

func PackTile(t genpkg.Tile) byte {
	b := byte(genpkg.TextureIndex(t.Terrain)) & 0x0f
	if t.Subtype == genpkg.Tree {
		b |= treeBit
	}
	return b
}

func UnpackTile(b byte) genpkg.Tile {
	t := genpkg.Tile{Terrain: genpkg.Terrain(b & 0x0f)}
	if b&treeBit != 0 {
		t.Subtype = genpkg.Tree
	}
	return t
}
