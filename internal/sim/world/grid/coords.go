package grid

import (
	"fmt"
	"sort"

	"chunkmap.dev/internal/sim/world/logic/mathx"
)

type ChunkCoord struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
}

func (c ChunkCoord) String() string { return fmt.Sprintf("(%d,%d)", c.CX, c.CY) }

// TileCoord is local to a chunk.
type TileCoord struct {
	TX int `json:"tx"`
	TY int `json:"ty"`
}

func (t TileCoord) String() string { return fmt.Sprintf("(%d,%d)", t.TX, t.TY) }

// Rect is a pixel-space rectangle.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (r Rect) Contains(px, py int) bool {
	return px >= r.X && py >= r.Y && px < r.X+r.W && py < r.Y+r.H
}

type Key int64

// HashPair packs a chunk coordinate into a cache key. Injective for
// 0 <= x, y < 65536.
func HashPair(x, y int) Key {
	return Key(int64(y)<<16 ^ int64(x))
}

// PixelToWorldTile clamps negative pixels to the world origin, then floors to a
// world-space tile index.
func (c Config) PixelToWorldTile(px, py float64) (int, int) {
	px = mathx.ClampMin(px, 0)
	py = mathx.ClampMin(py, 0)
	ts := float64(c.tileSizePx)
	return mathx.FloorToInt(px / ts), mathx.FloorToInt(py / ts)
}

func (c Config) WorldTileToChunk(tileX, tileY int) ChunkCoord {
	return ChunkCoord{
		CX: mathx.FloorDiv(tileX, c.tilesPerChunkEdge),
		CY: mathx.FloorDiv(tileY, c.tilesPerChunkEdge),
	}
}

func (c Config) WorldTileToLocal(tileX, tileY int) TileCoord {
	return TileCoord{
		TX: mathx.Mod(tileX, c.tilesPerChunkEdge),
		TY: mathx.Mod(tileY, c.tilesPerChunkEdge),
	}
}

// LocalToWorldTile is the inverse of WorldTileToChunk + WorldTileToLocal.
func (c Config) LocalToWorldTile(cc ChunkCoord, tc TileCoord) (int, int) {
	return cc.CX*c.tilesPerChunkEdge + tc.TX, cc.CY*c.tilesPerChunkEdge + tc.TY
}

// ChunkIndexForPixel maps a pixel position to the chunk containing it.
// Positions left of or above the origin resolve as if they were at the origin.
// The result may lie past the far edge of the world; callers bounds-check it.
func (c Config) ChunkIndexForPixel(px, py float64) ChunkCoord {
	tx, ty := c.PixelToWorldTile(px, py)
	return c.WorldTileToChunk(tx, ty)
}

// TileForPixel resolves a pixel to its chunk and chunk-local tile.
func (c Config) TileForPixel(px, py float64) (ChunkCoord, TileCoord) {
	tx, ty := c.PixelToWorldTile(px, py)
	return c.WorldTileToChunk(tx, ty), c.WorldTileToLocal(tx, ty)
}

func (c Config) ChunkRect(cc ChunkCoord) Rect {
	return Rect{
		X: cc.CX * c.chunkSizePx,
		Y: cc.CY * c.chunkSizePx,
		W: c.chunkSizePx,
		H: c.chunkSizePx,
	}
}

// TileRect is the pixel rectangle of a chunk-local tile.
func (c Config) TileRect(cc ChunkCoord, tc TileCoord) Rect {
	wx, wy := c.LocalToWorldTile(cc, tc)
	return Rect{X: wx * c.tileSizePx, Y: wy * c.tileSizePx, W: c.tileSizePx, H: c.tileSizePx}
}

// Neighborhood lists the chunks within radius of center, clipped to the world,
// sorted by CY then CX.
func (c Config) Neighborhood(center ChunkCoord, radius int) []ChunkCoord {
	out := make([]ChunkCoord, 0, (2*radius+1)*(2*radius+1))
	for cy := center.CY - radius; cy <= center.CY+radius; cy++ {
		for cx := center.CX - radius; cx <= center.CX+radius; cx++ {
			cc := ChunkCoord{CX: cx, CY: cy}
			if c.ValidChunk(cc) {
				out = append(out, cc)
			}
		}
	}
	return out
}

// InNeighborhood reports whether cc is within radius of center on both axes.
func InNeighborhood(cc, center ChunkCoord, radius int) bool {
	return mathx.AbsInt(cc.CX-center.CX) <= radius && mathx.AbsInt(cc.CY-center.CY) <= radius
}

// SortCoords orders coordinates by CY then CX.
func SortCoords(cs []ChunkCoord) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CY != cs[j].CY {
			return cs[i].CY < cs[j].CY
		}
		return cs[i].CX < cs[j].CX
	})
}
