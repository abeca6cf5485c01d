package grid

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidCoordinate    = errors.New("invalid coordinate")
)

// Defaults of the reference world: 8x8 chunks of 32x32 tiles.
const (
	DefaultWorldSizePx = 8192
	DefaultChunkSizePx = 1024
	DefaultTileSizePx  = 32
	DefaultViewRadius  = 1
)

// narrowKeyLimit is the largest chunks-per-edge value for which HashPair's
// 16-bit packing stays injective.
const narrowKeyLimit = 1 << 16

// Config is the immutable world geometry. Build it with NewConfig.
type Config struct {
	worldSizePx int
	chunkSizePx int
	tileSizePx  int
	viewRadius  int

	chunksPerEdge     int
	tilesPerChunkEdge int
	tilesPerEdge      int
}

type Option func(*Config)

// WithViewRadius sets how many chunks around the viewpoint chunk stay resident.
func WithViewRadius(r int) Option {
	return func(c *Config) { c.viewRadius = r }
}

func NewConfig(worldSizePx, chunkSizePx, tileSizePx int, opts ...Option) (Config, error) {
	c := Config{
		worldSizePx: worldSizePx,
		chunkSizePx: chunkSizePx,
		tileSizePx:  tileSizePx,
		viewRadius:  DefaultViewRadius,
	}
	for _, o := range opts {
		o(&c)
	}
	if worldSizePx <= 0 || chunkSizePx <= 0 || tileSizePx <= 0 {
		return Config{}, fmt.Errorf("%w: sizes must be positive (world=%d chunk=%d tile=%d)", ErrInvalidConfiguration, worldSizePx, chunkSizePx, tileSizePx)
	}
	if worldSizePx%chunkSizePx != 0 {
		return Config{}, fmt.Errorf("%w: chunk size %d does not divide world size %d", ErrInvalidConfiguration, chunkSizePx, worldSizePx)
	}
	if chunkSizePx%tileSizePx != 0 {
		return Config{}, fmt.Errorf("%w: tile size %d does not divide chunk size %d", ErrInvalidConfiguration, tileSizePx, chunkSizePx)
	}
	if c.viewRadius < 0 {
		return Config{}, fmt.Errorf("%w: view radius %d is negative", ErrInvalidConfiguration, c.viewRadius)
	}
	c.chunksPerEdge = worldSizePx / chunkSizePx
	c.tilesPerChunkEdge = chunkSizePx / tileSizePx
	c.tilesPerEdge = c.chunksPerEdge * c.tilesPerChunkEdge
	if int64(c.chunksPerEdge) > 1<<32 {
		return Config{}, fmt.Errorf("%w: %d chunks per edge exceeds the key space", ErrInvalidConfiguration, c.chunksPerEdge)
	}
	return c, nil
}

// DefaultConfig is the 8192/1024/32 world with a one-chunk view radius.
func DefaultConfig() Config {
	c, err := NewConfig(DefaultWorldSizePx, DefaultChunkSizePx, DefaultTileSizePx)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Config) WorldSizePx() int       { return c.worldSizePx }
func (c Config) ChunkSizePx() int       { return c.chunkSizePx }
func (c Config) TileSizePx() int        { return c.tileSizePx }
func (c Config) ViewRadius() int        { return c.viewRadius }
func (c Config) ChunksPerEdge() int     { return c.chunksPerEdge }
func (c Config) TilesPerChunkEdge() int { return c.tilesPerChunkEdge }
func (c Config) TilesPerEdge() int      { return c.tilesPerEdge }

// TilesPerChunk is the number of tiles a fully populated chunk holds.
func (c Config) TilesPerChunk() int { return c.tilesPerChunkEdge * c.tilesPerChunkEdge }

func (c Config) ValidChunk(cc ChunkCoord) bool {
	return cc.CX >= 0 && cc.CY >= 0 && cc.CX < c.chunksPerEdge && cc.CY < c.chunksPerEdge
}

func (c Config) ValidTile(tc TileCoord) bool {
	return tc.TX >= 0 && tc.TY >= 0 && tc.TX < c.tilesPerChunkEdge && tc.TY < c.tilesPerChunkEdge
}

// Key returns the cache key for a chunk. Worlds up to 65536 chunks per edge use
// HashPair; larger worlds shift y by 32 bits instead.
func (c Config) Key(cc ChunkCoord) Key {
	if c.chunksPerEdge <= narrowKeyLimit {
		return HashPair(cc.CX, cc.CY)
	}
	return Key(int64(cc.CY)<<32 ^ int64(cc.CX))
}

func (c Config) String() string {
	return fmt.Sprintf("world=%dpx chunk=%dpx tile=%dpx (%d chunks/edge, %d tiles/chunk edge, radius %d)",
		c.worldSizePx, c.chunkSizePx, c.tileSizePx, c.chunksPerEdge, c.tilesPerChunkEdge, c.viewRadius)
}
