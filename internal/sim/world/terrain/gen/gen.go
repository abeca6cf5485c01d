package gen

import (
	"fmt"

	"chunkmap.dev/internal/sim/world/grid"
	"chunkmap.dev/internal/sim/world/terrain/noise"
	"chunkmap.dev/internal/sim/world/terrain/seed"
)

const (
	DefaultQuality = 128.0
	DefaultMin     = 0
	DefaultMax     = 32
)

// Classification thresholds, applied in order.
const (
	waterMax = 0.0
	sandMax  = 0.1
	grassMax = 0.4
	treeMin  = 0.30
	treeMax  = 0.35
)

// Params configures generation. Min and Max are accepted but not consulted.
type Params struct {
	Seed    seed.Seed
	Quality float64
	Min     int
	Max     int
	Noise   noise.Kind
}

func DefaultParams() Params {
	return Params{
		Seed:    seed.Text(seed.Default),
		Quality: DefaultQuality,
		Min:     DefaultMin,
		Max:     DefaultMax,
		Noise:   noise.Simplex,
	}
}

// Classifier is what chunks need to populate their tiles.
type Classifier interface {
	Classify(cx, cy, tx, ty int) Tile
}

// TileFactory classifies tiles from a seeded noise field. Its derived state is
// fixed at construction, so it is safe for concurrent readers.
type TileFactory struct {
	cfg    grid.Config
	params Params

	seedNum  int64
	seedFrac float64
	delta    float64

	field noise.Field
}

func NewTileFactory(cfg grid.Config, p Params) (*TileFactory, error) {
	if !(p.Quality > 0) {
		return nil, fmt.Errorf("%w: quality must be > 0, got %v", grid.ErrInvalidConfiguration, p.Quality)
	}
	num := seed.Create(p.Seed)
	frac := seed.Frac(num)
	if frac == 0 {
		return nil, fmt.Errorf("%w: seed %q yields a zero sampling scale", grid.ErrInvalidConfiguration, p.Seed.String())
	}
	field, err := noise.New(p.Noise, num)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", grid.ErrInvalidConfiguration, err)
	}
	if p.Noise == "" {
		p.Noise = noise.Simplex
	}
	return &TileFactory{
		cfg:      cfg,
		params:   p,
		seedNum:  num,
		seedFrac: frac,
		delta:    p.Quality + frac,
		field:    field,
	}, nil
}

func (f *TileFactory) Config() grid.Config { return f.cfg }
func (f *TileFactory) Params() Params      { return f.params }
func (f *TileFactory) SeedNum() int64      { return f.seedNum }
func (f *TileFactory) SeedFrac() float64   { return f.seedFrac }
func (f *TileFactory) Delta() float64      { return f.delta }

// SampleNoise samples the field at a chunk-local tile. The world tile index is
// divided by seedFrac and then by delta; the two steps are not merged.
func (f *TileFactory) SampleNoise(cx, cy, tx, ty int, layer float64) float64 {
	edge := f.cfg.TilesPerChunkEdge()
	wx := float64(cx*edge + tx)
	wy := float64(cy*edge + ty)
	nx := (wx / f.seedFrac) / f.delta
	ny := (wy / f.seedFrac) / f.delta
	return f.field.Sample(nx, ny, layer)
}

func (f *TileFactory) Classify(cx, cy, tx, ty int) Tile {
	return ClassifyValue(f.SampleNoise(cx, cy, tx, ty, 0))
}

// ClassifyValue maps a noise sample to a tile; the first matching range wins.
func ClassifyValue(v float64) Tile {
	switch {
	case v <= waterMax:
		return Tile{Terrain: Water}
	case v <= sandMax:
		return Tile{Terrain: Sand}
	case v <= grassMax:
		t := Tile{Terrain: Grass}
		if v >= treeMin && v <= treeMax {
			t.Subtype = Tree
		}
		return t
	default:
		return Tile{Terrain: Stone}
	}
}
