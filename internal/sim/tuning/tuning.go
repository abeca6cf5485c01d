package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"chunkmap.dev/internal/sim/world/grid"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/sim/world/terrain/noise"
	"chunkmap.dev/internal/sim/world/terrain/seed"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	World WorldTuning `yaml:"world" json:"world"`
	Gen   GenTuning   `yaml:"gen" json:"gen"`

	// Viewport is the renderer's viewport in pixels; it bounds the camera.
	Viewport Viewport `yaml:"viewport" json:"viewport"`
}

type WorldTuning struct {
	SizePx      int `yaml:"size_px" json:"size_px"`
	ChunkSizePx int `yaml:"chunk_size_px" json:"chunk_size_px"`
	TileSizePx  int `yaml:"tile_size_px" json:"tile_size_px"`
	ViewRadius  int `yaml:"view_radius" json:"view_radius"`
}

type GenTuning struct {
	Seed    seed.Seed `yaml:"seed" json:"seed"`
	Quality float64   `yaml:"quality" json:"quality"`
	Min     int       `yaml:"min" json:"min"`
	Max     int       `yaml:"max" json:"max"`
	Noise   string    `yaml:"noise" json:"noise"`
}

type Viewport struct {
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "0.1",
		World: WorldTuning{
			SizePx:      grid.DefaultWorldSizePx,
			ChunkSizePx: grid.DefaultChunkSizePx,
			TileSizePx:  grid.DefaultTileSizePx,
			ViewRadius:  grid.DefaultViewRadius,
		},
		Gen: GenTuning{
			Seed:    seed.Text(seed.Default),
			Quality: genpkg.DefaultQuality,
			Min:     genpkg.DefaultMin,
			Max:     genpkg.DefaultMax,
			Noise:   string(noise.Simplex),
		},
		Viewport: Viewport{W: 800, H: 600},
	}
}

// Load reads a tuning file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	t.Gen.Noise = strings.ToLower(strings.TrimSpace(t.Gen.Noise))
	if t.Gen.Noise == "" {
		t.Gen.Noise = string(noise.Simplex)
	}
	if t.Viewport.W < 0 {
		t.Viewport.W = 0
	}
	if t.Viewport.H < 0 {
		t.Viewport.H = 0
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion == "" {
		return errors.New("protocol_version is required")
	}
	if _, err := t.WorldConfig(); err != nil {
		return err
	}
	if math.IsNaN(t.Gen.Quality) || t.Gen.Quality <= 0 {
		return fmt.Errorf("gen.quality must be > 0, got %v", t.Gen.Quality)
	}
	if _, err := noise.ParseKind(t.Gen.Noise); err != nil {
		return fmt.Errorf("gen.noise: %w", err)
	}
	if seed.Frac(seed.Create(t.Gen.Seed)) == 0 {
		return fmt.Errorf("gen.seed %q yields a zero sampling scale", t.Gen.Seed.String())
	}
	return nil
}

func (t Tuning) WorldConfig() (grid.Config, error) {
	return grid.NewConfig(t.World.SizePx, t.World.ChunkSizePx, t.World.TileSizePx, grid.WithViewRadius(t.World.ViewRadius))
}

func (t Tuning) GenParams() genpkg.Params {
	return genpkg.Params{
		Seed:    t.Gen.Seed,
		Quality: t.Gen.Quality,
		Min:     t.Gen.Min,
		Max:     t.Gen.Max,
		Noise:   noise.Kind(t.Gen.Noise),
	}
}
