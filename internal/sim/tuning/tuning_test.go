package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chunkmap.dev/internal/sim/world/grid"
	"chunkmap.dev/internal/sim/world/terrain/noise"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadRepoConfig(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune != Defaults() {
		t.Fatalf("configs/tuning.yaml drifted from defaults: %+v", tune)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	p := writeTuning(t, "gen:\n  seed: 42\n  noise: \" Perlin \"\nworld:\n  view_radius: 2\n")
	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.World.SizePx != grid.DefaultWorldSizePx || tune.Gen.Quality != 128 {
		t.Fatalf("defaults lost: %+v", tune)
	}
	if !tune.Gen.Seed.IsNumeric() || tune.Gen.Seed.String() != "42" {
		t.Fatalf("seed: %+v", tune.Gen.Seed)
	}
	if tune.Gen.Noise != "perlin" {
		t.Fatalf("noise not normalized: %q", tune.Gen.Noise)
	}
	cfg, err := tune.WorldConfig()
	if err != nil {
		t.Fatalf("world config: %v", err)
	}
	if cfg.ViewRadius() != 2 || cfg.ChunksPerEdge() != 8 {
		t.Fatalf("config: %v", cfg)
	}
	if p := tune.GenParams(); p.Noise != noise.Perlin || p.Quality != 128 {
		t.Fatalf("params: %+v", p)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"indivisible world": "world:\n  chunk_size_px: 1000\n",
		"zero quality":      "gen:\n  quality: 0\n",
		"unknown noise":     "gen:\n  noise: worley\n",
		"zero seed":         "gen:\n  seed: 0\n",
		"negative radius":   "world:\n  view_radius: -1\n",
		"no version":        "protocol_version: \"\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTuning(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !strings.HasPrefix(err.Error(), "tuning.yaml: ") {
			t.Fatalf("%s: error not attributed to file: %v", name, err)
		}
	}
}

func TestWorldConfigErrorIsSentinel(t *testing.T) {
	tune := Defaults()
	tune.World.TileSizePx = 0
	if _, err := tune.WorldConfig(); !errors.Is(err, grid.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeTuning(t, "gen: [\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}
