package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/sim/world/terrain/seed"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		x          = flag.Float64("x", 0, "viewpoint x in pixels")
		y          = flag.Float64("y", 0, "viewpoint y in pixels")
		radius     = flag.Int("radius", 0, "chunk radius (0 = tuning view_radius)")
		step       = flag.Int("step", 4, "tile stride per character")
		seedText   = flag.String("seed", "", "override the tuning seed")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if *seedText != "" {
		tune.Gen.Seed = seed.Parse(*seedText)
	}
	if *radius > 0 {
		tune.World.ViewRadius = *radius
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := tune.WorldConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "world config:", err)
		os.Exit(1)
	}
	m, err := world.Open(cfg, tune.GenParams())
	if err != nil {
		fmt.Fprintln(os.Stderr, "tile factory:", err)
		os.Exit(1)
	}
	d := m.Update(*x, *y)

	fmt.Printf("seed=%q seed_num=%d center=%v resident=%d\n", tune.Gen.Seed.String(), m.Factory().SeedNum(), d.Center, m.Len())
	fmt.Print(renderASCII(m, *step))
	fmt.Println(legend())
}

var glyphs = map[genpkg.Terrain]byte{
	genpkg.Water: '~',
	genpkg.Stone: '#',
	genpkg.Sand:  '.',
	genpkg.Grass: ',',
	genpkg.Dirt:  ':',
}

const treeGlyph = '^'

func legend() string {
	return "~ water  . sand  , grass  ^ tree  # stone  : dirt"
}

func glyph(t genpkg.Tile) byte {
	if t.Subtype == genpkg.Tree {
		return treeGlyph
	}
	if g, ok := glyphs[t.Terrain]; ok {
		return g
	}
	return '?'
}

// renderASCII draws the resident chunks' bounding box, one character per
// step x step tiles (the top-left tile of each block). Cells of chunks that
// are not resident are blank.
func renderASCII(m *world.Map, step int) string {
	if step <= 0 {
		step = 1
	}
	res := m.Resident()
	if len(res) == 0 {
		return ""
	}
	minC, maxC := res[0], res[0]
	for _, c := range res {
		minC.CX, maxC.CX = min(minC.CX, c.CX), max(maxC.CX, c.CX)
		minC.CY, maxC.CY = min(minC.CY, c.CY), max(maxC.CY, c.CY)
	}

	edge := m.Config().TilesPerChunkEdge()
	var b strings.Builder
	for cy := minC.CY; cy <= maxC.CY; cy++ {
		for ty := 0; ty < edge; ty += step {
			for cx := minC.CX; cx <= maxC.CX; cx++ {
				v, ok := m.Chunk(cx, cy)
				for tx := 0; tx < edge; tx += step {
					if !ok {
						b.WriteByte(' ')
						continue
					}
					t, _ := v.Tile(tx, ty)
					b.WriteByte(glyph(t))
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
