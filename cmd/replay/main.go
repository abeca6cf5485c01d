package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chunkmap.dev/internal/sim/tuning"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
)

func main() {
	var (
		eventsDir  = flag.String("events", "./data/events", "events dir containing chunks-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		session    = flag.String("session", "", "only verify this session (optional)")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	cfg, err := tune.WorldConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "world config:", err)
		os.Exit(1)
	}
	f, err := genpkg.NewTileFactory(cfg, tune.GenParams())
	if err != nil {
		fmt.Fprintln(os.Stderr, "tile factory:", err)
		os.Exit(1)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	v := newVerifier(f, *session)
	for _, path := range files {
		if err := v.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: files=%d sessions=%d creates=%d destroys=%d still_resident=%d\n",
		len(files), len(v.sessions), v.creates, v.destroys, v.resident())
}
