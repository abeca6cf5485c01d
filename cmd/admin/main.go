package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "chunkmap.dev/internal/persistence/log"
	"chunkmap.dev/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the event segments under the data dir.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() {
			continue
		}
		fmt.Printf("%s\t%d\n", e.Name(), info.Size())
	}
}

type segmentSummary struct {
	Path     string         `json:"path"`
	Events   int            `json:"events"`
	Kinds    map[string]int `json:"kinds"`
	Sessions map[string]int `json:"sessions"`
	Chunks   int            `json:"distinct_chunks"`
	Terrain  map[string]int `json:"created_terrain_tiles"`
}

func summarizeSegment(path string, evs []world.ChunkEvent) segmentSummary {
	s := segmentSummary{
		Path:     path,
		Events:   len(evs),
		Kinds:    map[string]int{},
		Sessions: map[string]int{},
		Terrain:  map[string]int{},
	}
	chunks := map[int64]struct{}{}
	for _, ev := range evs {
		s.Kinds[string(ev.Kind)]++
		s.Sessions[ev.Session]++
		chunks[ev.Key] = struct{}{}
		for t, n := range ev.Histogram {
			s.Terrain[t] += n
		}
	}
	s.Chunks = len(chunks)
	return s
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dump := fs.Bool("dump", false, "print events instead of a summary")
	limit := fs.Int("limit", 0, "max events to print with -dump (0 = all)")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin events [-dump] [-limit N] <chunks-*.jsonl.zst>...")
		os.Exit(2)
	}
	for _, path := range fs.Args() {
		evs, err := persistlog.ReadEvents(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		if !*dump {
			printJSON(summarizeSegment(path, evs))
			continue
		}
		for i, ev := range evs {
			if *limit > 0 && i >= *limit {
				break
			}
			printJSON(ev)
		}
	}
}
