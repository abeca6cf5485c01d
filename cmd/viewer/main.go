package main

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"chunkmap.dev/internal/observerproto"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		encoding = flag.String("encoding", "PAL8_ZSTD", "tile encoding (PAL8, PAL8_ZSTD or PAL8_RLE)")
		radius   = flag.Int("radius", 0, "chunk radius (0 = server default)")
		drags    = flag.Int("drags", 8, "number of drags to perform")
		dx       = flag.Float64("dx", -512, "pointer delta x per drag")
		dy       = flag.Float64("dy", -384, "pointer delta y per drag")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	v, err := dialViewer(*url, observerproto.SubscribeMsg{Encoding: *encoding, ChunkRadius: *radius}, logger)
	if err != nil {
		logger.Fatalf("subscribe: %v", err)
	}
	defer v.Close()
	if _, err := v.readUpdate(); err != nil {
		logger.Fatalf("initial view: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var last [2]float64
	for i := 0; i < *drags; i++ {
		select {
		case <-stop:
			return
		default:
		}
		view, err := v.drag(*dx, *dy)
		if err != nil {
			logger.Fatalf("drag: %v", err)
		}
		last = view.Camera
	}

	res, err := v.pick(last[0], last[1])
	if err != nil {
		logger.Fatalf("pick: %v", err)
	}
	logger.Printf("PICK (%.0f,%.0f) chunk=(%d,%d) tile=(%d,%d) resident=%v terrain=%s subtype=%s",
		res.X, res.Y, res.Chunk.CX, res.Chunk.CY, res.Tile.TX, res.Tile.TY, res.Resident, res.Terrain, res.Subtype)
	logger.Printf("done: resident=%d verified=%d", len(v.resident), v.verified)
}
