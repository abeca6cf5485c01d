package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chunkmap.dev/internal/observerproto"
	persistlog "chunkmap.dev/internal/persistence/log"
	"chunkmap.dev/internal/sim/tuning"
	"chunkmap.dev/internal/sim/world"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
	"chunkmap.dev/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the chunk event index")
		loopbackOnly = flag.Bool("loopback_only", false, "only accept renderer connections from loopback")
		logChunks    = flag.Bool("log_chunks", false, "log every chunk creation and destruction")
		maxRadius    = flag.Int("max_radius", 4, "largest chunk radius a renderer may request")
		inputsPerSec = flag.Int("inputs_per_sec", 120, "viewpoint/drag/pick messages allowed per session per second (0 = unlimited)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cfg, err := tune.WorldConfig()
	if err != nil {
		logger.Fatalf("world config: %v", err)
	}
	factory, err := genpkg.NewTileFactory(cfg, tune.GenParams())
	if err != nil {
		logger.Fatalf("tile factory: %v", err)
	}
	logger.Printf("world %dpx chunks=%dx%d tiles/chunk=%d seed=%q seed_num=%d noise=%s",
		cfg.WorldSizePx(), cfg.ChunksPerEdge(), cfg.ChunksPerEdge(), cfg.TilesPerChunk(),
		tune.Gen.Seed.String(), factory.SeedNum(), factory.Params().Noise)

	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional read-model index; chunk streaming does not depend on it.
	idx, err := openRuntimeIndex(*dataDir, tune, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	r2Mirror, err := buildR2MirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	defer r2Mirror.Close()

	eventLog := persistlog.NewEventLoggerWithOptions(*dataDir, r2Mirror.loggerOptions())
	defer eventLog.Close()

	var events world.EventLogger = eventLog
	var sessions observer.SessionRecorder
	if idx != nil {
		events = multiEventLogger{a: eventLog, b: idx}
		sessions = idx
	}

	obs := observer.NewServer(factory, logger, observer.Options{
		ViewportW:       tune.Viewport.W,
		ViewportH:       tune.Viewport.H,
		MaxRadius:       *maxRadius,
		LoopbackOnly:    *loopbackOnly,
		LogChunks:       *logChunks,
		InputsPerSecond: *inputsPerSec,
		Events:          events,
		Sessions:        sessions,
	})

	mux := newMux(obs, muxOptions{
		Index:       idx,
		Mirror:      r2Mirror,
		EnableAdmin: envBool("CHUNKMAP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("CHUNKMAP_ENABLE_PPROF_HTTP", false),
		Logger:      logger,
	})

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type muxOptions struct {
	Index       runtimeIndex
	Mirror      *r2MirrorRuntime
	EnableAdmin bool
	EnablePprof bool
	Logger      *log.Logger
}

func newMux(obs *observer.Server, opts muxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, obs.Metrics())
		if opts.Index != nil {
			opts.Index.WriteMetrics(rw)
		}
		opts.Mirror.writeMetrics(rw)
	})
	mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obs.WSHandler())

	if opts.EnableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldParams observerproto.WorldParams `json:"world_params"`
				Metrics     observer.Metrics          `json:"metrics"`
			}{
				WorldParams: obs.Bootstrap().WorldParams,
				Metrics:     obs.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else if opts.Logger != nil {
		opts.Logger.Printf("admin endpoints disabled (CHUNKMAP_ENABLE_ADMIN_HTTP=false)")
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else if opts.Logger != nil {
		opts.Logger.Printf("pprof endpoints disabled (CHUNKMAP_ENABLE_PPROF_HTTP=false)")
	}
	return mux
}

// writeMetrics emits the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m observer.Metrics) {
	fmt.Fprintf(w, "# HELP chunkmap_sessions_active Connected renderer sessions.\n")
	fmt.Fprintf(w, "# TYPE chunkmap_sessions_active gauge\n")
	fmt.Fprintf(w, "chunkmap_sessions_active %d\n", m.ActiveSessions)

	fmt.Fprintf(w, "# HELP chunkmap_sessions_total Renderer sessions opened since start.\n")
	fmt.Fprintf(w, "# TYPE chunkmap_sessions_total counter\n")
	fmt.Fprintf(w, "chunkmap_sessions_total %d\n", m.SessionsTotal)

	fmt.Fprintf(w, "# HELP chunkmap_resident_chunks Chunks resident across all sessions.\n")
	fmt.Fprintf(w, "# TYPE chunkmap_resident_chunks gauge\n")
	fmt.Fprintf(w, "chunkmap_resident_chunks %d\n", m.Resident)

	fmt.Fprintf(w, "# HELP chunkmap_chunks_total Chunk lifecycle transitions.\n")
	fmt.Fprintf(w, "# TYPE chunkmap_chunks_total counter\n")
	fmt.Fprintf(w, "chunkmap_chunks_total{kind=%q} %d\n", "created", m.Created)
	fmt.Fprintf(w, "chunkmap_chunks_total{kind=%q} %d\n", "destroyed", m.Destroyed)

	fmt.Fprintf(w, "# HELP chunkmap_updates_total Viewpoint reconciliations.\n")
	fmt.Fprintf(w, "# TYPE chunkmap_updates_total counter\n")
	fmt.Fprintf(w, "chunkmap_updates_total %d\n", m.Updates)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

// multiEventLogger sends every event to both sinks; a failing sink does not
// starve the other.
type multiEventLogger struct {
	a world.EventLogger
	b world.EventLogger
}

func (m multiEventLogger) WriteChunkEvent(ev world.ChunkEvent) error {
	var err error
	if m.a != nil {
		err = m.a.WriteChunkEvent(ev)
	}
	if m.b != nil {
		if err2 := m.b.WriteChunkEvent(ev); err == nil {
			err = err2
		}
	}
	return err
}
