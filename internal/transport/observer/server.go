package observer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chunkmap.dev/internal/observerproto"
	"chunkmap.dev/internal/sim/world"
	"chunkmap.dev/internal/sim/world/grid"
	"chunkmap.dev/internal/sim/world/logic/rates"
	genpkg "chunkmap.dev/internal/sim/world/terrain/gen"
)

// SessionRecorder is told when sessions open and close.
type SessionRecorder interface {
	RecordSessionOpen(id, remote string)
	RecordSessionClose(id string, m world.Metrics)
}

type Options struct {
	// ViewportW/H bound the camera when the client does not send a viewport.
	ViewportW int
	ViewportH int
	// MaxRadius caps a client's requested chunk radius.
	MaxRadius int
	// LoopbackOnly rejects non-loopback clients.
	LoopbackOnly bool
	// LogChunks logs every chunk creation and destruction.
	LogChunks bool
	// InputsPerSecond caps VIEWPOINT, DRAG and PICK messages per session.
	// Zero disables the limit.
	InputsPerSecond int

	Events   world.EventLogger
	Sessions SessionRecorder
}

// Server streams chunk lifecycles to renderers. Every session owns a
// world.Map; they share one read-only tile factory.
type Server struct {
	cfg     grid.Config
	factory *genpkg.TileFactory
	log     *log.Logger
	opts    Options

	upgrader websocket.Upgrader

	active        atomic.Int64
	sessionsTotal atomic.Uint64
	resident      atomic.Int64
	created       atomic.Uint64
	destroyed     atomic.Uint64
	updates       atomic.Uint64
}

// Metrics aggregates every session's chunk churn.
type Metrics struct {
	ActiveSessions int64  `json:"active_sessions"`
	SessionsTotal  uint64 `json:"sessions_total"`
	Resident       int64  `json:"resident_chunks"`
	Created        uint64 `json:"chunks_created_total"`
	Destroyed      uint64 `json:"chunks_destroyed_total"`
	Updates        uint64 `json:"updates_total"`
}

func NewServer(f *genpkg.TileFactory, logger *log.Logger, opts Options) *Server {
	if opts.ViewportW <= 0 {
		opts.ViewportW = 800
	}
	if opts.ViewportH <= 0 {
		opts.ViewportH = 600
	}
	if opts.MaxRadius <= 0 {
		opts.MaxRadius = 4
	}
	return &Server{
		cfg:     f.Config(),
		factory: f,
		log:     logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		ActiveSessions: s.active.Load(),
		SessionsTotal:  s.sessionsTotal.Load(),
		Resident:       s.resident.Load(),
		Created:        s.created.Load(),
		Destroyed:      s.destroyed.Load(),
		Updates:        s.updates.Load(),
	}
}

func (s *Server) Bootstrap() observerproto.BootstrapResponse {
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		WorldParams:     s.worldParams(s.cfg),
		TerrainPalette:  genpkg.Palette(),
		Encodings:       observerproto.Encodings(),
	}
}

func (s *Server) worldParams(cfg grid.Config) observerproto.WorldParams {
	p := s.factory.Params()
	return observerproto.WorldParams{
		WorldSizePx:       cfg.WorldSizePx(),
		ChunkSizePx:       cfg.ChunkSizePx(),
		TileSizePx:        cfg.TileSizePx(),
		ChunksPerEdge:     cfg.ChunksPerEdge(),
		TilesPerChunkEdge: cfg.TilesPerChunkEdge(),
		ViewRadius:        cfg.ViewRadius(),
		Seed:              p.Seed.String(),
		SeedNum:           s.factory.SeedNum(),
		Quality:           p.Quality,
		Noise:             string(p.Noise),
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.opts.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != observerproto.TypeSubscribe {
			rejectHandshake(conn, observerproto.ErrProtoBadRequest, "expected SUBSCRIBE")
			return
		}
		if sub.ProtocolVersion != observerproto.Version {
			rejectHandshake(conn, observerproto.ErrProtoVersion, fmt.Sprintf("unsupported protocol_version %q (want %s)", sub.ProtocolVersion, observerproto.Version))
			return
		}
		if sub.Encoding != "" && !observerproto.KnownEncoding(sub.Encoding) {
			rejectHandshake(conn, observerproto.ErrBadRequest, fmt.Sprintf("unknown encoding %q", sub.Encoding))
			return
		}
		s.normalizeSubscribe(&sub)

		cfg, err := grid.NewConfig(s.cfg.WorldSizePx(), s.cfg.ChunkSizePx(), s.cfg.TileSizePx(), grid.WithViewRadius(sub.ChunkRadius))
		if err != nil {
			rejectHandshake(conn, observerproto.ErrInternal, err.Error())
			return
		}

		sess := &session{
			srv:      s,
			id:       uuid.NewString(),
			encoding: sub.Encoding,
			m:        world.New(cfg, s.factory),
			cam:      world.NewCamera(cfg, float64(sub.ViewportW), float64(sub.ViewportH)),
			out:      make(chan []byte, 256),
			inputs:   rates.Window{Span: time.Second, Max: s.opts.InputsPerSecond},
		}
		sess.m.SetSession(sess.id)
		if s.opts.Events != nil {
			sess.m.SetEventLogger(s.opts.Events)
		}
		if s.opts.LogChunks && s.log != nil {
			sess.m.SetLogger(s.log)
		}

		s.active.Add(1)
		s.sessionsTotal.Add(1)
		if s.opts.Sessions != nil {
			s.opts.Sessions.RecordSessionOpen(sess.id, r.RemoteAddr)
		}
		s.printf("observer session %s opened from %s (radius=%d encoding=%s)", sess.id, r.RemoteAddr, sub.ChunkRadius, sub.Encoding)

		ctx, cancel := context.WithCancel(context.Background())
		sess.ctx = ctx

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		welcome := observerproto.WelcomeMsg{
			Type:            observerproto.TypeWelcome,
			ProtocolVersion: observerproto.Version,
			SessionID:       sess.id,
			WorldParams:     s.worldParams(cfg),
			TerrainPalette:  genpkg.Palette(),
			Encoding:        sess.encoding,
			ViewRadius:      cfg.ViewRadius(),
		}
		if sess.send(welcome) {
			sess.update()
		}

		// Reader loop: the session's map is only touched from here.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if !sess.handle(msg) {
				break
			}
		}

		n := sess.m.Len()
		sess.m.Close()
		s.resident.Add(-int64(n))
		s.destroyed.Add(uint64(n))
		if s.opts.Sessions != nil {
			s.opts.Sessions.RecordSessionClose(sess.id, sess.m.Metrics())
		}
		s.active.Add(-1)
		s.printf("observer session %s closed (updates=%d created=%d)", sess.id, sess.m.Metrics().Updates, sess.m.Metrics().Created)

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.Encoding == "" {
		sub.Encoding = observerproto.EncodingPAL8
	}
	if sub.ChunkRadius <= 0 {
		sub.ChunkRadius = s.cfg.ViewRadius()
	}
	if sub.ChunkRadius > s.opts.MaxRadius {
		sub.ChunkRadius = s.opts.MaxRadius
	}
	if sub.ViewportW <= 0 {
		sub.ViewportW = s.opts.ViewportW
	}
	if sub.ViewportH <= 0 {
		sub.ViewportH = s.opts.ViewportH
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

type session struct {
	srv      *Server
	id       string
	encoding string
	ctx      context.Context

	m      *world.Map
	cam    *world.Camera
	seq    uint64
	inputs rates.Window

	out chan []byte
}

// handle processes one client message. It returns false when the session
// should end.
func (ss *session) handle(msg []byte) bool {
	base, err := observerproto.DecodeBase(msg)
	if err != nil {
		return ss.sendError(observerproto.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != observerproto.Version {
		return ss.sendError(observerproto.ErrProtoVersion, fmt.Sprintf("unsupported protocol_version %q", base.ProtocolVersion))
	}

	switch base.Type {
	case observerproto.TypeViewpoint, observerproto.TypeDrag, observerproto.TypePick:
		if ok, retry := ss.inputs.Allow(time.Now()); !ok {
			return ss.sendError(observerproto.ErrRateLimit, fmt.Sprintf("too many inputs, retry in %dms", retry.Milliseconds()))
		}
	}

	switch base.Type {
	case observerproto.TypeViewpoint:
		var v observerproto.ViewpointMsg
		if err := json.Unmarshal(msg, &v); err != nil {
			return ss.sendError(observerproto.ErrBadRequest, "bad VIEWPOINT")
		}
		ss.cam.MoveTo(v.X, v.Y)
		return ss.update()

	case observerproto.TypeDrag:
		var d observerproto.DragMsg
		if err := json.Unmarshal(msg, &d); err != nil {
			return ss.sendError(observerproto.ErrBadRequest, "bad DRAG")
		}
		ss.cam.Drag(d.DX, d.DY)
		return ss.update()

	case observerproto.TypePick:
		var p observerproto.PickMsg
		if err := json.Unmarshal(msg, &p); err != nil {
			return ss.sendError(observerproto.ErrBadRequest, "bad PICK")
		}
		return ss.pick(p)

	case observerproto.TypeSubscribe:
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			return ss.sendError(observerproto.ErrBadRequest, "bad SUBSCRIBE")
		}
		// Only the encoding can change mid-session.
		if sub.Encoding != "" {
			if !observerproto.KnownEncoding(sub.Encoding) {
				return ss.sendError(observerproto.ErrBadRequest, fmt.Sprintf("unknown encoding %q", sub.Encoding))
			}
			ss.encoding = sub.Encoding
		}
		return true

	default:
		return ss.sendError(observerproto.ErrBadRequest, fmt.Sprintf("unknown message type %q", base.Type))
	}
}

func (ss *session) update() bool {
	x, y := ss.cam.Position()
	d := ss.m.Update(x, y)
	ss.seq++

	srv := ss.srv
	srv.updates.Add(1)
	srv.created.Add(uint64(len(d.Created)))
	srv.destroyed.Add(uint64(len(d.Destroyed)))
	srv.resident.Add(int64(len(d.Created) - len(d.Destroyed)))

	view := observerproto.ViewMsg{
		Type:            observerproto.TypeView,
		ProtocolVersion: observerproto.Version,
		Seq:             ss.seq,
		Camera:          [2]float64{x, y},
		Center:          observerproto.ChunkRef{CX: d.Center.CX, CY: d.Center.CY},
		Created:         chunkRefs(d.Created),
		Destroyed:       chunkRefs(d.Destroyed),
	}
	if !ss.send(view) {
		return false
	}
	for _, c := range d.Destroyed {
		if !ss.send(observerproto.UnloadMsg{
			Type:            observerproto.TypeUnload,
			ProtocolVersion: observerproto.Version,
			CX:              c.CX,
			CY:              c.CY,
		}) {
			return false
		}
	}
	for _, c := range d.Created {
		v, ok := ss.m.Chunk(c.CX, c.CY)
		if !ok {
			continue
		}
		data, err := observerproto.EncodeTiles(ss.encoding, v.Packed())
		if err != nil {
			return ss.sendError(observerproto.ErrInternal, err.Error())
		}
		msg := observerproto.ChunkMsg{
			Type:            observerproto.TypeChunk,
			ProtocolVersion: observerproto.Version,
			CX:              c.CX,
			CY:              c.CY,
			Rect:            observerproto.Rect{X: v.Rect.X, Y: v.Rect.Y, W: v.Rect.W, H: v.Rect.H},
			Edge:            v.Edge,
			Encoding:        ss.encoding,
			Data:            data,
			Digest:          hex.EncodeToString(v.Digest[:]),
		}
		if !ss.send(msg) {
			return false
		}
	}
	return true
}

func (ss *session) pick(p observerproto.PickMsg) bool {
	size := float64(ss.m.Config().WorldSizePx())
	if p.X < 0 || p.Y < 0 || p.X >= size || p.Y >= size {
		return ss.sendError(observerproto.ErrOutOfWorld, fmt.Sprintf("pixel (%v,%v) outside world of %v px", p.X, p.Y, size))
	}
	res := ss.m.TileAtPixel(p.X, p.Y)
	ss.srv.printf("observer session %s pick: chunk index: %d %d", ss.id, res.Chunk.CX, res.Chunk.CY)
	out := observerproto.PickResultMsg{
		Type:            observerproto.TypePickResult,
		ProtocolVersion: observerproto.Version,
		X:               p.X,
		Y:               p.Y,
		Chunk:           observerproto.ChunkRef{CX: res.Chunk.CX, CY: res.Chunk.CY},
		Tile:            observerproto.TileRef{TX: res.Tile.TX, TY: res.Tile.TY},
		Resident:        res.OK,
	}
	if res.OK {
		out.Terrain = res.Value.Terrain.String()
		out.Subtype = string(res.Value.Subtype)
	}
	return ss.send(out)
}

func (ss *session) sendError(code, message string) bool {
	return ss.send(observerproto.NewError(code, message))
}

// send queues a message for the writer. A client that stops draining its
// queue for five seconds is dropped.
func (ss *session) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		ss.srv.printf("observer session %s marshal: %v", ss.id, err)
		return false
	}
	t := time.NewTimer(5 * time.Second)
	defer t.Stop()
	select {
	case ss.out <- b:
		return true
	case <-ss.ctx.Done():
		return false
	case <-t.C:
		ss.srv.printf("observer session %s: client too slow, closing", ss.id)
		return false
	}
}

func chunkRefs(cs []grid.ChunkCoord) []observerproto.ChunkRef {
	out := make([]observerproto.ChunkRef, 0, len(cs))
	for _, c := range cs {
		out = append(out, observerproto.ChunkRef{CX: c.CX, CY: c.CY})
	}
	return out
}

func rejectHandshake(conn *websocket.Conn, code, message string) {
	if b, err := json.Marshal(observerproto.NewError(code, message)); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, b)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
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
