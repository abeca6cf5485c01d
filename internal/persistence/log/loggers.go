package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chunkmap.dev/internal/sim/world"
)

const defaultRotateLayout = "2006-01-02-15"

// LoggerOptions tunes segment rotation. OnClose is called with the path of
// every completed segment, outside the writer's lock.
type LoggerOptions struct {
	RotateLayout string
	OnClose      func(path string)
}

// JSONLZstdWriter appends JSON lines to zstd segments named
// <prefix>-<layout>.jsonl.zst under baseDir. The default layout rotates hourly.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string
	onClose func(string)
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	closed  []string
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	layout := opts.RotateLayout
	if layout == "" {
		layout = defaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		layout:  layout,
		onClose: opts.OnClose,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	done, err := w.closeLocked()
	w.mu.Unlock()
	w.notify(done)
	return err
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	var done string
	defer func() { w.notify(done) }()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(w.layout)
	if hour != w.curHour {
		var err error
		if done, err = w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Rotated lists files that have been completed, oldest first.
func (w *JSONLZstdWriter) Rotated() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.closed...)
}

func (w *JSONLZstdWriter) notify(path string) {
	if path != "" && w.onClose != nil {
		w.onClose(path)
	}
}

// rotateLocked returns the path of the segment it completed, if any.
func (w *JSONLZstdWriter) rotateLocked(hour string) (string, error) {
	done, err := w.closeLocked()
	if err != nil {
		return done, err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return done, err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return done, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return done, err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return done, nil
}

func (w *JSONLZstdWriter) closeLocked() (string, error) {
	var err1 error
	var done string
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		done = w.pathForHour(w.curHour)
		w.closed = append(w.closed, done)
	}
	w.w = nil
	w.curHour = ""
	return done, err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes one compressed JSONL entry per chunk lifecycle event.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return NewEventLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewEventLoggerWithOptions(dataDir string, opts LoggerOptions) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "events"), "chunks", opts)}
}

func (l *EventLogger) WriteChunkEvent(v world.ChunkEvent) error { return l.w.Write(v) }
func (l *EventLogger) Close() error                             { return l.w.Close() }

// ReadEvents decodes a completed event file.
func ReadEvents(path string) ([]world.ChunkEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []world.ChunkEvent
	jd := json.NewDecoder(dec)
	for {
		var ev world.ChunkEvent
		if err := jd.Decode(&ev); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, ev)
	}
}
