package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chunkmap.dev/internal/sim/world"
)

// RemoteConfig points a RemoteIndex at an HTTP ingest endpoint that accepts
// POST {"events":[...]} batches.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	MaxRetained   int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// RemoteIndex forwards lifecycle events to an ingest endpoint in batches. A
// batch that fails to send is kept and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	retainDrop   atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
}

type remoteEvent struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Payload any    `json:"payload"`
}

type remoteSessionPayload struct {
	ID        string `json:"id"`
	Remote    string `json:"remote,omitempty"`
	At        string `json:"at"`
	Created   uint64 `json:"chunks_created,omitempty"`
	Destroyed uint64 `json:"chunks_destroyed,omitempty"`
}

type RemoteStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	RetainDropTotal   uint64 `json:"retain_drop_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	SentTotal         uint64 `json:"sent_total"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.Source == "" {
		return nil, fmt.Errorf("empty source id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 16 * cfg.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &RemoteIndex{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan remoteEvent, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		RetainDropTotal:   d.retainDrop.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *RemoteIndex) WriteChunkEvent(ev world.ChunkEvent) error {
	d.enqueue("chunk_event", ev)
	return nil
}

func (d *RemoteIndex) RecordSessionOpen(id, remote string) {
	d.enqueue("session_open", remoteSessionPayload{ID: id, Remote: remote, At: time.Now().UTC().Format(time.RFC3339Nano)})
}

func (d *RemoteIndex) RecordSessionClose(id string, m world.Metrics) {
	d.enqueue("session_close", remoteSessionPayload{
		ID:        id,
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		Created:   m.Created,
		Destroyed: m.Destroyed,
	})
}

func (d *RemoteIndex) enqueue(kind string, payload any) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- remoteEvent{Kind: kind, Source: d.cfg.Source, Payload: payload}:
	default:
		d.queueDropped.Add(1)
		d.printf("remote index queue full; drop kind=%s", kind)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("remote index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-chunkmap-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
