package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
	fail    int
	heads   int
}

func newBucket(t *testing.T) (*bucket, *httptest.Server) {
	t.Helper()
	b := &bucket{objects: map[string][]byte{}, headers: map[string]http.Header{}}
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.Method == http.MethodHead {
			b.heads++
			v, ok := b.objects[r.URL.Path]
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			rw.Header().Set("Content-Length", strconv.Itoa(len(v)))
			return
		}
		if r.Method != http.MethodPut {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if b.fail > 0 {
			b.fail--
			http.Error(rw, "slow down", http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.objects[r.URL.Path] = body
		b.headers[r.URL.Path] = r.Header.Clone()
	}))
	t.Cleanup(ts.Close)
	return b, ts
}

func (b *bucket) get(key string) ([]byte, http.Header, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.objects[key]
	return v, b.headers[key], ok
}

func newClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: endpoint, Bucket: "chunks", AccessKeyID: "AK", SecretAccessKey: "SK"})
	require.NoError(t, err)
	return c
}

func writeSegment(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, "events", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestPutFileSigns(t *testing.T) {
	b, ts := newBucket(t)
	c := newClient(t, ts.URL)
	c.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	p := writeSegment(t, t.TempDir(), "chunks-2026-02-03-04.jsonl.zst", "payload")
	require.NoError(t, c.PutFile(context.Background(), "events/chunks-2026-02-03-04.jsonl.zst", p))

	body, h, ok := b.get("/chunks/events/chunks-2026-02-03-04.jsonl.zst")
	require.True(t, ok)
	require.Equal(t, "payload", string(body))

	sum := sha256.Sum256([]byte("payload"))
	require.Equal(t, hex.EncodeToString(sum[:]), h.Get("x-amz-content-sha256"))
	require.Equal(t, "20260203T040506Z", h.Get("x-amz-date"))
	auth := h.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AK/20260203/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="), auth)
}

func TestPutFileReportsStatus(t *testing.T) {
	b, ts := newBucket(t)
	b.fail = 1
	c := newClient(t, ts.URL)
	p := writeSegment(t, t.TempDir(), "a.jsonl.zst", "x")
	err := c.PutFile(context.Background(), "a", p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=503")
}

func TestStatObject(t *testing.T) {
	b, ts := newBucket(t)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.StatObject(ctx, "events/missing.jsonl.zst")
	require.ErrorIs(t, err, ErrNotFound)

	p := writeSegment(t, t.TempDir(), "seg.jsonl.zst", "12345")
	require.NoError(t, c.PutFile(ctx, "events/seg.jsonl.zst", p))
	size, err := c.StatObject(ctx, "events/seg.jsonl.zst")
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, 2, b.heads)
}

func TestMirrorSkipsUploadedSegments(t *testing.T) {
	b, ts := newBucket(t)
	dataDir := t.TempDir()
	c := newClient(t, ts.URL)
	p := writeSegment(t, dataDir, "chunks-2026-01-01-00.jsonl.zst", "zst")
	require.NoError(t, c.PutFile(context.Background(), "events/chunks-2026-01-01-00.jsonl.zst", p))

	m := NewMirror(c, dataDir, MirrorOptions{})
	m.Enqueue(p)
	m.Close()

	st := m.Stats()
	require.Equal(t, uint64(1), st.SkippedTotal)
	require.Zero(t, st.UploadSuccessTotal)
	_, _, ok := b.get("/chunks/events/chunks-2026-01-01-00.jsonl.zst")
	require.True(t, ok)
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{Endpoint: "r2.example", Bucket: "b", AccessKeyID: "a"})
	require.Error(t, err)
	c, err := New(Config{Endpoint: "r2.example", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	require.Equal(t, "https://r2.example", c.endpoint)
}

func TestNormalizeObjectKey(t *testing.T) {
	require.Equal(t, "a/b", normalizeObjectKey(`\a\b`))
	require.Equal(t, "b", normalizeObjectKey("/a/../b"))
	require.Equal(t, "", normalizeObjectKey("  "))
}

func TestMirrorUploadsAndPrunes(t *testing.T) {
	b, ts := newBucket(t)
	b.fail = 1
	dataDir := t.TempDir()
	m := NewMirror(newClient(t, ts.URL), dataDir, MirrorOptions{
		Prefix:     "/prod/",
		PruneLocal: true,
		Backoff:    time.Millisecond,
	})

	p := writeSegment(t, dataDir, "chunks-2026-01-01-00.jsonl.zst", "zst")
	m.Enqueue(p)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.jsonl.zst"))
	m.Close()

	body, _, ok := b.get("/chunks/prod/events/chunks-2026-01-01-00.jsonl.zst")
	require.True(t, ok)
	require.Equal(t, "zst", string(body))
	_, err := os.Stat(p)
	require.True(t, os.IsNotExist(err), "segment should be pruned, stat err=%v", err)

	st := m.Stats()
	require.Equal(t, uint64(2), st.EnqueuedTotal)
	require.Equal(t, uint64(1), st.UploadSuccessTotal)
	require.Equal(t, uint64(1), st.UploadFailTotal)
	require.Zero(t, st.DroppedTotal)
	require.NotZero(t, st.LastSuccessUnix)
}
