package rates

import (
	"testing"
	"time"
)

func TestAllowWindow(t *testing.T) {
	start, count := int64(0), 0
	var ok bool
	var cd int64
	for i := 0; i < 3; i++ {
		start, count, ok, cd = Allow(1000, start, count, 500, 3)
		if !ok {
			t.Fatalf("event %d rejected", i)
		}
	}
	if start != 1000 {
		t.Fatalf("window start=%d", start)
	}
	_, _, ok, cd = Allow(1200, start, count, 500, 3)
	if ok || cd != 300 {
		t.Fatalf("expected rejection with 300ms cooldown, got ok=%v cd=%d", ok, cd)
	}
	start, count, ok, _ = Allow(1500, start, count+1, 500, 3)
	if !ok || start != 1500 || count != 1 {
		t.Fatalf("window did not reopen: start=%d count=%d ok=%v", start, count, ok)
	}
}

func TestAllowDisabled(t *testing.T) {
	for _, tc := range []struct {
		window int64
		max    int
	}{{0, 3}, {500, 0}} {
		if _, _, ok, _ := Allow(1, 0, 100, tc.window, tc.max); !ok {
			t.Fatalf("window=%d max=%d should not limit", tc.window, tc.max)
		}
	}
}

func TestWindow(t *testing.T) {
	w := &Window{Span: time.Second, Max: 2}
	now := time.UnixMilli(10_000)
	if ok, _ := w.Allow(now); !ok {
		t.Fatalf("first rejected")
	}
	if ok, _ := w.Allow(now.Add(10 * time.Millisecond)); !ok {
		t.Fatalf("second rejected")
	}
	ok, retry := w.Allow(now.Add(400 * time.Millisecond))
	if ok || retry != 600*time.Millisecond {
		t.Fatalf("third: ok=%v retry=%v", ok, retry)
	}
	if ok, _ := w.Allow(now.Add(time.Second)); !ok {
		t.Fatalf("window did not reopen")
	}
}
