package rates

import "time"

// Allow counts one event in a fixed window that starts at startMS. When the
// window has elapsed it restarts at nowMS. cooldownMS is how long until the
// window reopens when ok is false.
func Allow(nowMS int64, startMS int64, count int, windowMS int64, max int) (newStart int64, newCount int, ok bool, cooldownMS int64) {
	newStart = startMS
	newCount = count
	if windowMS <= 0 || max <= 0 {
		return newStart, newCount, true, 0
	}

	if nowMS-newStart >= windowMS {
		newStart = nowMS
		newCount = 0
	}
	newCount++
	if newCount <= max {
		return newStart, newCount, true, 0
	}
	return newStart, newCount, false, (newStart + windowMS) - nowMS
}

// Window is a fixed-window limiter for a single owner.
type Window struct {
	Span time.Duration
	Max  int

	start int64
	count int
}

func (w *Window) Allow(now time.Time) (bool, time.Duration) {
	start, count, ok, cd := Allow(now.UnixMilli(), w.start, w.count, w.Span.Milliseconds(), w.Max)
	w.start, w.count = start, count
	return ok, time.Duration(cd) * time.Millisecond
}
