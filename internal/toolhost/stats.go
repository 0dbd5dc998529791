package toolhost

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// defaultWindowSize is the number of recent calls each tool's window keeps.
const defaultWindowSize = 100

// window is a ring buffer of the most recent call latencies of one tool,
// each paired with its error flag so the error rate stays exact after the
// buffer wraps.
type window struct {
	latencies []time.Duration
	failed    []bool
	pos       int
	total     int
}

func newWindow(size int) *window {
	return &window{
		latencies: make([]time.Duration, size),
		failed:    make([]bool, size),
	}
}

func (w *window) record(d time.Duration, failed bool) {
	w.latencies[w.pos] = d
	w.failed[w.pos] = failed
	w.pos = (w.pos + 1) % len(w.latencies)
	w.total++
}

func (w *window) filled() int {
	return min(w.total, len(w.latencies))
}

// ToolStats summarises the recent calls of one tool.
type ToolStats struct {
	Tool      string
	Calls     int // all calls since start, not only those in the window
	ErrorRate float64
	P50       time.Duration
	P99       time.Duration
}

func (w *window) snapshot(tool string) ToolStats {
	n := w.filled()
	st := ToolStats{Tool: tool, Calls: w.total}
	if n == 0 {
		return st
	}

	sorted := slices.Clone(w.latencies[:n])
	slices.Sort(sorted)
	errs := 0
	for _, f := range w.failed[:n] {
		if f {
			errs++
		}
	}
	st.ErrorRate = float64(errs) / float64(n)
	st.P50 = sorted[n/2]
	st.P99 = sorted[int(float64(n-1)*0.99)]
	return st
}

// Stats collects per-tool latency windows. It is safe for concurrent use by
// dispatch workers.
type Stats struct {
	mu      sync.Mutex
	size    int
	windows map[string]*window
}

// NewStats returns a collector keeping the last size calls per tool. A size
// of 0 or less selects 100.
func NewStats(size int) *Stats {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &Stats{size: size, windows: make(map[string]*window)}
}

// Record adds one call outcome for tool.
func (s *Stats) Record(tool string, d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tool]
	if !ok {
		w = newWindow(s.size)
		s.windows[tool] = w
	}
	w.record(d, failed)
}

// Snapshot returns the statistics of every tool seen so far, sorted by name.
func (s *Stats) Snapshot() []ToolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolStats, 0, len(s.windows))
	for name, w := range s.windows {
		out = append(out, w.snapshot(name))
	}
	slices.SortFunc(out, func(a, b ToolStats) int { return strings.Compare(a.Tool, b.Tool) })
	return out
}
