// Package telemetry records per-request timings of a browser context and
// summarizes them for each logical operation (one search, one video fetch).
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// TopN is the number of slowest requests listed in a summary.
const TopN = 10

// Timer collects request start/finish/failure events. Events arrive from the
// browser's event dispatch goroutine, so every method is safe for concurrent use.
type Timer struct {
	threshold time.Duration
	now       func() time.Time

	mu       sync.Mutex
	urls     map[string]string    // request id -> url
	starts   map[string]time.Time // url -> start
	success  map[string]time.Duration
	failed   map[string]time.Duration
	opName   string
	opStart  time.Time
	lastText string
}

// New creates a Timer that lists requests slower than threshold.
func New(threshold time.Duration) *Timer {
	t := &Timer{threshold: threshold, now: time.Now}
	t.reset()
	return t
}

// WithClock replaces the time source. Used by tests.
func (t *Timer) WithClock(now func() time.Time) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

func (t *Timer) reset() {
	t.urls = make(map[string]string)
	t.starts = make(map[string]time.Time)
	t.success = make(map[string]time.Duration)
	t.failed = make(map[string]time.Duration)
}

// RequestStarted records the start time of a request.
func (t *Timer) RequestStarted(id, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.urls[id] = url
	t.starts[url] = t.now()
}

// RequestFinished records a successful completion.
func (t *Timer) RequestFinished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, start, ok := t.lookup(id)
	if !ok {
		return
	}
	t.success[url] = t.now().Sub(start)
}

// RequestFailed records a failed request under "<reason> - <url>".
func (t *Timer) RequestFailed(id, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, start, ok := t.lookup(id)
	if !ok {
		return
	}
	t.failed[fmt.Sprintf("%s - %s", reason, url)] = t.now().Sub(start)
}

// lookup must be called with mu held.
func (t *Timer) lookup(id string) (string, time.Time, bool) {
	url, ok := t.urls[id]
	if !ok {
		return "", time.Time{}, false
	}
	delete(t.urls, id)
	start, ok := t.starts[url]
	return url, start, ok
}

// Counts returns the number of finished and failed requests recorded so far.
func (t *Timer) Counts() (finished, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.success), len(t.failed)
}

// Begin marks the start of an operation and clears per-operation state.
func (t *Timer) Begin(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.opName = op
	t.opStart = t.now()
}

// End formats the summary of the current operation, logs it, retains it
// as the last summary and clears per-operation state.
func (t *Timer) End() string {
	t.mu.Lock()
	op := t.opName
	text := t.format(t.now().Sub(t.opStart))
	t.lastText = text
	t.opStart = time.Time{}
	t.reset()
	t.mu.Unlock()

	logger.Info("request timings", "operation", op, "summary", "\n"+text)
	return text
}

// Snapshot formats the summary of the operation in progress without
// clearing it. Crash diagnostics use it.
func (t *Timer) Snapshot() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opStart.IsZero() {
		return t.lastText
	}
	return t.format(t.now().Sub(t.opStart))
}

// Last returns the summary of the most recently completed operation.
func (t *Timer) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastText
}

// Measure runs fn as the operation op and summarizes its requests.
func Measure[T any](ctx context.Context, t *Timer, op string, fn func(context.Context) (T, error)) (T, error) {
	t.Begin(op)
	defer t.End()
	return fn(ctx)
}

type entry struct {
	key string
	dur time.Duration
}

func sorted(m map[string]time.Duration) []entry {
	out := make([]entry, 0, len(m))
	for k, d := range m {
		out = append(out, entry{k, d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].dur == out[j].dur {
			return out[i].key < out[j].key
		}
		return out[i].dur > out[j].dur
	})
	return out
}

// format must be called with mu held.
func (t *Timer) format(total time.Duration) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Total operation %s time: %.2fs\n\n", t.opName, total.Seconds())

	sb.WriteString("Top 10 slowest requests (requests run in parallel, durations do not add up to the total): ")
	var slow []string
	for _, e := range sorted(t.success) {
		if len(slow) == TopN {
			break
		}
		if e.dur > t.threshold {
			slow = append(slow, fmt.Sprintf("   %.2fs - %s", e.dur.Seconds(), e.key))
		}
	}
	if len(slow) == 0 {
		fmt.Fprintf(&sb, "No requests slower than %.2f sec.", t.threshold.Seconds())
	} else {
		sb.WriteString("\n" + strings.Join(slow, "\n"))
	}

	sb.WriteString("\n\nFailed requests: \n")
	failed := sorted(t.failed)
	if len(failed) == 0 {
		sb.WriteString("No failed requests!")
	} else {
		lines := make([]string, 0, len(failed))
		for _, e := range failed {
			lines = append(lines, fmt.Sprintf("   %.2fs - %s", e.dur.Seconds(), e.key))
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}
	sb.WriteString("\n")

	return sb.String()
}
