package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTimer_RecordsSuccessAndFailure(t *testing.T) {
	clock := newFakeClock()
	tm := New(time.Second).WithClock(clock.Now)
	tm.Begin("search_videos")

	tm.RequestStarted("1", "https://www.douyin.com/aweme/v1/web/search")
	tm.RequestStarted("2", "https://lf-security.bytegoofy.com/sdk.js")
	clock.Advance(1500 * time.Millisecond)
	tm.RequestFinished("1")
	tm.RequestFailed("2", "net::ERR_BLOCKED_BY_CLIENT")

	finished, failed := tm.Counts()
	if finished != 1 || failed != 1 {
		t.Fatalf("Counts() = %d, %d; want 1, 1", finished, failed)
	}

	text := tm.Snapshot()
	for _, want := range []string{
		"Total operation search_videos time: 1.50s",
		"1.50s - https://www.douyin.com/aweme/v1/web/search",
		"net::ERR_BLOCKED_BY_CLIENT - https://lf-security.bytegoofy.com/sdk.js",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestTimer_UnknownRequestIgnored(t *testing.T) {
	tm := New(0)
	tm.Begin("op")
	tm.RequestFinished("missing")
	tm.RequestFailed("missing", "net::ERR_FAILED")

	if finished, failed := tm.Counts(); finished != 0 || failed != 0 {
		t.Errorf("Counts() = %d, %d; want 0, 0", finished, failed)
	}
}

func TestTimer_ThresholdAndTopN(t *testing.T) {
	clock := newFakeClock()
	tm := New(500 * time.Millisecond).WithClock(clock.Now)
	tm.Begin("op")

	// 15 slow requests finishing at staggered times, plus one fast one.
	for i := 0; i < 15; i++ {
		tm.RequestStarted(fmt.Sprint(i), fmt.Sprintf("https://example.com/slow/%02d", i))
	}
	tm.RequestStarted("fast", "https://example.com/fast")
	clock.Advance(100 * time.Millisecond)
	tm.RequestFinished("fast")
	clock.Advance(time.Second)
	for i := 0; i < 15; i++ {
		clock.Advance(10 * time.Millisecond)
		tm.RequestFinished(fmt.Sprint(i))
	}

	text := tm.Snapshot()
	if strings.Contains(text, "/fast") {
		t.Error("requests under the threshold should not be listed")
	}
	if got := strings.Count(text, "/slow/"); got != TopN {
		t.Errorf("listed %d slow requests, want %d", got, TopN)
	}
	// The last finishers are the slowest.
	if !strings.Contains(text, "/slow/14") {
		t.Error("slowest request should be listed")
	}
	if strings.Contains(text, "/slow/00") {
		t.Error("fastest of the slow requests should be cut by TopN")
	}
}

func TestTimer_EmptySummary(t *testing.T) {
	tm := New(time.Second)
	tm.Begin("get_video")
	text := tm.End()

	if !strings.Contains(text, "No requests slower than 1.00 sec.") {
		t.Errorf("expected no-slow marker in %q", text)
	}
	if !strings.Contains(text, "No failed requests!") {
		t.Errorf("expected no-failed marker in %q", text)
	}
}

func TestMeasure_ClearsStateBetweenOperations(t *testing.T) {
	clock := newFakeClock()
	tm := New(0).WithClock(clock.Now)

	_, err := Measure(context.Background(), tm, "first", func(ctx context.Context) (int, error) {
		tm.RequestStarted("1", "https://example.com/first")
		clock.Advance(time.Second)
		tm.RequestFinished("1")
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tm.Last(), "https://example.com/first") {
		t.Fatalf("first summary missing request:\n%s", tm.Last())
	}

	wantErr := errors.New("boom")
	got, err := Measure(context.Background(), tm, "second", func(ctx context.Context) (string, error) {
		return "partial", wantErr
	})
	if !errors.Is(err, wantErr) || got != "partial" {
		t.Fatalf("Measure() = %q, %v", got, err)
	}

	last := tm.Last()
	if strings.Contains(last, "https://example.com/first") {
		t.Error("timings leaked across operations")
	}
	if !strings.Contains(last, "Total operation second") {
		t.Errorf("expected second operation summary, got:\n%s", last)
	}
	if finished, failed := tm.Counts(); finished != 0 || failed != 0 {
		t.Error("state should be cleared after Measure")
	}
}

func TestTimer_ConcurrentEvents(t *testing.T) {
	tm := New(0)
	tm.Begin("op")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			tm.RequestStarted(id, "https://example.com/"+id)
			if i%2 == 0 {
				tm.RequestFinished(id)
			} else {
				tm.RequestFailed(id, "net::ERR_ABORTED")
			}
			_ = tm.Snapshot()
		}(i)
	}
	wg.Wait()

	finished, failed := tm.Counts()
	if finished != 25 || failed != 25 {
		t.Errorf("Counts() = %d, %d; want 25, 25", finished, failed)
	}
}
