package crash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/browser/browsertest"
)

func TestCapture_WritesBundle(t *testing.T) {
	rec := NewRecorder(filepath.Join(t.TempDir(), "crashes"))
	page := browsertest.NewPage()
	page.HTML = "<html><body>results</body></html>"

	cause := browser.NewTimeoutError("wait for selector", `div[id^="waterfall_item"]`, 0)
	inc := rec.Capture(context.Background(), page, KindTimeout, cause, "Total operation search_videos time: 3.00s\n")

	if !strings.HasPrefix(filepath.Base(inc.Dir), "timeout_") {
		t.Errorf("incident dir = %s, want timeout_ prefix", inc.Dir)
	}
	if inc.Ref() != filepath.Base(inc.Dir) {
		t.Errorf("Ref() = %s, dir = %s", inc.Ref(), inc.Dir)
	}

	tests := []struct {
		file string
		want string
	}{
		{ScreenshotFile, "PNG"},
		{PageFile, "results"},
		{ErrorFile, "MESSAGE:\n\nwait for selector"},
		{RequestsFile, "Total operation search_videos"},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(filepath.Join(inc.Dir, tt.file))
		if err != nil {
			t.Errorf("%s: %v", tt.file, err)
			continue
		}
		if !strings.Contains(string(data), tt.want) {
			t.Errorf("%s = %q, want it to contain %q", tt.file, data, tt.want)
		}
	}
	if _, err := os.Stat(inc.Screenshot()); err != nil {
		t.Errorf("screenshot missing: %v", err)
	}
}

func TestCapture_UniqueDirectories(t *testing.T) {
	rec := NewRecorder(t.TempDir())
	a := rec.Capture(context.Background(), nil, KindCrash, errors.New("a"), "")
	b := rec.Capture(context.Background(), nil, KindCrash, errors.New("b"), "")
	if a.Dir == b.Dir {
		t.Error("incidents share a directory")
	}
}

func TestCapture_ClosedPageStillWritesError(t *testing.T) {
	rec := NewRecorder(t.TempDir())
	page := browsertest.NewPage()
	_ = page.Close()

	inc := rec.Capture(context.Background(), page, KindCaptcha, errors.New("captcha detected"), "")
	if _, err := os.Stat(filepath.Join(inc.Dir, ErrorFile)); err != nil {
		t.Errorf("error file missing: %v", err)
	}
	if _, err := os.Stat(inc.Screenshot()); !os.IsNotExist(err) {
		t.Error("screenshot should be skipped for a closed page")
	}
	if _, err := os.Stat(filepath.Join(inc.Dir, RequestsFile)); !os.IsNotExist(err) {
		t.Error("empty telemetry should not be written")
	}
}

func TestCapture_CancelledContext(t *testing.T) {
	rec := NewRecorder(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inc := rec.Capture(ctx, browsertest.NewPage(), KindTimeout, context.Canceled, "")
	if _, err := os.Stat(inc.Screenshot()); err != nil {
		t.Errorf("screenshot should be captured after cancellation: %v", err)
	}
}

func TestError(t *testing.T) {
	rec := NewRecorder(t.TempDir())
	cause := errors.New("captcha detected")
	inc := rec.Capture(context.Background(), nil, KindCaptcha, cause, "")

	err := error(&Error{Incident: inc, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("Error should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), inc.Ref()) {
		t.Errorf("Error() = %q, want reference %s", err.Error(), inc.Ref())
	}
}

func TestCapture_ErrorChain(t *testing.T) {
	rec := NewRecorder(t.TempDir())
	timeout := browser.NewTimeoutError("wait for selector", "video", 0)
	cause := fmt.Errorf("fetch video page: %w", errors.Join(timeout, errors.New("tab detached")))

	inc := rec.Capture(context.Background(), nil, KindTimeout, cause, "")
	data, err := os.ReadFile(filepath.Join(inc.Dir, ErrorFile))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{
		"MESSAGE:\n\nfetch video page: ",
		"CHAIN:\n\n*fmt.wrapError: fetch video page: ",
		"\n  *errors.joinError: ",
		"\n    *browser.TimeoutError: wait for selector \"video\"",
		"\n    *errors.errorString: tab detached\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("error file missing %q:\n%s", want, got)
		}
	}
}

func TestReport_Nil(t *testing.T) {
	if got := report(nil); got != "MESSAGE:\n\nunknown error\n" {
		t.Errorf("report(nil) = %q", got)
	}
}
