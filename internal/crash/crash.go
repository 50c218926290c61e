// Package crash writes diagnostic bundles for failed browser operations.
//
// Each incident gets its own directory <kind>_<uuid> under the crash root,
// holding a screenshot, the page HTML, the error text and the request
// telemetry of the operation in progress.
package crash

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// Kind names the class of incident and prefixes its directory.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindCaptcha Kind = "captcha"
	KindCrash   Kind = "crash"
)

// File names inside an incident directory.
const (
	ScreenshotFile = "screenshot.png"
	PageFile       = "page.html"
	ErrorFile      = "error.txt"
	RequestsFile   = "requests.txt"
)

// captureTimeout bounds the screenshot and HTML snapshot.
const captureTimeout = 10 * time.Second

// Target is the page being diagnosed.
type Target interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
}

// Incident identifies one written bundle.
type Incident struct {
	ID   uuid.UUID
	Kind Kind
	Dir  string
}

// Ref is the reference handed to users, e.g. "timeout_<uuid>".
func (i Incident) Ref() string {
	return fmt.Sprintf("%s_%s", i.Kind, i.ID)
}

// Screenshot is the path of the bundle's screenshot.
func (i Incident) Screenshot() string {
	return filepath.Join(i.Dir, ScreenshotFile)
}

// Recorder writes incidents under Dir.
type Recorder struct {
	Dir string
}

// NewRecorder returns a Recorder rooted at dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{Dir: dir}
}

// Capture writes a bundle for cause. It never fails: parts that cannot be
// written are logged and skipped. target may be nil when no page exists.
func (r *Recorder) Capture(ctx context.Context, target Target, kind Kind, cause error, requests string) Incident {
	inc := Incident{ID: uuid.New(), Kind: kind}
	inc.Dir = filepath.Join(r.Dir, inc.Ref())

	log := logger.With("incident", inc.Ref())
	if err := os.MkdirAll(inc.Dir, 0o755); err != nil {
		log.Error("failed to create crash directory", "error", err)
		return inc
	}

	// Diagnostics run even when the caller has given up.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	if target != nil {
		if png, err := target.Screenshot(cctx); err != nil {
			log.Warn("failed to capture screenshot", "error", err)
		} else {
			write(log, filepath.Join(inc.Dir, ScreenshotFile), png)
		}

		if html, err := target.Content(cctx); err != nil {
			log.Warn("failed to capture page html", "error", err)
		} else if html != "" {
			write(log, filepath.Join(inc.Dir, PageFile), []byte(html))
		}
	}

	write(log, filepath.Join(inc.Dir, ErrorFile), []byte(report(cause)))

	if requests != "" {
		write(log, filepath.Join(inc.Dir, RequestsFile), []byte(requests))
	}

	log.Error("incident recorded", "kind", string(kind), "dir", inc.Dir, "error", cause)
	return inc
}

// report renders the error file: the message, then every error in the
// wrap chain with its type, one level of indent per unwrap.
func report(cause error) string {
	if cause == nil {
		return "MESSAGE:\n\nunknown error\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "MESSAGE:\n\n%s\n\nCHAIN:\n\n", cause)

	var walk func(err error, depth int)
	walk = func(err error, depth int) {
		fmt.Fprintf(&sb, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			if next := u.Unwrap(); next != nil {
				walk(next, depth+1)
			}
		case interface{ Unwrap() []error }:
			for _, next := range u.Unwrap() {
				walk(next, depth+1)
			}
		}
	}
	walk(cause, 0)
	return sb.String()
}

func write(log *slog.Logger, path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("failed to write crash file", "path", path, "error", err)
	}
}

// Error is a user-facing failure that carries an incident reference.
type Error struct {
	Incident Incident
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error, contact the administrator with reference %s: %v", e.Incident.Kind, e.Incident.Ref(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
