package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Page is one browser tab as seen by the scraping core. Every method is a
// potential suspension point; waits carry their own bound and fail with a
// *TimeoutError when it expires.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	// Navigate returns once the navigation has committed, without waiting
	// for the load event.
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	// WaitAttached waits until selector matches a node in the DOM.
	WaitAttached(ctx context.Context, selector string, timeout time.Duration) error

	OuterHTML(ctx context.Context, selector string) (string, error)
	OuterHTMLAll(ctx context.Context, selector string) ([]string, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	ClickText(ctx context.Context, text string) error
	Visible(ctx context.Context, loc Locator) (bool, error)

	MouseMove(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, dx, dy float64) error
	Press(ctx context.Context, key string) error

	Close() error
}

// Locator selects an element either by CSS selector or by contained text.
type Locator struct {
	Selector string
	Text     string
}

// ByText returns a Locator matching elements whose own text contains s.
func ByText(s string) Locator { return Locator{Text: s} }

// BySelector returns a Locator matching a CSS selector.
func BySelector(s string) Locator { return Locator{Selector: s} }

func (l Locator) String() string {
	if l.Text != "" {
		return fmt.Sprintf("text=%q", l.Text)
	}
	return l.Selector
}

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timeout exceeded")
	// ErrClosed indicates the page or session was already torn down.
	ErrClosed = errors.New("browser closed")
	// ErrNoHistory indicates GoBack was called on the first history entry.
	ErrNoHistory = errors.New("no previous history entry")
)

// TimeoutError is returned when a specific wait or navigation exceeded its bound.
type TimeoutError struct {
	Op       string
	Selector string
	Timeout  time.Duration
}

// NewTimeoutError builds a TimeoutError.
func NewTimeoutError(op, selector string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, Selector: selector, Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s %q: timeout %s exceeded", e.Op, e.Selector, e.Timeout)
	}
	return fmt.Sprintf("%s: timeout %s exceeded", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IsTimeout reports whether err is a wait/navigation timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// SessionError is a fatal setup failure: the browser could not start or a
// context could not be created.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session %s failed: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
