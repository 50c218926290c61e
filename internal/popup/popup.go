// Package popup detects and reacts to the obstructions the site throws in
// front of a scraper: the sign-in modal, the CAPTCHA container and the
// inline "log in to view" dead end.
//
// Handlers are plain values registered into a Set. The Set is dispatched
// before each page step and reports what happened as an Outcome, which the
// caller inspects instead of unwinding through errors raised in callbacks.
package popup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/logger"
)

var (
	// ErrCaptcha means a CAPTCHA challenge is showing. The operation must stop.
	ErrCaptcha = errors.New("captcha detected")
	// ErrDeadEnd means the page hides its content behind a login prompt.
	ErrDeadEnd = errors.New("dead end: content requires login")
)

// Kind tags an Outcome.
type Kind int

const (
	// Continue means nothing was in the way.
	Continue Kind = iota
	// Dismissed means an obstruction was found and cleared.
	Dismissed
	// Aborted means an obstruction was found that cannot be cleared.
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Dismissed:
		return "dismissed"
	case Aborted:
		return "aborted"
	default:
		return "continue"
	}
}

// Outcome is the result of a handler reaction or of a full dispatch.
type Outcome struct {
	Kind    Kind
	Handler string
	Err     error // set when Kind is Aborted
}

// Handler reacts to one kind of obstruction.
type Handler interface {
	Name() string
	Locator() browser.Locator
	React(ctx context.Context, page browser.Page) Outcome
}

// Set is an ordered list of handlers.
type Set struct {
	handlers []Handler
}

// NewSet returns a Set holding handlers in order.
func NewSet(handlers ...Handler) *Set {
	return &Set{handlers: handlers}
}

// Add appends a handler.
func (s *Set) Add(h Handler) {
	s.handlers = append(s.handlers, h)
}

// Len returns the number of registered handlers.
func (s *Set) Len() int { return len(s.handlers) }

// Dispatch checks every handler's locator once and lets visible ones react.
// The first Aborted outcome is returned immediately; otherwise the result is
// Dismissed if any handler cleared something. Visibility probes that fail
// are skipped unless the page is gone.
func (s *Set) Dispatch(ctx context.Context, page browser.Page) Outcome {
	result := Outcome{Kind: Continue}
	for _, h := range s.handlers {
		visible, err := page.Visible(ctx, h.Locator())
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, browser.ErrClosed) {
				return Outcome{Kind: Aborted, Handler: h.Name(), Err: err}
			}
			logger.Debug("popup probe failed", "handler", h.Name(), "error", err)
			continue
		}
		if !visible {
			continue
		}

		out := h.React(ctx, page)
		if out.Handler == "" {
			out.Handler = h.Name()
		}
		logger.Info("popup detected", "handler", out.Handler, "outcome", out.Kind.String())

		switch out.Kind {
		case Aborted:
			return out
		case Dismissed:
			result = out
		}
	}
	return result
}

// Site texts.
const (
	SignInText     = "请登录后继续使用"
	SignInCancel   = "取消"
	DeadEndText    = "登录后查看精彩内容"
	CaptchaLocator = "div#captcha_container"
)

// SignIn dismisses the sign-in modal by clicking its cancel affordance.
type SignIn struct {
	Text   string
	Cancel string
}

func (h SignIn) Name() string             { return "sign-in" }
func (h SignIn) Locator() browser.Locator { return browser.ByText(h.Text) }

func (h SignIn) React(ctx context.Context, page browser.Page) Outcome {
	if err := page.ClickText(ctx, h.Cancel); err != nil {
		logger.Warn("failed to dismiss sign-in popup", "error", err)
		return Outcome{Kind: Continue, Handler: h.Name()}
	}
	return Outcome{Kind: Dismissed, Handler: h.Name()}
}

// Captcha aborts the operation.
type Captcha struct {
	Selector string
}

func (h Captcha) Name() string             { return "captcha" }
func (h Captcha) Locator() browser.Locator { return browser.BySelector(h.Selector) }

func (h Captcha) React(context.Context, browser.Page) Outcome {
	return Outcome{Kind: Aborted, Handler: h.Name(), Err: ErrCaptcha}
}

// DeadEnd aborts the current step so it can be retried.
type DeadEnd struct {
	Text string
}

func (h DeadEnd) Name() string             { return "dead-end" }
func (h DeadEnd) Locator() browser.Locator { return browser.ByText(h.Text) }

func (h DeadEnd) React(context.Context, browser.Page) Outcome {
	return Outcome{Kind: Aborted, Handler: h.Name(), Err: ErrDeadEnd}
}

// Defaults returns the site's handlers. CAPTCHA is checked first.
func Defaults() []Handler {
	return []Handler{
		Captcha{Selector: CaptchaLocator},
		DeadEnd{Text: DeadEndText},
		SignIn{Text: SignInText, Cancel: SignInCancel},
	}
}

// AsError returns the outcome's error for Aborted outcomes, nil otherwise.
func (o Outcome) AsError() error {
	if o.Kind != Aborted {
		return nil
	}
	if o.Err == nil {
		return fmt.Errorf("aborted by %s", o.Handler)
	}
	return o.Err
}
