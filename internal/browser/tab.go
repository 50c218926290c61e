package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/jmylchreest/randouyin/internal/telemetry"
)

// Key names accepted by Page.Press.
const (
	KeyTab   = "Tab"
	KeyShift = "Shift"
	KeyAlt   = "Alt"
	KeyEnd   = "End"
)

var keyCodes = map[string]string{
	KeyTab:   kb.Tab,
	KeyShift: kb.Shift,
	KeyAlt:   kb.Alt,
	KeyEnd:   kb.End,
}

type tabOptions struct {
	rules         *Rules
	timer         *telemetry.Timer
	actionTimeout time.Duration
}

// Tab is a chromedp-backed Page.
type Tab struct {
	ctx           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration

	mu        sync.Mutex
	mouseX    float64
	mouseY    float64
	closeOnce sync.Once
}

func newTab(ctx context.Context, browserCtx context.Context, tid target.ID, opts tabOptions) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(tid))
	t := &Tab{
		ctx:           tabCtx,
		cancel:        cancel,
		actionTimeout: opts.actionTimeout,
		mouseX:        200,
		mouseY:        200,
	}

	if opts.timer != nil {
		listenTelemetry(tabCtx, opts.timer)
	}
	if opts.rules != nil {
		listenIntercept(tabCtx, opts.rules)
	}

	// First Run attaches to the target and must not carry a deadline.
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx,
			network.Enable(),
			fetch.Enable().WithPatterns(interceptPatterns()),
			chromedp.ActionFunc(func(ctx context.Context) error {
				_, err := page.AddScriptToEvaluateOnNewDocument(initScript).Do(ctx)
				return err
			}),
		)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set up tab: %w", err)
	}
	return t, nil
}

// listenTelemetry feeds the network events of the tab in ctx into timer.
func listenTelemetry(ctx context.Context, timer *telemetry.Timer) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			timer.RequestStarted(string(e.RequestID), e.Request.URL)
		case *network.EventLoadingFinished:
			timer.RequestFinished(string(e.RequestID))
		case *network.EventLoadingFailed:
			timer.RequestFailed(string(e.RequestID), e.ErrorText)
		}
	})
}

// run executes actions bounded by timeout. Expiry of that bound yields a
// *TimeoutError; cancellation of ctx is returned as is.
func (t *Tab) run(ctx context.Context, op, selector string, timeout time.Duration, actions ...chromedp.Action) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = t.actionTimeout
	}

	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case t.ctx.Err() != nil:
		return ErrClosed
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return NewTimeoutError(op, selector, timeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (t *Tab) SetViewport(ctx context.Context, width, height int) error {
	return t.run(ctx, "set viewport", "", 0, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.run(ctx, "navigate", url, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("page load error %s", res.ErrorText)
		}
		return nil
	}))
}

func (t *Tab) GoBack(ctx context.Context) error {
	return t.run(ctx, "go back", "", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		cur, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		if cur <= 0 || int(cur) > len(entries)-1 {
			return ErrNoHistory
		}
		return page.NavigateToHistoryEntry(entries[cur-1].ID).Do(ctx)
	}))
}

func (t *Tab) WaitAttached(ctx context.Context, selector string, timeout time.Duration) error {
	return t.run(ctx, "wait for selector", selector, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (t *Tab) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := t.run(ctx, "outer html", selector, 0, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

func (t *Tab) OuterHTMLAll(ctx context.Context, selector string) ([]string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => e.outerHTML)`, quoted)

	var out []string
	if err := t.run(ctx, "outer html all", selector, 0, chromedp.Evaluate(script, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tab) Content(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, "content", "", 0, chromedp.Evaluate(`document.documentElement.outerHTML`, &html))
	return html, err
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := t.run(ctx, "screenshot", "", 0, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	return t.run(ctx, "fill", selector, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(value).Do(ctx)
		}),
	)
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, "click", selector, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (t *Tab) ClickText(ctx context.Context, text string) error {
	return t.run(ctx, "click text", text, 0, chromedp.Click(textXPath(text), chromedp.BySearch, chromedp.NodeVisible))
}

func (t *Tab) Visible(ctx context.Context, loc Locator) (bool, error) {
	var script string
	if loc.Text != "" {
		script = fmt.Sprintf(visibleByXPathScript, jsString(textXPath(loc.Text)))
	} else {
		script = fmt.Sprintf(visibleBySelectorScript, jsString(loc.Selector))
	}
	var visible bool
	err := t.run(ctx, "visible", loc.String(), 0, chromedp.Evaluate(script, &visible))
	return visible, err
}

func (t *Tab) MouseMove(ctx context.Context, x, y float64) error {
	if err := t.run(ctx, "mouse move", "", 0, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
		return err
	}
	t.mu.Lock()
	t.mouseX, t.mouseY = x, y
	t.mu.Unlock()
	return nil
}

func (t *Tab) Wheel(ctx context.Context, dx, dy float64) error {
	t.mu.Lock()
	x, y := t.mouseX, t.mouseY
	t.mu.Unlock()
	return t.run(ctx, "mouse wheel", "", 0, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy).Do(ctx)
	}))
}

func (t *Tab) Press(ctx context.Context, key string) error {
	code, ok := keyCodes[key]
	if !ok {
		code = key
	}
	return t.run(ctx, "press", key, 0, chromedp.KeyEvent(code))
}

// Close closes the tab. It is safe to call more than once.
func (t *Tab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = chromedp.Cancel(t.ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		t.cancel()
	})
	return err
}

const visibleBySelectorScript = `(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const s = getComputedStyle(el);
  const r = el.getBoundingClientRect();
  return s.visibility !== 'hidden' && s.display !== 'none' && r.width > 0 && r.height > 0;
})()`

const visibleByXPathScript = `(() => {
  const res = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  for (let i = 0; i < res.snapshotLength; i++) {
    const el = res.snapshotItem(i);
    const s = getComputedStyle(el);
    const r = el.getBoundingClientRect();
    if (s.visibility !== 'hidden' && s.display !== 'none' && r.width > 0 && r.height > 0) return true;
  }
  return false;
})()`

// textXPath matches elements whose own text nodes contain s.
func textXPath(s string) string {
	return "//*[text()[contains(., " + xpathLiteral(s) + ")]]"
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
