// Package browsertest provides a scriptable in-memory browser.Page for
// testing code that drives a browser.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/jmylchreest/randouyin/internal/browser"
)

// Page is a fake browser.Page. Set the hook fields before use; the record
// fields are written by the methods and read through the accessors.
type Page struct {
	// WaitErr decides the result of WaitAttached. n counts calls for the
	// selector, starting at 1. Nil means every selector is attached.
	WaitErr func(selector string, n int) error
	// Cards returns the fragments OuterHTMLAll yields on its n-th call,
	// starting at 1.
	Cards func(n int) []string
	// VisibleFunc decides Visible. Nil means nothing is visible.
	VisibleFunc func(p *Page, loc browser.Locator) bool
	// Outer maps selectors to OuterHTML results. Missing selectors time out.
	Outer map[string]string
	// HTML is returned by Content.
	HTML string
	// ClickTextErr is returned by ClickText.
	ClickTextErr error
	// NavigateErr is returned by Navigate.
	NavigateErr error
	// GoBackErr is returned by GoBack.
	GoBackErr error

	mu          sync.Mutex
	waits       map[string]int
	cardCalls   int
	history     []string
	navigations []string
	goBacks     int
	keys        []string
	wheels      int
	moves       int
	filled      map[string]string
	clicks      []string
	clickTexts  []string
	screenshots int
	viewport    [2]int
	closed      bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a Page where every selector is attached and no popup is visible.
func NewPage() *Page {
	return &Page{}
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	return nil
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.viewport = [2]int{width, height}
	p.mu.Unlock()
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.history = append(p.history, url)
	return nil
}

func (p *Page) GoBack(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.goBacks++
	if p.GoBackErr != nil {
		return p.GoBackErr
	}
	if len(p.history) < 2 {
		return browser.ErrNoHistory
	}
	p.history = p.history[:len(p.history)-1]
	return nil
}

func (p *Page) WaitAttached(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	if p.waits == nil {
		p.waits = make(map[string]int)
	}
	p.waits[selector]++
	n := p.waits[selector]
	hook := p.WaitErr
	p.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(selector, n)
}

func (p *Page) OuterHTML(ctx context.Context, selector string) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	html, ok := p.Outer[selector]
	if !ok {
		return "", browser.NewTimeoutError("outer html", selector, time.Second)
	}
	return html, nil
}

func (p *Page) OuterHTMLAll(ctx context.Context, selector string) ([]string, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cardCalls++
	n := p.cardCalls
	cards := p.Cards
	p.mu.Unlock()

	if cards == nil {
		return nil, nil
	}
	return cards(n), nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.HTML, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.screenshots++
	p.mu.Unlock()
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled == nil {
		p.filled = make(map[string]string)
	}
	p.filled[selector] = value
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	p.history = append(p.history, "click:"+selector)
	return nil
}

func (p *Page) ClickText(ctx context.Context, text string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickTexts = append(p.clickTexts, text)
	return p.ClickTextErr
}

func (p *Page) Visible(ctx context.Context, loc browser.Locator) (bool, error) {
	if err := p.check(ctx); err != nil {
		return false, err
	}
	if p.VisibleFunc == nil {
		return false, nil
	}
	return p.VisibleFunc(p, loc), nil
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.moves++
	p.mu.Unlock()
	return nil
}

func (p *Page) Wheel(ctx context.Context, dx, dy float64) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.wheels++
	p.mu.Unlock()
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// CardCalls returns how many times OuterHTMLAll ran.
func (p *Page) CardCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cardCalls
}

// Waits returns how many times WaitAttached ran for selector.
func (p *Page) Waits(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits[selector]
}

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) GoBacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.goBacks
}

func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// KeyCount counts presses of key.
func (p *Page) KeyCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

func (p *Page) Wheels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wheels
}

func (p *Page) Moves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

// Filled returns the last value filled into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) ClickedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clickTexts...)
}

func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

func (p *Page) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport[0], p.viewport[1]
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Opener hands out pages in order, creating fresh ones with New once Pages
// is exhausted.
type Opener struct {
	Pages []*Page
	New   func() *Page
	Err   error

	mu     sync.Mutex
	opened int
}

func (o *Opener) NewPage(ctx context.Context) (browser.Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	o.opened++
	if len(o.Pages) > 0 {
		p := o.Pages[0]
		o.Pages = o.Pages[1:]
		return p, nil
	}
	if o.New != nil {
		return o.New(), nil
	}
	return NewPage(), nil
}

// Opened returns the number of pages handed out.
func (o *Opener) Opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}
