// Package browser manages the headless Chrome process, its browser contexts
// and tabs.
//
// A Session owns one Chrome process. Each Context is an isolated browser
// context with its own cookies loaded from a CookieJar, its own request
// interception and a telemetry.Timer fed by the network events of its tabs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/randouyin/internal/config"
	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/telemetry"
)

// Options configures a Session.
type Options struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int

	CookiePath    string
	SlowThreshold time.Duration
	// ActionTimeout bounds page actions that have no explicit timeout.
	ActionTimeout time.Duration

	// Rules is the interception policy. Nil means DefaultRules().
	Rules []Rule
}

// OptionsFromConfig maps the runtime configuration onto Session options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Headless:      cfg.Browser.Headless,
		ExecPath:      cfg.Browser.ExecPath,
		UserAgent:     cfg.Browser.UserAgent,
		WindowWidth:   cfg.Browser.ViewportWidth,
		WindowHeight:  cfg.Browser.ViewportHeight,
		CookiePath:    cfg.Storage.CookiePath,
		SlowThreshold: cfg.Scraping.SlowRequestThreshold,
		ActionTimeout: cfg.Timeouts.Navigation,
	}
}

// Session owns the Chrome process.
type Session struct {
	opts  Options
	rules *Rules

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	contexts      []*Context
	closed        bool
}

// NewSession validates opts. Chrome is not launched until Start.
func NewSession(opts Options) (*Session, error) {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	rules, err := NewRules(opts.Rules...)
	if err != nil {
		return nil, &SessionError{Op: "configure", Err: err}
	}
	return &Session{opts: opts, rules: rules}, nil
}

// Start launches Chrome. The process outlives ctx; only Close stops it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &SessionError{Op: "start", Err: ErrClosed}
	}
	if s.browserCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(s.opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	// The first Run launches the process. It must run on the browser
	// context itself, so caller cancellation is observed separately.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return &SessionError{Op: "start", Err: err}
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	logger.Info("browser started", "headless", s.opts.Headless)
	return nil
}

// executor returns ctx bound to the browser-level CDP connection.
func (s *Session) executor(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	bctx := s.browserCtx
	s.mu.Unlock()
	if bctx == nil {
		return nil, ErrClosed
	}
	c := chromedp.FromContext(bctx)
	if c == nil || c.Browser == nil {
		return nil, ErrClosed
	}
	return cdp.WithExecutor(ctx, c.Browser), nil
}

// NewContext creates an isolated browser context, loads persisted cookies
// into it and writes the jar back if the browser's view differs.
func (s *Session) NewContext(ctx context.Context) (*Context, error) {
	exec, err := s.executor(ctx)
	if err != nil {
		return nil, &SessionError{Op: "new context", Err: err}
	}

	id, err := target.CreateBrowserContext().Do(exec)
	if err != nil {
		return nil, &SessionError{Op: "new context", Err: err}
	}

	c := &Context{
		session: s,
		id:      id,
		jar:     &CookieJar{Path: s.opts.CookiePath},
		timer:   telemetry.New(s.opts.SlowThreshold),
	}

	if err := c.loadCookies(exec); err != nil {
		_ = target.DisposeBrowserContext(id).Do(exec)
		return nil, &SessionError{Op: "load cookies", Err: err}
	}

	s.mu.Lock()
	s.contexts = append(s.contexts, c)
	s.mu.Unlock()

	logger.Debug("browser context created", "id", string(id))
	return c, nil
}

// Close closes every context, then the browser, then the Chrome process.
// The first error is returned; later ones are logged.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	contexts := s.contexts
	s.contexts = nil
	browserCtx, browserCancel, allocCancel := s.browserCtx, s.browserCancel, s.allocCancel
	s.mu.Unlock()

	var first error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = fmt.Errorf("%s: %w", step, err)
			return
		}
		logger.Warn("teardown error", "step", step, "error", err)
	}

	for _, c := range contexts {
		record("close context", c.Close())
	}
	if browserCtx != nil {
		err := chromedp.Cancel(browserCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		record("close browser", err)
		browserCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}

	logger.Debug("browser session closed")
	return first
}

// Context is one isolated browser context.
type Context struct {
	session *Session
	id      cdp.BrowserContextID
	jar     *CookieJar
	timer   *telemetry.Timer

	mu     sync.Mutex
	tabs   []*Tab
	closed bool
}

// Timer returns the request telemetry bound to this context.
func (c *Context) Timer() *telemetry.Timer { return c.timer }

func (c *Context) loadCookies(exec context.Context) error {
	loaded, err := c.jar.Load()
	if err != nil {
		return err
	}
	if len(loaded) > 0 {
		if err := storage.SetCookies(toParams(loaded)).WithBrowserContextID(c.id).Do(exec); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	current, err := storage.GetCookies().WithBrowserContextID(c.id).Do(exec)
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	written, err := c.jar.Save(fromNetwork(current), loaded)
	if err != nil {
		return err
	}
	logger.Debug("cookies loaded", "count", len(loaded), "rewritten", written, "path", c.jar.Path)
	return nil
}

// NewPage opens a tab in this context with interception, telemetry and the
// init scripts installed.
func (c *Context) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	exec, err := c.session.executor(ctx)
	if err != nil {
		return nil, err
	}
	tid, err := target.CreateTarget("about:blank").WithBrowserContextID(c.id).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create tab: %w", err)
	}

	tab, err := newTab(ctx, c.session.browserCtx, tid, tabOptions{
		rules:         c.session.rules,
		timer:         c.timer,
		actionTimeout: c.session.opts.ActionTimeout,
	})
	if err != nil {
		_ = target.CloseTarget(tid).Do(exec)
		return nil, err
	}

	c.mu.Lock()
	c.tabs = append(c.tabs, tab)
	c.mu.Unlock()
	return tab, nil
}

// Close closes the context's tabs and disposes of the context.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	tabs := c.tabs
	c.tabs = nil
	c.mu.Unlock()

	for _, t := range tabs {
		_ = t.Close()
	}

	exec, err := c.session.executor(context.Background())
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(exec, 5*time.Second)
	defer cancel()
	if err := target.DisposeBrowserContext(c.id).Do(ctx); err != nil {
		return fmt.Errorf("failed to dispose browser context: %w", err)
	}
	return nil
}
