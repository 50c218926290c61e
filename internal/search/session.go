// Package search drives the site's search surface: it opens the page, runs
// one query at a time and returns the page to its pre-search state
// afterwards so the next query starts from the same place.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmylchreest/randouyin/internal/antiblock"
	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/config"
	"github.com/jmylchreest/randouyin/internal/crash"
	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/popup"
	"github.com/jmylchreest/randouyin/internal/telemetry"
)

// State is the lifecycle position of a Session.
type State int

const (
	Unopened State = iota
	Opened
	Searching
	ResultsReady
)

func (s State) String() string {
	switch s {
	case Opened:
		return "opened"
	case Searching:
		return "searching"
	case ResultsReady:
		return "results-ready"
	default:
		return "unopened"
	}
}

// ErrNotOpened is returned by Search before Open succeeded.
var ErrNotOpened = errors.New("search page is not open")

// PageSource opens browser tabs.
type PageSource interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// Session is the search surface state machine. Methods must not be called
// concurrently with each other.
type Session struct {
	source   PageSource
	site     config.SiteConfig
	width    int
	height   int
	timeouts config.TimeoutConfig
	behavior *antiblock.Simulator
	recorder *crash.Recorder
	timer    *telemetry.Timer

	mu       sync.Mutex
	state    State
	page     browser.Page
	handlers *popup.Set
}

// New returns an Unopened session. timer may be nil.
func New(source PageSource, cfg config.Config, behavior *antiblock.Simulator, recorder *crash.Recorder, timer *telemetry.Timer) *Session {
	return &Session{
		source:   source,
		site:     cfg.Site,
		width:    cfg.Browser.ViewportWidth,
		height:   cfg.Browser.ViewportHeight,
		timeouts: cfg.Timeouts,
		behavior: behavior,
		recorder: recorder,
		timer:    timer,
		handlers: popup.NewSet(),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Page returns the live search page, or nil when Unopened.
func (s *Session) Page() browser.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Handlers returns the popup handlers registered by Open.
func (s *Session) Handlers() *popup.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

func (s *Session) requests() string {
	if s.timer == nil {
		return ""
	}
	return s.timer.Snapshot()
}

// Open moves Unopened to Opened. A failure on the page is recorded as an
// incident before the page is closed and returned as a *crash.Error; the
// session stays Unopened. Open on an open session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	if s.State() != Unopened {
		return nil
	}
	logger.Info("opening search page", "url", s.site.SearchURL)

	page, err := s.source.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}

	handlers, err := s.open(ctx, page)
	if err != nil {
		err = s.diagnose(ctx, page, err)
		_ = page.Close()
		return err
	}

	s.mu.Lock()
	s.page = page
	s.handlers = handlers
	s.state = Opened
	s.mu.Unlock()

	logger.Info("opened search page")
	return nil
}

func (s *Session) open(ctx context.Context, page browser.Page) (*popup.Set, error) {
	if err := page.SetViewport(ctx, s.width, s.height); err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, s.site.SearchURL); err != nil {
		return nil, err
	}
	if err := s.behavior.OpenDelay(ctx); err != nil {
		return nil, err
	}
	if err := page.WaitAttached(ctx, s.site.SearchInput, s.timeouts.Selector); err != nil {
		return nil, err
	}
	if err := page.WaitAttached(ctx, s.site.SearchButton, s.timeouts.Selector); err != nil {
		return nil, err
	}
	if err := s.behavior.HumanBehavior(ctx, page); err != nil {
		return nil, err
	}

	handlers := popup.NewSet(popup.Defaults()...)
	if err := handlers.Dispatch(ctx, page).AsError(); err != nil {
		return nil, err
	}
	return handlers, nil
}

// diagnose records an incident against the still open page. Caller
// cancellation and dead ends are returned unrecorded.
func (s *Session) diagnose(ctx context.Context, page browser.Page, err error) error {
	if ctx.Err() != nil || errors.Is(err, popup.ErrDeadEnd) {
		return err
	}
	kind := crash.KindCrash
	switch {
	case browser.IsTimeout(err):
		kind = crash.KindTimeout
	case errors.Is(err, popup.ErrCaptcha):
		kind = crash.KindCaptcha
	}
	inc := s.recorder.Capture(ctx, page, kind, err, s.requests())
	return &crash.Error{Incident: inc, Err: err}
}

// Dispatch runs the registered popup handlers against the live page.
func (s *Session) Dispatch(ctx context.Context) popup.Outcome {
	page := s.Page()
	if page == nil {
		return popup.Outcome{Kind: popup.Continue}
	}
	return s.Handlers().Dispatch(ctx, page)
}

// Search runs query and hands the results page to fn. Whatever the outcome,
// the page is taken back to the search surface before Search returns. If
// that fails the page is closed and the session returns to Unopened.
func (s *Session) Search(ctx context.Context, query string, fn func(ctx context.Context, page browser.Page) error) error {
	if s.State() != Opened {
		return ErrNotOpened
	}
	page := s.Page()
	s.setState(Searching)
	logger.Info("searching for videos", "query", query)

	submitted := false
	defer func() {
		if !submitted {
			s.setState(Opened)
			return
		}
		if rerr := s.restore(ctx, page); rerr != nil {
			logger.Warn("failed to return to search page, reopening on next search", "error", rerr)
			_ = page.Close()
			s.mu.Lock()
			s.page = nil
			s.state = Unopened
			s.mu.Unlock()
			return
		}
		s.setState(Opened)
	}()

	if err := s.Dispatch(ctx).AsError(); err != nil {
		return err
	}
	if err := page.Fill(ctx, s.site.SearchInput, query); err != nil {
		return err
	}
	if err := page.Click(ctx, s.site.SearchButton); err != nil {
		return err
	}
	submitted = true

	if err := page.WaitAttached(ctx, s.site.ResultContainer, s.timeouts.Results); err != nil {
		return err
	}
	s.setState(ResultsReady)

	return fn(ctx, page)
}

func (s *Session) restore(ctx context.Context, page browser.Page) error {
	// Restore runs even when the search itself was cancelled.
	ctx = context.WithoutCancel(ctx)
	logger.Debug("returning to the search page")
	if err := page.GoBack(ctx); err != nil {
		return err
	}
	return page.WaitAttached(ctx, s.site.SearchInput, s.timeouts.Selector)
}

// Close closes the search page.
func (s *Session) Close() error {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.state = Unopened
	s.mu.Unlock()
	if page == nil {
		return nil
	}
	return page.Close()
}
