// Package scraper runs video searches and detail page fetches against the
// site through a long-lived browser context.
//
// SearchVideos scrolls the results until enough fresh cards were collected
// or the page stops yielding new ones. Timeouts degrade to the cards
// collected so far; CAPTCHAs and unexpected failures are recorded as
// incidents and returned as *crash.Error.
package scraper

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
	"github.com/jmylchreest/randouyin/internal/search"
	"github.com/jmylchreest/randouyin/internal/telemetry"
	"github.com/jmylchreest/randouyin/pkg/parser"
)

// ErrNoResults means a search finished without a single card. It counts as
// a timeout.
var ErrNoResults = fmt.Errorf("search yielded no results: %w", browser.ErrTimeout)

// IDFunc extracts the video id of a result card.
type IDFunc func(cardHTML string) (int64, error)

// Scraper is the scraping orchestrator. Operations are serialized.
type Scraper struct {
	cfg      config.Config
	source   search.PageSource
	timer    *telemetry.Timer
	recorder *crash.Recorder
	behavior *antiblock.Simulator
	parseID  IDFunc
	closer   func() error

	mu      sync.Mutex
	session *search.Session
	closed  bool
}

// New returns a Scraper that opens pages from source.
func New(cfg config.Config, source search.PageSource, opts ...Option) *Scraper {
	s := &Scraper{
		cfg:     cfg,
		source:  source,
		parseID: parser.ParseID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timer == nil {
		s.timer = telemetry.New(cfg.Scraping.SlowRequestThreshold)
	}
	if s.recorder == nil {
		s.recorder = crash.NewRecorder(cfg.Storage.CrashDir)
	}
	if s.behavior == nil {
		s.behavior = antiblock.New(cfg.Behavior)
	}
	s.session = search.New(source, cfg, s.behavior, s.recorder, s.timer)
	return s
}

// Start launches a browser, creates a context with the persisted cookies
// and returns a Scraper driving it. Close tears the browser down.
func Start(ctx context.Context, cfg config.Config, opts ...Option) (*Scraper, error) {
	bs, err := browser.NewSession(browser.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := bs.Start(ctx); err != nil {
		return nil, err
	}
	bctx, err := bs.NewContext(ctx)
	if err != nil {
		_ = bs.Close()
		return nil, err
	}

	opts = append([]Option{WithTimer(bctx.Timer()), WithCloser(bs.Close)}, opts...)
	return New(cfg, bctx, opts...), nil
}

// Timer returns the telemetry the operations are measured with.
func (s *Scraper) Timer() *telemetry.Timer { return s.timer }

// SearchVideos returns the raw HTML of every distinct result card found
// for query. A timeout returns the cards collected so far with a nil error.
func (s *Scraper) SearchVideos(ctx context.Context, query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrClosed
	}
	return telemetry.Measure(ctx, s.timer, "search_videos", func(ctx context.Context) ([]string, error) {
		return s.searchVideos(ctx, query)
	})
}

// GetVideo returns the outer HTML of the video element on the detail page of id.
func (s *Scraper) GetVideo(ctx context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrClosed
	}
	return telemetry.Measure(ctx, s.timer, "get_video", func(ctx context.Context) (string, error) {
		return s.getVideo(ctx, id)
	})
}

// Close closes the search page and then runs the registered closer.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.session.Close()
	if s.closer != nil {
		if cerr := s.closer(); err == nil {
			err = cerr
		}
	}
	return err
}

// incidentError marks an error already recorded as an incident.
type incidentError struct {
	inc crash.Incident
	err error
}

func (e *incidentError) Error() string { return e.err.Error() }
func (e *incidentError) Unwrap() error { return e.err }

func kindOf(err error) crash.Kind {
	switch {
	case browser.IsTimeout(err):
		return crash.KindTimeout
	case errors.Is(err, popup.ErrCaptcha):
		return crash.KindCaptcha
	default:
		return crash.KindCrash
	}
}

// record writes an incident for err unless it needs none: caller
// cancellation, a retryable dead end, or an error already carrying one.
func (s *Scraper) record(ctx context.Context, target crash.Target, err error) error {
	if err == nil || ctx.Err() != nil || errors.Is(err, popup.ErrDeadEnd) {
		return err
	}
	var ce *crash.Error
	if errors.As(err, &ce) {
		return err
	}
	var ie *incidentError
	if errors.As(err, &ie) {
		return err
	}
	inc := s.recorder.Capture(ctx, target, kindOf(err), err, s.timer.Snapshot())
	return &incidentError{inc: inc, err: err}
}

// target returns the search page, or nil once it was closed.
func (s *Scraper) target() crash.Target {
	if p := s.session.Page(); p != nil {
		return p
	}
	return nil
}

func (s *Scraper) searchVideos(ctx context.Context, query string) ([]string, error) {
	log := logger.With("query", query)

	if err := s.session.Open(ctx); err != nil {
		return nil, s.fatal(s.record(ctx, nil, err))
	}

	results := make([]string, 0)
	seen := make(map[int64]bool)

	for attempt := 0; ; attempt++ {
		if attempt > 0 && s.session.State() == search.Unopened {
			// The previous attempt could not return to the search surface.
			log.Info("reopening search page", "attempt", attempt+1)
			if err := s.session.Open(ctx); err != nil {
				err = s.record(ctx, nil, err)
				var ce *crash.Error
				if errors.As(err, &ce) && ce.Incident.Kind == crash.KindTimeout {
					log.Error("timeout reopening search page", "videos", len(results), "timeout_id", ce.Incident.Ref())
					return results, nil
				}
				return nil, s.fatal(err)
			}
		}

		err := s.session.Search(ctx, query, func(ctx context.Context, page browser.Page) error {
			return s.record(ctx, page, s.accumulate(ctx, page, query, seen, &results))
		})
		// Failures outside the scope are recorded against the restored page.
		err = s.record(ctx, s.target(), err)

		if errors.Is(err, popup.ErrDeadEnd) {
			if attempt < s.cfg.Scraping.DeadEndRetries {
				log.Info("dead end, retrying search", "attempt", attempt+1, "collected", len(results))
				continue
			}
			inc := s.recorder.Capture(ctx, s.target(), crash.KindTimeout, err, s.timer.Snapshot())
			log.Error("dead end retries exhausted", "videos", len(results), "timeout_id", inc.Ref())
			return results, nil
		}

		var ie *incidentError
		switch {
		case err == nil:
			log.Info("search finished", "videos", len(results))
			return results, nil
		case errors.As(err, &ie) && ie.inc.Kind == crash.KindTimeout:
			log.Error("timeout during video search", "videos", len(results), "timeout_id", ie.inc.Ref())
			return results, nil
		default:
			return nil, s.fatal(err)
		}
	}
}

// fatal turns an error recorded by record into its user-facing form.
func (s *Scraper) fatal(err error) error {
	var ie *incidentError
	if errors.As(err, &ie) {
		return &crash.Error{Incident: ie.inc, Err: ie.err}
	}
	return err
}

// accumulate scrolls the results page, appending unseen cards to results.
func (s *Scraper) accumulate(ctx context.Context, page browser.Page, query string, seen map[int64]bool, results *[]string) error {
	limits := s.cfg.Scraping
	nonEmpty, empty := 0, 0

	for i := 1; ; i++ {
		if err := s.session.Dispatch(ctx).AsError(); err != nil {
			return err
		}
		if err := s.behavior.Wait(ctx); err != nil {
			return err
		}
		if err := page.WaitAttached(ctx, s.cfg.Site.ResultContainer, s.cfg.Timeouts.Results); err != nil {
			return err
		}
		cards, err := page.OuterHTMLAll(ctx, s.cfg.Site.ResultContainer)
		if err != nil {
			return err
		}
		if err := s.behavior.HumanBehavior(ctx, page); err != nil {
			return err
		}

		fresh := s.fresh(cards, seen)

		if err := s.behavior.Scroll(ctx, page); err != nil {
			return err
		}
		*results = append(*results, fresh...)
		logger.Info("scroll iteration", "query", query, "iteration", i, "new", len(fresh), "total", len(seen))

		if len(fresh) > 0 {
			empty = 0
			if err := page.Press(ctx, browser.KeyEnd); err != nil {
				return err
			}
			nonEmpty++
			if nonEmpty >= limits.ScrollingTimes {
				logger.Debug("scrolling limit reached", "iterations", i)
				break
			}
			continue
		}

		empty++
		if empty > limits.EmptyResultsThreshold {
			logger.Info("empty results threshold exceeded", "query", query, "iterations", i)
			break
		}
	}

	if len(*results) == 0 {
		return ErrNoResults
	}
	return nil
}

// fresh returns the cards whose id is not in seen and adds their ids.
// Cards without a readable id are dropped.
func (s *Scraper) fresh(cards []string, seen map[int64]bool) []string {
	var out []string
	for _, card := range cards {
		id, err := s.parseID(card)
		if err != nil {
			logger.Debug("skipping card without id", "error", err)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, card)
	}
	return out
}

func (s *Scraper) getVideo(ctx context.Context, id int64) (string, error) {
	url := s.cfg.Site.VideoPageURL(id)
	logger.Info("fetching video page", "id", id, "url", url)

	page, err := s.source.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("failed to close video page", "error", err)
		}
	}()

	html, err := s.fetchVideoTag(ctx, page, url)
	if err != nil {
		return "", s.fatal(s.record(ctx, page, err))
	}
	return html, nil
}

func (s *Scraper) fetchVideoTag(ctx context.Context, page browser.Page, url string) (string, error) {
	if err := page.Navigate(ctx, url); err != nil {
		return "", err
	}
	handlers := popup.NewSet(popup.Captcha{Selector: popup.CaptchaLocator}, popup.SignIn{Text: popup.SignInText, Cancel: popup.SignInCancel})
	if err := handlers.Dispatch(ctx, page).AsError(); err != nil {
		return "", err
	}
	if err := page.WaitAttached(ctx, s.cfg.Site.VideoTag, s.cfg.Timeouts.Selector); err != nil {
		if out := handlers.Dispatch(ctx, page); out.Kind == popup.Aborted {
			return "", out.AsError()
		}
		return "", err
	}
	return page.OuterHTML(ctx, s.cfg.Site.VideoTag)
}
