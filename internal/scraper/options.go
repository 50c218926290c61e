package scraper

import (
	"github.com/jmylchreest/randouyin/internal/antiblock"
	"github.com/jmylchreest/randouyin/internal/crash"
	"github.com/jmylchreest/randouyin/internal/telemetry"
)

// Option configures a Scraper.
type Option func(*Scraper)

// WithTimer sets the request telemetry the operations are measured with.
// It should be the timer bound to the page source's browser context.
func WithTimer(t *telemetry.Timer) Option {
	return func(s *Scraper) {
		s.timer = t
	}
}

// WithRecorder sets where incidents are written.
func WithRecorder(r *crash.Recorder) Option {
	return func(s *Scraper) {
		s.recorder = r
	}
}

// WithSimulator sets the anti-block behavior simulator.
func WithSimulator(sim *antiblock.Simulator) Option {
	return func(s *Scraper) {
		s.behavior = sim
	}
}

// WithIDParser sets the function extracting a video id from a card.
func WithIDParser(fn IDFunc) Option {
	return func(s *Scraper) {
		s.parseID = fn
	}
}

// WithCloser registers a function run last by Close, typically the
// browser session teardown.
func WithCloser(fn func() error) Option {
	return func(s *Scraper) {
		s.closer = fn
	}
}
