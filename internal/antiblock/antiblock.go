// Package antiblock drives randomized, human-looking input between scraping
// steps: idle waits, wheel scrolls, mouse moves and the odd stray keypress.
package antiblock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/config"
	"github.com/jmylchreest/randouyin/internal/logger"
)

// Gesture counts and coordinate ranges.
const (
	scrollGestures = 3
	minMoves       = 3
	maxMoves       = 7
)

var (
	scrollDY = [2]float64{300, 500}
	scrollDX = [2]float64{0, 50}
	moveX    = [2]float64{100, 800}
	moveY    = [2]float64{100, 600}

	strayKeys = []string{browser.KeyTab, browser.KeyShift, browser.KeyAlt}
)

// Input is the part of a page the simulator drives.
type Input interface {
	MouseMove(ctx context.Context, x, y float64) error
	Wheel(ctx context.Context, dx, dy float64) error
	Press(ctx context.Context, key string) error
}

// Simulator produces randomized behavior within the configured bounds.
// It is safe for concurrent use.
type Simulator struct {
	cfg config.BehaviorConfig

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
}

// New returns a Simulator seeded from the system random source.
func New(cfg config.BehaviorConfig) *Simulator {
	return &Simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep: sleep,
	}
}

// WithSeed makes the sequence reproducible.
func (s *Simulator) WithSeed(seed uint64) *Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewPCG(seed, seed))
	return s
}

// WithSleep replaces the pause function. Used by tests to skip real time.
func (s *Simulator) WithSleep(fn func(context.Context, time.Duration) error) *Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleep = fn
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) duration(lo, hi time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

func (s *Simulator) float(r [2]float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r[0] + s.rng.Float64()*(r[1]-r[0])
}

func (s *Simulator) intn(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.IntN(hi-lo+1)
}

func (s *Simulator) chance(p float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

func (s *Simulator) pause(ctx context.Context, lo, hi time.Duration) error {
	return s.sleep(ctx, s.duration(lo, hi))
}

// Wait idles for a random duration within the configured wait bounds.
func (s *Simulator) Wait(ctx context.Context) error {
	return s.pause(ctx, s.cfg.WaitMin, s.cfg.WaitMax)
}

// OpenDelay idles for up to the configured open delay, at least 1ms.
func (s *Simulator) OpenDelay(ctx context.Context) error {
	return s.pause(ctx, time.Millisecond, s.cfg.OpenDelayMax)
}

// Scroll performs a few wheel gestures with pauses in between.
func (s *Simulator) Scroll(ctx context.Context, in Input) error {
	for i := 0; i < scrollGestures; i++ {
		if err := benign(in.Wheel(ctx, s.float(scrollDX), s.float(scrollDY))); err != nil {
			return err
		}
		if err := s.pause(ctx, s.cfg.ScrollPauseMin, s.cfg.ScrollPauseMax); err != nil {
			return err
		}
	}
	return nil
}

// HumanBehavior moves the mouse around a few times and sometimes presses
// a harmless key.
func (s *Simulator) HumanBehavior(ctx context.Context, in Input) error {
	moves := s.intn(minMoves, maxMoves)
	for i := 0; i < moves; i++ {
		if err := benign(in.MouseMove(ctx, s.float(moveX), s.float(moveY))); err != nil {
			return err
		}
		if err := s.pause(ctx, s.cfg.MovePauseMin, s.cfg.MovePauseMax); err != nil {
			return err
		}
	}

	if s.chance(s.cfg.KeyChance) {
		key := strayKeys[s.intn(0, len(strayKeys)-1)]
		if err := benign(in.Press(ctx, key)); err != nil {
			return err
		}
	}
	return nil
}

// benign drops input errors that do not mean the page is gone.
func benign(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, browser.ErrClosed) {
		return err
	}
	logger.Debug("ignoring input error", "error", err)
	return nil
}
