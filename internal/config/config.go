// Package config holds the runtime configuration for randouyin.
//
// A Config is built once at process start (defaults, then config file,
// environment and flags through viper) and handed to each component.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Site     SiteConfig     `mapstructure:"site"`
	Scraping ScrapingConfig `mapstructure:"scraping"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Behavior BehaviorConfig `mapstructure:"behavior"`
	Server   ServerConfig   `mapstructure:"server"`
	Download DownloadConfig `mapstructure:"download"`
}

// LogConfig controls logger initialization.
type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	Quiet bool   `mapstructure:"quiet"`
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// BrowserConfig controls how Chrome is launched.
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	ExecPath       string `mapstructure:"exec_path"` // empty: auto-detect
	UserAgent      string `mapstructure:"user_agent" validate:"required"`
	ViewportWidth  int    `mapstructure:"viewport_width" validate:"min=320"`
	ViewportHeight int    `mapstructure:"viewport_height" validate:"min=240"`
}

// SiteConfig describes the target site: URLs and locators.
type SiteConfig struct {
	SearchURL string `mapstructure:"search_url" validate:"required,url"`
	// VideoURL must contain the {id} placeholder.
	VideoURL        string `mapstructure:"video_url" validate:"required,contains={id}"`
	SearchInput     string `mapstructure:"search_input" validate:"required"`
	SearchButton    string `mapstructure:"search_button" validate:"required"`
	ResultContainer string `mapstructure:"result_container" validate:"required"`
	VideoTag        string `mapstructure:"video_tag" validate:"required"`
	LiveMarker      string `mapstructure:"live_marker"`
}

// ScrapingConfig bounds the result accumulation loop.
type ScrapingConfig struct {
	ScrollingTimes        int           `mapstructure:"scrolling_times" validate:"min=1"`
	EmptyResultsThreshold int           `mapstructure:"empty_results_threshold" validate:"min=0"`
	DeadEndRetries        int           `mapstructure:"dead_end_retries" validate:"min=0"`
	SlowRequestThreshold  time.Duration `mapstructure:"slow_request_threshold" validate:"min=0"`
}

// TimeoutConfig holds the per-wait bounds.
type TimeoutConfig struct {
	Navigation time.Duration `mapstructure:"navigation" validate:"gt=0"`
	Selector   time.Duration `mapstructure:"selector" validate:"gt=0"`
	Results    time.Duration `mapstructure:"results" validate:"gt=0"`
}

// StorageConfig locates durable state.
type StorageConfig struct {
	CookiePath string `mapstructure:"cookie_path" validate:"required"`
	CrashDir   string `mapstructure:"crash_dir" validate:"required"`
}

// BehaviorConfig holds the randomness bounds of the anti-block simulator.
type BehaviorConfig struct {
	WaitMin        time.Duration `mapstructure:"wait_min"`
	WaitMax        time.Duration `mapstructure:"wait_max" validate:"gtefield=WaitMin"`
	OpenDelayMax   time.Duration `mapstructure:"open_delay_max"`
	ScrollPauseMin time.Duration `mapstructure:"scroll_pause_min"`
	ScrollPauseMax time.Duration `mapstructure:"scroll_pause_max" validate:"gtefield=ScrollPauseMin"`
	MovePauseMin   time.Duration `mapstructure:"move_pause_min"`
	MovePauseMax   time.Duration `mapstructure:"move_pause_max" validate:"gtefield=MovePauseMin"`
	KeyChance      float64       `mapstructure:"key_chance" validate:"min=0,max=1"`
}

// ServerConfig configures the web layer.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// DownloadConfig configures the media download client.
type DownloadConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Referer string        `mapstructure:"referer"`
}

// Desktop Chrome user agent; the site serves a degraded page to unknown agents.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			Headless:       true,
			UserAgent:      defaultUserAgent,
			ViewportWidth:  3840,
			ViewportHeight: 2160,
		},
		Site: SiteConfig{
			SearchURL:       "https://www.douyin.com/",
			VideoURL:        "https://www.douyin.com/video/{id}",
			SearchInput:     `input[data-e2e="searchbar-input"]`,
			SearchButton:    `button[data-e2e="searchbar-button"]`,
			ResultContainer: `div[id^="waterfall_item"]`,
			VideoTag:        "video",
			LiveMarker:      "直播中",
		},
		Scraping: ScrapingConfig{
			ScrollingTimes:        3,
			EmptyResultsThreshold: 5,
			DeadEndRetries:        2,
			SlowRequestThreshold:  time.Second,
		},
		Timeouts: TimeoutConfig{
			Navigation: 30 * time.Second,
			Selector:   15 * time.Second,
			Results:    20 * time.Second,
		},
		Storage: StorageConfig{
			CookiePath: "data/cookies.json",
			CrashDir:   "data/crashes",
		},
		Behavior: BehaviorConfig{
			WaitMin:        100 * time.Millisecond,
			WaitMax:        time.Second,
			OpenDelayMax:   2 * time.Second,
			ScrollPauseMin: time.Second,
			ScrollPauseMax: 3 * time.Second,
			MovePauseMin:   100 * time.Millisecond,
			MovePauseMax:   300 * time.Millisecond,
			KeyChance:      0.3,
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Download: DownloadConfig{
			Timeout: 5 * time.Minute,
			Referer: "https://www.douyin.com/",
		},
	}
}

// VideoPageURL renders the detail page URL for a video id.
func (s SiteConfig) VideoPageURL(id int64) string {
	return strings.ReplaceAll(s.VideoURL, "{id}", strconv.FormatInt(id, 10))
}

// SetDefaults registers every key of Default() with v so that environment
// variables are honored for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.quiet", d.Log.Quiet)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.exec_path", d.Browser.ExecPath)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)

	v.SetDefault("site.search_url", d.Site.SearchURL)
	v.SetDefault("site.video_url", d.Site.VideoURL)
	v.SetDefault("site.search_input", d.Site.SearchInput)
	v.SetDefault("site.search_button", d.Site.SearchButton)
	v.SetDefault("site.result_container", d.Site.ResultContainer)
	v.SetDefault("site.video_tag", d.Site.VideoTag)
	v.SetDefault("site.live_marker", d.Site.LiveMarker)

	v.SetDefault("scraping.scrolling_times", d.Scraping.ScrollingTimes)
	v.SetDefault("scraping.empty_results_threshold", d.Scraping.EmptyResultsThreshold)
	v.SetDefault("scraping.dead_end_retries", d.Scraping.DeadEndRetries)
	v.SetDefault("scraping.slow_request_threshold", d.Scraping.SlowRequestThreshold)

	v.SetDefault("timeouts.navigation", d.Timeouts.Navigation)
	v.SetDefault("timeouts.selector", d.Timeouts.Selector)
	v.SetDefault("timeouts.results", d.Timeouts.Results)

	v.SetDefault("storage.cookie_path", d.Storage.CookiePath)
	v.SetDefault("storage.crash_dir", d.Storage.CrashDir)

	v.SetDefault("behavior.wait_min", d.Behavior.WaitMin)
	v.SetDefault("behavior.wait_max", d.Behavior.WaitMax)
	v.SetDefault("behavior.open_delay_max", d.Behavior.OpenDelayMax)
	v.SetDefault("behavior.scroll_pause_min", d.Behavior.ScrollPauseMin)
	v.SetDefault("behavior.scroll_pause_max", d.Behavior.ScrollPauseMax)
	v.SetDefault("behavior.move_pause_min", d.Behavior.MovePauseMin)
	v.SetDefault("behavior.move_pause_max", d.Behavior.MovePauseMax)
	v.SetDefault("behavior.key_chance", d.Behavior.KeyChance)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("download.timeout", d.Download.Timeout)
	v.SetDefault("download.referer", d.Download.Referer)
}

// Load decodes v on top of Default() and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Namespace(), formatValidationError(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "contains":
		return fmt.Sprintf("must contain %q", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", e.Param())
	case "gtefield":
		return fmt.Sprintf("must not be less than %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
