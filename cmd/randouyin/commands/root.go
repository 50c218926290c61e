// Package commands implements the CLI commands for randouyin.
package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/config"
	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/pkg/download"
)

var rootCmd = &cobra.Command{
	Use:   "randouyin",
	Short: "Search and download Douyin videos through a headless browser",
	Long: `randouyin drives a stealth Chrome session against Douyin search,
collects result cards while scrolling and fetches video sources.

Examples:
  # Search and print parsed cards as JSON
  randouyin search 烟花

  # Raw card HTML as JSON lines
  randouyin search 烟花 --raw --format jsonl

  # Download a video
  randouyin video 7501650862555008308 --download video.mp4

  # Serve the web UI on :8000
  randouyin serve`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.randouyin.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.Bool("log-json", false, "log as JSON")
	flags.Bool("headless", true, "run Chrome headless (use --headless=false to watch)")
	flags.String("chrome", "", "path to the Chrome executable (default: auto-detect)")
	flags.Bool("reset-cookies", false, "delete persisted cookies before starting")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log.debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("log.quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("log.json", flags.Lookup("log-json"))
	_ = viper.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = viper.BindPFlag("browser.exec_path", flags.Lookup("chrome"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".randouyin")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RANDOUYIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	// A missing config file is fine.
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the configuration, initializes logging and applies the
// global maintenance flags.
func setup(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	logger.Init(logger.Options{
		Debug: cfg.Log.Debug,
		Quiet: cfg.Log.Quiet,
		JSON:  cfg.Log.JSON,
		Level: cfg.Log.Level,
	})
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config file", "path", used)
	}

	if reset, _ := cmd.Flags().GetBool("reset-cookies"); reset {
		jar := browser.CookieJar{Path: cfg.Storage.CookiePath}
		if err := jar.Delete(); err != nil {
			return config.Config{}, err
		}
		logger.Info("deleted persisted cookies", "path", cfg.Storage.CookiePath)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func downloader(cfg config.Config) *download.Client {
	return download.New(download.Options{
		UserAgent: cfg.Browser.UserAgent,
		Referer:   cfg.Download.Referer,
		Timeout:   cfg.Download.Timeout,
	})
}
