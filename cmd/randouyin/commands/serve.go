package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/scraper"
	"github.com/jmylchreest/randouyin/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search UI and download API",
	Long: `Serve starts one browser session shared by every request and serves:

  GET  /                      search form
  POST /search                parsed results for the form's query
  GET  /api/search?q=         JSON results
  POST /video/download/{id}   stream the video as video_<id>.mp4
  GET  /healthz               liveness`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := scraper.Start(ctx, cfg)
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close scraper", "error", err)
		}
	}()

	srv, err := web.New(s, downloader(cfg), cfg.Site.LiveMarker)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
