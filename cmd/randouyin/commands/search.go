package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/output"
	"github.com/jmylchreest/randouyin/internal/scraper"
	"github.com/jmylchreest/randouyin/pkg/parser"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search videos and print the result cards",
	Long: `Search runs one query, scrolls the results and prints every distinct
card. By default cards are parsed and live broadcasts are dropped; --raw
prints the card HTML instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	flags := searchCmd.Flags()
	flags.String("format", "json", "output format: json, jsonl, yaml")
	flags.Bool("raw", false, "print raw card HTML instead of parsed videos")
	flags.StringP("output", "o", "", "output file (default: stdout)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	query := strings.Join(args, " ")

	ctx, cancel := signalContext()
	defer cancel()

	s, err := scraper.Start(ctx, cfg)
	if err != nil {
		logger.Error("failed to start browser", "error", err)
		return err
	}
	defer func() { _ = s.Close() }()

	cards, err := s.SearchVideos(ctx, query)
	if err != nil {
		logger.Error("search failed", "query", query, "error", err)
		return err
	}

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOut()

	w, err := output.NewWriter(out, format)
	if err != nil {
		return err
	}
	if raw {
		return output.WriteAll(w, cards)
	}
	videos := parser.ParseVideoCards(cards, cfg.Site.LiveMarker)
	logger.Info("parsed search results", "cards", len(cards), "videos", len(videos))
	return output.WriteAll(w, videos)
}

func openOutput(cmd *cobra.Command) (*os.File, func(), error) {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path) //#nosec G304 -- CLI tool writes to user-specified output file
	if err != nil {
		logger.Error("failed to create output file", "path", path, "error", err)
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
