package commands

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/output"
	"github.com/jmylchreest/randouyin/internal/scraper"
	"github.com/jmylchreest/randouyin/pkg/parser"
	"github.com/jmylchreest/randouyin/pkg/video"
)

var videoCmd = &cobra.Command{
	Use:   "video <id>",
	Short: "Fetch a video's sources, optionally downloading it",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideo,
}

func init() {
	rootCmd.AddCommand(videoCmd)

	flags := videoCmd.Flags()
	flags.StringP("download", "d", "", "save the video to this file")
	flags.String("format", "json", "output format: json, jsonl, yaml")
}

func runVideo(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid video id %q", args[0])
	}
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
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
	defer func() { _ = s.Close() }()

	tag, err := s.GetVideo(ctx, id)
	if err != nil {
		logger.Error("failed to fetch video", "id", id, "error", err)
		return err
	}
	sourced, err := parser.ParseSingleVideoTag(video.ParsedVideo{ID: id}, tag)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("download"); path != "" {
		n, err := downloader(cfg).Save(ctx, sourced.URL(), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", path, humanize.Bytes(uint64(n)))
		return nil
	}

	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	return output.WriteAll(w, []video.SourcedVideo{sourced})
}
