package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// Save downloads url to path, creating parent directories, and returns the
// file size.
func (c *Client) Save(ctx context.Context, url, path string) (int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	opts := []colly.CollectorOption{
		colly.MaxBodySize(0),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	}
	if c.opts.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.opts.UserAgent))
	}
	col := colly.NewCollector(opts...)
	if c.opts.Timeout > 0 {
		col.SetRequestTimeout(c.opts.Timeout)
	}

	col.OnRequest(func(r *colly.Request) {
		if c.opts.Referer != "" {
			r.Headers.Set("Referer", c.opts.Referer)
		}
	})

	var (
		size    int64
		saveErr error
	)
	col.OnResponse(func(r *colly.Response) {
		if err := r.Save(path); err != nil {
			saveErr = fmt.Errorf("failed to write %s: %w", path, err)
			return
		}
		size = int64(len(r.Body))
	})
	col.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			saveErr = &StatusError{URL: url, Status: r.StatusCode}
			return
		}
		saveErr = fmt.Errorf("failed to fetch %s: %w", url, err)
	})

	if err := col.Visit(url); err != nil && saveErr == nil {
		saveErr = fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if saveErr != nil {
		return 0, saveErr
	}
	logger.Info("saved video", "path", path, "size", humanize.Bytes(uint64(size)))
	return size, nil
}
