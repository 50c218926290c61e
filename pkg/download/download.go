// Package download fetches video media from the URLs the parser extracts.
//
// Stream copies a response body as it arrives and suits serving a download
// over HTTP. Save writes a whole file to disk.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/randouyin/internal/logger"
)

// Options configures a Client.
type Options struct {
	UserAgent string
	Referer   string        // the CDN rejects requests without one
	Timeout   time.Duration // whole-transfer bound, 0 for none
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Status, e.URL)
}

// Client downloads media.
type Client struct {
	opts Options
	http *http.Client
}

// New returns a Client. Redirects are followed.
func New(opts Options) *Client {
	return &Client{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}
}

// Body is an open media response.
type Body struct {
	io.ReadCloser
	ContentType string
	Length      int64 // -1 when unknown
}

// Open starts a download. The caller must close the returned Body.
func (c *Client) Open(ctx context.Context, url string) (*Body, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.headers(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return &Body{
		ReadCloser:  resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Length:      resp.ContentLength,
	}, nil
}

// Stream copies the media at url into w and returns the byte count. ready,
// when not nil, runs after the response is accepted and before the first
// byte is written, so headers can be derived from the Body.
func (c *Client) Stream(ctx context.Context, url string, w io.Writer, ready func(*Body)) (int64, error) {
	body, err := c.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()
	if ready != nil {
		ready(body)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("stream interrupted after %s: %w", humanize.Bytes(uint64(n)), err)
	}
	logger.Debug("streamed media", "url", url, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

func (c *Client) headers(h http.Header) {
	if c.opts.UserAgent != "" {
		h.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.Referer != "" {
		h.Set("Referer", c.opts.Referer)
	}
}
