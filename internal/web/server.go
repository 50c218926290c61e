// Package web serves the search UI, a JSON search API and video downloads
// on top of a long-lived scraper.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/pkg/download"
)

//go:embed templates/*.html
var templateFS embed.FS

// Service is the scraping backend.
type Service interface {
	SearchVideos(ctx context.Context, query string) ([]string, error)
	GetVideo(ctx context.Context, id int64) (string, error)
}

// Media streams video bytes. ready runs before the first byte is written.
type Media interface {
	Stream(ctx context.Context, url string, w io.Writer, ready func(*download.Body)) (int64, error)
}

// Server routes HTTP requests to the scraper.
type Server struct {
	svc        Service
	media      Media
	liveMarker string
	tmpl       *template.Template
	mux        *http.ServeMux
}

// New returns a Server. Cards containing liveMarker are left out of the
// search results.
func New(svc Service, media Media, liveMarker string) (*Server, error) {
	tmpl, err := template.New("web").Funcs(template.FuncMap{
		"count": func(n int64) string { return humanize.Comma(n) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		svc:        svc,
		media:      media,
		liveMarker: liveMarker,
		tmpl:       tmpl,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("GET /api/search", s.handleAPISearch)
	s.mux.HandleFunc("POST /video/download/{id}", s.handleDownload)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
