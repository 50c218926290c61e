package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/crash"
	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/internal/version"
	"github.com/jmylchreest/randouyin/pkg/download"
	"github.com/jmylchreest/randouyin/pkg/parser"
	"github.com/jmylchreest/randouyin/pkg/video"
)

type indexPage struct {
	Query  string
	Videos []video.ParsedVideo
	Error  string
	Ref    string
}

type searchResponse struct {
	Query  string              `json:"query"`
	Videos []video.ParsedVideo `json:"videos"`
}

type errorResponse struct {
	Error string `json:"error"`
	Ref   string `json:"ref,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, indexPage{})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.PostFormValue("query"))
	if query == "" {
		s.render(w, http.StatusBadRequest, indexPage{Error: "query is required"})
		return
	}
	videos, err := s.search(r.Context(), query)
	if err != nil {
		status, body := classify(err)
		s.render(w, status, indexPage{Query: query, Error: body.Error, Ref: body.Ref})
		return
	}
	s.render(w, http.StatusOK, indexPage{Query: query, Videos: videos})
}

func (s *Server) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		jsonResponse(w, http.StatusBadRequest, errorResponse{Error: "query parameter q is required"})
		return
	}
	videos, err := s.search(r.Context(), query)
	if err != nil {
		status, body := classify(err)
		jsonResponse(w, status, body)
		return
	}
	jsonResponse(w, http.StatusOK, searchResponse{Query: query, Videos: videos})
}

// search runs query and parses the cards, dropping live broadcasts and
// invalid cards.
func (s *Server) search(ctx context.Context, query string) ([]video.ParsedVideo, error) {
	cards, err := s.svc.SearchVideos(ctx, query)
	if err != nil {
		return nil, err
	}
	videos := parser.ParseVideoCards(cards, s.liveMarker)
	logger.Info("search served", "query", query, "cards", len(cards), "videos", len(videos))
	return videos, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		jsonResponse(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid video id %q", r.PathValue("id"))})
		return
	}
	logger.Info("download requested", "id", id)

	tag, err := s.svc.GetVideo(r.Context(), id)
	if err != nil {
		status, body := classify(err)
		jsonResponse(w, status, body)
		return
	}
	sourced, err := parser.ParseSingleVideoTag(video.ParsedVideo{ID: id}, tag)
	if err != nil {
		jsonResponse(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	started := false
	n, err := s.media.Stream(r.Context(), sourced.URL(), w, func(body *download.Body) {
		started = true
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="video_%d.mp4"`, id))
		if body.Length >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(body.Length, 10))
		}
		w.WriteHeader(http.StatusOK)
	})
	switch {
	case err != nil && !started:
		jsonResponse(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case err != nil:
		logger.Warn("download interrupted", "id", id, "error", err)
	default:
		logger.Info("download served", "id", id, "size", humanize.Bytes(uint64(n)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

// classify maps a scraper error to a response.
func classify(err error) (int, errorResponse) {
	var ce *crash.Error
	switch {
	case errors.As(err, &ce):
		return http.StatusInternalServerError, errorResponse{Error: ce.Err.Error(), Ref: ce.Incident.Ref()}
	case errors.Is(err, browser.ErrClosed):
		return http.StatusServiceUnavailable, errorResponse{Error: "scraper is shut down"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorResponse{Error: "request cancelled"}
	default:
		logger.Error("scraper failed", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: err.Error()}
	}
}

func (s *Server) render(w http.ResponseWriter, status int, data indexPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		logger.Error("failed to render template", "error", err)
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
