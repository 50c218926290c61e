package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jmylchreest/randouyin/internal/browser"
	"github.com/jmylchreest/randouyin/internal/crash"
	"github.com/jmylchreest/randouyin/pkg/download"
)

func videoCard(id int, title string) string {
	return fmt.Sprintf(`<div id="waterfall_item_%d"><div style="padding-top: 133%%"><img src="https://p3.douyinpic.com/%d.jpeg" alt="%s"></div><div><div>%s</div></div><div>@author · 1天前</div></div>`, id, id, title, title)
}

type fakeService struct {
	cards   []string
	tag     string
	err     error
	queries []string
	ids     []int64
}

func (f *fakeService) SearchVideos(_ context.Context, q string) ([]string, error) {
	f.queries = append(f.queries, q)
	return f.cards, f.err
}

func (f *fakeService) GetVideo(_ context.Context, id int64) (string, error) {
	f.ids = append(f.ids, id)
	return f.tag, f.err
}

type fakeMedia struct {
	data string
	err  error
	urls []string
}

func (f *fakeMedia) Stream(_ context.Context, u string, w io.Writer, ready func(*download.Body)) (int64, error) {
	f.urls = append(f.urls, u)
	if f.err != nil {
		return 0, f.err
	}
	body := &download.Body{ReadCloser: io.NopCloser(strings.NewReader(f.data)), ContentType: "video/mp4", Length: int64(len(f.data))}
	if ready != nil {
		ready(body)
	}
	return io.Copy(w, body)
}

func newTestServer(t *testing.T, svc *fakeService, media *fakeMedia) http.Handler {
	t.Helper()
	s, err := New(svc, media, "直播中")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s.Handler()
}

func captchaErr() error {
	return &crash.Error{
		Incident: crash.Incident{ID: uuid.MustParse("6f1c2b1e-0d7a-4c3e-9d65-3f7c2c1d9a10"), Kind: crash.KindCaptcha},
		Err:      errors.New("captcha detected"),
	}
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	h := newTestServer(t, &fakeService{}, &fakeMedia{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `action="/search"`) {
		t.Error("index has no search form")
	}
}

func TestSearch_RendersCards(t *testing.T) {
	svc := &fakeService{cards: []string{
		videoCard(1, "烟花"),
		videoCard(2, "直播中 烟花直播"),
		videoCard(3, "夜景"),
		`<div>broken</div>`,
	}}
	h := newTestServer(t, svc, &fakeMedia{})

	rec := postForm(h, "/search", url.Values{"query": {"烟花"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/video/download/1") || !strings.Contains(body, "/video/download/3") {
		t.Error("missing video cards")
	}
	if strings.Contains(body, "/video/download/2") {
		t.Error("live card was rendered")
	}
	if len(svc.queries) != 1 || svc.queries[0] != "烟花" {
		t.Errorf("queries = %v", svc.queries)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(t, svc, &fakeMedia{})
	if rec := postForm(h, "/search", url.Values{"query": {"  "}}); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(svc.queries) != 0 {
		t.Error("scraper called for an empty query")
	}
}

func TestSearch_IncidentShowsReference(t *testing.T) {
	h := newTestServer(t, &fakeService{err: captchaErr()}, &fakeMedia{})
	rec := postForm(h, "/search", url.Values{"query": {"q"}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "captcha_6f1c2b1e-0d7a-4c3e-9d65-3f7c2c1d9a10") {
		t.Errorf("body has no reference: %s", rec.Body)
	}
}

func TestAPISearch(t *testing.T) {
	tests := []struct {
		name       string
		svc        *fakeService
		query      string
		wantStatus int
		wantRef    string
		wantVideos int
	}{
		{"ok", &fakeService{cards: []string{videoCard(7, "a"), videoCard(8, "b")}}, "cats", http.StatusOK, "", 2},
		{"missing q", &fakeService{}, "", http.StatusBadRequest, "", 0},
		{"incident", &fakeService{err: captchaErr()}, "cats", http.StatusInternalServerError, "captcha_6f1c2b1e-0d7a-4c3e-9d65-3f7c2c1d9a10", 0},
		{"closed", &fakeService{err: browser.ErrClosed}, "cats", http.StatusServiceUnavailable, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.svc, &fakeMedia{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q="+url.QueryEscape(tt.query), nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				var e errorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
					t.Fatal(err)
				}
				if e.Ref != tt.wantRef {
					t.Errorf("ref = %q, want %q", e.Ref, tt.wantRef)
				}
				return
			}
			var resp searchResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Query != tt.query || len(resp.Videos) != tt.wantVideos {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	svc := &fakeService{tag: `<video><source src="//v26-web.douyinvod.com/a.mp4"><source src="https://v3-web.douyinvod.com/b.mp4"></video>`}
	media := &fakeMedia{data: "mp4 bytes"}
	h := newTestServer(t, svc, media)

	rec := postForm(h, "/video/download/7501650862555008308", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="video_7501650862555008308.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if rec.Header().Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "mp4 bytes" {
		t.Errorf("body = %q", rec.Body)
	}
	if len(media.urls) != 1 || media.urls[0] != "https://v26-web.douyinvod.com/a.mp4" {
		t.Errorf("streamed %v, want the first source", media.urls)
	}
	if got := rec.Header().Get("Content-Length"); got != "9" {
		t.Errorf("Content-Length = %q, want 9", got)
	}
}

func TestDownload_ThroughClient(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://www.douyin.com/" {
			http.Error(w, "missing referer", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("real mp4 bytes"))
	}))
	defer cdn.Close()

	svc := &fakeService{tag: fmt.Sprintf(`<video src="%s/a.mp4"></video>`, cdn.URL)}
	s, err := New(svc, download.New(download.Options{Referer: "https://www.douyin.com/"}), "")
	if err != nil {
		t.Fatal(err)
	}
	rec := postForm(s.Handler(), "/video/download/42", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "real mp4 bytes" {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="video_42.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

func TestDownload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		svc        *fakeService
		media      *fakeMedia
		wantStatus int
	}{
		{"bad id", "/video/download/abc", &fakeService{}, &fakeMedia{}, http.StatusBadRequest},
		{"zero id", "/video/download/0", &fakeService{}, &fakeMedia{}, http.StatusBadRequest},
		{"incident", "/video/download/1", &fakeService{err: captchaErr()}, &fakeMedia{}, http.StatusInternalServerError},
		{"no sources", "/video/download/1", &fakeService{tag: `<video></video>`}, &fakeMedia{}, http.StatusBadGateway},
		{"upstream failure", "/video/download/1", &fakeService{tag: `<video src="https://v.example.com/a.mp4"></video>`},
			&fakeMedia{err: &download.StatusError{URL: "https://v.example.com/a.mp4", Status: 403}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.svc, tt.media)
			rec := postForm(h, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if rec.Header().Get("Content-Disposition") != "" {
				t.Error("error response carries an attachment header")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeService{}, &fakeMedia{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s, err := New(&fakeService{}, &fakeMedia{}, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe() error = %v", err)
	}
}
