package web

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/docsearch/internal/config"
	"github.com/canonical/docsearch/internal/extract"
	"github.com/canonical/docsearch/internal/manual"
	"github.com/canonical/docsearch/internal/metrics"
	"github.com/canonical/docsearch/internal/search"
)

type fakeSearcher struct {
	page    search.ResultPage
	suggest []string
	err     error
	demands []search.Demand
}

func (f *fakeSearcher) Search(_ context.Context, d search.Demand) (search.ResultPage, error) {
	f.demands = append(f.demands, d)
	if f.err != nil {
		return search.ResultPage{}, f.err
	}
	page := f.page
	page.Demand = d
	return page, nil
}

func (f *fakeSearcher) Suggest(context.Context, search.Demand, int) ([]string, error) {
	return f.suggest, f.err
}

func (f *fakeSearcher) Ping(context.Context) error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		Site:     "https://docs.example.org",
		DocsRoot: "/srv/docs",
		DocsURL:  "https://docs.example.org/",
	}
}

func testServer(t *testing.T, searcher Searcher) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(testConfig(), logger, searcher, nil, nil)
}

func samplePage() search.ResultPage {
	return search.ResultPage{
		Results: []search.Result{{
			Document: search.Document{
				ManualTitle:    "georgringer/news",
				ManualType:     "system extension",
				ManualVersions: []string{"11.5", "12.4"},
				ManualLanguage: "en-us",
				RelativeURL:    "Installation/Index.html",
				Fragment:       "composer",
				SnippetTitle:   "Composer installation",
				SnippetContent: "Run composer require georgringer/news.",
			},
			Slug: "c/georgringer/news/12.4/en-us",
		}},
		Pagination: search.Paginate(2, 35),
		Aggregations: []search.Aggregation{
			{Label: search.LabelType, Field: search.FieldType, Buckets: []search.Bucket{
				{Value: "system extension", Count: 35, Children: []search.Bucket{{Value: "georgringer/news", Count: 35}}},
			}},
			{Label: search.LabelVersion, Field: search.FieldMajorVersions, Buckets: []search.Bucket{
				{Value: "12", Count: 20},
			}},
			{Label: search.LabelLanguage, Field: search.FieldLanguage, Buckets: []search.Bucket{
				{Value: "en-us", Count: 35},
			}},
		},
	}
}

func TestHandleSearchPageRedirectsEmptyQuery(t *testing.T) {
	srv := testServer(t, &fakeSearcher{})

	for _, target := range []string{"/search", "/search?q=", "/search?q=%20%20"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		srv.handleSearchPage(w, req)

		if w.Code != http.StatusFound {
			t.Fatalf("%s: expected 302, got %d", target, w.Code)
		}
		if loc := w.Header().Get("Location"); loc != "/" {
			t.Errorf("%s: expected redirect to /, got %q", target, loc)
		}
	}
}

func TestHandleSearchPageRendersResults(t *testing.T) {
	fake := &fakeSearcher{page: samplePage()}
	srv := testServer(t, fake)

	req := httptest.NewRequest(http.MethodGet, "/search?q=composer&page=2&filters[Document+Type][system+extension]=true", nil)
	w := httptest.NewRecorder()
	srv.handleSearchPage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	text := w.Body.String()

	if len(fake.demands) != 1 {
		t.Fatalf("expected one search, got %d", len(fake.demands))
	}
	d := fake.demands[0]
	if d.Query != "composer" || d.Page != 2 {
		t.Errorf("unexpected demand: %+v", d)
	}
	if got := d.Filters[search.FieldType]; len(got) != 1 || got[0] != "system extension" {
		t.Errorf("unexpected type filter: %v", got)
	}

	for _, want := range []string{
		"Composer installation",
		"https://docs.example.org/c/georgringer/news/12.4/en-us/Installation/Index.html#composer",
		"Showing 11&ndash;20 of 35 results",
		"System extension",
		"12.x",
		"Latest",
		`rel="next"`,
		`rel="prev"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in page", want)
		}
	}
	if strings.Index(text, "<legend>Version</legend>") > strings.Index(text, "<legend>Language</legend>") {
		t.Error("language facet should be rendered last")
	}
}

func TestHandleSearchPagePastLastPage(t *testing.T) {
	fake := &fakeSearcher{page: search.ResultPage{Pagination: search.Paginate(40, 200)}}
	handler := testServer(t, fake).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=x&page=40", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No results found") {
		t.Error("expected an empty result page past the last page")
	}
}

func TestHandleSearchPageBackendError(t *testing.T) {
	srv := testServer(t, &fakeSearcher{err: search.ErrBackendUnavailable})

	req := httptest.NewRequest(http.MethodGet, "/search?q=ls", nil)
	w := httptest.NewRecorder()
	srv.handleSearchPage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Search is unavailable") {
		t.Error("expected unavailable message on backend error")
	}
}

func TestHandleSearchPageNoIndex(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/search?q=ls", nil)
	w := httptest.NewRecorder()
	srv.handleSearchPage(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Search is unavailable") {
		t.Error("expected unavailable message when search index is nil")
	}
}

func TestHandleSuggest(t *testing.T) {
	srv := testServer(t, &fakeSearcher{page: samplePage(), suggest: []string{"Composer installation"}})

	req := httptest.NewRequest(http.MethodGet, "/suggest?q=comp", nil)
	w := httptest.NewRecorder()
	srv.handleSuggest(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type: %s", ct)
	}

	var resp struct {
		Demand  search.Demand     `json:"demand"`
		Suggest []string          `json:"suggest"`
		Time    float64           `json:"time"`
		Results []json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Demand.Query != "comp" {
		t.Errorf("unexpected demand: %+v", resp.Demand)
	}
	if got := resp.Demand.Filters[search.FieldMajorVersions]; len(got) != 1 || got[0] != "latest" {
		t.Errorf("expected default latest filter, got %v", got)
	}
	if len(resp.Suggest) != 1 || resp.Suggest[0] != "Composer installation" {
		t.Errorf("unexpected suggestions: %v", resp.Suggest)
	}
	if len(resp.Results) != 1 || !strings.Contains(string(resp.Results[0]), "#composer") {
		t.Errorf("unexpected results: %s", resp.Results)
	}
	if resp.Time < 0 {
		t.Errorf("unexpected time: %v", resp.Time)
	}
}

func TestHandleSuggestDegradesOnError(t *testing.T) {
	srv := testServer(t, &fakeSearcher{err: errors.New("boom")})

	req := httptest.NewRequest(http.MethodGet, "/suggest?q=comp", nil)
	w := httptest.NewRecorder()
	srv.handleSuggest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"suggest":[]`) || !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("expected empty suggestions and results, got %s", w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		want     int
	}{
		{"ok", &fakeSearcher{}, http.StatusOK},
		{"ping fails", &fakeSearcher{err: search.ErrBackendUnavailable}, http.StatusServiceUnavailable},
		{"no index", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, tt.searcher)
			w := httptest.NewRecorder()
			srv.handleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHandleIndexAndNotFound(t *testing.T) {
	handler := testServer(t, &fakeSearcher{}).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"@type":"SearchAction"`) {
		t.Error("expected SearchAction JSON-LD on the index page")
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleRobotsTxt(t *testing.T) {
	srv := testServer(t, nil)

	w := httptest.NewRecorder()
	srv.handleRobotsTxt(w, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))

	if w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("unexpected content type: %s", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "Disallow: /search") {
		t.Error("missing Disallow /search")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewServer(testConfig(), logger, &fakeSearcher{}, m, reg).Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `docsearch_http_requests_total{route="/healthz",status="2xx"} 1`) {
		t.Errorf("expected healthz request counter, got:\n%s", w.Body.String())
	}
}

func TestSearchAgainstIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := search.NewSQLiteIndexer(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = idx.Close() }()

	m := manual.Manual{Title: "typo3/reference-coreapi", Type: manual.CoreManual, Version: "main", Language: "en-us", Slug: "m/typo3/reference-coreapi/main/en-us"}
	doc := search.NewDocument(m, "ApiOverview/Events/Index.html", extract.Section{Title: "Event dispatcher", Content: "PSR-14 events.", Fragment: "event-dispatcher"})
	if err := idx.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := idx.RegisterManual(ctx, m, ""); err != nil {
		t.Fatal(err)
	}

	searcher, err := search.NewSQLiteSearcher(ctx, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = searcher.Close() }()

	handler := testServer(t, searcher).Handler()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=event", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := "https://docs.example.org/m/typo3/reference-coreapi/main/en-us/ApiOverview/Events/Index.html#event-dispatcher"
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("expected link %s in page:\n%s", want, w.Body.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate(10, "short"); got != "short" {
		t.Errorf("unexpected: %q", got)
	}
	if got := truncate(12, "the quick brown fox jumps"); got != "the quick…" {
		t.Errorf("unexpected: %q", got)
	}
}

func TestLogRequestsStatus200(t *testing.T) {
	srv := testServer(t, nil)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))

	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "status=200") {
		t.Errorf("expected status=200 in log, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "duration=") {
		t.Errorf("expected duration in log, got: %s", logOutput)
	}
}

func TestLogRequestsStatus404(t *testing.T) {
	srv := testServer(t, nil)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))

	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "status=404") {
		t.Errorf("expected status=404 in log, got: %s", logOutput)
	}
}

func TestLogRequestsImplicit200(t *testing.T) {
	srv := testServer(t, nil)

	var buf bytes.Buffer
	srv.logger = slog.New(slog.NewTextHandler(&buf, nil))

	handler := srv.logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello")) // implicit 200
	}))

	req := httptest.NewRequest(http.MethodGet, "/implicit", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "status=200") {
		t.Errorf("expected status=200 in log, got: %s", logOutput)
	}
}

func TestRouteLabel(t *testing.T) {
	for path, want := range map[string]string{
		"/search":          "/search",
		"/static/docs.css": "/static/",
		"/c/vendor/ext":    "other",
	} {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, ok := interface{}(rec).(http.Flusher); !ok {
		t.Error("statusRecorder should implement http.Flusher")
	}

	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.Write([]byte("hello"))
	if rec.status != http.StatusTeapot {
		t.Errorf("expected first status to stick, got %d", rec.status)
	}
	if rec.bytes != 5 {
		t.Errorf("expected 5 bytes, got %d", rec.bytes)
	}
}

func testStaticMux(t *testing.T) (*http.ServeMux, string) {
	t.Helper()
	staticFS, err := fs.Sub(webAssets, "static")
	if err != nil {
		t.Fatal(err)
	}
	etag, err := staticETag(staticFS)
	if err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/static/", staticCacheHandler(etag,
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	))
	return mux, etag
}

func TestStaticAssetCacheHeaders(t *testing.T) {
	mux, etag := testStaticMux(t)

	req := httptest.NewRequest(http.MethodGet, "/static/docs.css", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("unexpected Cache-Control: %s", cc)
	}
	if got := resp.Header.Get("ETag"); got != etag {
		t.Errorf("expected ETag %s, got %s", etag, got)
	}
}

func TestStaticAssetConditionalRequest(t *testing.T) {
	mux, etag := testStaticMux(t)

	for _, header := range []string{etag, "W/" + etag, `"other", ` + etag, "*"} {
		req := httptest.NewRequest(http.MethodGet, "/static/docs.css", nil)
		req.Header.Set("If-None-Match", header)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusNotModified {
			t.Errorf("If-None-Match %s: expected 304, got %d", header, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/static/docs.css", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("stale tag: expected 200, got %d", w.Code)
	}
}

func TestAcceptsGzip(t *testing.T) {
	for header, want := range map[string]bool{
		"":                      false,
		"gzip":                  true,
		"deflate, gzip;q=0.8":   true,
		"br, GZIP":              true,
		"gzip;q=0":              false,
		"identity, gzip; q=0.0": false,
		"deflate":               false,
	} {
		if got := acceptsGzip(header); got != want {
			t.Errorf("acceptsGzip(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestGzipSkipsNotModified(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.WriteHeader(http.StatusNotModified)
	}))

	req := httptest.NewRequest(http.MethodGet, "/static/docs.css", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "" {
		t.Error("304 responses must not be gzip encoded")
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %d bytes", w.Body.Len())
	}
}

func TestGzipCompressesJSON(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Vary") != "Accept-Encoding" {
		t.Errorf("expected Vary: Accept-Encoding, got %q", resp.Header.Get("Vary"))
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip for JSON, got %q", resp.Header.Get("Content-Encoding"))
	}

	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer func() { _ = gr.Close() }()
	body, _ := io.ReadAll(gr)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestGzipSkipsWithoutAcceptEncoding(t *testing.T) {
	handler := gzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.Header.Get("Content-Encoding") == "gzip" {
		t.Error("should not gzip without Accept-Encoding")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("unexpected body: %s", body)
	}
}
