package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canonical/docsearch/internal/config"
	"github.com/canonical/docsearch/internal/metrics"
	"github.com/canonical/docsearch/internal/search"
)

//go:embed templates/base.html templates/index.html templates/search.html templates/404.html static/docs.css
var webAssets embed.FS

// suggestLimit is the number of titles returned by /suggest.
const suggestLimit = 5

// Searcher is the query side of the index.
type Searcher interface {
	Search(ctx context.Context, d search.Demand) (search.ResultPage, error)
	Suggest(ctx context.Context, d search.Demand, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	index      *template.Template
	searchPage *template.Template
	notFound   *template.Template
	search     Searcher
}

// NewServer builds the HTTP surface. searcher may be nil when the index is
// unavailable; search pages then render without results. gatherer backs
// /metrics and may be nil to disable it.
func NewServer(cfg *config.Config, logger *slog.Logger, searcher Searcher, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	funcs := template.FuncMap{
		"preview": func(s string) string { return truncate(contentPreview, s) },
	}
	parse := func(name string) *template.Template {
		return template.Must(template.New("base").Funcs(funcs).ParseFS(webAssets, "templates/base.html", "templates/"+name))
	}
	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		gatherer:   gatherer,
		index:      parse("index.html"),
		searchPage: parse("search.html"),
		notFound:   parse("404.html"),
		search:     searcher,
	}
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/robots.txt", s.handleRobotsTxt)
	mux.HandleFunc("/search", s.handleSearchPage)
	mux.HandleFunc("/suggest", s.handleSuggest)
	mux.HandleFunc("/", s.handleIndex)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	staticFS, _ := fs.Sub(webAssets, "static")
	etag, err := staticETag(staticFS)
	if err != nil {
		s.logger.Warn("hash static assets", "error", err)
	}
	mux.Handle("/static/", staticCacheHandler(etag,
		http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
	))
	return s.logRequests(gzipHandler(mux))
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		s.renderNotFound(w, r)
		return
	}

	view := s.baseView("home")
	view.JSONLD = buildIndexJSONLD(view.SiteURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "index", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	demand := search.ParseDemand(r.URL.Query())
	if demand.Query == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	var page search.ResultPage
	searchErr := false
	if s.search == nil {
		searchErr = true
	} else {
		var err error
		page, err = s.search.Search(r.Context(), demand)
		if err != nil {
			s.logger.Error("search failed", "query", demand.Query, "error", err)
			searchErr = true
		}
	}
	if searchErr {
		page = search.ResultPage{Demand: demand, Pagination: search.Paginate(demand.Page, 0)}
	}

	view := buildSearchView(s.baseView("search"), s.cfg.ManualsURL(), page)
	view.SearchError = searchErr

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.searchPage.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "search", "error", err)
	}
}

type suggestResult struct {
	Title    string   `json:"title"`
	Manual   string   `json:"manual"`
	Type     string   `json:"type"`
	Language string   `json:"language"`
	Versions []string `json:"versions"`
	URL      string   `json:"url"`
}

type suggestResponse struct {
	Demand  search.Demand   `json:"demand"`
	Suggest []string        `json:"suggest"`
	Time    float64         `json:"time"`
	Results []suggestResult `json:"results"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	demand := search.ParseDemand(r.URL.Query())
	resp := suggestResponse{Demand: demand, Suggest: []string{}, Results: []suggestResult{}}

	if demand.Query != "" && s.search != nil {
		titles, err := s.search.Suggest(r.Context(), demand, suggestLimit)
		if err != nil {
			s.logger.Error("suggest failed", "query", demand.Query, "error", err)
		} else {
			resp.Suggest = titles
		}

		page, err := s.search.Search(r.Context(), demand)
		if err != nil {
			s.logger.Error("search failed", "query", demand.Query, "error", err)
		} else {
			for _, hit := range page.Results {
				resp.Results = append(resp.Results, suggestResult{
					Title:    hit.SnippetTitle,
					Manual:   hit.ManualTitle,
					Type:     hit.ManualType,
					Language: hit.ManualLanguage,
					Versions: hit.ManualVersions,
					URL:      s.cfg.ManualsURL() + "/" + hit.Link(),
				})
			}
		}
	}
	resp.Time = float64(time.Since(start).Microseconds()) / 1000

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.search == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "search index unavailable"})
		return
	}
	if err := s.search.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRobotsTxt(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, `User-agent: *
Allow: /
Disallow: /search
Disallow: /suggest
Disallow: /healthz
Disallow: /metrics
`)
}

func (s *Server) renderNotFound(w http.ResponseWriter, r *http.Request) {
	view := s.baseView("")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := s.notFound.ExecuteTemplate(w, "base", view); err != nil {
		s.logger.Error("render error", "template", "404", "error", err)
	}
}

func buildJSONLD(data any) template.HTML {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return template.HTML(`<script type="application/ld+json">` + string(b) + `</script>`)
}

func buildIndexJSONLD(siteURL string) template.HTML {
	return buildJSONLD(map[string]any{
		"@context": "https://schema.org",
		"@type":    "WebSite",
		"name":     "Documentation Search",
		"url":      siteURL,
		"potentialAction": map[string]any{
			"@type":       "SearchAction",
			"target":      siteURL + "/search?q={search_term_string}",
			"query-input": "required name=search_term_string",
		},
	})
}
