package web

import (
	"html/template"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/canonical/docsearch/internal/search"
	"github.com/canonical/docsearch/internal/version"
)

// contentPreview is the number of characters of section text shown per hit.
const contentPreview = 280

type baseView struct {
	ActiveNav string
	SiteURL   string
	JSONLD    template.HTML
	Query     string
	Scope     string
}

func (s *Server) baseView(nav string) baseView {
	return baseView{ActiveNav: nav, SiteURL: s.cfg.SiteURL()}
}

type searchView struct {
	baseView
	Results     []resultView
	Pagination  search.Pagination
	Pages       []pageLink
	PrevHref    string
	NextHref    string
	Facets      []facetView
	SearchError bool
}

type resultView struct {
	Title    string
	Content  string
	Manual   string
	Type     string
	Language string
	Versions []string
	Href     string
}

type pageLink struct {
	Number  int
	Href    string
	Current bool
}

type facetView struct {
	Label   string
	Buckets []bucketView
}

type bucketView struct {
	Value    string
	Label    string
	Count    int
	Selected bool
	Href     string
	Children []bucketView
}

func searchHref(d search.Demand) string {
	return "/search?" + d.Values().Encode()
}

func buildSearchView(base baseView, manualsURL string, page search.ResultPage) searchView {
	d := page.Demand
	base.Query = d.Query
	base.Scope = d.Scope
	view := searchView{baseView: base, Pagination: page.Pagination}

	for _, hit := range page.Results {
		view.Results = append(view.Results, resultView{
			Title:    hit.SnippetTitle,
			Content:  hit.SnippetContent,
			Manual:   hit.ManualTitle,
			Type:     hit.ManualType,
			Language: hit.ManualLanguage,
			Versions: version.Sort(hit.ManualVersions, version.Desc),
			Href:     manualsURL + "/" + hit.Link(),
		})
	}

	for _, n := range page.Pagination.Pages() {
		view.Pages = append(view.Pages, pageLink{
			Number:  n,
			Href:    searchHref(d.WithPage(n)),
			Current: n == page.Pagination.CurrentPage,
		})
	}
	if page.Pagination.Prev > 0 {
		view.PrevHref = searchHref(d.WithPage(page.Pagination.Prev))
	}
	if page.Pagination.Next > 0 {
		view.NextHref = searchHref(d.WithPage(page.Pagination.Next))
	}

	for _, agg := range page.Aggregations {
		view.Facets = append(view.Facets, buildFacetView(d, agg))
	}
	return view
}

func buildFacetView(d search.Demand, agg search.Aggregation) facetView {
	fv := facetView{Label: agg.Label}
	if agg.Field == search.FieldMajorVersions {
		fv.Buckets = append(fv.Buckets, bucketView{
			Value:    version.Latest,
			Label:    "Latest",
			Selected: d.IsSelected(agg.Field, version.Latest),
			Href:     searchHref(d.Toggle(agg.Field, version.Latest)),
		})
	}
	for _, b := range agg.Buckets {
		bv := bucketView{
			Value:    b.Value,
			Label:    bucketLabel(agg.Field, b.Value),
			Count:    b.Count,
			Selected: b.Selected,
			Href:     searchHref(d.Toggle(agg.Field, b.Value)),
		}
		for _, c := range b.Children {
			bv.Children = append(bv.Children, bucketView{Value: c.Value, Label: c.Value, Count: c.Count})
		}
		fv.Buckets = append(fv.Buckets, bv)
	}
	return fv
}

func bucketLabel(field, value string) string {
	switch field {
	case search.FieldType:
		if value == "" {
			return value
		}
		r, size := utf8.DecodeRuneInString(value)
		return strings.ToUpper(string(r)) + value[size:]
	case search.FieldMajorVersions:
		if _, err := strconv.Atoi(value); err == nil {
			return value + ".x"
		}
	}
	return value
}

// truncate shortens s to at most n characters on a word boundary.
func truncate(n int, s string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
