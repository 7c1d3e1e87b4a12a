package search

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/docsearch/internal/version"
)

// Filter fields a demand can constrain.
const (
	FieldType          = "manual_type"
	FieldLanguage      = "manual_language"
	FieldMajorVersions = "major_versions"
	// FieldTitle only appears as the nested Document facet.
	FieldTitle = "manual_title"
)

// Facet labels as used in query strings and rendered pages.
const (
	LabelType     = "Document Type"
	LabelDocument = "Document"
	LabelLanguage = "Language"
	LabelVersion  = "Version"
)

var labelFields = map[string]string{
	LabelType:     FieldType,
	LabelLanguage: FieldLanguage,
	LabelVersion:  FieldMajorVersions,
}

var filterParam = regexp.MustCompile(`^filters\[([^\]]+)\]\[([^\]]*)\]$`)

// Demand is one search request.
type Demand struct {
	Query   string              `json:"q"`
	Scope   string              `json:"scope"`
	Page    int                 `json:"page"`
	Filters map[string][]string `json:"filters"`
}

// ParseDemand reads a demand from query parameters of the form
// q=...&scope=...&page=...&filters[<Label>][<value>]=true. Unknown labels
// are dropped. The page is clamped to 1..MaxPage. Without a Version filter the demand is limited to the latest
// version of every manual.
func ParseDemand(values url.Values) Demand {
	d := Demand{
		Query:   strings.TrimSpace(values.Get("q")),
		Scope:   strings.Trim(strings.TrimSpace(values.Get("scope")), "/"),
		Page:    1,
		Filters: map[string][]string{},
	}
	if p, err := strconv.Atoi(values.Get("page")); err == nil {
		d.Page = clampPage(p)
	}

	for key, vals := range values {
		m := filterParam.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		field, ok := labelFields[m[1]]
		if !ok || m[2] == "" || !contains(vals, "true") {
			continue
		}
		d.Filters[field] = append(d.Filters[field], m[2])
	}
	for field := range d.Filters {
		sort.Strings(d.Filters[field])
	}
	if len(d.Filters[FieldMajorVersions]) == 0 {
		d.Filters[FieldMajorVersions] = []string{version.Latest}
	}
	return d
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// IsSelected reports whether value is an active filter of field.
func (d Demand) IsSelected(field, value string) bool {
	return contains(d.Filters[field], value)
}

// RequestedVersion is the major version result links should point at: the
// single selected major, or latest.
func (d Demand) RequestedVersion() string {
	majors := d.Filters[FieldMajorVersions]
	if len(majors) == 1 {
		return majors[0]
	}
	return version.Latest
}

// Values encodes d back into query parameters.
func (d Demand) Values() url.Values {
	v := url.Values{}
	if d.Query != "" {
		v.Set("q", d.Query)
	}
	if d.Scope != "" {
		v.Set("scope", d.Scope)
	}
	if d.Page > 1 {
		v.Set("page", strconv.Itoa(d.Page))
	}
	for label, field := range labelFields {
		for _, value := range d.Filters[field] {
			v.Set("filters["+label+"]["+value+"]", "true")
		}
	}
	return v
}

// WithPage returns a copy of d pointing at page.
func (d Demand) WithPage(page int) Demand {
	d.Page = page
	return d
}

// Toggle returns a copy of d with value added to or removed from the
// filters of field. The page is reset to the first one.
func (d Demand) Toggle(field, value string) Demand {
	filters := make(map[string][]string, len(d.Filters))
	for f, vals := range d.Filters {
		filters[f] = append([]string(nil), vals...)
	}
	if contains(filters[field], value) {
		filters[field] = removeValue(filters[field], value)
	} else {
		if field == FieldMajorVersions && value != version.Latest {
			filters[field] = removeValue(filters[field], version.Latest)
		}
		filters[field] = append(filters[field], value)
		sort.Strings(filters[field])
	}
	if len(filters[field]) == 0 {
		delete(filters, field)
	}
	d.Filters = filters
	d.Page = 1
	return d
}

func removeValue(values []string, value string) []string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != value {
			kept = append(kept, v)
		}
	}
	return kept
}
