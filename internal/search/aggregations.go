package search

import (
	"sort"
	"strings"

	"github.com/canonical/docsearch/internal/version"
)

// Bucket is one facet value and the number of hits carrying it.
type Bucket struct {
	Value    string   `json:"value"`
	Count    int      `json:"count"`
	Selected bool     `json:"selected"`
	Children []Bucket `json:"children,omitempty"`
}

// Aggregation is the facet of one field.
type Aggregation struct {
	Label   string   `json:"label"`
	Field   string   `json:"field"`
	Buckets []Bucket `json:"buckets"`
}

// SortAggregations orders facets by label for display. The language facet
// always comes last, whatever the direction.
func SortAggregations(aggs []Aggregation, direction version.Direction) []Aggregation {
	out := append([]Aggregation(nil), aggs...)
	sort.SliceStable(out, func(i, j int) bool {
		c := strings.Compare(out[i].Label, out[j].Label)
		if direction == version.Desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]Aggregation, 0, len(out))
	var languages []Aggregation
	for _, agg := range out {
		if agg.Field == FieldLanguage {
			languages = append(languages, agg)
			continue
		}
		sorted = append(sorted, agg)
	}
	return append(sorted, languages...)
}
