// Package version orders and groups manual version strings.
//
// Versions compare with Debian version semantics so "9.3.2" sorts before
// "10". The development branches "main" and "master" always sort highest.
package version

import (
	"sort"
	"strings"

	debversion "pault.ag/go/debian/version"
)

// Direction selects ascending or descending order.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Latest requests the highest available version.
const Latest = "latest"

func isSentinel(v string) bool {
	return v == "main" || v == "master"
}

// Compare returns -1, 0 or 1 as left sorts before, equal to, or after right.
func Compare(left, right string) int {
	ls, rs := isSentinel(left), isSentinel(right)
	switch {
	case ls && rs:
		return strings.Compare(left, right)
	case ls:
		return 1
	case rs:
		return -1
	}

	l, lerr := debversion.Parse(left)
	r, rerr := debversion.Parse(right)
	if lerr != nil || rerr != nil {
		return strings.Compare(left, right)
	}
	switch c := debversion.Compare(l, r); {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}

// Sort returns a sorted copy of versions.
func Sort(versions []string, direction Direction) []string {
	out := append([]string(nil), versions...)
	sort.SliceStable(out, func(i, j int) bool {
		if direction == Desc {
			return Compare(out[i], out[j]) > 0
		}
		return Compare(out[i], out[j]) < 0
	})
	return out
}

// Major returns the leading dot-separated component of v.
func Major(v string) string {
	major, _, _ := strings.Cut(v, ".")
	return major
}

func isNumeric(v string) bool {
	if v == "" {
		return false
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// FilterHighestPerMajor keeps the highest numeric version of every major
// line, in the order the lines first appear, followed by the non-numeric
// versions in their original order. A bare major such as "12" forms its own
// line and is not merged with "12.x" versions.
func FilterHighestPerMajor(versions []string) []string {
	type group struct {
		key     string
		highest string
	}
	var groups []*group
	byKey := map[string]*group{}
	var other []string

	for _, v := range versions {
		if !isNumeric(v) {
			other = append(other, v)
			continue
		}
		key := Major(v)
		if !strings.Contains(v, ".") {
			key = v + "\x00"
		}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, highest: v}
			byKey[key] = g
			groups = append(groups, g)
			continue
		}
		if Compare(v, g.highest) > 0 {
			g.highest = v
		}
	}

	out := make([]string, 0, len(groups)+len(other))
	for _, g := range groups {
		out = append(out, g.highest)
	}
	return append(out, other...)
}

// Resolve picks the version of versions that best serves requested, which
// is either Latest or a version whose major component selects the line.
// Latest is the highest version. Otherwise the first version in input
// order belonging to the requested line wins; when none matches the
// highest version overall is returned.
func Resolve(versions []string, requested string) string {
	sorted := Sort(versions, Desc)
	if len(sorted) == 0 {
		return ""
	}
	if requested == "" || requested == Latest {
		return sorted[0]
	}
	major := Major(requested)
	for _, v := range versions {
		if v == major || strings.HasPrefix(v, major+".") {
			return v
		}
	}
	return sorted[0]
}

// ResolveSlug returns the slug of slugs holding the version Resolve picks.
// A slug carrying the version as a whole path segment is preferred over a
// plain substring match; without any match the first slug is returned.
func ResolveSlug(slugs, versions []string, requested string) string {
	if len(slugs) == 0 {
		return ""
	}
	v := Resolve(versions, requested)
	if v == "" {
		return slugs[0]
	}
	for _, slug := range slugs {
		for _, seg := range strings.Split(slug, "/") {
			if seg == v {
				return slug
			}
		}
	}
	for _, slug := range slugs {
		if strings.Contains(slug, v) {
			return slug
		}
	}
	return slugs[0]
}
