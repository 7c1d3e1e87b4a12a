// Package extract splits rendered documentation pages into indexable
// sections.
package extract

import (
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultContentClass = "rst-content"
	DefaultSectionClass = "section"
	headerLinkClass     = "headerlink"
)

// Section is one headline with the body text that belongs to it directly.
type Section struct {
	Title    string
	Content  string
	Fragment string
}

type Extractor struct {
	ContentClass string
	SectionClass string
	logger       *slog.Logger
}

// New returns an extractor for pages whose main content carries
// contentClass and whose sections carry sectionClass. Empty classes fall
// back to the Sphinx defaults.
func New(contentClass, sectionClass string, logger *slog.Logger) *Extractor {
	if contentClass == "" {
		contentClass = DefaultContentClass
	}
	if sectionClass == "" {
		sectionClass = DefaultSectionClass
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ContentClass: contentClass, SectionClass: sectionClass, logger: logger}
}

// Extract returns the sections of htmlContent in document order. Pages
// without a main content container yield no sections. Sections without a
// headline are skipped. The text of a nested section is never repeated in
// the content of its parent.
func (e *Extractor) Extract(htmlContent string) []Section {
	// The HTML5 parser recovers from malformed markup itself; an error here
	// only comes from the reader.
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		e.logger.Warn("parse html", "error", err)
		return nil
	}

	content := findByClass(doc, e.ContentClass)
	if content == nil {
		return nil
	}

	// Candidates are collected before any node is detached so nested
	// sections stay reachable after their parent removed them.
	var candidates []*html.Node
	collectByClass(content, e.SectionClass, &candidates)

	sections := make([]Section, 0, len(candidates))
	for _, node := range candidates {
		if s, ok := e.section(node); ok {
			sections = append(sections, s)
		}
	}
	return sections
}

func (e *Extractor) section(node *html.Node) (Section, bool) {
	heading := e.findHeading(node)
	if heading == nil {
		return Section{}, false
	}

	s := Section{
		Title:    cleanTitle(textContent(heading, true)),
		Fragment: attr(node, "id"),
	}
	if err := detach(heading); err != nil {
		e.logger.Warn("detach heading", "fragment", s.Fragment, "error", err)
	}

	var nested []*html.Node
	e.collectNested(node, &nested)
	for _, child := range nested {
		if err := detach(child); err != nil {
			e.logger.Warn("detach nested section", "fragment", s.Fragment, "child", attr(child, "id"), "error", err)
		}
	}

	s.Content = collapseWhitespace(textContent(node, false))
	return s, true
}

// findHeading returns the first h1-h6 below n that does not belong to a
// nested section.
func (e *Extractor) findHeading(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if isHeading(c) {
			return c
		}
		if hasClass(c, e.SectionClass) {
			continue
		}
		if h := e.findHeading(c); h != nil {
			return h
		}
	}
	return nil
}

// collectNested gathers the outermost section elements below n.
func (e *Extractor) collectNested(n *html.Node, out *[]*html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if hasClass(c, e.SectionClass) {
			*out = append(*out, c)
			continue
		}
		e.collectNested(c, out)
	}
}

func isHeading(n *html.Node) bool {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

func detach(n *html.Node) error {
	if n.Parent == nil {
		return errors.New("node has no parent")
	}
	n.Parent.RemoveChild(n)
	return nil
}

func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func collectByClass(n *html.Node, class string, out *[]*html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			*out = append(*out, c)
		}
		collectByClass(c, class, out)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent concatenates the text below n, leaving out scripts and
// styles. Permalink anchors are dropped when skipHeaderLinks is set.
func textContent(n *html.Node, skipHeaderLinks bool) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			b.WriteString(node.Data)
			return
		case html.ElementNode:
			if node.DataAtom == atom.Script || node.DataAtom == atom.Style {
				return
			}
			if skipHeaderLinks && node.DataAtom == atom.A && hasClass(node, headerLinkClass) {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// cleanTitle drops control characters and the pilcrow Sphinx renders as a
// permalink glyph.
func cleanTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '¶' || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
			return -1
		}
		return r
	}, s)
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
