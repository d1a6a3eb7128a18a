// Package parser extracts titles, visible text, anchors and API specification
// references from HTML pages.
package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HTMLParser parses HTML documents relative to the URL they were fetched from.
type HTMLParser struct {
	baseURL *url.URL
}

// NewHTMLParser creates a new HTML parser.
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &HTMLParser{baseURL: u}, nil
}

// ParseResult contains the result of parsing an HTML document.
type ParseResult struct {
	Title string
	// Text is the visible text, one space between text nodes.
	Text  string
	Links []Link
	// SpecRefs are absolute URLs that look like OpenAPI/Swagger documents.
	SpecRefs []string
}

// Link represents an anchor with an href.
type Link struct {
	URL  string // resolved against the page URL
	Href string // as written in the document
	Text string // whitespace-normalized anchor text
}

// Elements whose text is never shown to a reader.
const hiddenSelector = "script, style, noscript, template"

var specPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)["']([^"'\s<>]*swagger[.-]?ui[^"'\s<>]*)["']`),
	regexp.MustCompile(`(?i)["']([^"'\s<>]*openapi[^"'\s<>]*)["']`),
	regexp.MustCompile(`(?i)["']([^"'\s<>]*api-?docs[^"'\s<>]*)["']`),
	regexp.MustCompile(`(?i)["']([^"'\s<>]*\.ya?ml)["']`),
	regexp.MustCompile(`(?i)["']([^"'\s<>]*swagger\.json[^"'\s<>]*)["']`),
}

// Parse parses an HTML document.
func (p *HTMLParser) Parse(body string) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Links:    make([]Link, 0),
		SpecRefs: make([]string, 0),
	}

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved := p.resolveURL(href)
		if resolved == "" {
			return
		}
		result.Links = append(result.Links, Link{
			URL:  resolved,
			Href: href,
			Text: strings.Join(strings.Fields(s.Text()), " "),
		})
	})

	doc.Find(hiddenSelector).Remove()
	result.Text = visibleText(doc.Nodes)

	result.SpecRefs = p.specRefs(body, result.Links)

	return result, nil
}

// visibleText joins the trimmed, non-empty text nodes under roots.
func visibleText(roots []*html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range roots {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// specRefs finds quoted specification references in the raw markup, then
// anchors mentioning swagger or openapi. Order is first-seen.
func (p *HTMLParser) specRefs(body string, links []Link) []string {
	seen := make(map[string]bool)
	refs := make([]string, 0)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			refs = append(refs, u)
		}
	}

	for _, re := range specPatterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			add(p.resolveURL(html.UnescapeString(m[1])))
		}
	}

	for _, l := range links {
		text := strings.ToLower(l.Text)
		href := strings.ToLower(l.Href)
		if strings.Contains(text, "swagger") || strings.Contains(href, "swagger") ||
			strings.Contains(text, "openapi") || strings.Contains(href, "openapi") {
			add(l.URL)
		}
	}

	return refs
}

// resolveURL resolves href against the page URL. An empty href is the page
// itself. Non-navigable schemes and unparseable references resolve to "".
func (p *HTMLParser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return p.baseURL.String()
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	return p.baseURL.ResolveReference(ref).String()
}
