// Package analyzer turns a fetched page into relevance evidence: keyword
// hits, a relevance score, internal links and documentation/specification
// candidates.
package analyzer

import (
	"context"
	"strings"

	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/http"
	"github.com/PentesterFlow/PSD2Scout/internal/parser"
	"github.com/PentesterFlow/PSD2Scout/internal/scope"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
)

// RelatedThreshold is the score a page must exceed to be API related.
const RelatedThreshold = 0.2

// DefaultTextLimit is the number of characters of page text kept.
const DefaultTextLimit = 5000

// urlBonus is added when the page's own URL matches an API path pattern.
const urlBonus = 0.2

// Category weights, applied once per category present.
var categoryWeights = []struct {
	name   string
	weight float64
}{
	{taxonomy.General, 0.3},
	{taxonomy.AIS, 0.25},
	{taxonomy.PIS, 0.25},
	{taxonomy.CAF, 0.2},
	{taxonomy.Technical, 0.2},
}

var docPhrases = []string{
	"documentation", "docs", "api reference", "getting started",
	"quickstart", "guide", "tutorial", "specification",
}

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*http.Page, error)
}

// DocLink is a candidate documentation link.
type DocLink struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// PageAnalysis is the evidence gathered from one page.
type PageAnalysis struct {
	URL   string
	Title string
	// Text is the lower-cased visible text, truncated to the text limit.
	Text           string
	Keywords       []string
	RelevanceScore float64
	IsAPIRelated   bool
	// Links are internal, fragment-free and unique, in document order.
	Links    []string
	DocLinks []DocLink
	SpecURLs []string
}

// Analyzer scores pages against a taxonomy.
type Analyzer struct {
	taxonomy  *taxonomy.Taxonomy
	fetcher   Fetcher
	textLimit int
}

// New creates an analyzer. A nil taxonomy means the built-in one.
func New(tax *taxonomy.Taxonomy, fetcher Fetcher, textLimit int) *Analyzer {
	if tax == nil {
		tax = taxonomy.Default()
	}
	if textLimit <= 0 {
		textLimit = DefaultTextLimit
	}
	return &Analyzer{taxonomy: tax, fetcher: fetcher, textLimit: textLimit}
}

// Analyze fetches pageURL and analyzes it. Relative links resolve against
// pageURL even when the fetch was redirected, so a seed that redirects to
// another host keeps its links on the seed host. Links are kept only when
// they are on the checker's host. Fetch failures are returned unchanged.
func (a *Analyzer) Analyze(ctx context.Context, pageURL string, checker *scope.Checker) (*PageAnalysis, error) {
	page, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return a.analyzeBody(pageURL, page.Body, checker)
}

func (a *Analyzer) analyzeBody(pageURL, body string, checker *scope.Checker) (*PageAnalysis, error) {
	p, err := parser.NewHTMLParser(pageURL)
	if err != nil {
		return nil, errors.NewParseError(pageURL, "base_url", err)
	}
	parsed, err := p.Parse(body)
	if err != nil {
		return nil, errors.NewParseError(pageURL, "html", err)
	}

	text := strings.ToLower(parsed.Text)
	keywords := a.taxonomy.Match(text)
	if keywords == nil {
		keywords = []string{}
	}
	score := Score(keywords, a.taxonomy.IsAPIRelatedURL(pageURL))

	hrefs := make([]string, len(parsed.Links))
	for i, l := range parsed.Links {
		hrefs[i] = l.URL
	}

	return &PageAnalysis{
		URL:            pageURL,
		Title:          parsed.Title,
		Text:           truncateRunes(text, a.textLimit),
		Keywords:       keywords,
		RelevanceScore: score,
		IsAPIRelated:   IsRelated(score),
		Links:          checker.InternalLinks(hrefs),
		DocLinks:       docLinks(parsed.Links),
		SpecURLs:       parsed.SpecRefs,
	}, nil
}

// Score computes the relevance score for keyword tags. Each weighted
// category counts once; the total is capped at 1.
func Score(tags []string, apiURL bool) float64 {
	present := make(map[string]bool)
	for _, tag := range tags {
		if cat, _, ok := taxonomy.SplitTag(tag); ok {
			present[cat] = true
		}
	}

	score := 0.0
	for _, cw := range categoryWeights {
		if present[cw.name] {
			score += cw.weight
		}
	}
	if apiURL {
		score += urlBonus
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// IsRelated reports whether a score marks a page as API related.
func IsRelated(score float64) bool {
	return score > RelatedThreshold
}

// docLinks returns anchors whose text or href mentions documentation,
// unique by URL.
func docLinks(links []parser.Link) []DocLink {
	seen := make(map[string]bool)
	out := make([]DocLink, 0)
	for _, l := range links {
		if seen[l.URL] {
			continue
		}
		text := strings.ToLower(l.Text)
		href := strings.ToLower(l.Href)
		for _, phrase := range docPhrases {
			if strings.Contains(text, phrase) || strings.Contains(href, phrase) {
				seen[l.URL] = true
				out = append(out, DocLink{URL: l.URL, Text: l.Text})
				break
			}
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
