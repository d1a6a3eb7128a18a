package discovery

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/analyzer"
	"github.com/PentesterFlow/PSD2Scout/internal/state"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
)

// NoDescription is used when a page yields neither a sentence nor a title.
const NoDescription = "No description available"

const (
	maxSentences      = 20
	maxDescriptionLen = 300
	minDescriptionLen = 20
)

var typeIndicators = []struct {
	apiType APIType
	terms   []string
}{
	{TypeAIS, []string{"ais", "account information", "aisp"}},
	{TypePIS, []string{"pis", "payment initiation", "pisp"}},
	{TypeCAF, []string{"caf", "confirmation of funds", "piis"}},
}

var descriptionTerms = []string{"api", "psd2", "banking", "payment"}

var sentenceSplit = regexp.MustCompile(`[.!?]`)

// versionSegment matches a path segment such as v1 or v2.1.
var versionSegment = regexp.MustCompile(`(?i)(?:^|/)(v\d+(?:\.\d+)?)(?:/|$)`)

// Authentication schemes recognised in keyword evidence, most specific
// first. A scheme is skipped when a more specific one containing it
// already matched.
var authSchemes = []struct {
	keyword string
	label   string
}{
	{"oauth2", "OAuth2"},
	{"oauth", "OAuth"},
	{"openid connect", "OpenID Connect"},
	{"client credentials", "Client Credentials"},
}

// InferTypes derives API types from keyword tags. The checks are
// independent, so one page may yield several types. PSD2 is used when only
// general evidence exists and Unknown when there is none.
func InferTypes(keywords []string) []APIType {
	joined := strings.ToLower(strings.Join(keywords, " "))

	var types []APIType
	for _, ind := range typeIndicators {
		for _, term := range ind.terms {
			if strings.Contains(joined, term) {
				types = append(types, ind.apiType)
				break
			}
		}
	}
	if len(types) > 0 {
		return types
	}

	for _, kw := range keywords {
		if cat, _, ok := taxonomy.SplitTag(kw); ok && cat == taxonomy.General {
			return []APIType{TypePSD2}
		}
	}
	return []APIType{TypeUnknown}
}

// Describe picks the first of the leading sentences that mentions an API
// topic. It falls back to title, then to NoDescription.
func Describe(text, title string) string {
	sentences := sentenceSplit.Split(text, -1)
	if len(sentences) > maxSentences {
		sentences = sentences[:maxSentences]
	}

	for _, s := range sentences {
		lower := strings.ToLower(s)
		if !containsAny(lower, descriptionTerms) {
			continue
		}
		clean := []rune(strings.Join(strings.Fields(s), " "))
		if len(clean) > maxDescriptionLen {
			clean = clean[:maxDescriptionLen]
		}
		if len(clean) > minDescriptionLen {
			return string(clean) + "..."
		}
	}

	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return NoDescription
}

// Synthesize creates one endpoint per API type inferred from the page.
// All of them share base URL, description, score and evidence.
func Synthesize(a *analyzer.PageAnalysis, sourceURL, baseURL string, now time.Time) []APIEndpoint {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	description := Describe(a.Text, a.Title)

	var docURL, specURL string
	if len(a.DocLinks) > 0 {
		docURL = a.DocLinks[0].URL
	}
	if len(a.SpecURLs) > 0 {
		specURL = a.SpecURLs[0]
	}

	sandbox := sandboxURL(a)
	version := apiVersion(specURL, sourceURL)
	auth := authentication(a.Keywords)

	types := InferTypes(a.Keywords)
	endpoints := make([]APIEndpoint, 0, len(types))
	for _, t := range types {
		endpoints = append(endpoints, APIEndpoint{
			Name:             host + " - " + string(t),
			URL:              baseURL,
			SourcePage:       sourceURL,
			APIType:          t,
			Description:      description,
			Version:          version,
			DocumentationURL: docURL,
			SwaggerURL:       specURL,
			SandboxURL:       sandbox,
			Authentication:   auth,
			DiscoveredAt:     now,
			ConfidenceScore:  a.RelevanceScore,
			KeywordsFound:    append([]string(nil), a.Keywords...),
		})
	}
	return endpoints
}

// Dedupe keeps the first endpoint for each (base URL, API type) pair,
// preserving order.
func Dedupe(endpoints []APIEndpoint) []APIEndpoint {
	seen := state.NewDeduplicator(len(endpoints))
	unique := make([]APIEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if seen.Add(ep.URL + "|" + string(ep.APIType)) {
			unique = append(unique, ep)
		}
	}
	return unique
}

// sandboxURL returns the first candidate link mentioning a sandbox,
// checking specification, documentation and internal links in that order.
func sandboxURL(a *analyzer.PageAnalysis) string {
	candidates := make([]string, 0, len(a.SpecURLs)+len(a.DocLinks)+len(a.Links))
	candidates = append(candidates, a.SpecURLs...)
	for _, d := range a.DocLinks {
		candidates = append(candidates, d.URL)
	}
	candidates = append(candidates, a.Links...)

	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), "sandbox") {
			return c
		}
	}
	return ""
}

func apiVersion(urls ...string) string {
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		path := raw
		if u, err := url.Parse(raw); err == nil {
			path = u.Path
		}
		if m := versionSegment.FindStringSubmatch(path); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

func authentication(keywords []string) string {
	found := make([]string, 0, len(authSchemes))
	var matched []string
	for _, scheme := range authSchemes {
		hit := false
		for _, tag := range keywords {
			if _, kw, ok := taxonomy.SplitTag(tag); ok && strings.EqualFold(kw, scheme.keyword) {
				hit = true
				break
			}
		}
		if !hit || containsAny(strings.Join(matched, " "), []string{scheme.keyword}) {
			continue
		}
		matched = append(matched, scheme.keyword)
		found = append(found, scheme.label)
	}
	return strings.Join(found, ", ")
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
