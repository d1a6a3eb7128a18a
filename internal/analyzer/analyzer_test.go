package analyzer

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/http"
	"github.com/PentesterFlow/PSD2Scout/internal/scope"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
)

type fakeFetcher struct {
	pages map[string]*http.Page
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*http.Page, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, errors.NewStatusError(errors.NotFound, url, 404, "page not found")
}

func htmlPage(url, body string) *http.Page {
	return &http.Page{URL: url, FinalURL: url, StatusCode: 200, Body: body}
}

func mustChecker(t *testing.T, seed string) *scope.Checker {
	t.Helper()
	c, err := scope.NewChecker(seed)
	if err != nil {
		t.Fatalf("NewChecker(%q) error = %v", seed, err)
	}
	return c
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// =============================================================================
// Score Tests
// =============================================================================

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		tags   []string
		apiURL bool
		want   float64
	}{
		{"nothing", nil, false, 0},
		{"url only", nil, true, 0.2},
		{"general", []string{"general:psd2"}, false, 0.3},
		{"general counted once", []string{"general:psd2", "general:tpp", "general:xs2a"}, false, 0.3},
		{"ais", []string{"ais:balance"}, false, 0.25},
		{"pis", []string{"pis:pisp"}, false, 0.25},
		{"caf", []string{"caf:piis"}, false, 0.2},
		{"technical", []string{"technical:swagger"}, false, 0.2},
		{"general with url", []string{"general:psd2"}, true, 0.5},
		{"ais and pis", []string{"ais:aisp", "pis:pisp"}, false, 0.5},
		{"clamped", []string{"general:psd2", "ais:aisp", "pis:pisp", "caf:piis", "technical:swagger"}, true, 1.0},
		{"unknown category ignored", []string{"custom:thing"}, false, 0},
		{"malformed tag ignored", []string{"psd2"}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.tags, tt.apiURL)
			if !approx(got, tt.want) {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Score() = %v out of [0,1]", got)
			}
		})
	}
}

func TestIsRelated_Boundary(t *testing.T) {
	tests := []struct {
		score float64
		want  bool
	}{
		{0, false},
		{0.2, false},
		{Score([]string{"caf:piis"}, false), false},
		{Score(nil, true), false},
		{0.2000001, true},
		{0.25, true},
		{1, true},
	}
	for _, tt := range tests {
		if got := IsRelated(tt.score); got != tt.want {
			t.Errorf("IsRelated(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

// =============================================================================
// Analyze Tests
// =============================================================================

func TestAnalyze_PSD2OnAPIDocsPath(t *testing.T) {
	url := "https://bank.example/api-docs"
	f := &fakeFetcher{pages: map[string]*http.Page{
		url: htmlPage(url, `<html><head><title>Developers</title></head><body><p>PSD2</p></body></html>`),
	}}
	a := New(nil, f, 0)

	res, err := a.Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !approx(res.RelevanceScore, 0.5) {
		t.Errorf("RelevanceScore = %v, want 0.5", res.RelevanceScore)
	}
	if !res.IsAPIRelated {
		t.Error("IsAPIRelated = false, want true")
	}
	if len(res.Keywords) != 1 || res.Keywords[0] != "general:psd2" {
		t.Errorf("Keywords = %v, want [general:psd2]", res.Keywords)
	}
	if res.Title != "Developers" {
		t.Errorf("Title = %q, want Developers", res.Title)
	}
}

func TestAnalyze_TextLowercasedAndTruncated(t *testing.T) {
	url := "https://bank.example/"
	body := "<html><body><p>OPEN BANKING " + strings.Repeat("x", 100) + " PSD2</p></body></html>"
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, body)}}

	res, err := New(nil, f, 20).Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len([]rune(res.Text)) != 20 {
		t.Errorf("len(Text) = %d, want 20", len([]rune(res.Text)))
	}
	if !strings.HasPrefix(res.Text, "open banking") {
		t.Errorf("Text = %q, want lower-cased", res.Text)
	}
	// Keywords are matched before truncation.
	found := false
	for _, k := range res.Keywords {
		if k == "general:psd2" {
			found = true
		}
	}
	if !found {
		t.Errorf("Keywords = %v, want general:psd2 from beyond the text limit", res.Keywords)
	}
}

func TestAnalyze_Links(t *testing.T) {
	url := "https://bank.example/developer/"
	body := `<html><body>
		<a href="/sandbox">Sandbox</a>
		<a href="accounts#section">Accounts</a>
		<a href="accounts">Accounts again</a>
		<a href="https://other.example/psd2">External</a>
		<a href="mailto:api@bank.example">Mail</a>
		<a href="/search?q=psd2">Search</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, body)}}

	res, err := New(nil, f, 0).Analyze(context.Background(), url, mustChecker(t, "https://bank.example/"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	want := []string{
		"https://bank.example/sandbox",
		"https://bank.example/developer/accounts",
		"https://bank.example/search?q=psd2",
	}
	if len(res.Links) != len(want) {
		t.Fatalf("Links = %v, want %v", res.Links, want)
	}
	for i := range want {
		if res.Links[i] != want[i] {
			t.Errorf("Links[%d] = %q, want %q", i, res.Links[i], want[i])
		}
	}
}

func TestAnalyze_CrossHostRedirectKeepsSeedHost(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*http.Page{
		"https://bank.example/": {
			URL:        "https://bank.example/",
			FinalURL:   "https://www.bank.example/",
			StatusCode: 200,
			Body:       `<p>PSD2</p><a href="/developer">Developers</a><a href="about">About</a>`,
		},
	}}

	res, err := New(nil, f, 0).Analyze(context.Background(), "https://bank.example/", mustChecker(t, "https://bank.example/"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.URL != "https://bank.example/" {
		t.Errorf("URL = %q, want requested URL", res.URL)
	}

	want := []string{"https://bank.example/developer", "https://bank.example/about"}
	if len(res.Links) != len(want) {
		t.Fatalf("Links = %v, want %v", res.Links, want)
	}
	for i := range want {
		if res.Links[i] != want[i] {
			t.Errorf("Links[%d] = %q, want %q", i, res.Links[i], want[i])
		}
	}
}

func TestAnalyze_DocLinks(t *testing.T) {
	url := "https://bank.example/"
	body := `<html><body>
		<a href="/about">About us</a>
		<a href="/start">Getting Started</a>
		<a href="/developer/docs/">Read</a>
		<a href="/start">Getting Started again</a>
		<a href="https://docs.partner.example/">Partner</a>
		<a href="">Documentation</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, body)}}

	res, err := New(nil, f, 0).Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	want := []DocLink{
		{URL: "https://bank.example/start", Text: "Getting Started"},
		{URL: "https://bank.example/developer/docs/", Text: "Read"},
		{URL: "https://docs.partner.example/", Text: "Partner"},
		{URL: "https://bank.example/", Text: "Documentation"},
	}
	if len(res.DocLinks) != len(want) {
		t.Fatalf("DocLinks = %+v, want %+v", res.DocLinks, want)
	}
	for i := range want {
		if res.DocLinks[i] != want[i] {
			t.Errorf("DocLinks[%d] = %+v, want %+v", i, res.DocLinks[i], want[i])
		}
	}
}

func TestAnalyze_SpecURLs(t *testing.T) {
	url := "https://bank.example/developer"
	body := `<html><body>
		<script>SwaggerUIBundle({url: "/specs/openapi.json"})</script>
		<a href="/swagger-ui/index.html">Explorer</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, body)}}

	res, err := New(nil, f, 0).Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	has := func(u string) bool {
		for _, s := range res.SpecURLs {
			if s == u {
				return true
			}
		}
		return false
	}
	for _, u := range []string{"https://bank.example/specs/openapi.json", "https://bank.example/swagger-ui/index.html"} {
		if !has(u) {
			t.Errorf("SpecURLs = %v, missing %s", res.SpecURLs, u)
		}
	}
}

func TestAnalyze_FetchErrorPassthrough(t *testing.T) {
	url := "https://bank.example/slow"
	f := &fakeFetcher{errs: map[string]error{
		url: errors.NewTimeoutError(url, "request", nil),
	}}

	res, err := New(nil, f, 0).Analyze(context.Background(), url, mustChecker(t, url))
	if err == nil {
		t.Fatal("Analyze() should return the fetch error")
	}
	if res != nil {
		t.Error("analysis should be nil on error")
	}
	if errors.GetErrorType(err) != errors.Timeout {
		t.Errorf("error type = %v, want Timeout", errors.GetErrorType(err))
	}
}

func TestAnalyze_CustomTaxonomy(t *testing.T) {
	tax, err := taxonomy.New([]taxonomy.Category{
		{Name: taxonomy.General, Keywords: []string{"Open Finance"}},
	}, []string{`/apis/`})
	if err != nil {
		t.Fatalf("taxonomy.New() error = %v", err)
	}

	url := "https://bank.example/apis/"
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, `<p>open finance and psd2</p>`)}}

	res, err := New(tax, f, 0).Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(res.Keywords) != 1 || res.Keywords[0] != "general:Open Finance" {
		t.Errorf("Keywords = %v, want [general:Open Finance]", res.Keywords)
	}
	if !approx(res.RelevanceScore, 0.5) {
		t.Errorf("RelevanceScore = %v, want 0.5", res.RelevanceScore)
	}
}

func TestAnalyze_NoKeywordsIsEmptyNotNil(t *testing.T) {
	url := "https://bank.example/about"
	f := &fakeFetcher{pages: map[string]*http.Page{url: htmlPage(url, `<p>We are a bank.</p>`)}}

	res, err := New(nil, f, 0).Analyze(context.Background(), url, mustChecker(t, url))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Keywords == nil || len(res.Keywords) != 0 {
		t.Errorf("Keywords = %#v, want empty slice", res.Keywords)
	}
	if res.IsAPIRelated {
		t.Error("plain page should not be API related")
	}
}
