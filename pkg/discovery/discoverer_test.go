package discovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/http"
)

// siteFetcher serves canned pages and records every fetch.
type siteFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{
		pages:  make(map[string]string),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (f *siteFetcher) Fetch(ctx context.Context, url string) (*http.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	err := f.errs[url]
	panics := f.panics[url]
	f.mu.Unlock()

	if panics {
		panic("parser exploded on " + url)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewStatusError(errors.NotFound, url, 404, "page not found")
	}
	return &http.Page{URL: url, FinalURL: url, StatusCode: 200, Body: body}, nil
}

func (f *siteFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *siteFetcher) count(url string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == url {
			n++
		}
	}
	return n
}

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDiscoverer(t *testing.T, f *siteFetcher, opts ...Option) *Discoverer {
	t.Helper()
	opts = append([]Option{
		WithFetcher(f),
		WithClock(func() time.Time { return fixedTime }),
	}, opts...)
	d, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func links(hrefs ...string) string {
	var b strings.Builder
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	return b.String()
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// =============================================================================
// Site Scanner Scenario Tests
// =============================================================================

func TestScanSite_PSD2PageOnAPIDocsPath(t *testing.T) {
	seed := "https://bank.example/api-docs"
	f := newSiteFetcher()
	f.pages[seed] = `<html><body><p>psd2</p></body></html>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	if len(res.APIRelatedPages) != 1 {
		t.Fatalf("APIRelatedPages = %+v, want 1", res.APIRelatedPages)
	}
	if !approxEqual(res.APIRelatedPages[0].RelevanceScore, 0.5) {
		t.Errorf("RelevanceScore = %v, want 0.5", res.APIRelatedPages[0].RelevanceScore)
	}
	if len(res.APIs) != 1 {
		t.Fatalf("APIs = %+v, want 1", res.APIs)
	}

	api := res.APIs[0]
	if api.APIType != TypePSD2 {
		t.Errorf("APIType = %v, want PSD2", api.APIType)
	}
	if api.Name != "bank.example - PSD2" {
		t.Errorf("Name = %q", api.Name)
	}
	if api.URL != "https://bank.example" {
		t.Errorf("URL = %q, want base URL", api.URL)
	}
	if api.SourcePage != seed {
		t.Errorf("SourcePage = %q, want %q", api.SourcePage, seed)
	}
	if !api.DiscoveredAt.Equal(fixedTime) {
		t.Errorf("DiscoveredAt = %v, want %v", api.DiscoveredAt, fixedTime)
	}
}

func TestScanSite_MultipleTypesFromOnePage(t *testing.T) {
	seed := "https://bank.example/developer"
	f := newSiteFetcher()
	f.pages[seed] = `<html><body><p>Use our account information and payment initiation endpoints to build PSD2 apps.</p></body></html>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}
	if len(res.APIs) != 2 {
		t.Fatalf("APIs = %+v, want 2", res.APIs)
	}

	if res.APIs[0].APIType != TypeAIS || res.APIs[1].APIType != TypePIS {
		t.Errorf("types = %v, %v, want AIS, PIS", res.APIs[0].APIType, res.APIs[1].APIType)
	}
	if res.APIs[0].URL != res.APIs[1].URL {
		t.Error("endpoints should share the base URL")
	}
	if res.APIs[0].Description != res.APIs[1].Description {
		t.Error("endpoints should share the description")
	}
	if res.APIs[0].SourcePage != seed || res.APIs[1].SourcePage != seed {
		t.Error("endpoints should share the source page")
	}
}

func TestScanSite_APIRelatedLinksFirst(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	f.pages[seed] = links("/about", "/sandbox")
	f.pages["https://bank.example/about"] = `<p>about us</p>`
	f.pages["https://bank.example/sandbox"] = `<p>sandbox</p>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	want := []string{seed, "https://bank.example/sandbox", "https://bank.example/about"}
	calls := f.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
	if res.PagesScanned != 3 {
		t.Errorf("PagesScanned = %d, want 3", res.PagesScanned)
	}
}

func TestScanSite_PageTimeoutIsLocal(t *testing.T) {
	seed := "https://bank.example/"
	one := "https://bank.example/one"
	two := "https://bank.example/two"

	f := newSiteFetcher()
	f.pages[seed] = links("/one", "/two")
	f.errs[one] = errors.NewTimeoutError(one, "request", context.DeadlineExceeded)
	f.pages[two] = `<p>PSD2 open banking developer portal</p>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", res.Status)
	}
	if res.PagesScanned != 3 {
		t.Errorf("PagesScanned = %d, want 3 (failed page counts)", res.PagesScanned)
	}
	if f.count(two) != 1 {
		t.Errorf("page after the timeout was fetched %d times, want 1", f.count(two))
	}
	for _, p := range res.APIRelatedPages {
		if p.URL == one {
			t.Error("timed out page should not be API related")
		}
	}
	if len(res.APIs) != 1 || res.APIs[0].SourcePage != two {
		t.Errorf("APIs = %+v, want one endpoint from %s", res.APIs, two)
	}
}

func TestScanSite_DuplicateEndpointsAcrossPages(t *testing.T) {
	seed := "https://bank.example/"
	first := "https://bank.example/api/accounts"
	second := "https://bank.example/api/balances"

	f := newSiteFetcher()
	f.pages[seed] = links("/api/accounts", "/api/balances")
	f.pages[first] = `<p>Account information service for TPPs.</p>`
	f.pages[second] = `<p>Read account balance via the AISP interface.</p>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	ais := 0
	for _, api := range res.APIs {
		if api.APIType == TypeAIS {
			ais++
			if api.SourcePage != first {
				t.Errorf("kept AIS endpoint from %q, want first-discovered %q", api.SourcePage, first)
			}
		}
	}
	if ais != 1 {
		t.Errorf("AIS endpoints = %d, want 1", ais)
	}
}

// =============================================================================
// Site Scanner Budget Tests
// =============================================================================

func TestScanSite_PageBudget(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	var hrefs []string
	for i := 0; i < 30; i++ {
		hrefs = append(hrefs, fmt.Sprintf("/p%d", i))
		f.pages[fmt.Sprintf("https://bank.example/p%d", i)] = `<p>page</p>`
	}
	f.pages[seed] = links(hrefs...)

	for _, max := range []int{1, 5, 10} {
		t.Run(fmt.Sprintf("max_%d", max), func(t *testing.T) {
			res, err := newTestDiscoverer(t, f, WithMaxPages(max)).ScanSite(context.Background(), seed)
			if err != nil {
				t.Fatalf("ScanSite() error = %v", err)
			}
			if res.PagesScanned != max {
				t.Errorf("PagesScanned = %d, want %d", res.PagesScanned, max)
			}
		})
	}
}

func TestScanSite_NoPageAnalyzedTwice(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	f.pages[seed] = links("/a", "/b", "/a#top")
	f.pages["https://bank.example/a"] = links("/", "/b")
	f.pages["https://bank.example/b"] = links("/", "/a")

	res, err := newTestDiscoverer(t, f, WithMaxDepth(5)).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	calls := f.Calls()
	seen := make(map[string]bool)
	for _, c := range calls {
		if seen[c] {
			t.Errorf("%s fetched twice", c)
		}
		seen[c] = true
	}
	if res.PagesScanned != len(calls) {
		t.Errorf("PagesScanned = %d, fetches = %d", res.PagesScanned, len(calls))
	}
	if res.PagesScanned != 3 {
		t.Errorf("PagesScanned = %d, want 3", res.PagesScanned)
	}
}

func TestScanSite_SeedRedirectsToOtherHost(t *testing.T) {
	target := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<p>psd2</p><a href="/developer">Developers</a><a href="/about">About</a>`)
		default:
			fmt.Fprint(w, `<p>bank</p>`)
		}
	}))
	defer target.Close()

	seedHost := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.Redirect(w, r, target.URL+r.URL.Path, nethttp.StatusMovedPermanently)
	}))
	defer seedHost.Close()

	d, err := New(WithClock(func() time.Time { return fixedTime }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	res, err := d.ScanSite(context.Background(), seedHost.URL+"/")
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}
	if res.PagesScanned != 3 {
		t.Errorf("PagesScanned = %d, want 3", res.PagesScanned)
	}
	if len(res.APIRelatedPages) != 1 {
		t.Errorf("APIRelatedPages = %+v, want 1", res.APIRelatedPages)
	}
}

func TestScanSite_HostCaseVariantsFetchedOnce(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	f.pages[seed] = links("https://BANK.example/about", "https://bank.example/about", "https://Bank.Example/")
	f.pages["https://bank.example/about"] = `<p>about</p>`

	res, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed)
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	want := []string{"https://bank.example/", "https://bank.example/about"}
	calls := f.Calls()
	if len(calls) != len(want) {
		t.Fatalf("fetches = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("fetch %d = %q, want %q", i, calls[i], want[i])
		}
	}
	if res.PagesScanned != 2 {
		t.Errorf("PagesScanned = %d, want 2", res.PagesScanned)
	}
}

func TestScanSite_DepthBound(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	f.pages[seed] = links("/l1")
	f.pages["https://bank.example/l1"] = links("/l2")
	f.pages["https://bank.example/l2"] = links("/l3")
	f.pages["https://bank.example/l3"] = `<p>deep</p>`

	tests := []struct {
		maxDepth int
		want     int
	}{
		{0, 1},
		{1, 2},
		{2, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("depth_%d", tt.maxDepth), func(t *testing.T) {
			res, err := newTestDiscoverer(t, f, WithMaxDepth(tt.maxDepth)).ScanSite(context.Background(), seed)
			if err != nil {
				t.Fatalf("ScanSite() error = %v", err)
			}
			if res.PagesScanned != tt.want {
				t.Errorf("PagesScanned = %d, want %d", res.PagesScanned, tt.want)
			}
		})
	}
}

func TestScanSite_ExternalLinksIgnored(t *testing.T) {
	seed := "https://bank.example/"
	f := newSiteFetcher()
	f.pages[seed] = links("https://other.example/psd2", "/docs")
	f.pages["https://bank.example/docs"] = `<p>docs</p>`

	if _, err := newTestDiscoverer(t, f).ScanSite(context.Background(), seed); err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}
	if f.count("https://other.example/psd2") != 0 {
		t.Error("external link should not be fetched")
	}
}

func TestScanSite_InvalidSeed(t *testing.T) {
	f := newSiteFetcher()
	_, err := newTestDiscoverer(t, f).ScanSite(context.Background(), "not-a-url")
	if err == nil {
		t.Fatal("ScanSite() should fail for a seed without host")
	}
	var siteErr *errors.SiteError
	if !stderrors.As(err, &siteErr) {
		t.Errorf("error should be a SiteError: %v", err)
	}
	if len(f.Calls()) != 0 {
		t.Error("nothing should be fetched for an invalid seed")
	}
}

func TestScanSite_Cancelled(t *testing.T) {
	f := newSiteFetcher()
	f.pages["https://bank.example/"] = `<p>psd2</p>`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDiscoverer(t, f).ScanSite(ctx, "https://bank.example/")
	var siteErr *errors.SiteError
	if !stderrors.As(err, &siteErr) {
		t.Fatalf("error = %v, want SiteError", err)
	}
	if errors.GetErrorType(err) != errors.Cancelled {
		t.Errorf("error type = %v, want Cancelled", errors.GetErrorType(err))
	}
}

func TestScanSite_RecordsMetrics(t *testing.T) {
	seed := "https://bank.example/api"
	f := newSiteFetcher()
	f.pages[seed] = `<p>psd2 account information</p>` + links("/api")

	d := newTestDiscoverer(t, f)
	if _, err := d.ScanSite(context.Background(), seed); err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}

	snap := d.Metrics().Snapshot()
	if snap.PagesCrawled != 1 {
		t.Errorf("PagesCrawled = %d, want 1", snap.PagesCrawled)
	}
	if snap.APIPages != 1 {
		t.Errorf("APIPages = %d, want 1", snap.APIPages)
	}
	if snap.EndpointsFound != 1 {
		t.Errorf("EndpointsFound = %d, want 1", snap.EndpointsFound)
	}
}

// =============================================================================
// Discover Tests
// =============================================================================

func TestDiscover_OneResultPerURLInOrder(t *testing.T) {
	f := newSiteFetcher()
	f.pages["https://a.example/"] = `<p>psd2 payment initiation</p>`
	f.pages["https://c.example/"] = `<p>open banking account information</p>`

	urls := []string{"https://a.example/", "not-a-url", "https://b.example/", "https://c.example/"}
	res := newTestDiscoverer(t, f).Discover(context.Background(), urls, nil)

	if len(res.ScanResults) != len(urls) {
		t.Fatalf("len(ScanResults) = %d, want %d", len(res.ScanResults), len(urls))
	}
	for i, u := range urls {
		if res.ScanResults[i].URL != u {
			t.Errorf("ScanResults[%d].URL = %q, want %q", i, res.ScanResults[i].URL, u)
		}
	}

	bad := res.ScanResults[1]
	if bad.Status != StatusError || bad.Error == "" || len(bad.APIs) != 0 {
		t.Errorf("invalid seed result = %+v, want error with no apis", bad)
	}

	// A site whose seed page fails is still a successful scan.
	if res.ScanResults[2].Status != StatusSuccess || res.ScanResults[2].PagesScanned != 1 {
		t.Errorf("unreachable seed result = %+v", res.ScanResults[2])
	}

	if res.TotalAPIsFound != len(res.APIs) || res.TotalAPIsFound != 2 {
		t.Errorf("TotalAPIsFound = %d, len(APIs) = %d, want 2", res.TotalAPIsFound, len(res.APIs))
	}
	if res.APIs[0].APIType != TypePIS || res.APIs[1].APIType != TypeAIS {
		t.Errorf("APIs not in site order: %v, %v", res.APIs[0].APIType, res.APIs[1].APIType)
	}
	if !res.ScanTimestamp.Equal(fixedTime) {
		t.Errorf("ScanTimestamp = %v, want %v", res.ScanTimestamp, fixedTime)
	}
}

func TestDiscover_Progress(t *testing.T) {
	f := newSiteFetcher()
	urls := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"}

	var messages []string
	var percents []float64
	newTestDiscoverer(t, f).Discover(context.Background(), urls, func(msg string, pct float64) {
		messages = append(messages, msg)
		percents = append(percents, pct)
	})

	if len(messages) != len(urls) {
		t.Fatalf("progress called %d times, want %d", len(messages), len(urls))
	}
	for i, u := range urls {
		if want := "Scanning " + u + "..."; messages[i] != want {
			t.Errorf("message[%d] = %q, want %q", i, messages[i], want)
		}
		if want := float64(i+1) / float64(len(urls)) * 100; !approxEqual(percents[i], want) {
			t.Errorf("percent[%d] = %v, want %v", i, percents[i], want)
		}
	}
}

func TestDiscover_Empty(t *testing.T) {
	res := newTestDiscoverer(t, newSiteFetcher()).Discover(context.Background(), nil, nil)
	if res.TotalAPIsFound != 0 || len(res.ScanResults) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if res.APIs == nil {
		t.Error("APIs should be an empty slice, not nil")
	}
}

func TestDiscover_PanicIsolated(t *testing.T) {
	f := newSiteFetcher()
	f.panics["https://a.example/"] = true
	f.pages["https://b.example/"] = `<p>psd2</p>`

	res := newTestDiscoverer(t, f).Discover(context.Background(), []string{"https://a.example/", "https://b.example/"}, nil)

	if res.ScanResults[0].Status != StatusError {
		t.Errorf("panicking site status = %q, want error", res.ScanResults[0].Status)
	}
	if !strings.Contains(res.ScanResults[0].Error, "panic") {
		t.Errorf("Error = %q, want panic description", res.ScanResults[0].Error)
	}
	if res.ScanResults[1].Status != StatusSuccess || len(res.ScanResults[1].APIs) != 1 {
		t.Errorf("second site = %+v, want success with one api", res.ScanResults[1])
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	f := newSiteFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestDiscoverer(t, f).Discover(ctx, []string{"https://a.example/", "https://b.example/"}, nil)
	for i, r := range res.ScanResults {
		if r.Status != StatusError {
			t.Errorf("ScanResults[%d].Status = %q, want error", i, r.Status)
		}
	}
	if len(f.Calls()) != 0 {
		t.Errorf("fetches after cancellation: %v", f.Calls())
	}
}

func TestDiscover_ConcurrentMatchesSequential(t *testing.T) {
	f := newSiteFetcher()
	var urls []string
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://bank%d.example/", i)
		urls = append(urls, u)
		switch i % 3 {
		case 0:
			f.pages[u] = `<p>psd2 account information</p>`
		case 1:
			f.pages[u] = `<p>payment initiation and confirmation of funds</p>`
		}
	}

	seq := newTestDiscoverer(t, f).Discover(context.Background(), urls, nil)

	var mu sync.Mutex
	calls := 0
	par := newTestDiscoverer(t, f, WithConcurrency(4)).Discover(context.Background(), urls, func(string, float64) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	if calls != len(urls) {
		t.Errorf("progress calls = %d, want %d", calls, len(urls))
	}
	if len(par.APIs) != len(seq.APIs) {
		t.Fatalf("parallel found %d apis, sequential %d", len(par.APIs), len(seq.APIs))
	}
	for i := range seq.APIs {
		if par.APIs[i].Name != seq.APIs[i].Name {
			t.Errorf("APIs[%d] = %q, want %q", i, par.APIs[i].Name, seq.APIs[i].Name)
		}
	}
	for i := range urls {
		if par.ScanResults[i].URL != urls[i] {
			t.Errorf("ScanResults[%d].URL = %q, want %q", i, par.ScanResults[i].URL, urls[i])
		}
	}
}

func TestDiscover_RecordsSiteMetrics(t *testing.T) {
	d := newTestDiscoverer(t, newSiteFetcher())
	d.Discover(context.Background(), []string{"https://a.example/", "bad"}, nil)

	snap := d.Metrics().Snapshot()
	if snap.SitesScanned != 2 || snap.SitesFailed != 1 {
		t.Errorf("SitesScanned = %d, SitesFailed = %d, want 2 and 1", snap.SitesScanned, snap.SitesFailed)
	}
}

func TestDiscoveryResult_CountByType(t *testing.T) {
	r := &DiscoveryResult{APIs: []APIEndpoint{
		{APIType: TypeAIS}, {APIType: TypeAIS}, {APIType: TypePIS},
	}}
	counts := r.CountByType()
	if counts[TypeAIS] != 2 || counts[TypePIS] != 1 || counts[TypeCAF] != 0 {
		t.Errorf("CountByType() = %v", counts)
	}
}
