package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/logger"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
)

func TestNew_Defaults(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if d.logger == nil || d.metrics == nil || d.clock == nil {
		t.Error("New() should fill logger, metrics and clock")
	}
	if d.taxonomy != taxonomy.Default() {
		t.Error("New() should use the built-in taxonomy")
	}
	if d.client == nil || d.fetcher == nil {
		t.Error("New() should build an HTTP fetcher")
	}
	if d.Config().MaxPages != 50 {
		t.Errorf("MaxPages = %d, want 50", d.Config().MaxPages)
	}
}

func TestOptions(t *testing.T) {
	l := logger.NewNop()
	m := metrics.New()
	clock := func() time.Time { return fixedTime }

	d, err := New(
		WithMaxDepth(4),
		WithMaxPages(12),
		WithTimeout(3*time.Second),
		WithUserAgent("TestAgent/1.0"),
		WithHeaders(map[string]string{"X-A": "1"}),
		WithHeaders(map[string]string{"X-B": "2"}),
		WithRateLimit(5, 2),
		WithConcurrency(3),
		WithLogger(l),
		WithMetrics(m),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	c := d.Config()
	if c.MaxDepth != 4 || c.MaxPages != 12 || c.Timeout != 3*time.Second {
		t.Errorf("budget options not applied: %+v", c)
	}
	if c.UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %q", c.UserAgent)
	}
	if c.Headers["X-A"] != "1" || c.Headers["X-B"] != "2" {
		t.Errorf("Headers = %v, want both merged", c.Headers)
	}
	if c.RequestsPerSecond != 5 || c.Burst != 2 {
		t.Errorf("rate = %v/%d", c.RequestsPerSecond, c.Burst)
	}
	if c.Concurrency != 3 {
		t.Errorf("Concurrency = %d", c.Concurrency)
	}
	if d.logger != l || d.Metrics() != m {
		t.Error("logger or metrics not injected")
	}
	if !d.clock().Equal(fixedTime) {
		t.Error("clock not injected")
	}
}

func TestOptions_Clamp(t *testing.T) {
	d, err := New(WithMaxDepth(-3), WithMaxPages(0), WithConcurrency(-1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	c := d.Config()
	if c.MaxDepth != 0 || c.MaxPages != 1 || c.Concurrency != 1 {
		t.Errorf("clamped config = %+v", c)
	}
}

func TestOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil config", WithConfig(nil)},
		{"nil clock", WithClock(nil)},
		{"nil fetcher", WithFetcher(nil)},
		{"nil taxonomy", WithTaxonomy(nil)},
		{"invalid timeout", WithTimeout(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opt); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestWithConfig_Copies(t *testing.T) {
	config := DefaultConfig()
	config.MaxPages = 7

	d, err := New(WithConfig(config), WithFetcher(newSiteFetcher()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	config.MaxPages = 99

	if d.Config().MaxPages != 7 {
		t.Errorf("MaxPages = %d, want 7", d.Config().MaxPages)
	}
	if d.client != nil {
		t.Error("an injected fetcher should replace the HTTP client")
	}
}

func TestTaxonomyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	content := `categories:
  - name: general
    keywords: [open finance]
url_patterns: ['/openfinance']
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config := DefaultConfig()
	config.TaxonomyFile = path

	f := newSiteFetcher()
	f.pages["https://bank.example/openfinance"] = `<p>Open Finance hub with psd2 links</p>`

	d, err := New(WithConfig(config), WithFetcher(f))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	res, err := d.ScanSite(t.Context(), "https://bank.example/openfinance")
	if err != nil {
		t.Fatalf("ScanSite() error = %v", err)
	}
	if len(res.APIRelatedPages) != 1 {
		t.Fatalf("APIRelatedPages = %+v", res.APIRelatedPages)
	}
	kws := res.APIRelatedPages[0].Keywords
	if len(kws) != 1 || kws[0] != "general:open finance" {
		t.Errorf("Keywords = %v, want only the custom keyword", kws)
	}

	config.TaxonomyFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(WithConfig(config), WithFetcher(f)); err == nil {
		t.Error("New() should fail when the taxonomy file is missing")
	}
}

func TestWithTaxonomy(t *testing.T) {
	tax, err := taxonomy.New([]taxonomy.Category{{Name: "general", Keywords: []string{"x"}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(WithTaxonomy(tax), WithFetcher(newSiteFetcher()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.taxonomy != tax {
		t.Error("taxonomy not injected")
	}
}
