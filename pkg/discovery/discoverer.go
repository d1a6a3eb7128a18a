// Package discovery crawls bank websites and catalogs candidate PSD2 APIs
// (account information, payment initiation, confirmation of funds).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/analyzer"
	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/http"
	"github.com/PentesterFlow/PSD2Scout/internal/logger"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/ratelimit"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
	"golang.org/x/sync/errgroup"
)

// Discoverer runs site scans over batches of seed URLs.
type Discoverer struct {
	config   *Config
	logger   *logger.Logger
	metrics  *metrics.Collector
	clock    Clock
	taxonomy *taxonomy.Taxonomy
	fetcher  analyzer.Fetcher
	analyzer *analyzer.Analyzer

	// client is set only when the discoverer built its own fetcher.
	client *http.Client
}

// New creates a Discoverer with the given options.
func New(opts ...Option) (*Discoverer, error) {
	d := &Discoverer{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := d.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if d.logger == nil {
		d.logger = logger.NewNop()
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.clock == nil {
		d.clock = time.Now
	}

	if d.taxonomy == nil {
		if d.config.TaxonomyFile != "" {
			t, err := taxonomy.Load(d.config.TaxonomyFile)
			if err != nil {
				return nil, err
			}
			d.taxonomy = t
		} else {
			d.taxonomy = taxonomy.Default()
		}
	}

	if d.fetcher == nil {
		clientConfig := http.DefaultClientConfig()
		clientConfig.Timeout = d.config.Timeout
		clientConfig.UserAgent = d.config.UserAgent
		clientConfig.Headers = d.config.Headers
		clientConfig.MaxBodyBytes = d.config.MaxBodyBytes

		limiter := ratelimit.NewLimiter(d.config.RequestsPerSecond, d.config.Burst)
		d.client = http.NewClient(clientConfig, limiter, d.metrics)
		d.fetcher = d.client
	}

	d.analyzer = analyzer.New(d.taxonomy, d.fetcher, d.config.TextLimit)

	return d, nil
}

// Config returns a copy of the active configuration.
func (d *Discoverer) Config() *Config {
	return d.config.Clone()
}

// Metrics returns the metrics collector.
func (d *Discoverer) Metrics() *metrics.Collector {
	return d.metrics
}

// Close releases the HTTP connections of the built-in fetcher.
func (d *Discoverer) Close() {
	if d.client != nil {
		d.client.Close()
	}
}

// Discover scans every URL and aggregates the results. There is one
// SiteScanResult per URL, in input order; a failing site becomes an error
// result and does not stop the others. progress may be nil.
func (d *Discoverer) Discover(ctx context.Context, urls []string, progress ProgressFunc) *DiscoveryResult {
	results := make([]SiteScanResult, len(urls))

	var mu sync.Mutex
	started := 0
	report := func(u string) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		started++
		progress(fmt.Sprintf("Scanning %s...", u), float64(started)/float64(len(urls))*100)
	}

	if d.config.Concurrency <= 1 {
		for i, u := range urls {
			report(u)
			results[i] = d.scanIsolated(ctx, u)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.config.Concurrency)
		for i, u := range urls {
			i, u := i, u
			g.Go(func() error {
				report(u)
				results[i] = d.scanIsolated(ctx, u)
				return nil
			})
		}
		g.Wait()
	}

	apis := make([]APIEndpoint, 0)
	for _, r := range results {
		apis = append(apis, r.APIs...)
	}

	return &DiscoveryResult{
		TotalAPIsFound: len(apis),
		APIs:           apis,
		ScanResults:    results,
		ScanTimestamp:  d.clock(),
	}
}

// scanIsolated runs one site scan and turns any failure into data.
func (d *Discoverer) scanIsolated(ctx context.Context, seed string) (result SiteScanResult) {
	log := d.logger.WithSite(seed)

	defer func() {
		if r := recover(); r != nil {
			err := errors.NewSiteError(seed, fmt.Errorf("panic: %v", r))
			log.WithError(err).Error("Site scan panicked")
			d.metrics.RecordSite(true)
			result = errorResult(seed, err)
		}
	}()

	log.Info("Scanning site")
	res, err := d.ScanSite(ctx, seed)
	if err != nil {
		log.WithError(err).Error("Error scanning site")
		d.metrics.RecordSite(true)
		return errorResult(seed, err)
	}

	log.WithField("pages_scanned", res.PagesScanned).
		WithField("apis", len(res.APIs)).
		Info("Site scan complete")
	d.metrics.RecordSite(false)
	return *res
}

func errorResult(seed string, err error) SiteScanResult {
	return SiteScanResult{
		URL:             seed,
		Status:          StatusError,
		APIRelatedPages: []APIRelatedPage{},
		APIs:            []APIEndpoint{},
		Error:           err.Error(),
	}
}
