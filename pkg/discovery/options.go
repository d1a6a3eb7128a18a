package discovery

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/analyzer"
	"github.com/PentesterFlow/PSD2Scout/internal/logger"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/taxonomy"
)

// Option is a functional option for configuring the Discoverer.
type Option func(*Discoverer) error

// WithConfig replaces the whole configuration. The config is copied.
func WithConfig(config *Config) Option {
	return func(d *Discoverer) error {
		if config == nil {
			return fmt.Errorf("config cannot be nil")
		}
		d.config = config.Clone()
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(d *Discoverer) error {
		if depth < 0 {
			depth = 0
		}
		d.config.MaxDepth = depth
		return nil
	}
}

// WithMaxPages sets the page budget per site.
func WithMaxPages(pages int) Option {
	return func(d *Discoverer) error {
		if pages < 1 {
			pages = 1
		}
		d.config.MaxPages = pages
		return nil
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Discoverer) error {
		d.config.Timeout = timeout
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Discoverer) error {
		d.config.UserAgent = ua
		return nil
	}
}

// WithHeaders adds headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(d *Discoverer) error {
		if d.config.Headers == nil {
			d.config.Headers = make(map[string]string)
		}
		for k, v := range headers {
			d.config.Headers[k] = v
		}
		return nil
	}
}

// WithRateLimit sets the per-host request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Discoverer) error {
		d.config.RequestsPerSecond = rps
		d.config.Burst = burst
		return nil
	}
}

// WithConcurrency sets how many sites are scanned in parallel.
func WithConcurrency(n int) Option {
	return func(d *Discoverer) error {
		if n < 1 {
			n = 1
		}
		d.config.Concurrency = n
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *Discoverer) error {
		d.logger = l
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Discoverer) error {
		d.metrics = m
		return nil
	}
}

// WithClock sets the time source for endpoint and scan timestamps.
func WithClock(clock Clock) Option {
	return func(d *Discoverer) error {
		if clock == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		d.clock = clock
		return nil
	}
}

// WithFetcher replaces the HTTP page fetcher.
func WithFetcher(f analyzer.Fetcher) Option {
	return func(d *Discoverer) error {
		if f == nil {
			return fmt.Errorf("fetcher cannot be nil")
		}
		d.fetcher = f
		return nil
	}
}

// WithTaxonomy replaces the keyword taxonomy.
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(d *Discoverer) error {
		if t == nil {
			return fmt.Errorf("taxonomy cannot be nil")
		}
		d.taxonomy = t
		return nil
	}
}
