// Package metrics counts what a discovery run did: requests, failures,
// pages and endpoints.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics. Safe for concurrent use.
type Collector struct {
	// Counters
	requestsTotal   atomic.Int64
	errorsTotal     atomic.Int64
	bytesTotal      atomic.Int64
	sitesScanned    atomic.Int64
	sitesFailed     atomic.Int64
	pagesCrawled    atomic.Int64
	apiPages        atomic.Int64
	endpointsFound  atomic.Int64
	duplicatesFound atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Histogram buckets in ms: <10, <50, <100, <250, <500, <1000, <2500, <5000, <10000, >=10000
	responseTimeBuckets [10]atomic.Int64

	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime atomic.Int64
}

// New creates a new metrics collector.
func New() *Collector {
	c := &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
	}
	c.startTime.Store(time.Now().UnixNano())
	return c
}

// RecordRequest records an outgoing page request.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
}

// RecordError records a failed page fetch by error type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[errorType] == nil {
		c.errorCounts[errorType] = &atomic.Int64{}
	}
	c.errorCounts[errorType].Add(1)
	c.errorMu.Unlock()
}

// RecordResponseTime records a response time.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)
	c.responseTimeBuckets[bucketFor(ms)].Add(1)
}

// bucketFor returns the histogram bucket for a response time.
func bucketFor(ms int64) int {
	switch {
	case ms < 10:
		return 0
	case ms < 50:
		return 1
	case ms < 100:
		return 2
	case ms < 250:
		return 3
	case ms < 500:
		return 4
	case ms < 1000:
		return 5
	case ms < 2500:
		return 6
	case ms < 5000:
		return 7
	case ms < 10000:
		return 8
	default:
		return 9
	}
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordBytes records body bytes read.
func (c *Collector) RecordBytes(n int64) {
	c.bytesTotal.Add(n)
}

// RecordSite records a finished site scan.
func (c *Collector) RecordSite(failed bool) {
	c.sitesScanned.Add(1)
	if failed {
		c.sitesFailed.Add(1)
	}
}

// RecordPageCrawled increments pages counted against the page budget.
func (c *Collector) RecordPageCrawled() {
	c.pagesCrawled.Add(1)
}

// RecordAPIPage increments pages judged API-related.
func (c *Collector) RecordAPIPage() {
	c.apiPages.Add(1)
}

// RecordEndpoints adds kept endpoints and dropped duplicates.
func (c *Collector) RecordEndpoints(kept, duplicates int) {
	c.endpointsFound.Add(int64(kept))
	c.duplicatesFound.Add(int64(duplicates))
}

// GetAverageResponseTime returns the average response time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(time.Unix(0, c.startTime.Load())),
		RequestsTotal:       c.requestsTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		SitesScanned:        c.sitesScanned.Load(),
		SitesFailed:         c.sitesFailed.Load(),
		PagesCrawled:        c.pagesCrawled.Load(),
		APIPages:            c.apiPages.Load(),
		EndpointsFound:      c.endpointsFound.Load(),
		DuplicatesDropped:   c.duplicatesFound.Load(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
		ResponseTimeHist:    make([]int64, len(c.responseTimeBuckets)),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := range c.responseTimeBuckets {
		s.ResponseTimeHist[i] = c.responseTimeBuckets[i].Load()
	}

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.requestsTotal.Store(0)
	c.errorsTotal.Store(0)
	c.bytesTotal.Store(0)
	c.sitesScanned.Store(0)
	c.sitesFailed.Store(0)
	c.pagesCrawled.Store(0)
	c.apiPages.Store(0)
	c.endpointsFound.Store(0)
	c.duplicatesFound.Store(0)
	c.responseTimesSum.Store(0)
	c.responseTimesNum.Store(0)

	for i := range c.responseTimeBuckets {
		c.responseTimeBuckets[i].Store(0)
	}

	c.errorMu.Lock()
	c.errorCounts = make(map[string]*atomic.Int64)
	c.errorMu.Unlock()

	c.statusMu.Lock()
	c.statusCodes = make(map[int]*atomic.Int64)
	c.statusMu.Unlock()

	c.startTime.Store(time.Now().UnixNano())
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	BytesTotal          int64            `json:"bytes_total"`
	SitesScanned        int64            `json:"sites_scanned"`
	SitesFailed         int64            `json:"sites_failed"`
	PagesCrawled        int64            `json:"pages_crawled"`
	APIPages            int64            `json:"api_pages"`
	EndpointsFound      int64            `json:"endpoints_found"`
	DuplicatesDropped   int64            `json:"duplicates_dropped"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns a flat map for logging and display.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"sites_scanned":        s.SitesScanned,
		"sites_failed":         s.SitesFailed,
		"pages_crawled":        s.PagesCrawled,
		"api_pages":            s.APIPages,
		"endpoints_found":      s.EndpointsFound,
		"duplicates_dropped":   s.DuplicatesDropped,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
