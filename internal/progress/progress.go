// Package progress renders a terminal progress bar for discovery runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
)

const barWidth = 30

// Display manages the progress bar shown while sites are scanned.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	// Live counters, optional
	metrics *metrics.Collector

	startTime time.Time
	sites     int
	percent   float64

	lastLine string
}

// New creates a progress display writing to stderr. collector may be nil.
func New(collector *metrics.Collector) *Display {
	return NewWithWriter(os.Stderr, collector)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer, collector *metrics.Collector) *Display {
	return &Display{out: w, metrics: collector}
}

// Start begins the progress display for a run over sites seed URLs.
func (d *Display) Start(sites int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.sites = sites
}

// Update redraws the bar. Its signature matches discovery.ProgressFunc.
func (d *Display) Update(message string, percent float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	d.percent = percent

	filled := int(percent / 100 * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3.0f%% | %s | %s", bar, percent, truncateURL(message, 60), formatDuration(time.Since(d.startTime)))
	if d.metrics != nil {
		snap := d.metrics.Snapshot()
		line += fmt.Sprintf(" | Pages: %d | APIs: %d | Errors: %d", snap.PagesCrawled, snap.EndpointsFound, snap.ErrorsTotal)
	}

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true

	// Print newline to move past progress bar
	fmt.Fprintln(d.out)
}

// PrintSummary prints the run totals after discovery.
func (d *Display) PrintSummary() {
	d.mu.Lock()
	defer d.mu.Unlock()

	duration := time.Since(d.startTime)

	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(d.out, "║                      Discovery Complete                      ║")
	fmt.Fprintln(d.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Sites:               %d\n", d.sites)
	fmt.Fprintf(d.out, "  Duration:            %s\n", formatDuration(duration))

	if d.metrics != nil {
		snap := d.metrics.Snapshot()
		fmt.Fprintf(d.out, "  Sites Failed:        %d\n", snap.SitesFailed)
		fmt.Fprintf(d.out, "  Pages Crawled:       %d\n", snap.PagesCrawled)
		fmt.Fprintf(d.out, "  API Pages:           %d\n", snap.APIPages)
		fmt.Fprintf(d.out, "  APIs:                %d\n", snap.EndpointsFound)
		fmt.Fprintf(d.out, "  Duplicates Dropped:  %d\n", snap.DuplicatesDropped)
		fmt.Fprintf(d.out, "  Fetch Errors:        %d\n", snap.ErrorsTotal)
		if duration.Seconds() > 0 {
			fmt.Fprintf(d.out, "  Average Speed:       %.1f pages/sec\n", float64(snap.PagesCrawled)/duration.Seconds())
		}
	}
	fmt.Fprintln(d.out)
}

// Percent returns the last reported percentage.
func (d *Display) Percent() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.percent
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
