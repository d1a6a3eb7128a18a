package output

import (
	"fmt"
	"io"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

var summaryTypes = []discovery.APIType{
	discovery.TypeAIS, discovery.TypePIS, discovery.TypeCAF,
	discovery.TypePSD2, discovery.TypeUnknown,
}

// WriteSummary prints a human-readable overview of a discovery run.
func WriteSummary(w io.Writer, result *discovery.DiscoveryResult) error {
	p := &errWriter{w: w}

	p.printf("\n=== Discovery Summary ===\n")
	p.printf("Scanned at:   %s\n", formatTime(result.ScanTimestamp))
	p.printf("Sites:        %d\n", len(result.ScanResults))
	p.printf("APIs found:   %d\n", result.TotalAPIsFound)

	counts := result.CountByType()
	for _, t := range summaryTypes {
		if counts[t] > 0 {
			p.printf("  %-8s %d\n", t, counts[t])
		}
	}

	p.printf("\n")
	for _, r := range result.ScanResults {
		if r.Failed() {
			p.printf("  [error]   %s: %s\n", r.URL, r.Error)
			continue
		}
		p.printf("  [success] %s: %d pages, %d API pages, %d APIs\n",
			r.URL, r.PagesScanned, len(r.APIRelatedPages), len(r.APIs))
	}

	return p.err
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
