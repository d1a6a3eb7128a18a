// Package store archives finished discovery runs. Archived runs are for
// reporting only; scans never read them back.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Archive stores discovery runs.
type Archive interface {
	// Save stores result and returns the assigned run ID
	Save(result *discovery.DiscoveryResult) (uint64, error)

	// List returns summaries of all runs, oldest first
	List() ([]RunSummary, error)

	// Get returns a stored run
	Get(id uint64) (*Run, error)

	// Close releases the archive
	Close() error
}

// Run is an archived discovery result.
type Run struct {
	ID      uint64                     `json:"id"`
	SavedAt time.Time                  `json:"saved_at"`
	Result  *discovery.DiscoveryResult `json:"result"`
}

// RunSummary describes a run without its endpoints.
type RunSummary struct {
	ID            uint64    `json:"id"`
	SavedAt       time.Time `json:"saved_at"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	Sites         int       `json:"sites"`
	FailedSites   int       `json:"failed_sites"`
	TotalAPIs     int       `json:"total_apis"`
}

// Summary summarizes the run.
func (r *Run) Summary() RunSummary {
	s := RunSummary{ID: r.ID, SavedAt: r.SavedAt}
	if r.Result == nil {
		return s
	}
	s.ScanTimestamp = r.Result.ScanTimestamp
	s.Sites = len(r.Result.ScanResults)
	s.TotalAPIs = r.Result.TotalAPIsFound
	for _, site := range r.Result.ScanResults {
		if site.Failed() {
			s.FailedSites++
		}
	}
	return s
}

// Open opens the archive at path: a JSON file store for .json and
// .json.gz paths, a BoltDB database otherwise.
func Open(path string) (Archive, error) {
	switch {
	case strings.HasSuffix(path, ".json.gz"):
		return NewFileStore(strings.TrimSuffix(path, ".gz"), true), nil
	case strings.HasSuffix(path, ".json"):
		return NewFileStore(path, false), nil
	default:
		return NewBoltStore(path)
	}
}
