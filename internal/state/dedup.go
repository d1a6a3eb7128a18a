// Package state tracks which keys (visited URLs, endpoint identities) a scan
// has already seen.
package state

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator is a set of strings backed by a Bloom filter, with an exact
// set behind it so false positives never drop a new key.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

// NewDeduplicator creates a deduplicator sized for estimatedItems keys.
func NewDeduplicator(estimatedItems int) *Deduplicator {
	if estimatedItems < 100 {
		estimatedItems = 100
	}

	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add records key and reports whether it was new.
func (d *Deduplicator) Add(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(key) {
		if _, exists := d.exact[key]; exists {
			return false
		}
	}
	d.filter.AddString(key)
	d.exact[key] = struct{}{}
	return true
}

// HasSeen checks if key has been added.
func (d *Deduplicator) HasSeen(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.filter.TestString(key) {
		return false
	}
	_, exists := d.exact[key]
	return exists
}
