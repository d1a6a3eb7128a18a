package store

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

// FileStore implements Archive as a JSON array of runs in one file,
// optionally gzip-compressed (written to path + ".gz").
type FileStore struct {
	mu         sync.Mutex
	path       string
	compressed bool
	now        func() time.Time
}

// NewFileStore creates a new file-based archive.
func NewFileStore(path string, compressed bool) *FileStore {
	return &FileStore{
		path:       path,
		compressed: compressed,
		now:        time.Now,
	}
}

// Save appends result to the file.
func (s *FileStore) Save(result *discovery.DiscoveryResult) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return 0, err
	}

	id := uint64(1)
	if n := len(runs); n > 0 {
		id = runs[n-1].ID + 1
	}
	runs = append(runs, Run{ID: id, SavedAt: s.now(), Result: result})

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal runs: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	if s.compressed {
		err = s.saveCompressed(data)
	} else {
		err = os.WriteFile(s.path, data, 0644)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// saveCompressed writes data with gzip compression.
func (s *FileStore) saveCompressed(data []byte) error {
	file, err := os.Create(s.path + ".gz")
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}

// List returns summaries of all runs in save order.
func (s *FileStore) List() ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return nil, err
	}
	summaries := make([]RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, runs[i].Summary())
	}
	return summaries, nil
}

// Get returns a run by ID.
func (s *FileStore) Get(id uint64) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], nil
		}
	}
	return nil, ErrNotFound
}

// load reads all runs. A missing file is an empty archive.
func (s *FileStore) load() ([]Run, error) {
	var data []byte
	var err error

	if s.compressed {
		data, err = s.loadCompressed()
	} else {
		data, err = os.ReadFile(s.path)
	}

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runs: %w", err)
	}
	return runs, nil
}

// loadCompressed reads the gzip-compressed file.
func (s *FileStore) loadCompressed() ([]byte, error) {
	file, err := os.Open(s.path + ".gz")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Archive in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs []Run
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Save stores result in memory.
func (s *MemoryStore) Save(result *discovery.DiscoveryResult) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint64(len(s.runs) + 1)
	s.runs = append(s.runs, Run{ID: id, SavedAt: s.now(), Result: result})
	return id, nil
}

// List returns summaries of all runs in save order.
func (s *MemoryStore) List() ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]RunSummary, 0, len(s.runs))
	for i := range s.runs {
		summaries = append(summaries, s.runs[i].Summary())
	}
	return summaries, nil
}

// Get returns a stored run.
func (s *MemoryStore) Get(id uint64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == 0 || id > uint64(len(s.runs)) {
		return nil, ErrNotFound
	}
	run := s.runs[id-1]
	return &run, nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
