package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
	bolt "go.etcd.io/bbolt"
)

var bucketRuns = []byte("runs")

// BoltStore implements Archive using BoltDB. Keys are big-endian run IDs,
// so iteration order is save order.
type BoltStore struct {
	db   *bolt.DB
	path string
	now  func() time.Time
}

// NewBoltStore opens or creates a BoltDB archive.
func NewBoltStore(path string) (*BoltStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create bucket
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Save stores a discovery result.
func (s *BoltStore) Save(result *discovery.DiscoveryResult) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		data, err := json.Marshal(&Run{ID: id, SavedAt: s.now(), Result: result})
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		return b.Put(idKey(id), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// List returns summaries of all runs in save order.
func (s *BoltStore) List() ([]RunSummary, error) {
	summaries := make([]RunSummary, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to unmarshal run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			summaries = append(summaries, run.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// Get loads a run by ID.
func (s *BoltStore) Get(id uint64) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}

		run = &Run{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
