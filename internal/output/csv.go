package output

import (
	"encoding/csv"
	"io"
	"sync"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

// CSVWriter writes endpoints as CSV with a header row.
type CSVWriter struct {
	mu     sync.Mutex
	writer io.Writer
	csv    *csv.Writer
	closed bool
}

// NewCSVWriter creates a new CSV writer.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{writer: w, csv: csv.NewWriter(w)}
}

// WriteAPIs writes the header and one row per endpoint. An empty
// inventory returns ErrNoAPIs.
func (c *CSVWriter) WriteAPIs(apis []discovery.APIEndpoint) error {
	if len(apis) == 0 {
		return ErrNoAPIs
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if err := c.csv.Write(Columns); err != nil {
		return err
	}
	for _, api := range apis {
		if err := c.csv.Write(Row(api)); err != nil {
			return err
		}
	}
	c.csv.Flush()
	return c.csv.Error()
}

// WriteResult writes the endpoints of result.
func (c *CSVWriter) WriteResult(result *discovery.DiscoveryResult) error {
	return c.WriteAPIs(result.APIs)
}

// Flush flushes buffered rows.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.csv.Flush()
	return c.csv.Error()
}

// Close flushes and closes the writer.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.csv.Flush()
	if err := c.csv.Error(); err != nil {
		return err
	}

	if closer, ok := c.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
