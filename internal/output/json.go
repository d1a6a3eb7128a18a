package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

// Event is one message of a streamed scan.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// ProgressData is the payload of a progress event.
type ProgressData struct {
	Message string  `json:"message"`
	Percent float64 `json:"percent"`
}

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
	}
}

// WriteAPIs writes the endpoints as a JSON array.
func (j *JSONWriter) WriteAPIs(apis []discovery.APIEndpoint) error {
	if apis == nil {
		apis = []discovery.APIEndpoint{}
	}
	return j.write(apis)
}

// WriteResult writes the complete discovery result.
func (j *JSONWriter) WriteResult(result *discovery.DiscoveryResult) error {
	return j.write(result)
}

// WriteEvent writes a single stream event.
func (j *JSONWriter) WriteEvent(event Event) error {
	return j.write(event)
}

func (j *JSONWriter) write(v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = j.writer.Write(data)
	if err != nil {
		return err
	}

	// Add newline
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
