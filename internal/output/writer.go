// Package output renders API inventories for export: JSON, CSV and XLSX.
package output

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

// ErrNoAPIs is returned by tabular writers when there is nothing to export.
var ErrNoAPIs = errors.New("no APIs to export")

// Format is an export format.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// FileName returns the default download name for the format.
func (f Format) FileName() string {
	return "api_inventory." + string(f)
}

// Writer defines the interface for output writers.
type Writer interface {
	// WriteAPIs writes an endpoint inventory
	WriteAPIs(apis []discovery.APIEndpoint) error

	// WriteResult writes a complete discovery result
	WriteResult(result *discovery.DiscoveryResult) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format Format
	Pretty bool
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatCSV:
		return NewCSVWriter(w)
	case FormatXLSX:
		return NewXLSXWriter(w)
	default:
		return NewJSONWriter(w, config.Pretty)
	}
}

// Columns are the tabular export columns, in order.
var Columns = []string{
	"name", "api_type", "url", "source_page", "description",
	"documentation_url", "swagger_url", "confidence_score",
	"discovered_at", "keywords_found",
}

// Row renders an endpoint as tabular cells matching Columns.
func Row(api discovery.APIEndpoint) []string {
	return []string{
		api.Name,
		string(api.APIType),
		api.URL,
		api.SourcePage,
		api.Description,
		api.DocumentationURL,
		api.SwaggerURL,
		strconv.FormatFloat(api.ConfidenceScore, 'f', -1, 64),
		formatTime(api.DiscoveredAt),
		strings.Join(api.KeywordsFound, "; "),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
