package discovery

import "time"

// APIType classifies a discovered PSD2 API surface.
type APIType string

// API types.
const (
	TypeAIS     APIType = "AIS"
	TypePIS     APIType = "PIS"
	TypeCAF     APIType = "CAF"
	TypePSD2    APIType = "PSD2"
	TypeUnknown APIType = "Unknown"
)

// Valid reports whether t is one of the defined API types.
func (t APIType) Valid() bool {
	switch t {
	case TypeAIS, TypePIS, TypeCAF, TypePSD2, TypeUnknown:
		return true
	}
	return false
}

// Site scan statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// APIEndpoint is a candidate API surface found on a bank site. Endpoints
// are never modified after synthesis.
type APIEndpoint struct {
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	SourcePage       string    `json:"source_page"`
	APIType          APIType   `json:"api_type"`
	Description      string    `json:"description"`
	Version          string    `json:"version"`
	DocumentationURL string    `json:"documentation_url"`
	SwaggerURL       string    `json:"swagger_url"`
	SandboxURL       string    `json:"sandbox_url"`
	ProductionURL    string    `json:"production_url"`
	Authentication   string    `json:"authentication"`
	DiscoveredAt     time.Time `json:"discovered_at"`
	ConfidenceScore  float64   `json:"confidence_score"`
	KeywordsFound    []string  `json:"keywords_found"`
}

// APIRelatedPage records a page that scored above the relevance threshold.
type APIRelatedPage struct {
	URL            string   `json:"url"`
	RelevanceScore float64  `json:"relevance_score"`
	Keywords       []string `json:"keywords"`
}

// SiteScanResult is the outcome of scanning one seed URL.
type SiteScanResult struct {
	URL             string           `json:"url"`
	Status          string           `json:"status"`
	PagesScanned    int              `json:"pages_scanned"`
	APIRelatedPages []APIRelatedPage `json:"api_related_pages"`
	APIs            []APIEndpoint    `json:"apis"`
	Error           string           `json:"error,omitempty"`
}

// Failed reports whether the scan ended with an error.
func (r *SiteScanResult) Failed() bool {
	return r.Status == StatusError
}

// DiscoveryResult aggregates the site scans of one discovery run.
type DiscoveryResult struct {
	TotalAPIsFound int              `json:"total_apis_found"`
	APIs           []APIEndpoint    `json:"apis"`
	ScanResults    []SiteScanResult `json:"scan_results"`
	ScanTimestamp  time.Time        `json:"scan_timestamp"`
}

// CountByType tallies the endpoints per API type.
func (r *DiscoveryResult) CountByType() map[APIType]int {
	counts := make(map[APIType]int)
	for _, api := range r.APIs {
		counts[api.APIType]++
	}
	return counts
}

// ProgressFunc receives a human-readable message and the percentage of
// seed URLs started so far.
type ProgressFunc func(message string, percent float64)

// Clock returns the current time.
type Clock func() time.Time
