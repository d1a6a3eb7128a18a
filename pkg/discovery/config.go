package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/http"
	"gopkg.in/yaml.v3"
)

// Config holds all discovery configuration.
type Config struct {
	// Maximum link depth followed from a seed URL
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Maximum pages fetched per site
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Per-request timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Client identity sent with every request
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// Extra headers sent with every request
	Headers map[string]string `json:"headers" yaml:"headers"`

	// Response bytes read per page
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// Characters of page text kept for descriptions
	TextLimit int `json:"text_limit" yaml:"text_limit"`

	// Per-host request rate; 0 disables limiting
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`

	// Sites scanned in parallel
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Optional YAML keyword taxonomy replacing the built-in one
	TaxonomyFile string `json:"taxonomy_file" yaml:"taxonomy_file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:     2,
		MaxPages:     50,
		Timeout:      10 * time.Second,
		UserAgent:    http.DefaultUserAgent,
		MaxBodyBytes: http.DefaultMaxBodyBytes,
		TextLimit:    5000,
		Burst:        1,
		Concurrency:  1,
	}
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile writes the configuration, as JSON when path ends in .json and
// YAML otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth cannot be negative")
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Headers != nil {
		clone.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}
