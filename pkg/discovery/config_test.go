package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/http"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxDepth != 2 {
		t.Errorf("MaxDepth = %d, want 2", config.MaxDepth)
	}
	if config.MaxPages != 50 {
		t.Errorf("MaxPages = %d, want 50", config.MaxPages)
	}
	if config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", config.Timeout)
	}
	if config.UserAgent != http.DefaultUserAgent {
		t.Errorf("UserAgent = %q", config.UserAgent)
	}
	if config.TextLimit != 5000 {
		t.Errorf("TextLimit = %d, want 5000", config.TextLimit)
	}
	if config.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", config.Concurrency)
	}
	if config.RequestsPerSecond != 0 {
		t.Errorf("RequestsPerSecond = %v, want 0 (unlimited)", config.RequestsPerSecond)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero depth allowed", func(c *Config) { c.MaxDepth = 0 }, false},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, true},
		{"zero pages", func(c *Config) { c.MaxPages = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `max_depth: 3
max_pages: 20
timeout: 5s
headers:
  X-Contact: research@example.org
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if config.MaxDepth != 3 || config.MaxPages != 20 {
		t.Errorf("MaxDepth = %d, MaxPages = %d", config.MaxDepth, config.MaxPages)
	}
	if config.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Timeout)
	}
	if config.Headers["X-Contact"] != "research@example.org" {
		t.Errorf("Headers = %v", config.Headers)
	}
	// Unset fields keep their defaults.
	if config.TextLimit != 5000 {
		t.Errorf("TextLimit = %d, want default", config.TextLimit)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("max_depth: [unclosed"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() should fail for malformed content")
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			config := DefaultConfig()
			config.MaxDepth = 4
			config.RequestsPerSecond = 2.5
			config.Headers = map[string]string{"X-Test": "1"}

			if err := config.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}
			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.MaxDepth != 4 || loaded.RequestsPerSecond != 2.5 || loaded.Headers["X-Test"] != "1" {
				t.Errorf("loaded = %+v", loaded)
			}
			if loaded.Timeout != config.Timeout {
				t.Errorf("Timeout = %v, want %v", loaded.Timeout, config.Timeout)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	config := DefaultConfig()
	config.Headers = map[string]string{"A": "1"}

	clone := config.Clone()
	clone.MaxDepth = 9
	clone.Headers["A"] = "2"

	if config.MaxDepth != 2 {
		t.Error("changing the clone changed MaxDepth of the original")
	}
	if config.Headers["A"] != "1" {
		t.Error("clone shares the headers map")
	}
}
