// Package scope decides which links belong to the site being scanned and
// normalizes seed URLs before they reach the scanner.
package scope

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingHost is returned for URLs without a host component.
var ErrMissingHost = errors.New("url has no host")

// Checker keeps links on the seed's host.
type Checker struct {
	host string
}

// NewChecker creates a checker for the host of seedURL.
func NewChecker(seedURL string) (*Checker, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingHost, seedURL)
	}
	return &Checker{host: parsed.Host}, nil
}

// Clean returns urlStr without its fragment, host lower-cased, if it is
// internal. Links differing only in host case clean to the same URL.
func (c *Checker) Clean(urlStr string) (string, bool) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(parsed.Host, c.host) {
		return "", false
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), true
}

// InternalLinks cleans urls, drops external ones and removes duplicates,
// keeping first-seen order.
func (c *Checker) InternalLinks(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		cleaned, ok := c.Clean(u)
		if !ok {
			continue
		}
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		out = append(out, cleaned)
	}
	return out
}

// BaseURL returns scheme://host of rawURL.
func BaseURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingHost, rawURL)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// NormalizeSeed trims rawURL, adds https:// when no scheme is given and
// checks that the result is an absolute http(s) URL with a host.
func NormalizeSeed(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", errors.New("empty url")
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if !IsValidURL(parsed) {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}
	return s, nil
}

// IsValidURL checks that u is an absolute http(s) URL with a plausible host.
func IsValidURL(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " _") {
		return false
	}
	// Bare words like "foo" are not hosts; localhost and IPs are.
	if !strings.Contains(host, ".") && host != "localhost" && !strings.Contains(host, ":") {
		return false
	}
	return true
}
