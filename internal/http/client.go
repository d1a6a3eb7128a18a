// Package http implements the page fetcher: one bounded GET per page over a
// shared, connection-reusing client.
package http

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PentesterFlow/PSD2Scout/internal/errors"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/ratelimit"
	"golang.org/x/net/html/charset"
)

// DefaultUserAgent identifies the crawler to bank web servers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; APIDiscoveryBot/1.0; PSD2 Compliance Research)"

// DefaultMaxBodyBytes caps how much of a page body is read.
const DefaultMaxBodyBytes = 5 * 1024 * 1024

// Client fetches pages. Safe for concurrent use.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	maxBody   int64
	limiter   *ratelimit.Limiter
	metrics   *metrics.Collector
}

// ClientConfig holds configuration for the page fetcher.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	MaxBodyBytes        int64
	UserAgent           string
	Headers             map[string]string
	SkipTLSVerify       bool
}

// DefaultClientConfig returns the defaults used for bank sites.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		UserAgent:           DefaultUserAgent,
	}
}

// NewClient creates a page fetcher. limiter and collector may be nil.
func NewClient(config ClientConfig, limiter *ratelimit.Limiter, collector *metrics.Collector) *Client {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: config.UserAgent,
		headers:   config.Headers,
		maxBody:   config.MaxBodyBytes,
		limiter:   limiter,
		metrics:   collector,
	}
}

// Page is a successfully fetched page.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        string
	Duration    time.Duration
}

// Fetch GETs targetURL. Transport failures, timeouts and non-2xx responses
// are returned as *errors.FetchError. No retries are attempted.
func (c *Client) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	page, err := c.fetch(ctx, targetURL)
	if err != nil && c.metrics != nil {
		c.metrics.RecordError(errors.GetErrorType(err).String())
	}
	return page, err
}

func (c *Client) fetch(ctx context.Context, targetURL string) (*Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, errors.NewFetchError(errors.Parse, targetURL, "request_creation", "failed to create request", err)
	}

	if c.limiter != nil {
		if err := c.limiter.WaitHost(ctx, req.URL.Host); err != nil {
			return nil, errors.Categorize(err, targetURL)
		}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	if c.metrics != nil {
		c.metrics.RecordRequest()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordStatusCode(resp.StatusCode)
	}

	if httpErr := errors.CategorizeHTTPStatus(resp.StatusCode, targetURL); httpErr != nil {
		return nil, httpErr
	}

	contentType := resp.Header.Get("Content-Type")
	limited := io.LimitReader(resp.Body, c.maxBody)

	reader, err := charset.NewReader(limited, contentType)
	if err != nil {
		return nil, errors.NewParseError(targetURL, "charset", err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		fetchErr := errors.Categorize(err, targetURL)
		if fetchErr.Type == errors.Unknown {
			fetchErr = errors.NewNetworkError(targetURL, "body_read", err)
		}
		return nil, fetchErr
	}

	page := &Page{
		URL:         targetURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        string(body),
		Duration:    time.Since(start),
	}

	if c.metrics != nil {
		c.metrics.RecordBytes(int64(len(body)))
		c.metrics.RecordResponseTime(page.Duration)
	}

	return page, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
