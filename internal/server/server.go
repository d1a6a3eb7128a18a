// Package server exposes discovery over HTTP: synchronous and streamed
// scans, inventory exports, run history, health and metrics.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/PSD2Scout/internal/logger"
	"github.com/PentesterFlow/PSD2Scout/internal/metrics"
	"github.com/PentesterFlow/PSD2Scout/internal/output"
	"github.com/PentesterFlow/PSD2Scout/internal/scope"
	"github.com/PentesterFlow/PSD2Scout/internal/store"
	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
)

const maxRequestBody = 1 << 20 // 1 MB

var (
	errNoURLs      = errors.New("no URLs provided")
	errNoValidURLs = errors.New("no valid URLs provided")
)

// Config holds server configuration.
type Config struct {
	// Discovery is the base configuration for every scan
	Discovery *discovery.Config

	// ScanTimeout bounds one scan request; zero means no bound
	ScanTimeout time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Collector

	// Archive receives every finished scan when set
	Archive store.Archive

	// Options are applied to every Discoverer after the base ones
	Options []discovery.Option
}

// Server is the HTTP front end.
type Server struct {
	config   *discovery.Config
	timeout  time.Duration
	logger   *logger.Logger
	metrics  *metrics.Collector
	archive  store.Archive
	options  []discovery.Option
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Discovery == nil {
		cfg.Discovery = discovery.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	s := &Server{
		config:  cfg.Discovery.Clone(),
		timeout: cfg.ScanTimeout,
		logger:  cfg.Logger.WithComponent("server"),
		metrics: cfg.Metrics,
		archive: cfg.Archive,
		options: cfg.Options,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.handler = withRequestID(withLogging(s.logger, mux))
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// RegisterRoutes attaches the server's handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("GET /api/scan/ws", s.handleScanStream)
	mux.HandleFunc("POST /api/export/{format}", s.handleExport)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
}

// ScanRequest is the body of a scan request.
type ScanRequest struct {
	URLs     []string `json:"urls"`
	MaxDepth *int     `json:"max_depth,omitempty"`
	MaxPages *int     `json:"max_pages,omitempty"`
}

// normalize returns the usable seed URLs and the rejected ones. Blank
// entries are dropped silently.
func (r ScanRequest) normalize() (valid, invalid []string) {
	for _, raw := range r.URLs {
		seed, err := scope.NormalizeSeed(raw)
		if err != nil {
			if strings.TrimSpace(raw) != "" {
				invalid = append(invalid, raw)
			}
			continue
		}
		valid = append(valid, seed)
	}
	return valid, invalid
}

// ScanResponse is a discovery result plus request bookkeeping.
type ScanResponse struct {
	*discovery.DiscoveryResult
	InvalidURLs []string `json:"invalid_urls,omitempty"`
	RunID       uint64   `json:"run_id,omitempty"`
}

// ExportRequest is the body of an export request.
type ExportRequest struct {
	APIs []discovery.APIEndpoint `json:"apis"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string   `json:"error"`
	InvalidURLs []string `json:"invalid_urls,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.renderJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.renderJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	valid, invalid, err := s.validate(req)
	if err != nil {
		s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), InvalidURLs: invalid})
		return
	}

	d, err := s.discoverer(req)
	if err != nil {
		s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	defer d.Close()

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result := d.Discover(ctx, valid, nil)
	s.renderJSON(w, http.StatusOK, s.respond(result, invalid))
}

// validate checks a scan request and normalizes its URLs.
func (s *Server) validate(req ScanRequest) (valid, invalid []string, err error) {
	if len(req.URLs) == 0 {
		return nil, nil, errNoURLs
	}
	valid, invalid = req.normalize()
	if len(valid) == 0 {
		return nil, invalid, errNoValidURLs
	}
	return valid, invalid, nil
}

// discoverer builds a Discoverer for one request.
func (s *Server) discoverer(req ScanRequest) (*discovery.Discoverer, error) {
	opts := []discovery.Option{
		discovery.WithConfig(s.config),
		discovery.WithLogger(s.logger.WithComponent("discovery")),
		discovery.WithMetrics(s.metrics),
	}
	opts = append(opts, s.options...)
	if req.MaxDepth != nil {
		opts = append(opts, discovery.WithMaxDepth(*req.MaxDepth))
	}
	if req.MaxPages != nil {
		opts = append(opts, discovery.WithMaxPages(*req.MaxPages))
	}
	return discovery.New(opts...)
}

// respond archives result when an archive is configured and wraps it.
func (s *Server) respond(result *discovery.DiscoveryResult, invalid []string) ScanResponse {
	resp := ScanResponse{DiscoveryResult: result, InvalidURLs: invalid}
	if s.archive == nil {
		return resp
	}
	id, err := s.archive.Save(result)
	if err != nil {
		s.logger.WithError(err).Error("Failed to archive scan")
		return resp
	}
	resp.RunID = id
	return resp
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := output.ParseFormat(r.PathValue("format"))
	if err != nil {
		s.renderError(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var buf bytes.Buffer
	ow := output.NewWriter(&buf, output.Config{Format: format, Pretty: true})
	if err := ow.WriteAPIs(req.APIs); err != nil {
		if errors.Is(err, output.ErrNoAPIs) {
			s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: output.ErrNoAPIs.Error()})
			return
		}
		s.logger.WithError(err).Error("Export failed")
		s.renderError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment;filename="+format.FileName())
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.renderError(w, http.StatusNotFound, ErrorResponse{Error: "no archive configured"})
		return
	}
	runs, err := s.archive.List()
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	s.renderJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.renderError(w, http.StatusNotFound, ErrorResponse{Error: "no archive configured"})
		return
	}
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.renderError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid run id %q", r.PathValue("id"))})
		return
	}
	run, err := s.archive.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.renderError(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	s.renderJSON(w, http.StatusOK, run)
}

func (s *Server) renderJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
		http.Error(w, `{"error":"Internal Server Error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, status int, body ErrorResponse) {
	s.renderJSON(w, status, body)
}
