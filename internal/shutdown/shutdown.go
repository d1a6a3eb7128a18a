// Package shutdown runs registered cleanup callbacks when the process is
// asked to stop.
package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func()
	OnShutdownDone  func(result Result)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	callbacks []Callback
	names     []string

	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	result         Result

	// Cancelled when shutdown begins
	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	signals []os.Signal

	onShutdownStart func()
	onShutdownDone  func(result Result)
}

// New creates a new shutdown handler listening for cfg.Signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:            make(chan struct{}),
		timeout:         cfg.Timeout,
		ctx:             ctx,
		cancel:          cancel,
		sigChan:         make(chan os.Signal, 1),
		signals:         cfg.Signals,
		onShutdownStart: cfg.OnShutdownStart,
		onShutdownDone:  cfg.OnShutdownDone,
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// Register registers a shutdown callback with a name. Callbacks run in
// reverse registration order.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.names = append(h.names, name)
}

// Server is anything with an http.Server style Shutdown method.
type Server interface {
	Shutdown(ctx context.Context) error
}

// RegisterServer registers a Server for shutdown.
func (h *Handler) RegisterServer(name string, server Server) {
	h.Register(name, server.Shutdown)
}

// RegisterCloser registers an io.Closer such as an archive for shutdown.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(context.Context) error {
		return c.Close()
	})
}

// Context returns a context cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until a signal arrives or ctx is done, then shuts down and
// returns the shutdown result.
func (h *Handler) Wait(ctx context.Context) Result {
	select {
	case <-h.sigChan:
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	h.Shutdown()
	<-h.done
	return h.Result()
}

// Trigger requests shutdown as if a signal had been received.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Shutdown cancels the handler context and runs the callbacks. Only the
// first call has any effect.
func (h *Handler) Shutdown() {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		return
	}

	signal.Stop(h.sigChan)
	start := time.Now()

	if h.onShutdownStart != nil {
		h.onShutdownStart()
	}

	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	names := make([]string, len(h.names))
	copy(callbacks, h.callbacks)
	copy(names, h.names)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			errs = append(errs, err)
		}
	}

	result := Result{Elapsed: time.Since(start), Errors: errs}
	h.mu.Lock()
	h.result = result
	h.mu.Unlock()

	if h.onShutdownDone != nil {
		h.onShutdownDone(result)
	}

	close(h.done)
}

// Result returns the outcome of the last shutdown.
func (h *Handler) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// executeCallback executes a shutdown callback with timeout handling.
func executeCallback(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// Result holds the outcome of a shutdown.
type Result struct {
	Elapsed time.Duration
	Errors  []error
}

// HasErrors returns whether any errors occurred during shutdown.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}
