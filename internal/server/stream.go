package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/PSD2Scout/internal/output"
)

const writeTimeout = 10 * time.Second

// streamConn serializes writes to a websocket connection.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamConn) send(event output.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

func (c *streamConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// fail sends an error event to the client.
func (s *Server) fail(out *streamConn, resp ErrorResponse) {
	if err := out.send(output.Event{Type: output.EventError, Data: resp}); err != nil {
		s.logger.WithError(err).Debug("Failed to send error event")
	}
}

// handleScanStream upgrades to a websocket, reads one ScanRequest and
// streams progress events followed by a single result or error event.
// Closing the socket cancels the scan.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	out := &streamConn{conn: conn}
	conn.SetReadLimit(maxRequestBody)

	var req ScanRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.fail(out, ErrorResponse{Error: "invalid request body"})
		return
	}

	valid, invalid, err := s.validate(req)
	if err != nil {
		s.fail(out, ErrorResponse{Error: err.Error(), InvalidURLs: invalid})
		return
	}

	d, err := s.discoverer(req)
	if err != nil {
		s.fail(out, ErrorResponse{Error: err.Error()})
		return
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// The client sends nothing more; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	progress := func(message string, percent float64) {
		if err := out.send(output.Event{
			Type: output.EventProgress,
			Data: output.ProgressData{Message: message, Percent: percent},
		}); err != nil {
			s.logger.WithError(err).Debug("Dropping progress event")
		}
	}

	result := d.Discover(ctx, valid, progress)
	if err := out.send(output.Event{Type: output.EventResult, Data: s.respond(result, invalid)}); err != nil {
		s.logger.WithError(err).Warn("Failed to send scan result")
		return
	}

	if err := out.close(); err != nil {
		s.logger.WithError(err).Debug("Failed to send close message")
	}
}
