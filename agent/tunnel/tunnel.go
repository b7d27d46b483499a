// Package tunnel exposes a debug WebSocket stream of a running Worker's
// screenshots, for an operator watching a stuck or misbehaving poll
// against the portal without attaching a VNC session to the browser
// itself. Grounded on the teacher's services/tunnel/service.go (Tunnel,
// TunnelService, websocket.Upgrader, stale-connection cleanup), stripped
// of its ngrok-style HTTP-over-WebSocket proxy framing since there is no
// local HTTP service to proxy here: one connection just wants a feed of
// PNG frames for one worker.
package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mitchell-agent/logger"
)

// Screenshotter is the subset of agent/browser.Driver a debug session
// streams frames from; agent/worker.Worker implements it. The Server is
// handed a lookup function instead of Workers directly to avoid a
// dependency from this package onto agent/pool.
type Screenshotter interface {
	Screenshot() ([]byte, error)
}

// Lookup resolves a worker ID (as carried in the ws request path) to its
// Screenshotter, or false if no such worker is live.
type Lookup func(workerID int) (Screenshotter, bool)

const (
	frameInterval = 2 * time.Second
	writeTimeout  = 5 * time.Second
)

// Server upgrades debug-stream requests to WebSocket connections and
// pushes screenshots from the looked-up Worker until the connection
// closes or the request context is canceled.
type Server struct {
	lookup   Lookup
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions int
}

func New(lookup Lookup) *Server {
	return &Server{
		lookup: lookup,
		upgrader: websocket.Upgrader{
			// Debug surface is operator-local; same origin policy is
			// not a concern here the way it would be for a public API.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 1024,
		},
	}
}

// Stream upgrades r and pushes one screenshot frame from workerID every
// frameInterval until the client disconnects.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request, workerID int) {
	shooter, ok := s.lookup(workerID)
	if !ok {
		http.Error(w, fmt.Sprintf("worker %d not found", workerID), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("debug tunnel upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sessions--
		s.mu.Unlock()
	}()

	// The client never sends frames; a failed read means it disconnected.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	logger.Info("debug tunnel session opened", zap.Int("worker_id", workerID))
	s.pushFrames(ctx, conn, shooter, workerID)
}

func (s *Server) pushFrames(ctx context.Context, conn *websocket.Conn, shooter Screenshotter, workerID int) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("debug tunnel session closed", zap.Int("worker_id", workerID))
			return
		case <-ticker.C:
			png, err := shooter.Screenshot()
			if err != nil {
				logger.Warn("debug tunnel screenshot failed", zap.Int("worker_id", workerID), zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, png); err != nil {
				logger.Debug("debug tunnel write failed, closing", zap.Int("worker_id", workerID), zap.Error(err))
				return
			}
		}
	}
}

// Sessions reports the number of currently-open debug streams, for the
// status surface.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}
