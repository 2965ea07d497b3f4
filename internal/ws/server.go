// Package ws carries the delta-synchronization protocol over websocket
// connections: it upgrades HTTP requests, runs the per-connection
// message pump, and dispatches envelopes into the session engine.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pokesync/supersync/internal/config"
	"github.com/pokesync/supersync/internal/session"
)

// Server accepts websocket connections and runs one protocol handler
// per connection until the transport closes.
type Server struct {
	cfg      config.WebSocketConfig
	registry *session.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// NewServer creates a websocket server backed by the given registry.
//
// Precondition: registry and logger must be non-nil.
func NewServer(cfg config.WebSocketConfig, registry *session.Registry, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Browser extensions connect from the game's origin; access
			// control is a non-goal of the sync protocol.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and blocks serving the connection
// until the peer disconnects or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := newClient(conn, s.cfg, s.logger)
	s.track(c)
	defer s.untrack(c)

	s.logger.Info("client connected",
		zap.String("conn_id", c.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
	start := time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()

	h := &connHandler{server: s, client: c, logger: c.logger}
	h.readLoop()

	s.logger.Info("client disconnected",
		zap.String("conn_id", c.ID()),
		zap.Duration("duration", time.Since(start)),
	)
}

// CloseAll terminates every open connection and waits for their pumps
// to exit. Called on shutdown after the HTTP listener stops accepting.
func (s *Server) CloseAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Terminate()
	}
	s.wg.Wait()
}

// ClientCount reports the number of open connections.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) track(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID()] = c
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.ID())
}
