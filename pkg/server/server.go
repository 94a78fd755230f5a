// Package server exposes liveness challenges over HTTP and WebSocket.
//
// Each client connection on /ws/session owns one challenge Session. The
// client streams measurement messages and receives progress, verdict and
// completion messages back. Every session event is mirrored to dashboards
// connected on /ws/events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/go-liveness/pkg/challenge"
	"github.com/teslashibe/go-liveness/pkg/hub"
)

// Config holds server settings.
type Config struct {
	// MaxFPS caps how many measurements per second each connection may
	// submit. Extra frames are answered with a rate_limited error. Zero or
	// negative disables the limit.
	MaxFPS float64

	// SnapshotTimeout bounds how long REST handlers wait on a busy session.
	SnapshotTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		MaxFPS:          30,
		SnapshotTimeout: time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithConfig replaces the server configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSessionOptions adds options applied to every new challenge session.
func WithSessionOptions(opts ...challenge.SessionOption) Option {
	return func(s *Server) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// Server is the liveness HTTP and WebSocket service.
type Server struct {
	app         *fiber.App
	cfg         Config
	challenge   *challenge.Challenge
	events      *hub.Hub
	logger      *slog.Logger
	sessionOpts []challenge.SessionOption

	mu       sync.RWMutex
	sessions map[string]*connection

	stats counters
}

// counters are updated from connection goroutines.
type counters struct {
	sessionsOpened    atomic.Uint64
	sessionsCompleted atomic.Uint64
	framesReceived    atomic.Uint64
	framesDropped     atomic.Uint64
	framesRejected    atomic.Uint64
	messagesSent      atomic.Uint64
}

// Stats contains server statistics
type Stats struct {
	ActiveSessions    int    `json:"active_sessions"`
	SessionsOpened    uint64 `json:"sessions_opened"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesDropped     uint64 `json:"frames_dropped"`
	FramesRejected    uint64 `json:"frames_rejected"`
	MessagesSent      uint64 `json:"messages_sent"`
	DashboardClients  int    `json:"dashboard_clients"`
}

// New creates a server that runs c for every connecting client.
func New(c *challenge.Challenge, opts ...Option) *Server {
	s := &Server{
		cfg:       DefaultConfig(),
		challenge: c,
		logger:    slog.Default(),
		sessions:  make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = hub.New("events", hub.WithLogger(s.logger))

	app := fiber.New(fiber.Config{
		AppName:               "Liveness",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	s.registerAPIRoutes(app.Group("/api"))
	s.registerWSRoutes(app)

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the dashboard event hub.
func (s *Server) Hub() *hub.Hub {
	return s.events
}

// Run starts the event hub and serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.events.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("liveness server listening", "addr", addr)
		errc <- s.app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		if err := s.app.Shutdown(); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		ActiveSessions:    s.SessionCount(),
		SessionsOpened:    s.stats.sessionsOpened.Load(),
		SessionsCompleted: s.stats.sessionsCompleted.Load(),
		FramesReceived:    s.stats.framesReceived.Load(),
		FramesDropped:     s.stats.framesDropped.Load(),
		FramesRejected:    s.stats.framesRejected.Load(),
		MessagesSent:      s.stats.messagesSent.Load(),
		DashboardClients:  s.events.ClientCount(),
	}
}

// SessionCount returns the number of connected sessions
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) getConnection(id string) *connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Server) connections() []*connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*connection, 0, len(s.sessions))
	for _, c := range s.sessions {
		out = append(out, c)
	}
	return out
}

func (s *Server) addConnection(c *connection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.id()] = c
	return len(s.sessions)
}

func (s *Server) removeConnection(c *connection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, c.id())
	return len(s.sessions)
}
