// Package web is the widget-facing surface: REST endpoints for session
// lifecycle and a websocket bridge that carries microphone audio up and
// chat events, agent speech, and level animation frames down.
package web

import (
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/avocetlabs/voicewidget/pkg/audio"
	"github.com/avocetlabs/voicewidget/pkg/voice"
)

// SessionFactory builds a session manager wired to the given sinks. The
// bridge passes itself as both: it forwards UI events and agent audio to the
// widget socket.
type SessionFactory func(sink voice.EventSink, audioSink audio.Sink) *voice.Manager

// Server hosts the widget API.
type Server struct {
	app      *fiber.App
	addr     string
	logger   *slog.Logger
	registry *voice.Registry
	factory  SessionFactory

	mu      sync.Mutex
	bridges map[string]*sessionBridge
}

// NewServer creates the widget server. factory is invoked once per created
// session.
func NewServer(addr string, factory SessionFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:     addr,
		logger:   logger.With("component", "web"),
		registry: voice.NewRegistry(),
		factory:  factory,
		bridges:  make(map[string]*sessionBridge),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicewidget",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Post("/sessions", s.handleCreateSession)
	api.Get("/sessions/:id/state", s.handleSessionState)
	api.Delete("/sessions/:id", s.handleEndSession)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/widget/:id", websocket.New(s.handleWidgetWS))

	s.app = app
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("widget server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops the server and ends every live session.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	bridges := make([]*sessionBridge, 0, len(s.bridges))
	for _, b := range s.bridges {
		bridges = append(bridges, b)
	}
	s.bridges = make(map[string]*sessionBridge)
	s.mu.Unlock()

	for _, b := range bridges {
		s.registry.Remove(b.manager.SessionID())
		b.close()
	}
	return s.app.Shutdown()
}

// Registry exposes the live-session registry.
func (s *Server) Registry() *voice.Registry { return s.registry }

func (s *Server) bridge(id string) *sessionBridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridges[id]
}

// handleWidgetWS attaches one widget connection to its session's hub.
func (s *Server) handleWidgetWS(c *websocket.Conn) {
	id := c.Params("id")
	b := s.bridge(id)
	if b == nil {
		s.logger.Warn("widget socket for unknown session", "session_id", id)
		c.Close()
		return
	}
	b.attach(c)
}
