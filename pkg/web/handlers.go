package web

import (
	"github.com/gofiber/fiber/v2"

	"github.com/avocetlabs/voicewidget/pkg/hub"
)

// handleHealth reports liveness and the number of live sessions.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

// handleCreateSession provisions a voice session and its widget hub. The
// widget then opens /ws/widget/:id and sends a start control to dial
// upstream.
func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	b := &sessionBridge{logger: s.logger}
	b.manager = s.factory(b, b)

	id := b.manager.SessionID()
	b.hub = hub.New(id, s.logger)
	go b.hub.Run()

	s.mu.Lock()
	s.bridges[id] = b
	s.mu.Unlock()
	s.registry.Put(b.manager)

	s.logger.Info("session created", "session_id", id)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": id,
	})
}

// handleSessionState returns the conversation state for polling fallbacks.
func (s *Server) handleSessionState(c *fiber.Ctx) error {
	m := s.registry.Get(c.Params("id"))
	if m == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown session",
		})
	}
	return c.JSON(fiber.Map{
		"session_id": m.SessionID(),
		"state":      m.State().String(),
	})
}

// handleEndSession tears a session down at the widget's request.
func (s *Server) handleEndSession(c *fiber.Ctx) error {
	id := c.Params("id")

	s.mu.Lock()
	b := s.bridges[id]
	delete(s.bridges, id)
	s.mu.Unlock()

	if b == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown session",
		})
	}

	s.registry.Remove(id)
	b.close()
	s.logger.Info("session ended", "session_id", id)
	return c.SendStatus(fiber.StatusNoContent)
}
