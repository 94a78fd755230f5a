package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// registerAPIRoutes registers the REST inspection endpoints
func (s *Server) registerAPIRoutes(api fiber.Router) {
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api.Get("/challenge", func(c *fiber.Ctx) error {
		def := s.challenge
		if locale := c.Query("locale"); locale != "" {
			if localized, err := localize(def, locale); err == nil {
				def = localized
			}
		}
		return c.JSON(describe("", def))
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.GetStats())
	})

	sessions := api.Group("/sessions")

	// List connected sessions
	sessions.Get("/", func(c *fiber.Ctx) error {
		conns := s.connections()
		infos := make([]SessionInfo, 0, len(conns))
		for _, conn := range conns {
			infos = append(infos, conn.info())
		}
		return c.JSON(fiber.Map{
			"sessions": infos,
			"count":    len(infos),
		})
	})

	// Get one session with its machine state
	sessions.Get("/:id", func(c *fiber.Ctx) error {
		conn := s.getConnection(c.Params("id"))
		if conn == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}

		info := conn.info()
		ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.SnapshotTimeout)
		defer cancel()
		st, err := conn.session.Snapshot(ctx)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		info.State = &st
		return c.JSON(info)
	})
}
