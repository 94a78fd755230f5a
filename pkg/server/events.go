package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-liveness/pkg/hub"
)

// eventsHandler streams every session's events to a dashboard.
func (s *Server) eventsHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		client, ok := hub.NewClient(s.events, c)
		if !ok {
			c.Close()
			return
		}
		client.Run()
	})
}
