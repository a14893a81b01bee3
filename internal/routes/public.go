package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/amineprimesmr/myfidpass/internal/protocol"
)

// RegisterPublicRoutes wires the customer-facing endpoints used by the
// enrollment web page.
func RegisterPublicRoutes(r fiber.Router, h *protocol.Handler) {
	r.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Authorization",
	}))
	r.Get("/download/:code", h.Download)
	r.Post("/:serial/web-push", h.RegisterWebPush)
}
