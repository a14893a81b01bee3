package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/amineprimesmr/myfidpass/internal/protocol"
)

// RegisterPassRoutes wires the wallet web service under one prefix. The same
// handler set is mounted under every configured prefix.
func RegisterPassRoutes(r fiber.Router, h *protocol.Handler, logLimiter fiber.Handler) {
	r.Post("/devices/:deviceId/registrations/:passTypeId/:serial", h.Register)
	r.Delete("/devices/:deviceId/registrations/:passTypeId/:serial", h.Unregister)
	r.Get("/devices/:deviceId/registrations/:passTypeId", h.ListChanged)
	r.Get("/passes/:passTypeId/:serial", h.Fetch)
	if logLimiter != nil {
		r.Post("/log", logLimiter, h.Log)
	} else {
		r.Post("/log", h.Log)
	}
}
