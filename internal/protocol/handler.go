package protocol

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/amineprimesmr/myfidpass/internal/pass"
	"github.com/amineprimesmr/myfidpass/internal/passauth"
)

// Handler exposes the wallet web service over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds the protocol HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	PushToken string `json:"pushToken"`
}

type logRequest struct {
	Logs []string `json:"logs"`
}

func presentedToken(c *fiber.Ctx) string {
	token, _ := passauth.FromHeader(c.Get(fiber.HeaderAuthorization))
	return token
}

// Register handles POST /devices/:deviceId/registrations/:passTypeId/:serial.
// Route params alias the request buffer, so they are copied before they reach
// the registration store.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
	}
	_, err := h.service.Register(c.UserContext(), RegisterInput{
		DeviceID:   utils.CopyString(c.Params("deviceId")),
		PassTypeID: utils.CopyString(c.Params("passTypeId")),
		Serial:     utils.CopyString(c.Params("serial")),
		Token:      presentedToken(c),
		PushToken:  req.PushToken,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusCreated)
}

// ListChanged handles GET /devices/:deviceId/registrations/:passTypeId.
func (h *Handler) ListChanged(c *fiber.Ctx) error {
	changed, err := h.service.ListChanged(c.UserContext(), c.Params("deviceId"), c.Params("passTypeId"), c.Query("passesUpdatedSince"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(changed)
}

// Fetch handles GET /passes/:passTypeId/:serial.
func (h *Handler) Fetch(c *fiber.Ctx) error {
	artifact, err := h.service.FetchArtifact(c.UserContext(), c.Params("passTypeId"), c.Params("serial"), presentedToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return sendArtifact(c, artifact)
}

// Unregister handles DELETE /devices/:deviceId/registrations/:passTypeId/:serial.
func (h *Handler) Unregister(c *fiber.Ctx) error {
	err := h.service.Unregister(c.UserContext(), c.Params("deviceId"), c.Params("passTypeId"), c.Params("serial"), presentedToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusOK)
}

// Log handles POST /log.
func (h *Handler) Log(c *fiber.Ctx) error {
	var req logRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid body")
	}
	h.service.LogMessages(c.UserContext(), req.Logs)
	return c.SendStatus(http.StatusOK)
}

// RegisterWebPush handles POST /api/v1/passes/:serial/web-push. The body is
// the browser's PushSubscription JSON.
func (h *Handler) RegisterWebPush(c *fiber.Ctx) error {
	err := h.service.RegisterWebPush(c.UserContext(), utils.CopyString(c.Params("serial")), presentedToken(c), string(c.Body()))
	if err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(http.StatusCreated)
}

// Download handles GET /api/v1/passes/download/:code.
func (h *Handler) Download(c *fiber.Ctx) error {
	artifact, err := h.service.Download(c.UserContext(), c.Params("code"))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+artifact.Serial+`.pkpass"`)
	return sendArtifact(c, artifact)
}

func sendArtifact(c *fiber.Ctx, artifact Artifact) error {
	c.Set(fiber.HeaderContentType, pass.ContentType)
	c.Set(fiber.HeaderLastModified, artifact.LastModified.UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Set(fiber.HeaderPragma, "no-cache")
	return c.Status(http.StatusOK).Send(artifact.Bytes)
}

// fail maps protocol errors to responses. Unauthorized responses never say why.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrTenantNotFound):
		return fiber.NewError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidSubscription):
		return fiber.NewError(http.StatusBadRequest, "invalid subscription")
	case errors.Is(err, ErrBuildFailed):
		return fiber.NewError(http.StatusInternalServerError, "pass unavailable")
	default:
		h.logger.Error("wallet protocol", slog.String("path", c.Path()), slog.String("error", err.Error()))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
