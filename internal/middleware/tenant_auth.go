package middleware

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

const (
	apiKeyHeader = "X-API-Key"
	tenantLocal  = "tenant"
)

// TenantAuthenticator resolves the tenant owning an API key.
type TenantAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (tenant.Tenant, error)
}

// TenantAuth requires a valid X-API-Key ("<tenantId>.<secret>") and stores the
// tenant in the request locals.
func TenantAuth(auth TenantAuthenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(apiKeyHeader)
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing api key")
		}
		t, err := auth.Authenticate(c.UserContext(), key)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid api key")
		}
		c.Locals(tenantLocal, t)
		return c.Next()
	}
}

// TenantFrom returns the tenant stored by TenantAuth.
func TenantFrom(c *fiber.Ctx) (tenant.Tenant, bool) {
	t, ok := c.Locals(tenantLocal).(tenant.Tenant)
	return t, ok
}
