package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/middleware"
	"github.com/amineprimesmr/myfidpass/internal/notifier"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

type accountResponse struct {
	Serial         string    `json:"serial"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Balance        int64     `json:"balance"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAccountResponse(a loyalty.Account) accountResponse {
	return accountResponse{
		Serial:         a.Serial,
		Name:           a.Name,
		Email:          a.Email,
		Balance:        a.Balance,
		LastActivityAt: a.LastActivityAt,
		CreatedAt:      a.CreatedAt,
	}
}

type creditResponse struct {
	Serial    string          `json:"serial"`
	Balance   int64           `json:"balance"`
	Duplicate bool            `json:"duplicate"`
	Fanout    notifier.Report `json:"fanout"`
}

// RegisterMerchantRoutes wires the tenant API. The router must already carry
// TenantAuth.
func RegisterMerchantRoutes(r fiber.Router, s *Services, logger *slog.Logger) {
	r.Post("/accounts", func(c *fiber.Ctx) error {
		owner := mustTenant(c)
		var req struct {
			Serial string `json:"serial"`
			Name   string `json:"name"`
			Email  string `json:"email"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
		account, err := s.Loyalty.Enroll(c.UserContext(), owner.ID, loyalty.EnrollInput{Serial: req.Serial, Name: req.Name, Email: req.Email})
		if err != nil {
			return merchantError(err)
		}
		code, err := s.Protocol.IssueDownloadCode(c.UserContext(), account.Serial)
		if err != nil {
			return err
		}
		logger.Info("account enrolled",
			slog.String("tenant_id", owner.ID),
			slog.String("serial", account.Serial),
		)
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"account":       toAccountResponse(account),
			"auth_token":    s.Protocol.Token(account.Serial),
			"download_code": code,
		})
	})

	r.Get("/accounts/:serial", func(c *fiber.Ctx) error {
		account, err := s.Loyalty.GetForTenant(c.UserContext(), mustTenant(c).ID, c.Params("serial"))
		if err != nil {
			return merchantError(err)
		}
		return c.JSON(toAccountResponse(account))
	})

	r.Post("/accounts/:serial/credit", func(c *fiber.Ctx) error {
		var req struct {
			Points     int64  `json:"points"`
			ClientTxID string `json:"client_tx_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid body")
		}
		res, err := s.Loyalty.Credit(c.UserContext(), loyalty.CreditInput{
			TenantID:   mustTenant(c).ID,
			Serial:     utils.CopyString(c.Params("serial")),
			Points:     req.Points,
			ClientTxID: req.ClientTxID,
		})
		if err != nil && !errors.Is(err, loyalty.ErrDuplicatePosting) {
			return merchantError(err)
		}
		return c.JSON(creditResponse{
			Serial:    res.Account.Serial,
			Balance:   res.Account.Balance,
			Duplicate: res.Duplicate,
			Fanout:    res.Fanout,
		})
	})

	r.Post("/broadcast", func(c *fiber.Ctx) error {
		var req struct {
			Message string `json:"message"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(http.StatusBadRequest, "invalid body")
			}
		}
		res, err := s.Loyalty.Broadcast(c.UserContext(), mustTenant(c).ID, req.Message)
		if err != nil {
			return merchantError(err)
		}
		return c.JSON(fiber.Map{"accounts": res.Accounts, "fanout": res.Fanout})
	})

	r.Delete("/accounts", func(c *fiber.Ctx) error {
		n, err := s.Loyalty.ResetTenant(c.UserContext(), mustTenant(c).ID)
		if err != nil {
			return merchantError(err)
		}
		return c.JSON(fiber.Map{"deleted": n})
	})

	r.Get("/accounts/:serial/push-log", func(c *fiber.Ctx) error {
		account, err := s.Loyalty.GetForTenant(c.UserContext(), mustTenant(c).ID, c.Params("serial"))
		if err != nil {
			return merchantError(err)
		}
		entries, err := s.PushLog.Recent(c.UserContext(), account.Serial)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"serial": account.Serial, "entries": entries})
	})
}

func mustTenant(c *fiber.Ctx) tenant.Tenant {
	t, _ := middleware.TenantFrom(c)
	return t
}

func merchantError(err error) error {
	switch {
	case errors.Is(err, loyalty.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, loyalty.ErrAlreadyExists):
		return fiber.NewError(http.StatusConflict, "account already exists")
	case errors.Is(err, loyalty.ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
