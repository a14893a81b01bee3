package routes

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/amineprimesmr/myfidpass/internal/clock"
	"github.com/amineprimesmr/myfidpass/internal/config"
	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/middleware"
	"github.com/amineprimesmr/myfidpass/internal/notifier"
	"github.com/amineprimesmr/myfidpass/internal/onetime"
	"github.com/amineprimesmr/myfidpass/internal/pass"
	"github.com/amineprimesmr/myfidpass/internal/passauth"
	"github.com/amineprimesmr/myfidpass/internal/protocol"
	"github.com/amineprimesmr/myfidpass/internal/push"
	"github.com/amineprimesmr/myfidpass/internal/registration"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

const pushLogTTL = 7 * 24 * time.Hour

// Deps aggregates shared dependencies required to wire routes. DB is used by
// the postgres driver and SQL by the sqlite driver. Sender, Builder and Clock
// override the defaults derived from Cfg. Signer is handed to the default
// builder; without one, archives are produced unsigned.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	SQL     *sql.DB
	Cache   *redis.Client
	Logger  *slog.Logger
	Sender  push.Sender
	Builder pass.Builder
	Signer  pass.Signer
	Clock   clock.Clock
}

// Services are the wired application services shared by the HTTP layer, the
// seed loader and the operator CLI.
type Services struct {
	Tenants       *tenant.Service
	Loyalty       *loyalty.Service
	Protocol      *protocol.Service
	Notifier      *notifier.Notifier
	Registrations registration.Repository
	PushLog       push.OutcomeLog
}

type stores struct {
	tenants       tenant.Repository
	accounts      loyalty.Repository
	registrations registration.Repository
}

func openStores(d Deps) (stores, error) {
	switch d.Cfg.StoreDriver {
	case config.DriverPostgres:
		if d.DB == nil {
			return stores{}, fmt.Errorf("postgres pool is required for STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return stores{
			tenants:       tenant.NewPostgresRepository(d.DB),
			accounts:      loyalty.NewPostgresRepository(d.DB),
			registrations: registration.NewPostgresRepository(d.DB),
		}, nil
	case config.DriverSQLite:
		if d.SQL == nil {
			return stores{}, fmt.Errorf("sqlite handle is required for STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return stores{
			tenants:       tenant.NewSQLiteRepository(d.SQL),
			accounts:      loyalty.NewSQLiteRepository(d.SQL),
			registrations: registration.NewSQLiteRepository(d.SQL),
		}, nil
	case config.DriverMemory:
		return stores{
			tenants:       tenant.NewMemoryRepository(),
			accounts:      loyalty.NewMemoryRepository(),
			registrations: registration.NewMemoryRepository(),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown STORE_DRIVER %q", d.Cfg.StoreDriver)
	}
}

// NewSender builds the push dispatcher from configuration. A transport whose
// credentials are missing is still registered and fails every send.
func NewSender(cfg config.Config, logger *slog.Logger) push.Sender {
	return push.NewDispatcher(map[string]push.Transport{
		push.KindAPNs: push.Logged(push.NewAPNs(push.APNsOptions{
			CertFile:     cfg.APNs.CertFile,
			KeyFile:      cfg.APNs.KeyFile,
			CertPassword: cfg.APNs.CertPassword,
			Host:         cfg.APNs.Host,
		}), logger),
		push.KindWebPush: push.Logged(push.NewWebPush(push.WebPushOptions{
			PrivateKey: cfg.WebPush.VAPIDPrivateKey,
			PublicKey:  cfg.WebPush.VAPIDPublicKey,
			Subject:    cfg.WebPush.Subject,
		}), logger),
	})
}

// NewServices wires the stores and application services for the configured driver.
func NewServices(d Deps) (*Services, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}
	st, err := openStores(d)
	if err != nil {
		return nil, err
	}

	sender := d.Sender
	if sender == nil {
		sender = NewSender(d.Cfg, d.Logger)
	}
	builder := d.Builder
	if builder == nil {
		signer := d.Signer
		if signer == nil {
			if !d.Cfg.IsDev() {
				d.Logger.Warn("no pass signer configured, wallets will reject served passes",
					slog.String("env", d.Cfg.AppEnv))
			}
			signer = pass.NoopSigner{}
		}
		builder = pass.NewArchiveBuilder(pass.Identity{
			PassTypeID:    d.Cfg.Pass.TypeID,
			TeamID:        d.Cfg.Pass.TeamID,
			Organization:  d.Cfg.Pass.Organization,
			WebServiceURL: d.Cfg.Pass.WebServiceURL,
		}, signer)
	}

	var (
		pushLog push.OutcomeLog
		codes   onetime.Store
	)
	if d.Cache != nil {
		pushLog = push.NewRedisOutcomeLog(d.Cache, d.Cfg.Push.LogSize, pushLogTTL)
		codes = onetime.NewRedisStore(d.Cache, "")
	} else {
		pushLog = push.NewMemoryOutcomeLog(int(d.Cfg.Push.LogSize))
		codes = onetime.NewMemoryStore(d.Clock)
	}

	fanout := notifier.New(notifier.Deps{
		Accounts:      st.accounts,
		Registrations: st.registrations,
		Sender:        sender,
		OutcomeLog:    pushLog,
		Clock:         d.Clock,
		Logger:        d.Logger,
	}, notifier.Config{
		Concurrency:  d.Cfg.Push.Concurrency,
		SendTimeout:  d.Cfg.Push.SendTimeout,
		PruneInvalid: d.Cfg.Push.PruneInvalid,
	})

	protocolSvc := protocol.NewService(protocol.Config{
		PassTypeID:      d.Cfg.Pass.TypeID,
		DownloadCodeTTL: d.Cfg.DownloadCodeTTL,
	}, protocol.Deps{
		Accounts:      st.accounts,
		Tenants:       st.tenants,
		Registrations: st.registrations,
		Tokens:        passauth.NewSigner(d.Cfg.AuthSecret()),
		Builder:       builder,
		Codes:         codes,
		Clock:         d.Clock,
		Logger:        d.Logger,
	})

	return &Services{
		Tenants:       tenant.NewService(st.tenants),
		Loyalty:       loyalty.NewService(st.accounts, fanout, d.Clock, d.Logger, loyalty.WithRegistrationPurger(st.registrations)),
		Protocol:      protocolSvc,
		Notifier:      fanout,
		Registrations: st.registrations,
		PushLog:       pushLog,
	}, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) error {
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	app.Get("/api/v1/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFrom(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	devices := protocol.NewHandler(s.Protocol, d.Logger)
	logLimiter := middleware.RateLimit(d.Cache, "device-log", 30, time.Minute)
	for _, prefix := range d.Cfg.WebServicePaths {
		RegisterPassRoutes(app.Group(prefix), devices, logLimiter)
	}

	RegisterPublicRoutes(app.Group("/api/v1/passes"), devices)

	merchant := app.Group("/api/v1/merchant", middleware.TenantAuth(s.Tenants))
	if d.Cache != nil {
		merchant.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterMerchantRoutes(merchant, s, d.Logger)

	return nil
}
