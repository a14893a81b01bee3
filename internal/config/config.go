package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
// Nested groups are prefixed by their field name, e.g. APNS_CERT_FILE.
type Config struct {
	AppName         string        `envconfig:"APP_NAME" default:"MyFidPass"`
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	Port            string        `envconfig:"PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"myfidpass.db"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	SeedFile        string        `envconfig:"SEED_FILE"`
	ShutdownPeriod  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	DownloadCodeTTL time.Duration `envconfig:"DOWNLOAD_CODE_TTL" default:"15m"`
	WebServicePaths []string      `envconfig:"PASS_WEB_SERVICE_PREFIXES" default:"/v1,/api/v1/wallet"`

	Pass    PassConfig
	APNs    APNsConfig
	WebPush WebPushConfig
	Push    PushConfig
}

// PassConfig describes the pass type this server is the web service for.
type PassConfig struct {
	TypeID        string `envconfig:"TYPE_ID" default:"pass.com.myfidpass.loyalty"`
	TeamID        string `envconfig:"TEAM_ID"`
	Organization  string `envconfig:"ORGANIZATION" default:"MyFidPass"`
	WebServiceURL string `envconfig:"WEB_SERVICE_URL" default:"http://localhost:8080"`
	AuthSecret    string `envconfig:"AUTH_SECRET"`
}

// APNsConfig points at the pass type certificate used for wallet pushes.
type APNsConfig struct {
	CertFile     string `envconfig:"CERT_FILE"`
	KeyFile      string `envconfig:"KEY_FILE"`
	CertPassword string `envconfig:"CERT_PASSWORD"`
	Host         string `envconfig:"HOST" default:"https://api.push.apple.com"`
}

// WebPushConfig holds the VAPID identity used for browser pushes. Both keys
// are base64url, as printed by passctl vapid-keys.
type WebPushConfig struct {
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	Subject         string `envconfig:"SUBJECT" default:"mailto:ops@myfidpass.app"`
}

// PushConfig tunes the change notifier fan-out.
type PushConfig struct {
	SendTimeout  time.Duration `envconfig:"SEND_TIMEOUT" default:"5s"`
	Concurrency  int           `envconfig:"CONCURRENCY" default:"8"`
	PruneInvalid bool          `envconfig:"PRUNE_INVALID" default:"false"`
	LogSize      int64         `envconfig:"LOG_SIZE" default:"50"`
}

// Load reads configuration values from the environment and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.Push.Concurrency <= 0 {
		return fmt.Errorf("PUSH_CONCURRENCY must be positive")
	}
	if c.Push.SendTimeout <= 0 {
		return fmt.Errorf("PUSH_SEND_TIMEOUT must be positive")
	}

	if !c.IsDev() {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.Pass.AuthSecret == "" {
			return fmt.Errorf("PASS_AUTH_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	return nil
}

// IsDev reports whether the app runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// AuthSecret returns the pass auth secret, falling back to a fixed development value.
func (c Config) AuthSecret() string {
	if c.Pass.AuthSecret != "" {
		return c.Pass.AuthSecret
	}
	return "development-only-pass-secret"
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
