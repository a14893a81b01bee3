// Package protocol implements the wallet web service: device registration,
// change polling, pass delivery and unregistration.
package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/amineprimesmr/myfidpass/internal/clock"
	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/onetime"
	"github.com/amineprimesmr/myfidpass/internal/pass"
	"github.com/amineprimesmr/myfidpass/internal/push"
	"github.com/amineprimesmr/myfidpass/internal/registration"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrBuildFailed         = errors.New("pass build failed")
	ErrInvalidSubscription = errors.New("invalid push subscription")
)

const (
	maxLogLines   = 50
	maxLogLineLen = 1024
)

// Accounts is the account lookup used by the protocol.
type Accounts interface {
	Get(ctx context.Context, serial string) (loyalty.Account, error)
	ListUpdatedSince(ctx context.Context, serials []string, since time.Time) ([]string, error)
}

// Tenants resolves the owner of an account.
type Tenants interface {
	Get(ctx context.Context, id string) (tenant.Tenant, error)
}

// Registrations is the registration store contract used by the protocol.
type Registrations interface {
	Upsert(ctx context.Context, reg registration.Registration) (bool, error)
	Delete(ctx context.Context, key registration.Key) error
	ListForDevice(ctx context.Context, deviceID, passTypeID string) ([]string, error)
}

// Tokens mints and checks per-pass authentication tokens.
type Tokens interface {
	Token(serial string) string
	Verify(serial, presented string) bool
}

// Deps are the collaborators of a Service. Codes, Clock and Logger are optional.
type Deps struct {
	Accounts      Accounts
	Tenants       Tenants
	Registrations Registrations
	Tokens        Tokens
	Builder       pass.Builder
	Codes         onetime.Store
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Config holds the pass type this service answers for and the download code lifetime.
type Config struct {
	PassTypeID      string
	DownloadCodeTTL time.Duration
}

// Service implements the device-facing protocol.
type Service struct {
	cfg  Config
	deps Deps
}

// NewService builds a protocol Service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.DownloadCodeTTL <= 0 {
		cfg.DownloadCodeTTL = 15 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Codes == nil {
		deps.Codes = onetime.NewMemoryStore(deps.Clock)
	}
	return &Service{cfg: cfg, deps: deps}
}

// RegisterInput carries one device registration request.
type RegisterInput struct {
	DeviceID   string
	PassTypeID string
	Serial     string
	Token      string
	PushToken  string
}

// Changed is the poll response.
type Changed struct {
	SerialNumbers []string `json:"serialNumbers"`
	LastUpdated   string   `json:"lastUpdated"`
}

// Artifact is a built pass ready to serve.
type Artifact struct {
	Serial       string
	Bytes        []byte
	LastModified time.Time
}

// Register upserts the registration. It reports whether a new row was created;
// re-registering only refreshes the push token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (bool, error) {
	if !s.deps.Tokens.Verify(in.Serial, in.Token) {
		return false, ErrUnauthorized
	}
	if in.PassTypeID != s.cfg.PassTypeID || in.DeviceID == "" {
		return false, ErrNotFound
	}
	if _, err := s.account(ctx, in.Serial, ErrNotFound); err != nil {
		return false, err
	}

	created, err := s.deps.Registrations.Upsert(ctx, registration.Registration{
		DeviceID:   in.DeviceID,
		PassTypeID: in.PassTypeID,
		Serial:     in.Serial,
		PushToken:  in.PushToken,
		Transport:  registration.TransportAPNs,
		UpdatedAt:  s.deps.Clock.Now(),
	})
	if err != nil {
		return false, errors.Wrapf(err, "upsert registration %s/%s", in.DeviceID, in.Serial)
	}
	return created, nil
}

// ListChanged returns the serials registered to the device whose accounts
// changed after since. The cursor is taken before querying so a change landing
// during the query shows up on the next poll.
func (s *Service) ListChanged(ctx context.Context, deviceID, passTypeID, since string) (Changed, error) {
	out := Changed{SerialNumbers: []string{}, LastUpdated: EncodeCursor(s.deps.Clock.Now())}

	serials, err := s.deps.Registrations.ListForDevice(ctx, deviceID, passTypeID)
	if err != nil {
		return Changed{}, errors.Wrapf(err, "list registrations for %s", deviceID)
	}
	if len(serials) == 0 {
		return out, nil
	}

	sinceTime, _ := ParseCursor(since)
	updated, err := s.deps.Accounts.ListUpdatedSince(ctx, serials, sinceTime)
	if err != nil {
		return Changed{}, errors.Wrap(err, "list updated accounts")
	}
	if len(updated) > 0 {
		out.SerialNumbers = updated
	}
	return out, nil
}

// FetchArtifact checks the token before touching any store or the builder.
func (s *Service) FetchArtifact(ctx context.Context, passTypeID, serial, token string) (Artifact, error) {
	if !s.deps.Tokens.Verify(serial, token) {
		return Artifact{}, ErrUnauthorized
	}
	if passTypeID != s.cfg.PassTypeID {
		return Artifact{}, ErrNotFound
	}
	return s.build(ctx, serial)
}

// Unregister removes the registration. Missing rows are accepted.
func (s *Service) Unregister(ctx context.Context, deviceID, passTypeID, serial, token string) error {
	if !s.deps.Tokens.Verify(serial, token) {
		return ErrUnauthorized
	}
	key := registration.Key{DeviceID: deviceID, PassTypeID: passTypeID, Serial: serial}
	if err := s.deps.Registrations.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete registration %s/%s", deviceID, serial)
	}
	return nil
}

// LogMessages records device-reported diagnostics.
func (s *Service) LogMessages(_ context.Context, lines []string) {
	if len(lines) > maxLogLines {
		lines = lines[:maxLogLines]
	}
	for _, line := range lines {
		if len(line) > maxLogLineLen {
			line = line[:maxLogLineLen]
		}
		s.deps.Logger.Info("device log", slog.String("message", line))
	}
}

// RegisterWebPush stores a browser subscription for the pass. The device id is
// derived from the endpoint so re-subscribing the same browser overwrites.
func (s *Service) RegisterWebPush(ctx context.Context, serial, token, subscription string) error {
	if !s.deps.Tokens.Verify(serial, token) {
		return ErrUnauthorized
	}
	sub, err := push.ParseSubscription(subscription)
	if err != nil {
		return errors.Mark(err, ErrInvalidSubscription)
	}
	if _, err := s.account(ctx, serial, ErrNotFound); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(sub.Endpoint))
	_, err = s.deps.Registrations.Upsert(ctx, registration.Registration{
		DeviceID:   hex.EncodeToString(sum[:]),
		PassTypeID: registration.WebPushPassTypeID,
		Serial:     serial,
		PushToken:  subscription,
		Transport:  registration.TransportWebPush,
		UpdatedAt:  s.deps.Clock.Now(),
	})
	if err != nil {
		return errors.Wrapf(err, "upsert web push registration for %s", serial)
	}
	return nil
}

// IssueDownloadCode returns a single-use code that downloads the pass without a token.
func (s *Service) IssueDownloadCode(ctx context.Context, serial string) (string, error) {
	return s.deps.Codes.Issue(ctx, serial, s.cfg.DownloadCodeTTL)
}

// Download redeems a download code.
func (s *Service) Download(ctx context.Context, code string) (Artifact, error) {
	serial, err := s.deps.Codes.Redeem(ctx, code)
	if errors.Is(err, onetime.ErrNotFound) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, errors.Wrap(err, "redeem download code")
	}
	return s.build(ctx, serial)
}

// Token exposes the authentication token for a serial to trusted callers.
func (s *Service) Token(serial string) string {
	return s.deps.Tokens.Token(serial)
}

func (s *Service) build(ctx context.Context, serial string) (Artifact, error) {
	account, err := s.account(ctx, serial, ErrAccountNotFound)
	if err != nil {
		return Artifact{}, err
	}
	owner, err := s.deps.Tenants.Get(ctx, account.TenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return Artifact{}, ErrTenantNotFound
	}
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "load tenant %s", account.TenantID)
	}

	data, err := s.deps.Builder.Build(ctx, pass.Snapshot{
		Account:   account,
		Tenant:    owner,
		AuthToken: s.deps.Tokens.Token(serial),
	})
	if err != nil {
		s.deps.Logger.Error("build pass",
			slog.String("serial", serial),
			slog.String("tenant_id", owner.ID),
			slog.String("error", fmt.Sprintf("%+v", err)),
		)
		return Artifact{}, errors.Mark(errors.Wrapf(err, "build pass %s", serial), ErrBuildFailed)
	}
	return Artifact{Serial: serial, Bytes: data, LastModified: account.LastActivityAt}, nil
}

func (s *Service) account(ctx context.Context, serial string, notFound error) (loyalty.Account, error) {
	account, err := s.deps.Accounts.Get(ctx, serial)
	if errors.Is(err, loyalty.ErrNotFound) {
		return loyalty.Account{}, notFound
	}
	if err != nil {
		return loyalty.Account{}, errors.Wrapf(err, "load account %s", serial)
	}
	return account, nil
}
