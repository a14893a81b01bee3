// Package seed loads development fixtures from YAML and applies them through
// the tenant and loyalty services.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

// Fixtures is the root of a seed file.
type Fixtures struct {
	Tenants []TenantFixture `yaml:"tenants"`
}

// TenantFixture describes one tenant and its cards.
type TenantFixture struct {
	ID        string           `yaml:"id"`
	Name      string           `yaml:"name"`
	Program   string           `yaml:"program"`
	StampGoal int              `yaml:"stamp_goal"`
	APISecret string           `yaml:"api_secret"`
	Style     StyleFixture     `yaml:"style"`
	Accounts  []AccountFixture `yaml:"accounts"`
}

// StyleFixture mirrors tenant.Style.
type StyleFixture struct {
	Preset          string `yaml:"preset"`
	BackgroundColor string `yaml:"background_color"`
	ForegroundColor string `yaml:"foreground_color"`
	LabelColor      string `yaml:"label_color"`
	BackText        string `yaml:"back_text"`
	Locale          string `yaml:"locale"`
}

// AccountFixture describes one card and its starting balance.
type AccountFixture struct {
	Serial string `yaml:"serial"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Points int64  `yaml:"points"`
}

// Tenants is the tenant service subset used by Apply.
type Tenants interface {
	Get(ctx context.Context, id string) (tenant.Tenant, error)
	Create(ctx context.Context, input tenant.CreateInput, secret string) (tenant.Tenant, string, error)
}

// Accounts is the loyalty service subset used by Apply.
type Accounts interface {
	Get(ctx context.Context, serial string) (loyalty.Account, error)
	Enroll(ctx context.Context, tenantID string, input loyalty.EnrollInput) (loyalty.Account, error)
	Credit(ctx context.Context, input loyalty.CreditInput) (loyalty.CreditResult, error)
}

// Result reports what Apply created. APIKeys holds the key of every tenant
// created in this run, by tenant id.
type Result struct {
	Tenants  int               `json:"tenants_created"`
	Accounts int               `json:"accounts_created"`
	APIKeys  map[string]string `json:"api_keys,omitempty"`
}

// Load reads fixtures from a YAML file.
func Load(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes fixtures and rejects unknown keys.
func Parse(r io.Reader) (Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return Fixtures{}, fmt.Errorf("decode seed file: %w", err)
	}
	for i, t := range fx.Tenants {
		if t.ID == "" {
			return Fixtures{}, fmt.Errorf("tenant #%d: id is required", i+1)
		}
		for j, a := range t.Accounts {
			if a.Serial == "" {
				return Fixtures{}, fmt.Errorf("tenant %s account #%d: serial is required", t.ID, j+1)
			}
			if a.Points < 0 {
				return Fixtures{}, fmt.Errorf("account %s: points must not be negative", a.Serial)
			}
		}
	}
	return fx, nil
}

// Apply creates missing tenants and accounts. Existing rows are left alone and
// starting balances are credited under a fixed transaction id, so running it
// twice changes nothing.
func Apply(ctx context.Context, tenants Tenants, accounts Accounts, fx Fixtures, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := Result{APIKeys: map[string]string{}}

	for _, tf := range fx.Tenants {
		_, err := tenants.Get(ctx, tf.ID)
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			_, key, err := tenants.Create(ctx, tenant.CreateInput{
				ID:        tf.ID,
				Name:      tf.Name,
				Program:   tf.Program,
				StampGoal: tf.StampGoal,
				Style: tenant.Style{
					Preset:          tf.Style.Preset,
					BackgroundColor: tf.Style.BackgroundColor,
					ForegroundColor: tf.Style.ForegroundColor,
					LabelColor:      tf.Style.LabelColor,
					BackText:        tf.Style.BackText,
					Locale:          tf.Style.Locale,
				},
			}, tf.APISecret)
			if err != nil {
				return res, fmt.Errorf("create tenant %s: %w", tf.ID, err)
			}
			res.Tenants++
			res.APIKeys[tf.ID] = key
		case err != nil:
			return res, fmt.Errorf("load tenant %s: %w", tf.ID, err)
		}

		for _, af := range tf.Accounts {
			created, err := ensureAccount(ctx, accounts, tf.ID, af)
			if err != nil {
				return res, err
			}
			if created {
				res.Accounts++
			}
		}
	}

	logger.Info("seed applied", slog.Int("tenants", res.Tenants), slog.Int("accounts", res.Accounts))
	return res, nil
}

func ensureAccount(ctx context.Context, accounts Accounts, tenantID string, af AccountFixture) (bool, error) {
	created := false
	_, err := accounts.Get(ctx, af.Serial)
	switch {
	case errors.Is(err, loyalty.ErrNotFound):
		if _, err := accounts.Enroll(ctx, tenantID, loyalty.EnrollInput{Serial: af.Serial, Name: af.Name, Email: af.Email}); err != nil {
			return false, fmt.Errorf("enroll %s: %w", af.Serial, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("load account %s: %w", af.Serial, err)
	}

	if af.Points == 0 {
		return created, nil
	}
	_, err = accounts.Credit(ctx, loyalty.CreditInput{
		TenantID:   tenantID,
		Serial:     af.Serial,
		Points:     af.Points,
		ClientTxID: "seed:" + af.Serial,
	})
	if err != nil && !errors.Is(err, loyalty.ErrDuplicatePosting) {
		return created, fmt.Errorf("credit %s: %w", af.Serial, err)
	}
	return created, nil
}
