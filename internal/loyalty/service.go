package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/amineprimesmr/myfidpass/internal/clock"
	"github.com/amineprimesmr/myfidpass/internal/notifier"
)

// ChangeNotifier fans a change out to every device registered for the serials.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, serials []string, opts ...notifier.Option) notifier.Report
}

// RegistrationPurger removes device registrations for deleted cards on stores
// without cascading deletes.
type RegistrationPurger interface {
	DeleteForSerials(ctx context.Context, serials []string) error
}

// Service implements the merchant-facing account operations.
type Service struct {
	repo     Repository
	notifier ChangeNotifier
	purger   RegistrationPurger
	clock    clock.Clock
	logger   *slog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithRegistrationPurger makes ResetTenant also clear registrations.
func WithRegistrationPurger(p RegistrationPurger) ServiceOption {
	return func(s *Service) { s.purger = p }
}

// NewService constructs a loyalty service. A nil notifier disables fan-out.
func NewService(repo Repository, changes ChangeNotifier, clk clock.Clock, logger *slog.Logger, opts ...ServiceOption) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, notifier: changes, clock: clk, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnrollInput captures a new customer card.
type EnrollInput struct {
	Serial string
	Name   string
	Email  string
}

// CreditInput describes points added to a card.
type CreditInput struct {
	TenantID   string
	Serial     string
	Points     int64
	ClientTxID string
}

// CreditResult is the committed account state plus the best-effort push report.
type CreditResult struct {
	Account   Account
	Duplicate bool
	Fanout    notifier.Report
}

// BroadcastResult reports a tenant-wide refresh.
type BroadcastResult struct {
	Accounts int
	Fanout   notifier.Report
}

// Enroll creates a zero-balance card for the tenant.
func (s *Service) Enroll(ctx context.Context, tenantID string, input EnrollInput) (Account, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	serial := input.Serial
	if serial == "" {
		serial = uuid.NewString()
	}

	now := s.clock.Now()
	account := Account{
		Serial:         serial,
		TenantID:       tenantID,
		Name:           name,
		Email:          strings.TrimSpace(input.Email),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Get returns the current account snapshot.
func (s *Service) Get(ctx context.Context, serial string) (Account, error) {
	return s.repo.Get(ctx, serial)
}

// GetForTenant returns the account only when the tenant owns it.
func (s *Service) GetForTenant(ctx context.Context, tenantID, serial string) (Account, error) {
	account, err := s.repo.Get(ctx, serial)
	if err != nil {
		return Account{}, err
	}
	if account.TenantID != tenantID {
		return Account{}, ErrNotFound
	}
	return account, nil
}

// Credit commits the points first, then notifies devices. Push failures only
// show up in the returned report. A replayed ClientTxID returns the current
// account with ErrDuplicatePosting and sends nothing.
func (s *Service) Credit(ctx context.Context, input CreditInput) (CreditResult, error) {
	if input.Points <= 0 {
		return CreditResult{}, fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	if _, err := s.GetForTenant(ctx, input.TenantID, input.Serial); err != nil {
		return CreditResult{}, err
	}

	account, err := s.repo.Credit(ctx, Posting{
		Serial:     input.Serial,
		ClientTxID: input.ClientTxID,
		Amount:     input.Points,
		At:         s.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePosting) {
			return CreditResult{Account: account, Duplicate: true}, err
		}
		return CreditResult{}, err
	}

	result := CreditResult{Account: account}
	if s.notifier != nil {
		result.Fanout = s.notifier.NotifyChanged(ctx, []string{account.Serial})
	}
	return result, nil
}

// Broadcast touches every card of the tenant so devices refetch, optionally
// carrying a message to browser subscribers.
func (s *Service) Broadcast(ctx context.Context, tenantID, message string) (BroadcastResult, error) {
	accounts, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return BroadcastResult{}, err
	}
	serials := make([]string, 0, len(accounts))
	for _, a := range accounts {
		serials = append(serials, a.Serial)
	}

	result := BroadcastResult{Accounts: len(serials)}
	if len(serials) == 0 {
		return result, nil
	}
	if s.notifier == nil {
		if err := s.repo.Touch(ctx, serials, s.clock.Now()); err != nil {
			return BroadcastResult{}, err
		}
		return result, nil
	}
	result.Fanout = s.notifier.NotifyChanged(ctx, serials, notifier.WithMessage(message))
	return result, nil
}

// ResetTenant deletes every card of the tenant along with its postings and
// device registrations.
func (s *Service) ResetTenant(ctx context.Context, tenantID string) (int64, error) {
	var serials []string
	if s.purger != nil {
		accounts, err := s.repo.ListByTenant(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		for _, a := range accounts {
			serials = append(serials, a.Serial)
		}
	}

	n, err := s.repo.DeleteByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if s.purger != nil && len(serials) > 0 {
		if err := s.purger.DeleteForSerials(ctx, serials); err != nil {
			return n, err
		}
	}
	s.logger.Warn("tenant accounts reset", slog.String("tenant_id", tenantID), slog.Int64("accounts", n))
	return n, nil
}
