package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned for malformed or mismatching API keys.
var ErrInvalidAPIKey = errors.New("invalid api key")

const minSecretLen = 16

// Service manages the tenant lifecycle and API key verification.
type Service struct {
	repo Repository
}

// NewService creates a new tenant service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create onboards a tenant and returns its API key ("<id>.<secret>"). The
// secret is generated when empty; only its bcrypt hash is stored.
func (s *Service) Create(ctx context.Context, input CreateInput, secret string) (Tenant, string, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Tenant{}, "", errors.New("tenant name is required")
	}
	program := input.Program
	if program == "" {
		program = ProgramPoints
	}
	if program != ProgramPoints && program != ProgramStamps {
		return Tenant{}, "", errors.New("program must be points or stamps")
	}
	if program == ProgramStamps && input.StampGoal <= 0 {
		return Tenant{}, "", errors.New("stamp programs need a positive stamp goal")
	}

	if secret == "" {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return Tenant{}, "", err
		}
		secret = hex.EncodeToString(buf)
	}
	if len(secret) < minSecretLen {
		return Tenant{}, "", errors.New("api key secret must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Tenant{}, "", err
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	style := input.Style
	if style.Locale == "" {
		style.Locale = "en"
	}

	t := Tenant{
		ID:         id,
		Name:       input.Name,
		Program:    program,
		StampGoal:  input.StampGoal,
		Style:      style,
		APIKeyHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return Tenant{}, "", err
	}
	return t, id + "." + secret, nil
}

// Get retrieves a tenant.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// Authenticate resolves the tenant owning the presented API key.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (Tenant, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(apiKey), ".")
	if !ok || id == "" || secret == "" {
		return Tenant{}, ErrInvalidAPIKey
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tenant{}, ErrInvalidAPIKey
		}
		return Tenant{}, err
	}
	if err := bcrypt.CompareHashAndPassword(t.APIKeyHash, []byte(secret)); err != nil {
		return Tenant{}, ErrInvalidAPIKey
	}
	return t, nil
}
