package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCreateAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	created, apiKey, err := svc.Create(ctx, CreateInput{Name: "Cafe Lumiere"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Program != ProgramPoints {
		t.Fatalf("expected default points program, got %s", created.Program)
	}
	if created.Style.Locale != "en" {
		t.Fatalf("expected default locale en, got %s", created.Style.Locale)
	}
	if !strings.HasPrefix(apiKey, created.ID+".") {
		t.Fatalf("api key %q should be prefixed by tenant id", apiKey)
	}

	authed, err := svc.Authenticate(ctx, apiKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != created.ID {
		t.Fatalf("expected tenant %s, got %s", created.ID, authed.ID)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	created, _, err := svc.Create(ctx, CreateInput{ID: "t1", Name: "Bakery"}, "correct-horse-battery")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, key := range []string{created.ID + ".wrong-secret-value", "missing-dot", "nobody.correct-horse-battery", ""} {
		if _, err := svc.Authenticate(ctx, key); !errors.Is(err, ErrInvalidAPIKey) {
			t.Fatalf("key %q: expected ErrInvalidAPIKey, got %v", key, err)
		}
	}
}

func TestCreateValidatesStampPrograms(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, _, err := svc.Create(context.Background(), CreateInput{Name: "Barber", Program: ProgramStamps}, ""); err == nil {
		t.Fatal("expected stamp goal validation error")
	}
	if _, _, err := svc.Create(context.Background(), CreateInput{Name: "Barber", Program: "miles"}, ""); err == nil {
		t.Fatal("expected program validation error")
	}
}
