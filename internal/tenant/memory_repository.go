package tenant

import (
	"context"
	"errors"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryRepository builds an in-memory tenant store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{tenants: make(map[string]Tenant)}
}

func (r *memoryRepository) Create(_ context.Context, t Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tenants[t.ID]; exists {
		return errors.New("tenant exists")
	}
	r.tenants[t.ID] = t
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
