package loyalty

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
	postings map[string]Posting
}

// NewMemoryRepository builds a concurrency-safe in-memory account store.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		accounts: make(map[string]Account),
		postings: make(map[string]Posting),
	}
}

func postingKey(serial, clientTxID string) string {
	return serial + ":" + clientTxID
}

func (r *memoryRepository) Create(_ context.Context, a Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[a.Serial]; exists {
		return ErrAlreadyExists
	}
	r.accounts[a.Serial] = a
	return nil
}

func (r *memoryRepository) Get(_ context.Context, serial string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[serial]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepository) ListByTenant(_ context.Context, tenantID string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for _, a := range r.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Serial < out[j].Serial
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) ListUpdatedSince(_ context.Context, serials []string, since time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, serial := range serials {
		a, ok := r.accounts[serial]
		if ok && a.LastActivityAt.After(since) {
			out = append(out, serial)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepository) Credit(_ context.Context, p Posting) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[p.Serial]
	if !ok {
		return Account{}, ErrNotFound
	}
	key := postingKey(p.Serial, p.ClientTxID)
	if _, exists := r.postings[key]; exists {
		return a, ErrDuplicatePosting
	}
	if a.Balance+p.Amount < 0 {
		return Account{}, errors.New("balance cannot go negative")
	}

	a.Balance += p.Amount
	if p.At.After(a.LastActivityAt) {
		a.LastActivityAt = p.At
	}
	r.accounts[p.Serial] = a
	r.postings[key] = p
	return a, nil
}

func (r *memoryRepository) Touch(_ context.Context, serials []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, serial := range serials {
		a, ok := r.accounts[serial]
		if !ok || !at.After(a.LastActivityAt) {
			continue
		}
		a.LastActivityAt = at
		r.accounts[serial] = a
	}
	return nil
}

func (r *memoryRepository) DeleteByTenant(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for serial, a := range r.accounts {
		if a.TenantID != tenantID {
			continue
		}
		delete(r.accounts, serial)
		for key, p := range r.postings {
			if p.Serial == serial {
				delete(r.postings, key)
			}
		}
		n++
	}
	return n, nil
}
