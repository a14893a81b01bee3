package registration

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu   sync.RWMutex
	regs map[Key]Registration
}

// NewMemoryRepository builds an in-memory registration store.
func NewMemoryRepository() Repository {
	return &memoryRepository{regs: make(map[Key]Registration)}
}

func (r *memoryRepository) Upsert(_ context.Context, reg Registration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg.Transport = transportOrDefault(reg.Transport)
	key := reg.Key()
	existing, ok := r.regs[key]
	if ok {
		existing.PushToken = reg.PushToken
		existing.Transport = reg.Transport
		existing.UpdatedAt = reg.UpdatedAt
		r.regs[key] = existing
		return false, nil
	}
	reg.RegisteredAt = reg.UpdatedAt
	r.regs[key] = reg
	return true, nil
}

func (r *memoryRepository) Delete(_ context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, key)
	return nil
}

func (r *memoryRepository) ListForDevice(_ context.Context, deviceID, passTypeID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var serials []string
	for key := range r.regs {
		if key.DeviceID == deviceID && key.PassTypeID == passTypeID {
			serials = append(serials, key.Serial)
		}
	}
	sort.Strings(serials)
	return serials, nil
}

func (r *memoryRepository) ListForSerials(_ context.Context, serials []string) ([]Registration, error) {
	want := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		want[s] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for key, reg := range r.regs {
		if _, ok := want[key.Serial]; ok {
			out = append(out, reg)
		}
	}
	sortRegistrations(out)
	return out, nil
}

func (r *memoryRepository) DeleteForSerials(_ context.Context, serials []string) error {
	want := make(map[string]struct{}, len(serials))
	for _, s := range serials {
		want[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.regs {
		if _, ok := want[key.Serial]; ok {
			delete(r.regs, key)
		}
	}
	return nil
}

func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		if a.Serial != b.Serial {
			return a.Serial < b.Serial
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.PassTypeID < b.PassTypeID
	})
}
