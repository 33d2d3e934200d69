package trust

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by a Store when no profile exists for an identity.
var ErrNotFound = errors.New("profile not found")

// Store persists trust profiles keyed by identity.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, identity string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
	List(ctx context.Context) ([]*Profile, error)
	Delete(ctx context.Context, identity string) error
}

// MemoryStore is an in-process Store. Profiles are copied on the way in
// and out so callers cannot alias stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (m *MemoryStore) Get(_ context.Context, identity string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Identity] = p.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[identity]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, identity)
	return nil
}
