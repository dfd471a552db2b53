package storage

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// MemoryPolicyStore is an in-memory implementation of PolicyStore.
type MemoryPolicyStore struct {
	mu      sync.RWMutex
	bundles map[string][]*PolicyBundle
	now     func() time.Time
}

// NewMemoryPolicyStore creates a new MemoryPolicyStore.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		bundles: make(map[string][]*PolicyBundle),
		now:     time.Now,
	}
}

// Save stores a copy of modules as the next version of id unless the latest
// version already has the same content.
func (s *MemoryPolicyStore) Save(_ context.Context, id string, modules map[string]string) (*PolicyBundle, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("bundle id is required")
	}
	digest := Digest(modules)

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.bundles[id]
	if n := len(versions); n > 0 && versions[n-1].Digest == digest {
		return clone(versions[n-1]), false, nil
	}
	bundle := &PolicyBundle{
		ID:      id,
		Version: len(versions) + 1,
		Modules: maps.Clone(modules),
		Digest:  digest,
		SavedAt: s.now(),
	}
	s.bundles[id] = append(versions, bundle)
	return clone(bundle), true, nil
}

// Get retrieves a specific version of a bundle.
func (s *MemoryPolicyStore) Get(_ context.Context, id string, version int) (*PolicyBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.bundles[id]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("%s:%d: %w", id, version, ErrNotFound)
	}
	return clone(versions[version-1]), nil
}

// Latest retrieves the newest version of a bundle.
func (s *MemoryPolicyStore) Latest(_ context.Context, id string) (*PolicyBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.bundles[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return clone(versions[len(versions)-1]), nil
}

// Close is a no-op for memory store.
func (s *MemoryPolicyStore) Close() error {
	return nil
}

func clone(b *PolicyBundle) *PolicyBundle {
	cp := *b
	cp.Modules = maps.Clone(b.Modules)
	return &cp
}
