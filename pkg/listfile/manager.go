package listfile

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager caches one Storage per mappings directory.
// Storages are replaced wholesale, never mutated, so a caller holding a
// *Storage keeps a consistent view across Invalidate and Clear.
type Manager struct {
	log      *zap.Logger
	load     func(dir string, log *zap.Logger) (*Storage, error)
	mu       sync.RWMutex
	storages map[string]*Storage
	gens     map[string]uint64 // bumped by Invalidate and Clear
	group    singleflight.Group
}

// NewManager creates a manager that loads manifests from disk.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log,
		load:     LoadDir,
		storages: make(map[string]*Storage),
		gens:     make(map[string]uint64),
	}
}

// Get returns the storage for dir, loading it on first use.
// Loading blocks; call it from a worker, not the interactive path.
func (m *Manager) Get(ctx context.Context, dir string) (*Storage, error) {
	key := storageKey(dir)

	m.mu.RLock()
	s, ok := m.storages[key]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	ch := m.group.DoChan(key, func() (any, error) {
		m.mu.Lock()
		s, ok := m.storages[key]
		gen := m.gens[key]
		m.gens[key] = gen // tracked so Clear can reach loads in flight
		m.mu.Unlock()
		if ok {
			return s, nil
		}

		s, err := m.load(dir, m.log)
		if err != nil {
			return nil, err
		}
		// A load that raced with Invalidate or Clear is handed to its
		// waiters but not cached.
		m.mu.Lock()
		if m.gens[key] == gen {
			m.storages[key] = s
		}
		m.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Storage), nil
	}
}

// ResolveByID looks up id in the manifest for dir.
func (m *Manager) ResolveByID(ctx context.Context, dir string, id uint32) (*Record, error) {
	s, err := m.Get(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.ByID(id)
}

// ResolveByPartialPath looks up fragment in the manifest for dir.
func (m *Manager) ResolveByPartialPath(ctx context.Context, dir, fragment string) (*Record, error) {
	s, err := m.Get(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.ByPartialPath(fragment)
}

// Invalidate drops the cached storage for dir. A load already in flight
// is not cached, so the next query reloads.
func (m *Manager) Invalidate(dir string) {
	key := storageKey(dir)
	m.mu.Lock()
	delete(m.storages, key)
	m.gens[key]++
	m.mu.Unlock()
	m.group.Forget(key)
}

// Clear drops every cached storage.
func (m *Manager) Clear() {
	m.mu.Lock()
	keys := make([]string, 0, len(m.gens))
	for key := range m.gens {
		m.gens[key]++
		keys = append(keys, key)
	}
	m.storages = make(map[string]*Storage)
	m.mu.Unlock()
	for _, key := range keys {
		m.group.Forget(key)
	}
}

// Loaded reports whether dir has a cached storage.
func (m *Manager) Loaded(dir string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.storages[storageKey(dir)]
	return ok
}

func storageKey(dir string) string {
	if dir == "" {
		dir = DefaultMappingsDirectory
	}
	return filepath.Clean(dir)
}
