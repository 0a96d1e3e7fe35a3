package settings

import (
	"context"
	"sync"

	"dynatheme/internal/eventbus"
)

type memStore struct {
	bus eventbus.Bus

	mu     sync.RWMutex
	closed bool
	scopes [2]map[string]any
}

// NewMemory returns a process-local store publishing change events on bus.
func NewMemory(bus eventbus.Bus) Store {
	return &memStore{bus: bus, scopes: [2]map[string]any{{}, {}}}
}

func (s *memStore) Get(ctx context.Context, key string) (any, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if v, ok := s.scopes[ScopeWorkspace][key]; ok {
		return v, true, nil
	}
	v, ok := s.scopes[ScopeGlobal][key]
	return v, ok, nil
}

func (s *memStore) Update(ctx context.Context, key string, value any, scope Scope) error {
	return s.UpdateMany(ctx, map[string]any{key: value}, scope)
}

func (s *memStore) UpdateMany(ctx context.Context, values map[string]any, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validScope(scope); err != nil {
		return err
	}
	nv, err := normalizeValues(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	m := s.scopes[scope]
	changed := make([]string, 0, len(nv))
	for k, v := range nv {
		old, had := m[k]
		if v == nil {
			if had {
				delete(m, k)
				changed = append(changed, k)
			}
			continue
		}
		if had && equalValue(old, v) {
			continue
		}
		m[k] = v
		changed = append(changed, k)
	}
	s.mu.Unlock()

	publishChanged(s.bus, changed, scope)
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
