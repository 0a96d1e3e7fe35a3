package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"dynatheme/internal/eventbus"
)

// normalizeValue round-trips v through JSON so every driver stores and
// compares the same shapes (numbers become float64, etc.).
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: value not JSON encodable: %v", ErrInvalid, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValues(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalid)
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func equalValue(a, b any) bool { return reflect.DeepEqual(a, b) }

func publishChanged(bus eventbus.Bus, keys []string, scope Scope) {
	if bus == nil || len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	bus.Publish(eventbus.Event{Type: EventChanged, Keys: keys, Data: scope})
}

// String reads key as a string, returning def when unset.
func String(ctx context.Context, r Reader, key, def string) (string, error) {
	v, ok, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok || v == nil {
		return def, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", fmt.Errorf("%w: %s: expected string, got %T", ErrInvalid, key, v)
	}
	return s, nil
}

// Bool reads key as a bool, returning def when unset.
func Bool(ctx context.Context, r Reader, key string, def bool) (bool, error) {
	v, ok, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || v == nil {
		return def, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: %s: expected bool, got %T", ErrInvalid, key, v)
	}
	return b, nil
}

func validScope(scope Scope) error {
	if scope != ScopeGlobal && scope != ScopeWorkspace {
		return fmt.Errorf("%w: unknown scope %d", ErrInvalid, int(scope))
	}
	return nil
}
