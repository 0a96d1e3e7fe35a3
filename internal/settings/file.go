package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"dynatheme/internal/eventbus"
	logx "dynatheme/pkg/logx"
)

// fileStore keeps each scope in a settings.json document.
//
// Keys are stored top-level with literal dots ("zenMode.enabled"), the way
// editors write them. Nested objects are read as dotted keys too, and an
// update to a key that already lives in a nested object patches it in place.
type fileStore struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	closed bool
	docs   [2]*fileDoc // workspace may be nil
}

type fileDoc struct {
	path string
	raw  []byte
	flat map[string]string // key -> compact raw JSON value
}

var prettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "    ", SortKeys: false}

func openFile(cfg Config, bus eventbus.Bus, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("settings.path is required for file driver")
	}
	s := &fileStore{log: log, bus: bus}

	g, err := loadDoc(path)
	if err != nil {
		return nil, err
	}
	s.docs[ScopeGlobal] = g

	if wp := strings.TrimSpace(cfg.WorkspacePath); wp != "" {
		w, err := loadDoc(wp)
		if err != nil {
			return nil, err
		}
		s.docs[ScopeWorkspace] = w
	}
	return s, nil
}

func loadDoc(path string) (*fileDoc, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	raw, err := readDoc(path)
	if err != nil {
		return nil, err
	}
	return &fileDoc{path: path, raw: raw, flat: flatten(raw)}, nil
}

func readDoc(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(b) || !gjson.ParseBytes(b).IsObject() {
		return nil, fmt.Errorf("%s: settings document must be a JSON object", path)
	}
	return b, nil
}

// flatten maps every leaf of the document to its dotted key.
func flatten(raw []byte) map[string]string {
	out := map[string]string{}
	var walk func(prefix string, r gjson.Result)
	walk = func(prefix string, r gjson.Result) {
		r.ForEach(func(k, v gjson.Result) bool {
			key := k.String()
			if prefix != "" {
				key = prefix + "." + key
			}
			if v.IsObject() {
				walk(key, v)
			} else {
				out[key] = string(pretty.Ugly([]byte(v.Raw)))
			}
			return true
		})
	}
	walk("", gjson.ParseBytes(raw))
	return out
}

func (s *fileStore) Get(ctx context.Context, key string) (any, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	for _, sc := range []Scope{ScopeWorkspace, ScopeGlobal} {
		d := s.docs[sc]
		if d == nil {
			continue
		}
		if raw, ok := d.flat[key]; ok {
			return gjson.Parse(raw).Value(), true, nil
		}
	}
	return nil, false, nil
}

func (s *fileStore) Update(ctx context.Context, key string, value any, scope Scope) error {
	return s.UpdateMany(ctx, map[string]any{key: value}, scope)
}

func (s *fileStore) UpdateMany(ctx context.Context, values map[string]any, scope Scope) error {
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
	d := s.docs[scope]
	if d == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no %s settings file configured", ErrInvalid, scope)
	}

	raw := append([]byte(nil), d.raw...)
	for k, v := range nv {
		p := pathFor(raw, k)
		if v == nil {
			raw, err = sjson.DeleteBytes(raw, p)
		} else {
			raw, err = sjson.SetBytes(raw, p, v)
		}
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("settings: patch %s: %w", k, err)
		}
	}
	flat := flatten(raw)
	changed := diffKeys(d.flat, flat, nv)
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}

	raw = pretty.PrettyOptions(raw, prettyOptions)
	if err := writeAtomic(d.path, raw); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("settings: write %s: %w", d.path, err)
	}
	d.raw = bytes.TrimSpace(raw)
	d.flat = flat
	s.mu.Unlock()

	publishChanged(s.bus, changed, scope)
	return nil
}

// pathFor picks the sjson path for key: the literal top-level key unless the
// document already stores it as a nested object.
func pathFor(raw []byte, key string) string {
	escaped := escapePath(key)
	if gjson.GetBytes(raw, escaped).Exists() {
		return escaped
	}
	if strings.Contains(key, ".") && gjson.GetBytes(raw, key).Exists() {
		return key
	}
	return escaped
}

func escapePath(key string) string {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		parts[i] = gjson.Escape(p)
	}
	return strings.Join(parts, `\.`)
}

// diffKeys returns the keys whose presence or value differs between the two
// flattened documents. When only is non-nil the comparison is limited to it.
func diffKeys(before, after map[string]string, only map[string]any) []string {
	var changed []string
	if only != nil {
		for k := range only {
			a, okA := before[k]
			b, okB := after[k]
			if okA != okB || a != b {
				changed = append(changed, k)
			}
		}
		return changed
	}
	for k, a := range before {
		if b, ok := after[k]; !ok || a != b {
			changed = append(changed, k)
		}
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			changed = append(changed, k)
		}
	}
	return changed
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// reload re-reads one scope from disk and publishes the keys that changed.
func (s *fileStore) reload(scope Scope) {
	s.mu.Lock()
	d := s.docs[scope]
	if d == nil || s.closed {
		s.mu.Unlock()
		return
	}
	raw, err := readDoc(d.path)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("settings reload failed; keeping previous", logx.String("path", d.path), logx.Err(err))
		return
	}
	flat := flatten(raw)
	changed := diffKeys(d.flat, flat, nil)
	d.raw = raw
	d.flat = flat
	s.mu.Unlock()

	if len(changed) > 0 {
		s.log.Debug("settings changed on disk", logx.String("scope", scope.String()), logx.Strings("keys", changed))
	}
	publishChanged(s.bus, changed, scope)
}

// Watch follows external edits of the settings documents until ctx ends.
// A broken watcher is recreated with a jittered exponential backoff.
func (s *fileStore) Watch(ctx context.Context) error {
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
		debounceDelay      = 150 * time.Millisecond
	)

	s.mu.Lock()
	files := map[string]Scope{}
	dirs := map[string]struct{}{}
	for sc, d := range s.docs {
		if d == nil {
			continue
		}
		abs, err := filepath.Abs(d.path)
		if err != nil {
			abs = d.path
		}
		files[abs] = Scope(sc)
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	s.mu.Unlock()

	var (
		timerMu sync.Mutex
		timers  = map[Scope]*time.Timer{}
	)
	debounce := func(sc Scope) {
		timerMu.Lock()
		defer timerMu.Unlock()
		if t := timers[sc]; t != nil {
			t.Stop()
		}
		timers[sc] = time.AfterFunc(debounceDelay, func() { s.reload(sc) })
	}
	defer func() {
		timerMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn("settings watch init failed", logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}
		addErr := error(nil)
		for dir := range dirs {
			if err := w.Add(dir); err != nil {
				addErr = err
				break
			}
		}
		if addErr != nil {
			_ = w.Close()
			s.log.Warn("settings watch add failed", logx.Err(addErr))
			if !wait() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		s.log.Debug("settings watcher started", logx.Int("files", len(files)))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				abs, err := filepath.Abs(ev.Name)
				if err != nil {
					abs = ev.Name
				}
				if sc, ok := files[abs]; ok && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce(sc)
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					s.log.Warn("settings watch overflow; forcing reload", logx.Err(err))
					for _, sc := range files {
						debounce(sc)
					}
					continue
				}
				s.log.Warn("settings watch error", logx.Err(err))
			}
		}

		_ = w.Close()
		s.log.Warn("settings watcher stopped; restarting")
		if !wait() {
			return nil
		}
	}
}
