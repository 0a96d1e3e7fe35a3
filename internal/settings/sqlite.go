package settings

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"dynatheme/internal/eventbus"
	logx "dynatheme/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	bus eventbus.Bus

	// mu orders commit+publish so events arrive in commit order.
	mu sync.Mutex
}

func openSQLite(cfg Config, bus eventbus.Bus, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, bus: bus}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ? ORDER BY scope DESC LIMIT 1`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapClosed(err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("%w: %s: stored value: %v", ErrInvalid, key, err)
	}
	return v, true, nil
}

func (s *sqliteStore) Update(ctx context.Context, key string, value any, scope Scope) error {
	return s.UpdateMany(ctx, map[string]any{key: value}, scope)
}

func (s *sqliteStore) UpdateMany(ctx context.Context, values map[string]any, scope Scope) error {
	if err := validScope(scope); err != nil {
		return err
	}
	nv, err := normalizeValues(values)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapClosed(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	changed := make([]string, 0, len(nv))
	for k, v := range nv {
		var oldRaw string
		err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE scope = ? AND key = ?`, int(scope), k).Scan(&oldRaw)
		had := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if v == nil {
			if !had {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE scope = ? AND key = ?`, int(scope), k); err != nil {
				return err
			}
			changed = append(changed, k)
			continue
		}

		if had {
			var old any
			if json.Unmarshal([]byte(oldRaw), &old) == nil && equalValue(old, v) {
				continue
			}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings(scope, key, value, updated_at) VALUES(?,?,?,?)
			 ON CONFLICT(scope, key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			int(scope), k, string(b), now,
		); err != nil {
			return err
		}
		changed = append(changed, k)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	publishChanged(s.bus, changed, scope)
	return nil
}

func mapClosed(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
