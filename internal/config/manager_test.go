package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dynatheme/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParseFormatsAgree(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.json": `{
  "logging": {"level": "debug", "console": false},
  "store": {"driver": "sqlite", "path": "/tmp/s.db", "busy_timeout": "2s"},
  "scheduler": {"timezone": "Europe/Berlin"},
  "panel": {"enabled": false},
  "notify": {"desktop": false, "rate_per_sec": 5}
}`,
		"c.yaml": `
logging:
  level: debug
  console: false
store:
  driver: sqlite
  path: /tmp/s.db
  busy_timeout: 2s
scheduler:
  timezone: Europe/Berlin
panel:
  enabled: false
notify:
  desktop: false
  rate_per_sec: 5
`,
		"c.toml": `
[logging]
level = "debug"
console = false

[store]
driver = "sqlite"
path = "/tmp/s.db"
busy_timeout = "2s"

[scheduler]
timezone = "Europe/Berlin"

[panel]
enabled = false

[notify]
desktop = false
rate_per_sec = 5
`,
	}

	var first *Config
	for name, body := range files {
		p := filepath.Join(dir, name)
		writeFile(t, p, body)
		cfg, err := NewManager(p).Load()
		require.NoError(t, err, name)

		assert.Equal(t, "debug", cfg.Logging.Level, name)
		assert.Equal(t, "sqlite", cfg.Store.Driver, name)
		assert.Equal(t, 2*time.Second, cfg.Store.Settings().BusyTimeout, name)
		assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Schedule().Timezone, name)
		assert.False(t, cfg.Panel.Enabled, name)
		// omitted keys keep their defaults
		assert.Equal(t, "127.0.0.1:7077", cfg.Panel.Addr, name)
		assert.Equal(t, 5, cfg.Notify.RatePerSec, name)

		if first == nil {
			first = cfg
		} else {
			assert.Equal(t, first, cfg, name)
		}
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()

	p := filepath.Join(dir, "unknown.json")
	writeFile(t, p, `{"logging": {"level": "info", "colour": true}}`)
	_, err := NewManager(p).Load()
	require.Error(t, err)

	p = filepath.Join(dir, "trailing.json")
	writeFile(t, p, `{"logging": {"level": "info"}} {}`)
	_, err = NewManager(p).Load()
	require.Error(t, err)

	p = filepath.Join(dir, "unknown.toml")
	writeFile(t, p, "[telegram]\ntoken = \"x\"\n")
	_, err = NewManager(p).Load()
	require.Error(t, err)
}

func TestEmptyPathUsesDefaults(t *testing.T) {
	m := NewManager("")
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "settings.json", filepath.Base(cfg.Store.Path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"driver", func(c *Config) { c.Store.Driver = "etcd" }, "store.driver"},
		{"path", func(c *Config) { c.Store.Path = " " }, "store.path"},
		{"memory needs no path", func(c *Config) { c.Store.Driver = "memory"; c.Store.Path = "" }, ""},
		{"busy timeout", func(c *Config) { c.Store.BusyTimeout = "soon" }, "store.busy_timeout"},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"rate", func(c *Config) { c.Notify.RatePerSec = -1 }, "notify.rate_per_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(c)
			err := Validate(c)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "dynatheme.yaml")
	writeFile(t, p, "logging:\n  level: info\n")

	m := NewManager(p)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)

	// rejected: unknown timezone
	writeFile(t, p, "scheduler:\n  timezone: Nowhere/Land\n")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Scheduler)
	case <-time.After(700 * time.Millisecond):
	}

	writeFile(t, p, "scheduler:\n  timezone: UTC\n")
	select {
	case cfg := <-ch:
		assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
		assert.Equal(t, "UTC", m.Get().Scheduler.Timezone)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}

	cancel()
	<-done
}

func TestSummarizeChange(t *testing.T) {
	a := Defaults()
	b := Defaults()
	sections, _ := SummarizeChange(a, b)
	assert.Empty(t, sections)

	b.Logging.Level = "debug"
	b.Scheduler.Timezone = "UTC"
	b.Notify.RatePerSec = 9
	sections, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging", "scheduler", "notify"}, sections)
	assert.NotEmpty(t, attrs)
}

func TestBusyTimeout(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: DefaultBusyTimeout},
		{raw: "0s", want: DefaultBusyTimeout},
		{raw: " 750ms ", want: 750 * time.Millisecond},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseBusyTimeout(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
		assert.Equal(t, tt.want, StoreConfig{BusyTimeout: tt.raw}.Settings().BusyTimeout, tt.raw)
	}
}
