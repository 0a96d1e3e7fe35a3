package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"dynatheme/internal/eventbus"
	logx "dynatheme/pkg/logx"
)

func TestFileStoreKeepsUnrelatedContent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "editor.fontSize": 14,
  "zenMode": { "enabled": false, "hideTabs": true }
}`), 0o644))

	st, err := Open(Config{Path: path}, nil, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.Get(ctx, KeyZenMode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, false, v)

	require.NoError(t, st.Update(ctx, KeyZenMode, true, ScopeGlobal))
	require.NoError(t, st.Update(ctx, KeyColorTheme, "Default Dark+", ScopeGlobal))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(14), gjson.GetBytes(b, `editor\.fontSize`).Int())
	// Nested key patched in place, not duplicated at top level.
	assert.True(t, gjson.GetBytes(b, "zenMode.enabled").Bool())
	assert.True(t, gjson.GetBytes(b, "zenMode.hideTabs").Bool())
	assert.False(t, gjson.GetBytes(b, `zenMode\.enabled`).Exists())
	assert.Equal(t, "Default Dark+", gjson.GetBytes(b, `workbench\.colorTheme`).String())
}

func TestFileStoreRejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o644))
	_, err := Open(Config{Path: path}, nil, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreWorkspaceRequiresPath(t *testing.T) {
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "settings.json")}, nil, logx.Nop())
	require.NoError(t, err)
	err = st.Update(context.Background(), KeyColorTheme, "x", ScopeWorkspace)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFileStoreWatchPublishesExternalEdits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"zenMode.enabled": false}`), 0o644))

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	st, err := Open(Config{Path: path}, bus, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	w, ok := st.(Watcher)
	require.True(t, ok)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	// Give the watcher a moment to register before editing.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"zenMode.enabled": true, "editor.fontSize": 12}`), 0o644)
		select {
		case e := <-events:
			return e.Affects(KeyZenMode)
		default:
			return false
		}
	}, 5*time.Second, 200*time.Millisecond)

	v, _, err := st.Get(ctx, KeyZenMode)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	cancel()
	<-done
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, `workbench\.colorTheme`, escapePath("workbench.colorTheme"))
	assert.Equal(t, `a\*b\.c`, escapePath("a*b.c"))
}
