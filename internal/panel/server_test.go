package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynatheme/internal/command"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

func newTestServer(t *testing.T) (*Server, *channelFixture) {
	t.Helper()
	f := newChannelFixture(t)
	cmds := command.NewRegistry(logx.Nop())
	srv := NewServer(f.ch, cmds, logx.Nop())
	_, err := cmds.Register(command.Command{ID: command.OpenUI, Handle: func(context.Context) (any, error) {
		return srv.Open()
	}})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, f
}

func postJSON(t *testing.T, url string, body any, header map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMessageEndpoint(t *testing.T) {
	srv, f := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/message", map[string]any{"command": CmdLoadSettings}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, map[string]any{
		"command":       CmdUpdateSettings,
		"dayTheme":      settings.DefaultDayTheme,
		"nightTheme":    settings.DefaultNightTheme,
		"dayTime":       settings.DefaultDayTime,
		"nightTime":     settings.DefaultNightTime,
		"enableZenMode": true,
	}, got)

	save := map[string]any{
		"command":       CmdSaveSettings,
		"dayTheme":      "Quiet Light",
		"nightTheme":    "Monokai",
		"dayTime":       "08:00",
		"nightTime":     "20:00",
		"enableZenMode": false,
	}
	resp = postJSON(t, ts.URL+"/api/message", save, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	rec, err := settings.Load(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, "08:00", rec.DayTime)
	assert.False(t, rec.ZenModeEnabled)

	save["dayTime"] = "8:00"
	resp = postJSON(t, ts.URL+"/api/message", save, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/message", map[string]any{"command": "reticulate"}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/message", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestIndexRendersControls(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	html := string(body)
	assert.Equal(t, 2, strings.Count(html, "<select"))
	assert.Equal(t, 2, strings.Count(html, `type="time"`))
	assert.Equal(t, 1, strings.Count(html, `type="checkbox"`))
	assert.Contains(t, html, "Save Settings")
	assert.Contains(t, html, `<option value="Default Dark+">`)
}

func TestOpenRequiresListener(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.Open()
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestPanelSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.Apply(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"}))
	base := "http://" + srv.Addr()

	// Re-applying an unchanged config keeps the listener and its sessions.
	require.NoError(t, srv.Apply(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"}))
	require.Equal(t, base, "http://"+srv.Addr())

	resp := postJSON(t, base+"/api/commands/"+command.OpenUI, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.Len(t, sess.ID, 26)
	assert.Equal(t, base+"/?panel="+sess.ID, sess.URL)

	page, err := http.Get(sess.URL)
	require.NoError(t, err)
	_ = page.Body.Close()
	assert.Equal(t, http.StatusOK, page.StatusCode)

	resp = postJSON(t, base+"/api/message", map[string]any{"command": CmdLoadSettings}, map[string]string{"X-Panel-ID": sess.ID})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	del, err := http.NewRequest(http.MethodDelete, base+"/api/panels/"+sess.ID, nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	_ = dresp.Body.Close()
	assert.Equal(t, http.StatusNoContent, dresp.StatusCode)

	page, err = http.Get(sess.URL)
	require.NoError(t, err)
	_ = page.Body.Close()
	assert.Equal(t, http.StatusNotFound, page.StatusCode)

	resp = postJSON(t, base+"/api/message", map[string]any{"command": CmdLoadSettings}, map[string]string{"X-Panel-ID": sess.ID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.Stop(context.Background())
	assert.Empty(t, srv.Addr())
}

func TestUnknownCommandEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/commands/nope.nothing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	list, err := http.Get(ts.URL + "/api/commands")
	require.NoError(t, err)
	defer list.Body.Close()
	var infos []command.Info
	require.NoError(t, json.NewDecoder(list.Body).Decode(&infos))
	assert.Equal(t, []command.Info{{ID: command.OpenUI}}, infos)
}

func TestMessageEndpointIgnoresUnknownCommandWithOddFields(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/message", map[string]any{"command": "foo", "dayTime": 5, "enableZenMode": "yes"}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/message", map[string]any{"command": CmdSaveSettings, "dayTime": 5}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrossSiteWritesRejected(t *testing.T) {
	srv, f := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	evil := `{"command":"saveSettings","dayTheme":"Evil","nightTheme":"Evil","dayTime":"01:00","nightTime":"02:00","enableZenMode":false}`

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{
			name:   "text/plain body",
			path:   "/api/message",
			header: map[string]string{"Content-Type": "text/plain;charset=UTF-8"},
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "form body",
			path:   "/api/message",
			header: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "foreign origin",
			path:   "/api/message",
			header: map[string]string{"Content-Type": "application/json", "Origin": "https://evil.example"},
			want:   http.StatusForbidden,
		},
		{
			name:   "cross-site fetch metadata",
			path:   "/api/message",
			header: map[string]string{"Content-Type": "application/json", "Sec-Fetch-Site": "cross-site"},
			want:   http.StatusForbidden,
		},
		{
			name:   "command with text/plain",
			path:   "/api/commands/" + command.OpenUI,
			header: map[string]string{"Content-Type": "text/plain"},
			want:   http.StatusUnsupportedMediaType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+tt.path, strings.NewReader(evil))
			require.NoError(t, err)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	rec, err := settings.Read(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), rec)

	// The panel's own origin is accepted.
	resp := postJSON(t, ts.URL+"/api/message", map[string]any{"command": CmdLoadSettings}, map[string]string{"Origin": ts.URL})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForeignHostRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/panels", nil)
	require.NoError(t, err)
	req.Host = "rebound.example:7077"
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, h := range []string{"localhost:7077", "127.0.0.1:7077", "[::1]:7077", "localhost"} {
		assert.True(t, srv.allowedHost(h), h)
	}
	assert.False(t, srv.allowedHost("192.0.2.1:7077"))
}
