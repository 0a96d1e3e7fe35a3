package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynatheme/internal/eventbus"
	"dynatheme/internal/notify"
	"dynatheme/internal/settings"
	logx "dynatheme/pkg/logx"
)

type channelFixture struct {
	store  settings.Store
	events <-chan eventbus.Event
	rec    *notify.Recorder
	ch     *Channel
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	t.Cleanup(unsub)
	st := settings.NewMemory(bus)
	rec := &notify.Recorder{}
	return &channelFixture{store: st, events: events, rec: rec, ch: NewChannel(st, rec, logx.Nop())}
}

func TestLoadSettingsRepliesWithDefaults(t *testing.T) {
	f := newChannelFixture(t)
	reply, err := f.ch.Handle(context.Background(), Message{Command: CmdLoadSettings})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, CmdUpdateSettings, reply.Command)
	assert.Equal(t, settings.Defaults(), reply.Record)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	f := newChannelFixture(t)
	want := settings.Record{
		DayTheme:       "Solarized Light",
		NightTheme:     "Monokai",
		DayTime:        "06:15",
		NightTime:      "21:45",
		ZenModeEnabled: false,
	}
	reply, err := f.ch.Handle(context.Background(), Message{Command: CmdSaveSettings, Record: want})
	require.NoError(t, err)
	assert.Nil(t, reply)

	select {
	case e := <-f.events:
		assert.True(t, e.Affects(settings.Section))
		assert.Len(t, e.Keys, 5)
	case <-time.After(time.Second):
		t.Fatal("expected one change event")
	}

	reply, err = f.ch.Handle(context.Background(), Message{Command: CmdLoadSettings})
	require.NoError(t, err)
	assert.Equal(t, want, reply.Record)
	assert.Empty(t, f.rec.Errors())
}

func TestSaveRejectsMalformedTime(t *testing.T) {
	f := newChannelFixture(t)
	bad := settings.Defaults()
	bad.NightTime = "25:00"

	_, err := f.ch.Handle(context.Background(), Message{Command: CmdSaveSettings, Record: bad})
	require.ErrorIs(t, err, settings.ErrInvalid)
	require.Len(t, f.rec.Errors(), 1)
	assert.Contains(t, f.rec.Errors()[0], "nightTime")

	_, ok, err := f.store.Get(context.Background(), settings.KeyNightTime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveReportsStoreFailure(t *testing.T) {
	f := newChannelFixture(t)
	require.NoError(t, f.store.Close())

	_, err := f.ch.Handle(context.Background(), Message{Command: CmdSaveSettings, Record: settings.Defaults()})
	require.ErrorIs(t, err, settings.ErrClosed)
	assert.Len(t, f.rec.Errors(), 1)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	f := newChannelFixture(t)
	for _, cmd := range []string{"", "deleteEverything", "SaveSettings"} {
		reply, err := f.ch.Handle(context.Background(), Message{Command: cmd, Record: settings.Defaults()})
		require.NoError(t, err, cmd)
		assert.Nil(t, reply, cmd)
	}
	select {
	case e := <-f.events:
		t.Fatalf("unexpected mutation: %v", e.Keys)
	default:
	}
	assert.Empty(t, f.rec.Infos())
	assert.Empty(t, f.rec.Errors())
}

func TestThemeOptions(t *testing.T) {
	f := newChannelFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateMany(ctx, map[string]any{
		settings.KeyNightTheme: "Monokai",
		settings.KeyColorTheme: "Abyss",
		settings.KeyDayTheme:   settings.DefaultNightTheme,
	}, settings.ScopeGlobal))

	assert.Equal(t, []string{settings.DefaultDayTheme, settings.DefaultNightTheme, "Abyss", "Monokai"}, f.ch.ThemeOptions(ctx))
}

func TestHandleJSON(t *testing.T) {
	f := newChannelFixture(t)
	ctx := context.Background()

	reply, err := f.ch.HandleJSON(ctx, []byte(`{"command":"reticulate","dayTime":5,"enableZenMode":"maybe"}`))
	require.NoError(t, err)
	assert.Nil(t, reply)

	_, err = f.ch.HandleJSON(ctx, []byte(`{"command":"saveSettings","dayTime":5}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = f.ch.HandleJSON(ctx, []byte(`[1,2]`))
	require.ErrorIs(t, err, ErrMalformed)

	reply, err = f.ch.HandleJSON(ctx, []byte(`{"command":"loadSettings"}`))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, settings.Defaults(), reply.Record)

	select {
	case e := <-f.events:
		t.Fatalf("unexpected mutation: %v", e.Keys)
	default:
	}
}
