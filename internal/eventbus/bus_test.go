package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAffects(t *testing.T) {
	e := Event{Keys: []string{"zenMode.enabled", "dynamicThemeSwitcher.dayTime"}}

	tests := []struct {
		key  string
		want bool
	}{
		{key: "zenMode.enabled", want: true},
		{key: "zenMode", want: true},
		{key: "dynamicThemeSwitcher", want: true},
		{key: "dynamicThemeSwitcher.nightTime", want: false},
		{key: "zenModeX", want: false},
		{key: "workbench.colorTheme", want: false},
		{key: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Affects(tt.key), tt.key)
	}

	parent := Event{Keys: []string{"zenMode"}}
	assert.True(t, parent.Affects("zenMode.enabled"))
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)

	b.Publish(Event{Type: "settings.changed", Keys: []string{"a"}})
	select {
	case e := <-ch:
		assert.Equal(t, "settings.changed", e.Type)
		assert.False(t, e.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "late"})
	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})

	e := <-ch
	assert.Equal(t, "first", e.Type)
	assert.Len(t, ch, 0)
}

func TestSubscribeFuncSeesEveryEvent(t *testing.T) {
	b := New()
	var got []string
	unsub := b.SubscribeFunc(func(e Event) { got = append(got, e.Type) })

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "tick"})
	}
	b.Publish(Event{Type: "last"})
	require.Len(t, got, 101)
	assert.Equal(t, "last", got[100])

	unsub()
	b.Publish(Event{Type: "late"})
	assert.Len(t, got, 101)
}
