package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow channel subscribers may drop events (bounded backpressure).
//   - Func subscribers see every event, synchronously, and MUST NOT block.
type Event struct {
	Type string
	Time time.Time
	// Keys lists the dotted setting keys touched by a settings mutation.
	Keys []string
	Data any
}

// Affects reports whether the event touched key, either exactly or through a
// parent/child section ("zenMode" affects "zenMode.enabled" and vice versa).
func (e Event) Affects(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	for _, k := range e.Keys {
		if k == key || strings.HasPrefix(k, key+".") || strings.HasPrefix(key, k+".") {
			return true
		}
	}
	return false
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// SubscribeFunc calls fn from Publish for every event. fn must return
	// quickly; it is the lossless alternative to a buffered channel.
	SubscribeFunc(fn func(Event)) (unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}, funcs: map[uint64]func(Event){}}
}

type memBus struct {
	mu    sync.RWMutex
	subs  map[uint64]chan Event
	funcs map[uint64]func(Event)
	seq   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	fns := make([]func(Event), 0, len(b.funcs))
	for _, fn := range b.funcs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}

	for _, ch := range chs {
		// A subscriber may unsubscribe concurrently and close its channel;
		// recover from the resulting send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) SubscribeFunc(fn func(Event)) func() {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.funcs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.funcs, id)
		b.mu.Unlock()
	}
}
