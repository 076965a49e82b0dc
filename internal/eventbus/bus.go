package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event published by the countdown service.
type Type string

const (
	// Unsealed fires once per distinct unseal (first frame with JustUnsealed).
	Unsealed Type = "countdown.unsealed"
	// Rollover fires when a recurring target is replaced by its next occurrence.
	Rollover Type = "countdown.rollover"
	// ConfigInvalid fires when the controller enters the config-invalid state.
	ConfigInvalid Type = "countdown.config_invalid"
	// ConfigRestored fires when a valid configuration brings the controller back.
	ConfigRestored Type = "countdown.config_restored"
	// Resumed fires when a tick was forced by a resume/focus signal or a detected suspension.
	Resumed Type = "countdown.resumed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels.
//   - Slow subscribers drop events (bounded backpressure).
type Event struct {
	Type Type
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending so unsubscribe (write lock) can never
	// close a channel mid-send. Sends are non-blocking so this stays short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
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
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
