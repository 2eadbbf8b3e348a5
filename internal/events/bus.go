package events

import (
	"fmt"
	"sync"
	"time"
)

// EventName names a lock-state transition published by the vault client.
type EventName string

const (
	EventInit           EventName = "init"
	EventLogin          EventName = "login"
	EventUnlock         EventName = "unlock"
	EventUnlockNoLogin  EventName = "unlock_no_login"
	EventLock           EventName = "lock"
	EventSync           EventName = "sync"
	EventPasswordChange EventName = "passwordChange"
)

// LockState is the observable state of a vault.
type LockState int

const (
	Locked LockState = iota
	Unlocked
)

func (s LockState) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

func (s LockState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is delivered to subscribers. Client is the emitting vault client.
type Event struct {
	Name   EventName
	Client interface{}
	At     time.Time
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous, ordered publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventName][]subscriber
	logger   *Logger
}

// NewBus creates an empty bus.
func NewBus(logger *Logger) *Bus {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Bus{
		handlers: make(map[EventName][]subscriber),
		logger:   logger.WithField("component", "bus"),
	}
}

// Subscription is returned by Subscribe.
type Subscription struct {
	bus  *Bus
	name EventName
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.name, s.id)
	})
}

// Subscribe registers h for name. Handlers run in subscription order.
func (b *Bus) Subscribe(name EventName, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscriber{id: id, handler: h})

	return &Subscription{bus: b, name: name, id: id}
}

// SubscribeChan delivers the named events on a buffered channel. Events are
// dropped when the buffer is full. cancel unsubscribes and closes the channel.
func (b *Bus) SubscribeChan(buffer int, names ...EventName) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	var mu sync.Mutex
	closed := false
	deliver := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.logger.WithField("event", string(e.Name)).Warn("Subscriber channel full, event dropped")
		}
	}

	subs := make([]*Subscription, 0, len(names))
	for _, name := range names {
		subs = append(subs, b.Subscribe(name, deliver))
	}

	cancel := func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	return ch, cancel
}

// Emit delivers an event to the handlers registered when Emit was called.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Emit(name EventName, client interface{}) {
	b.mu.RLock()
	snapshot := append([]subscriber(nil), b.handlers[name]...)
	b.mu.RUnlock()

	event := Event{Name: name, Client: client, At: time.Now()}

	b.logger.WithFields(map[string]interface{}{
		"event":       string(name),
		"subscribers": len(snapshot),
	}).Debug("Emitting event")

	for _, s := range snapshot {
		b.dispatch(s, event)
	}
}

// Count returns the number of handlers for name.
func (b *Bus) Count(name EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *Bus) dispatch(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(map[string]interface{}{
				"event": string(event.Name),
				"panic": fmt.Sprint(r),
			}).Error("Event handler panicked")
		}
	}()
	s.handler(event)
}

func (b *Bus) remove(name EventName, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}
