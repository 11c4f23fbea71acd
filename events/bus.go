package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type identifies a session-level signal.
type Type string

const (
	TokenExpired   Type = "TOKEN_EXPIRED"
	Unauthorized   Type = "UNAUTHORIZED"
	LogoutRequired Type = "LOGOUT_REQUIRED"
)

// Event is the payload delivered to listeners. ID is a per-emit UUID for log
// correlation.
type Event struct {
	ID        string
	Type      Type
	Message   string
	Timestamp time.Time
}

// Listener receives emitted events.
type Listener func(Event)

type subscription struct {
	id       int
	listener Listener
}

// Bus is a synchronous in-memory pub/sub channel for session signals.
// Delivery happens inside Emit, in subscription order. A listener that
// panics is recovered and logged; delivery continues with the remaining
// listeners. Nothing is persisted.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    []subscription
	nowTime func() time.Time
}

// BusOption modifies a Bus.
type BusOption func(*Bus)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) BusOption {
	return func(b *Bus) {
		b.nowTime = nowFunc
	}
}

func NewBus(options ...BusOption) *Bus {
	bus := &Bus{nowTime: time.Now}
	for _, opt := range options {
		opt(bus)
	}
	return bus
}

// Subscribe registers listener and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: listener})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers an event of the given type to every listener, synchronously
// and in subscription order.
func (b *Bus) Emit(eventType Type, message string) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	now := b.nowTime()
	b.mu.Unlock()

	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Message:   message,
		Timestamp: now,
	}
	for _, sub := range subs {
		deliver(sub.listener, event)
	}
}

// Clear removes every listener. Used at full teardown only; normal logout
// leaves subscriptions in place.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

func deliver(listener Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("Event listener panicked")
		}
	}()
	listener(event)
}
