// CLAUDE:SUMMARY Session event surface: typed events fanned out to dynamic subscribers, best-effort delivery.
package harvest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names one kind of session event.
type EventType string

const (
	EventSession    EventType = "session"    // session started or resumed
	EventNavigation EventType = "navigation" // one listing page fetched
	EventCount      EventType = "count"      // site-reported result total
	EventPage       EventType = "page"       // one listing page ingested
	EventResume     EventType = "resume"     // one new candidate discovered
	EventProfile    EventType = "profile"    // one detail fetch settled
	EventProgress   EventType = "progress"   // full progress snapshot
	EventMetrics    EventType = "metrics"    // pacing retuned
	EventError      EventType = "error"      // a failure was recorded
	EventControl    EventType = "control"    // pause/resume acknowledged
	EventDone       EventType = "done"       // session reached a terminal status
)

// Event is one observation from a running session. Data is shaped per
// type; every event names the session it belongs to.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	At        int64     `json:"at"` // unix ms
	Data      any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Delivery is best-effort: a
// subscriber that cannot keep up loses events rather than stalling the
// session that produced them. Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Int64

	logger *slog.Logger
}

// NewBus builds an event bus. A nil logger falls back to slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan Event), logger: logger}
}

// Subscribe registers a listener and returns its channel plus a cancel
// func. buf bounds how far the listener may lag; past that, events for
// this listener are dropped. Cancel closes the channel.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber without blocking. A zero At
// is stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("harvest: event dropped", "type", ev.Type, "subscriber", id)
		}
	}
}

// Dropped returns how many events were lost to slow subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close ends delivery and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
