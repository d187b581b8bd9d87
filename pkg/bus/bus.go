// Package bus implements the process-wide publish/subscribe broker.
//
// Delivery is synchronous from the publisher's viewpoint: Publish returns
// after every current subscriber has run. A failing subscriber never aborts
// delivery to the others and never propagates to the publisher. There is no
// durable queueing; late subscribers do not see prior events.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/models"
)

// Event names published by the core subsystems.
const (
	TopicJudgmentCreated = "judgment:created"
	TopicBlockCreated    = "poj:block:created"
	TopicToolPre         = "tool_pre"
	TopicToolPost        = "tool_post"
	TopicHookReceived    = "hook:received"
	TopicFeedback        = "feedback:received"
	TopicSessionStarted  = "session:started"
	TopicSessionEnded    = "session:ended"
	TopicAnomaly         = "anomaly:detected"
)

// Topics returns every event name the core publishes. Used by the SSE hub
// to mirror the full bus onto connected clients.
func Topics() []string {
	return []string{
		TopicJudgmentCreated,
		TopicBlockCreated,
		TopicToolPre,
		TopicToolPost,
		TopicHookReceived,
		TopicFeedback,
		TopicSessionStarted,
		TopicSessionEnded,
		TopicAnomaly,
	}
}

// Event is a single published occurrence.
type Event struct {
	ID        string    `json:"event_id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and should return quickly; anything slow belongs on a
// handler-owned goroutine.
type Handler func(Event)

// PublishOption customises an event before delivery.
type PublishOption func(*Event)

// WithSource tags the event with its originating subsystem.
func WithSource(source string) PublishOption {
	return func(e *Event) { e.Source = source }
}

// WithTimestamp overrides the auto-assigned timestamp.
func WithTimestamp(ts time.Time) PublishOption {
	return func(e *Event) { e.Timestamp = ts }
}

// Bus is a name-keyed publish/subscribe broker safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers a handler for the named event and returns an
// unsubscribe handle. Calling the handle more than once is a no-op.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[name] == nil {
		b.subs[name] = make(map[uint64]Handler)
	}
	b.subs[name][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if hs, ok := b.subs[name]; ok {
				delete(hs, id)
				if len(hs) == 0 {
					delete(b.subs, name)
				}
			}
		})
	}
}

// Publish delivers payload to every handler currently subscribed to name.
// The subscriber set is snapshotted once per call: handlers added or removed
// mid-delivery do not affect this publish. Returns the delivered event.
func (b *Bus) Publish(name string, payload any, opts ...PublishOption) Event {
	evt := Event{
		ID:        models.NewID("evt"),
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(&evt)
	}

	// Snapshot handlers under the lock, then release before running them.
	// Handlers may themselves subscribe or publish.
	b.mu.RLock()
	hs := b.subs[name]
	handlers := make([]Handler, 0, len(hs))
	for _, h := range hs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(name, h, evt)
	}

	return evt
}

// deliver runs one handler, containing panics so a broken subscriber cannot
// take down the publisher or starve the remaining subscribers.
func (b *Bus) deliver(name string, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"event", name,
				"event_id", evt.ID,
				"panic", r)
		}
	}()
	h(evt)
}

// SubscriberCount returns the number of handlers subscribed to name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
