// Package realtime fans out row-change events to connected dashboard
// clients. The hub is in-process only: every successful mutation publishes
// one event, subscribers receive them over buffered channels, and slow
// subscribers lose events rather than applying backpressure to writers.
package realtime

import (
	"sync"
)

// Action describes what happened to a row.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Event is one row change. Record carries the response-shaped row for
// inserts and updates; deletes carry only the id. Internal marks events
// sourced from internal-only chat channels so guest subscribers can be
// skipped without consulting the database.
type Event struct {
	Table    string         `json:"table"`
	Action   Action         `json:"action"`
	ID       string         `json:"id"`
	Record   map[string]any `json:"record,omitempty"`
	Internal bool           `json:"-"`
}

// tables that publish change events. Credentials and auth tables are
// intentionally absent.
var tables = map[string]struct{}{
	"users":         {},
	"clients":       {},
	"projects":      {},
	"phases":        {},
	"tasks":         {},
	"channels":      {},
	"messages":      {},
	"tickets":       {},
	"notifications": {},
}

// IsTable reports whether name is a table the feed publishes.
func IsTable(name string) bool {
	_, ok := tables[name]
	return ok
}

// subscriberBuffer is how many events a subscriber may fall behind before
// the hub starts dropping events for it.
const subscriberBuffer = 64

// Subscriber is one connected client. Read events from Events until the
// channel closes or the connection ends, then call Hub.Unsubscribe.
type Subscriber struct {
	ch       chan Event
	tables   map[string]struct{} // empty means all tables
	internal bool
}

// Events returns the subscriber's event channel. The hub closes it on
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Hub routes published events to subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber. An empty tableNames slice means
// all tables. internal controls whether events from internal-only chat
// channels are delivered.
func (h *Hub) Subscribe(tableNames []string, internal bool) *Subscriber {
	sub := &Subscriber{
		ch:       make(chan Event, subscriberBuffer),
		internal: internal,
	}
	if len(tableNames) > 0 {
		sub.tables = make(map[string]struct{}, len(tableNames))
		for _, name := range tableNames {
			sub.tables[name] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers the event to every matching subscriber. Subscribers
// whose buffers are full miss the event.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.tables != nil {
			if _, ok := sub.tables[event.Table]; !ok {
				continue
			}
		}
		if event.Internal && !sub.internal {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped++
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
