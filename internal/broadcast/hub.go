// Package broadcast fans session events out to live subscribers.
//
// Each subscriber gets a bounded queue. Publish never blocks: a subscriber
// whose queue is full is removed and its channel closed, so every subscriber
// that is still attached has seen every event in order, exactly once.
// Events are not retained; late subscribers start from the next event.
package broadcast

import (
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/metrics"
)

const DefaultBuffer = 64

type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	EmittedAt time.Time `json:"emitted_at"`
	Data      any       `json:"data"`
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Mirror receives a copy of every published event, e.g. a message bus.
type Mirror interface {
	Mirror(e Event)
}

type Subscription struct {
	C <-chan Event

	ch  chan Event
	id  uint64
	hub *Hub
}

// Close detaches the subscription. It is safe to call more than once and
// after the hub dropped or closed it.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}

type Stats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// Hub is the broadcaster for one session.
type Hub struct {
	sessionID string
	buffer    int
	mirror    Mirror

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	seq     uint64
	dropped uint64
	closed  bool
}

func NewHub(sessionID string, buffer int, mirror Mirror) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		sessionID: sessionID,
		buffer:    buffer,
		mirror:    mirror,
		subs:      make(map[uint64]*Subscription),
	}
}

// Subscribe attaches a new subscriber. On a closed hub the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{C: ch, ch: ch, id: h.nextID, hub: h}
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish stamps the event with the next sequence number and delivers it.
func (h *Hub) Publish(eventType string, data any) Event {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		logging.Debug().Str("session_id", h.sessionID).Str("type", eventType).Msg("publish on closed hub")
		return Event{}
	}

	h.seq++
	ev := Event{
		Type:      eventType,
		SessionID: h.sessionID,
		Seq:       h.seq,
		EmittedAt: time.Now().UTC(),
		Data:      data,
	}

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, id)
			close(sub.ch)
			h.dropped++
			metrics.SubscribersDropped.Inc()
			logging.Warn().Str("session_id", h.sessionID).Uint64("subscriber", id).Msg("dropped slow subscriber")
		}
	}
	h.mu.Unlock()

	if h.mirror != nil {
		h.mirror.Mirror(ev)
	}

	return ev
}

// Close detaches every subscriber. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Published: h.seq, Dropped: h.dropped, Subscribers: len(h.subs)}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}
