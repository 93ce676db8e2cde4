// Package realtime fans engine events out to connected control-plane
// clients over buffered channels.
package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
	"github.com/kcalvelli/axios-ai-mail-sub000/core/port/out"

	"github.com/rs/zerolog"
)

// clientBuffer is the per-subscriber frame budget. A client that falls this
// far behind starts losing frames rather than slowing the engine.
const clientBuffer = 256

// Hub implements out.EventPublisher for in-process subscribers, typically
// the SSE handler.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan *domain.Event]struct{}
	log     zerolog.Logger

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan *domain.Event]struct{}),
		log:     log.With().Str("component", "event_hub").Logger(),
	}
}

var _ out.EventPublisher = (*Hub)(nil)

// Publish delivers the event to every subscriber without ever blocking the
// engine. A subscriber with a full buffer loses the frame.
func (h *Hub) Publish(event *domain.Event) {
	if event == nil {
		return
	}
	h.mu.RLock()
	channels := make([]chan *domain.Event, 0, len(h.clients))
	for ch := range h.clients {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- event:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.log.Warn().
				Str("event_type", event.Type).
				Str("account_id", event.AccountID).
				Msg("subscriber buffer full, frame dropped")
		}
	}
}

// Subscribe registers a new client. The caller owns the matching
// Unsubscribe.
func (h *Hub) Subscribe() <-chan *domain.Event {
	ch := make(chan *domain.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("subscribers", count).Msg("client subscribed")
	return ch
}

// Unsubscribe removes the client and closes its channel.
func (h *Hub) Unsubscribe(ch <-chan *domain.Event) {
	h.mu.Lock()
	for c := range h.clients {
		if c == ch {
			delete(h.clients, c)
			close(c)
			break
		}
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("subscribers", count).Msg("client unsubscribed")
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Metrics holds delivery counters for the health surface.
type Metrics struct {
	Subscribers   int   `json:"subscribers"`
	EventsSent    int64 `json:"events_sent"`
	EventsDropped int64 `json:"events_dropped"`
}

func (h *Hub) Metrics() Metrics {
	return Metrics{
		Subscribers:   h.Subscribers(),
		EventsSent:    h.sent.Load(),
		EventsDropped: h.dropped.Load(),
	}
}

// SerializeEvent renders an event as one SSE data payload.
func SerializeEvent(event *domain.Event) ([]byte, error) {
	return json.Marshal(event)
}
