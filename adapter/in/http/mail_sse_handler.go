package http

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/adapter/out/realtime"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

// Keepalive cadence for idle streams. A failed heartbeat flush is also how
// a vanished client is detected.
const heartbeatInterval = 30 * time.Second

// SSEHandler streams engine events (sync progress, classifications,
// errors) to connected clients as server-sent events.
type SSEHandler struct {
	hub *realtime.Hub
	log zerolog.Logger
}

func NewSSEHandler(hub *realtime.Hub, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		hub: hub,
		log: log.With().Str("handler", "sse").Logger(),
	}
}

func (h *SSEHandler) Register(api fiber.Router) {
	api.Get("/events", h.Stream)
	api.Get("/events/status", h.Status)
}

// Stream subscribes the client to the hub and relays frames until the
// connection drops or the hub closes the channel.
func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	events := h.hub.Subscribe()
	h.log.Debug().Str("ip", c.IP()).Msg("event stream connected")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.hub.Unsubscribe(events)
			h.log.Debug().Msg("event stream disconnected")
		}()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		w.WriteString("event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				data, err := realtime.SerializeEvent(event)
				if err != nil {
					h.log.Error().Err(err).Msg("cannot serialize event")
					continue
				}
				w.WriteString("event: ")
				w.WriteString(event.Type)
				w.WriteString("\ndata: ")
				w.Write(data)
				w.WriteString("\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

// Status reports hub occupancy and drop counters.
func (h *SSEHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, h.hub.Metrics())
}
