package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/syncer"
)

const subscriberBuffer = 64

// EventHub fans sync lifecycle events out to connected websocket clients.
// Publish never blocks; a subscriber that cannot keep up loses events and
// eventually its connection.
type EventHub struct {
	logger logging.Logger

	mu          sync.Mutex
	subscribers map[chan syncer.Event]struct{}
}

func NewEventHub(logger logging.Logger) *EventHub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventHub{
		logger:      logger,
		subscribers: map[chan syncer.Event]struct{}{},
	}
}

func (h *EventHub) Publish(event syncer.Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer; drop it so the syncer never stalls.
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

func (h *EventHub) subscribe() (chan syncer.Event, func()) {
	ch := make(chan syncer.Event, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount reports how many clients are currently attached.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// CloseRead discards inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	events, cancel := s.hub.subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber lagging")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
