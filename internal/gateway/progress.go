package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ProgressHubService is the service registry key for the progress hub.
const ProgressHubService = "gateway.progress"

// subscriberBuffer bounds per-subscriber queueing; slow readers lose
// events rather than stalling publishers.
const subscriberBuffer = 16

// ProgressEvent is one provisioning progress line, streamed to WebSocket
// subscribers on /ws/runs.
type ProgressEvent struct {
	RunID string    `json:"run_id"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// ProgressHub fans provisioning progress out to WebSocket subscribers.
// Publish never blocks.
type ProgressHub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan ProgressEvent]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub(logger *slog.Logger) *ProgressHub {
	return &ProgressHub{
		logger: logger,
		subs:   make(map[chan ProgressEvent]struct{}),
	}
}

// Publish delivers an event to all current subscribers, dropping it for
// subscribers whose buffer is full.
func (h *ProgressHub) Publish(ev ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *ProgressHub) subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(ch chan ProgressEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// ServeHTTP implements http.Handler: it upgrades to WebSocket and streams
// progress events as JSON until the client disconnects.
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
