package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// ProgressHub fans screening progress events out to websocket subscribers.
// Events are advisory: a slow or disconnected subscriber is dropped rather
// than allowed to stall the run.
type ProgressHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.ProgressEvent]struct{}
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
}

// NewProgressHub creates a new progress event hub
func NewProgressHub(logger *logrus.Logger) *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]map[chan domain.ProgressEvent]struct{}),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API already applies CORS; the websocket handshake follows it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish delivers an event to every subscriber of its run. Never blocks:
// subscribers with a full buffer miss the event.
func (h *ProgressHub) Publish(event domain.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *ProgressHub) subscribe(runID string) chan domain.ProgressEvent {
	ch := make(chan domain.ProgressEvent, 64)
	h.mu.Lock()
	if h.subscribers[runID] == nil {
		h.subscribers[runID] = make(map[chan domain.ProgressEvent]struct{})
	}
	h.subscribers[runID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(runID string, ch chan domain.ProgressEvent) {
	h.mu.Lock()
	if subs := h.subscribers[runID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subscribers, runID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// ServeWS upgrades the request and streams progress events for one run until
// the client disconnects.
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"run_id": runID,
			"error":  err,
		}).Warn("Websocket upgrade failed")
		return
	}

	ch := h.subscribe(runID)
	defer h.unsubscribe(runID, ch)
	defer conn.Close()

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
