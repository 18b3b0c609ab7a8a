package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Subscription is one in-process listener registered on a Hub.
type Subscription struct {
	ID     uint64
	Roles  []string
	Events <-chan Event

	ch chan Event
}

// Hub is an in-process fan-out sink. Slow subscribers lose events instead of
// stalling delivery to the others.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
	logger *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uint64]*Subscription), logger: logger}
}

// Name implements Sink.
func (h *Hub) Name() string { return "hub" }

// Subscribe registers a listener. The returned function unsubscribes it and
// closes its channel.
func (h *Hub) Subscribe(buffer int, roles []string) (*Subscription, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, buffer)
	sub := &Subscription{ID: h.nextID, Roles: roles, Events: ch, ch: ch}
	if h.closed {
		close(ch)
		return sub, func() {}
	}
	h.subs[sub.ID] = sub
	var once sync.Once
	return sub, func() {
		once.Do(func() { h.remove(sub.ID) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish implements Sink.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrSinkClosed
	}
	for _, sub := range h.subs {
		if !evt.Visible(sub.Roles) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.logger.Warn("hub subscriber lagging, event skipped",
				slog.Uint64("subscriber", sub.ID),
				slog.String("event", string(evt.Name)),
			)
		}
	}
	return nil
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
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

// RolesFunc resolves the roles of the client behind a request.
type RolesFunc func(r *http.Request) []string

// StreamHandler serves the hub as Server-Sent Events.
type StreamHandler struct {
	hub       *Hub
	roles     RolesFunc
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewStreamHandler constructs the SSE endpoint handler.
func NewStreamHandler(hub *Hub, roles RolesFunc, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{hub: hub, roles: roles, heartbeat: 25 * time.Second, logger: logger}
}

func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	var roles []string
	if s.roles != nil {
		roles = s.roles(r)
	}
	sub, unsubscribe := s.hub.Subscribe(64, roles)
	defer unsubscribe()

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				s.logger.Debug("sse write failed", slog.Any("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Name, data)
	_, err = w.Write([]byte(b.String()))
	return err
}
