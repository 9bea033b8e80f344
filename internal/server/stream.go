package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cwbudde/primalstall/internal/stall"
)

// EventKind distinguishes stream events
type EventKind string

const (
	EventImprovement EventKind = "improvement"
	EventTick        EventKind = "tick"
	EventStatus      EventKind = "status"
)

// Event is one watchdog decision (or a status snapshot) pushed to SSE clients.
// Topic is the watch or job ID.
type Event struct {
	Topic     string       `json:"id"`
	Kind      EventKind    `json:"kind"`
	Time      float64      `json:"time"`
	Value     *float64     `json:"value,omitempty"`
	Accepted  bool         `json:"accepted,omitempty"`
	Reason    stall.Reason `json:"reason,omitempty"`
	State     string       `json:"state,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventBroadcaster fans events out to the SSE clients of each topic
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan Event]bool // topic -> set of client channels
	lastEvent map[string]Event               // topic -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan Event]bool),
		lastEvent: make(map[string]Event),
	}
}

// Subscribe adds a client to receive events for a topic
func (eb *EventBroadcaster) Subscribe(topic string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16) // buffered so Broadcast never blocks

	if eb.clients[topic] == nil {
		eb.clients[topic] = make(map[chan Event]bool)
	}
	eb.clients[topic][ch] = true

	if last, ok := eb.lastEvent[topic]; ok {
		select {
		case ch <- last:
		default:
		}
	}

	slog.Debug("SSE client subscribed", "topic", topic, "total_clients", len(eb.clients[topic]))
	return ch
}

// Unsubscribe removes a client. It is a no-op if Cleanup already closed the channel.
func (eb *EventBroadcaster) Unsubscribe(topic string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	clients, ok := eb.clients[topic]
	if !ok || !clients[ch] {
		return
	}
	delete(clients, ch)
	close(ch)
	if len(clients) == 0 {
		delete(eb.clients, topic)
	}

	slog.Debug("SSE client unsubscribed", "topic", topic)
}

// Broadcast sends an event to all subscribed clients of its topic
func (eb *EventBroadcaster) Broadcast(event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.Topic] = event

	for ch := range eb.clients[event.Topic] {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE channel full, skipping event", "topic", event.Topic, "kind", event.Kind)
		}
	}
}

// Cleanup closes all clients and drops the cached event of a topic
func (eb *EventBroadcaster) Cleanup(topic string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients[topic] {
		close(ch)
	}
	delete(eb.clients, topic)
	delete(eb.lastEvent, topic)
	slog.Debug("Cleaned up SSE resources", "topic", topic)
}

// Observer returns a stall.Observer that broadcasts under topic
func (eb *EventBroadcaster) Observer(topic string) stall.Observer {
	return &broadcastObserver{eb: eb, topic: topic}
}

type broadcastObserver struct {
	eb    *EventBroadcaster
	topic string
}

func (o *broadcastObserver) ObserveImprovement(value, now float64, accepted bool) {
	event := Event{
		Topic:     o.topic,
		Kind:      EventImprovement,
		Time:      now,
		Accepted:  accepted,
		Timestamp: time.Now(),
	}
	// JSON has no infinity
	if !math.IsInf(value, 0) && !math.IsNaN(value) {
		event.Value = &value
	}
	o.eb.Broadcast(event)
}

func (o *broadcastObserver) ObserveTick(now float64, reason stall.Reason) {
	o.eb.Broadcast(Event{
		Topic:     o.topic,
		Kind:      EventTick,
		Time:      now,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// serveStream streams the events of a topic until the client disconnects,
// the server shuts down or the topic is cleaned up. snapshot is taken after
// subscribing and sent first; if it reports a final state the stream ends
// right after it.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, topic string, snapshot func() (Event, bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.broadcaster.Subscribe(topic)
	defer s.broadcaster.Unsubscribe(topic, events)

	initial, final := snapshot()
	if err := writeSSEEvent(w, initial); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if final {
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "topic", topic)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
