package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is one status or error notification on the observability sink.
type Event struct {
	Type      string
	Source    string // component that emitted it
	Payload   map[string]any
	Err       error
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is the observability sink: topic-based pub/sub with a bounded
// history, so status can be inspected after the fact (doctor, tests).
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	nextID     int
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

type namedHandler struct {
	id string
	fn EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: 500,
		logger:     logger,
	}
}

// On registers fn for eventType; "*" receives every event.
// The returned id is used with Off.
func (eb *EventBus) On(eventType string, fn EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{id: id, fn: fn})
	return id
}

func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	hs := eb.handlers[eventType]
	for i, h := range hs {
		if h.id == id {
			eb.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers synchronously.
// A panicking handler is logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	targets := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	targets = append(targets, eb.handlers[event.Type]...)
	targets = append(targets, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range targets {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", h.id, "panic", r)
		}
	}()
	h.fn(event)
}

// Replay returns recorded events of eventType ("*" for all) at or after since.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// Event types.
const (
	EventStoreConnecting     = "store.connecting"
	EventStoreConnected      = "store.connected"
	EventStoreFailed         = "store.failed"
	EventSessionQR           = "session.qr"
	EventSessionAuthFailed   = "session.auth_failed"
	EventSessionReady        = "session.ready"
	EventSessionDisconnected = "session.disconnected"
	EventMessageReceived     = "message.received"
	EventMessageDropped      = "message.dropped"
	EventMessageUnmatched    = "message.unmatched"
	EventReplySent           = "reply.sent"
	EventReplyFailed         = "reply.failed"
)

// LogEvents subscribes a handler that writes every event to logger:
// failures at error level, message traffic at debug, the rest at info.
func LogEvents(eb *EventBus, logger *slog.Logger) string {
	return eb.On("*", func(e Event) {
		attrs := []any{"event", e.Type, "source", e.Source}
		for k, v := range e.Payload {
			attrs = append(attrs, k, v)
		}
		if e.Err != nil {
			attrs = append(attrs, "err", e.Err)
		}
		switch e.Type {
		case EventStoreFailed, EventReplyFailed:
			logger.Error("status", attrs...)
		case EventSessionAuthFailed, EventMessageDropped:
			logger.Warn("status", attrs...)
		case EventMessageReceived, EventMessageUnmatched, EventReplySent:
			logger.Debug("status", attrs...)
		default:
			logger.Info("status", attrs...)
		}
	})
}
