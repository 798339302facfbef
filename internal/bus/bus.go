package bus

import (
	"log/slog"
	"sync"
	"time"

	"greetbot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a buffered Go channel between the session and the responder.
// It has exactly one consumer.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		logger:  logger,
		timeout: publishTimeout,
	}
}

// Publish enqueues msg. When the queue is full it waits up to 10 seconds,
// then drops the message.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus dropped", "channel", msg.Channel, "sender", msg.Sender)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound queue full, waiting", "channel", msg.Channel, "sender", msg.Sender)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		b.logger.Info("message queued after wait", "channel", msg.Channel)
	case <-timer.C:
		b.logger.Error("message dropped: inbound queue full",
			"channel", msg.Channel,
			"sender", msg.Sender,
			"wait", b.timeout,
		)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Close stops the bus. Queued messages can still be drained by the consumer.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
