// Package responder answers inbound messages from the reply rule table.
package responder

import (
	"context"
	"errors"
	"log/slog"

	"greetbot/internal/bus"
	"greetbot/internal/domain"
	"greetbot/internal/rules"
)

// Handle returns the response of the first rule whose MatchText equals the
// message text under Unicode case folding. Whitespace is significant.
func Handle(msg domain.InboundMessage, table []domain.ReplyRule) (string, bool) {
	text := rules.Fold(msg.Text)
	for _, r := range table {
		if rules.Fold(r.MatchText) == text {
			return r.ResponseText, true
		}
	}
	return "", false
}

// Responder consumes the inbound queue on a single goroutine and replies
// to messages that match a rule. Failed replies are reported and dropped.
type Responder struct {
	queue   domain.MessageBus
	replier domain.Replier
	rules   []domain.ReplyRule
	limiter *RateLimiter
	events  *bus.EventBus
	logger  *slog.Logger
}

type Config struct {
	Queue   domain.MessageBus
	Replier domain.Replier
	Rules   []domain.ReplyRule
	Limiter *RateLimiter  // optional
	Events  *bus.EventBus // optional
	Logger  *slog.Logger
}

func New(cfg Config) *Responder {
	return &Responder{
		queue:   cfg.Queue,
		replier: cfg.Replier,
		rules:   cfg.Rules,
		limiter: cfg.Limiter,
		events:  cfg.Events,
		logger:  cfg.Logger,
	}
}

// Run processes messages until ctx is cancelled or the queue is closed.
func (r *Responder) Run(ctx context.Context) {
	in := r.queue.Subscribe()
	r.logger.Info("responder started", "rules", len(r.rules))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				r.logger.Info("responder stopped: queue closed")
				return
			}
			r.process(ctx, msg)
		}
	}
}

func (r *Responder) process(ctx context.Context, msg domain.InboundMessage) {
	payload := map[string]any{"id": msg.ID, "from": msg.Sender, "channel": msg.Channel, "received": msg.Timestamp}

	response, ok := Handle(msg, r.rules)
	if !ok {
		r.report(bus.EventMessageUnmatched, payload, nil)
		return
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}

	if err := r.replier.Reply(ctx, msg.Sender, response); err != nil {
		var serr *domain.SendError
		if !errors.As(err, &serr) {
			err = &domain.SendError{Channel: msg.Channel, To: msg.Sender, Err: err}
		}
		r.report(bus.EventReplyFailed, payload, err)
		return
	}
	r.report(bus.EventReplySent, payload, nil)
}

func (r *Responder) report(eventType string, payload map[string]any, err error) {
	if r.events != nil {
		r.events.Emit(bus.Event{Type: eventType, Source: "responder", Payload: payload, Err: err})
		return
	}
	if err != nil {
		r.logger.Error(eventType, "from", payload["from"], "err", err)
		return
	}
	r.logger.Debug(eventType, "from", payload["from"])
}
