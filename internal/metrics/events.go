package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"greetbot/internal/bus"
	"greetbot/internal/domain"
)

// Bot holds the greetbot instruments.
type Bot struct {
	*Collector

	MessagesReceived  *Counter
	MessagesDropped   *Counter
	MessagesUnmatched *Counter
	RepliesSent       *Counter
	RepliesFailed     *Counter
	QRChallenges      *Counter
	AuthFailures      *Counter
	SessionState      *Gauge
	StoreStatus       *Gauge
	ReplyLatency      *Histogram
}

func NewBot() *Bot {
	c := NewCollector("greetbot")
	return &Bot{
		Collector:         c,
		MessagesReceived:  c.Counter("greetbot_messages_received_total", "Messages delivered by the session", ""),
		MessagesDropped:   c.Counter("greetbot_messages_dropped_total", "Messages dropped because the session was not ready", ""),
		MessagesUnmatched: c.Counter("greetbot_messages_unmatched_total", "Messages that matched no rule", ""),
		RepliesSent:       c.Counter("greetbot_replies_total", "Reply attempts by result", `result="sent"`),
		RepliesFailed:     c.Counter("greetbot_replies_total", "Reply attempts by result", `result="failed"`),
		QRChallenges:      c.Counter("greetbot_qr_challenges_total", "Pairing codes presented", ""),
		AuthFailures:      c.Counter("greetbot_auth_failures_total", "Failed or expired pairing attempts", ""),
		SessionState:      c.Gauge("greetbot_session_state", "0 unauthenticated, 1 awaiting QR scan, 2 ready, 3 disconnected", ""),
		StoreStatus:       c.Gauge("greetbot_store_status", "0 connecting, 1 connected, 2 failed", ""),
		ReplyLatency: c.Histogram("greetbot_reply_latency_seconds", "Time from message receipt to reply", "",
			[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}),
	}
}

// Subscribe updates the instruments from the event bus and returns the
// subscription id.
func (m *Bot) Subscribe(eb *bus.EventBus) string {
	return eb.On("*", m.observe)
}

func (m *Bot) observe(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		m.MessagesReceived.Inc()
	case bus.EventMessageDropped:
		m.MessagesDropped.Inc()
	case bus.EventMessageUnmatched:
		m.MessagesUnmatched.Inc()
	case bus.EventReplySent:
		m.RepliesSent.Inc()
		if at, ok := e.Payload["received"].(time.Time); ok && !at.IsZero() {
			m.ReplyLatency.Observe(e.Timestamp.Sub(at).Seconds())
		}
	case bus.EventReplyFailed:
		m.RepliesFailed.Inc()
	case bus.EventSessionQR:
		m.QRChallenges.Inc()
		m.SessionState.Set(int64(domain.StateAwaitingQRScan))
	case bus.EventSessionAuthFailed:
		m.AuthFailures.Inc()
		m.SessionState.Set(int64(domain.StateAwaitingQRScan))
	case bus.EventSessionReady:
		m.SessionState.Set(int64(domain.StateReady))
	case bus.EventSessionDisconnected:
		m.SessionState.Set(int64(domain.StateDisconnected))
	case bus.EventStoreConnecting:
		m.StoreStatus.Set(int64(domain.StatusConnecting))
	case bus.EventStoreConnected:
		m.StoreStatus.Set(int64(domain.StatusConnected))
	case bus.EventStoreFailed:
		m.StoreStatus.Set(int64(domain.StatusFailed))
	}
}

// Serve exposes the collector on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, endpoint string, c *Collector, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+endpoint, c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", ln.Addr().String(), "endpoint", endpoint)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
