// Package bootstrap wires the store connector, the messaging session and
// the responder, and runs them until shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"greetbot/internal/bus"
	"greetbot/internal/channel"
	"greetbot/internal/config"
	"greetbot/internal/domain"
	"greetbot/internal/metrics"
	"greetbot/internal/qr"
	"greetbot/internal/responder"
	"greetbot/internal/session"
	"greetbot/internal/store"
)

// Deps are the parts Run wires together.
type Deps struct {
	Driver       session.Driver
	Rules        []domain.ReplyRule
	StoreURL     string
	StoreTimeout time.Duration
	QueueSize    int
	Limiter      *responder.RateLimiter // optional
	Presenter    *qr.Presenter          // optional; QR payloads are logged when nil
	Events       *bus.EventBus          // optional
	Logger       *slog.Logger

	Metrics         *metrics.Bot // optional
	MetricsAddr     string       // serve Metrics here when set
	MetricsEndpoint string
}

// FromConfig builds Deps from a loaded config. QR codes are written to out.
func FromConfig(cfg *config.Config, logger *slog.Logger, out io.Writer) (Deps, error) {
	driver, err := channel.NewDriver(cfg, logger)
	if err != nil {
		return Deps{}, err
	}
	table, err := cfg.ReplyRules()
	if err != nil {
		return Deps{}, fmt.Errorf("load reply rules: %w", err)
	}

	d := Deps{
		Driver:       driver,
		Rules:        table,
		StoreURL:     cfg.Store.URL,
		StoreTimeout: time.Duration(cfg.Store.ConnectTimeoutSeconds) * time.Second,
		QueueSize:    cfg.Responder.QueueSize,
		Limiter:      responder.NewRateLimiter(cfg.Responder.SendBurst, float64(cfg.Responder.SendRatePerMinute)),
		Presenter:    qr.NewPresenter(qr.Config{Out: out, Link: cfg.Session.QRLink, Logger: logger}),
		Logger:       logger,
	}
	if cfg.Metrics.Enabled {
		d.Metrics = metrics.NewBot()
		d.MetricsAddr = cfg.Metrics.ListenAddr
		d.MetricsEndpoint = cfg.Metrics.Endpoint
	}
	return d, nil
}

// Run starts the store connection in the background, then runs the session
// and responder until ctx is cancelled or the session ends. A store failure
// is logged and does not stop the bot. Run returns an error only when the
// session driver fails to start.
func Run(ctx context.Context, d Deps) error {
	logger := d.Logger
	events := d.Events
	if events == nil {
		events = bus.NewEventBus(logger)
	}
	logID := bus.LogEvents(events, logger)
	defer events.Off("*", logID)

	if d.Metrics != nil {
		metricsID := d.Metrics.Subscribe(events)
		defer events.Off("*", metricsID)
		if d.MetricsAddr != "" {
			go func() {
				if err := metrics.Serve(ctx, d.MetricsAddr, d.MetricsEndpoint, d.Metrics.Collector, logger); err != nil {
					logger.Error("metrics server failed", "addr", d.MetricsAddr, "err", err)
				}
			}()
		}
	}

	connector := store.NewConnector(store.ConnectorConfig{
		Timeout: d.StoreTimeout,
		Events:  events,
		Logger:  logger.With("component", "store"),
	})
	storeCtx, cancelStore := context.WithCancel(ctx)
	defer cancelStore()
	storeResult := connector.Connect(storeCtx, d.StoreURL)

	var handle *store.Handle
	storeDone := make(chan struct{})
	go func() {
		defer close(storeDone)
		if res := <-storeResult; res.Err == nil {
			handle = res.Handle
		}
	}()

	queue := bus.New(d.QueueSize, logger.With("component", "queue"))
	sess := session.New(d.Driver, logger.With("component", "session"), events)
	resp := responder.New(responder.Config{
		Queue:   queue,
		Replier: sess,
		Rules:   d.Rules,
		Limiter: d.Limiter,
		Events:  events,
		Logger:  logger.With("component", "responder"),
	})

	respCtx, cancelResp := context.WithCancel(ctx)
	defer cancelResp()
	respDone := make(chan struct{})
	go func() {
		defer close(respDone)
		resp.Run(respCtx)
	}()

	err := sess.Run(ctx, &handler{presenter: d.Presenter, queue: queue, logger: logger})

	queue.Close()
	cancelResp()
	<-respDone

	cancelStore()
	<-storeDone
	if handle != nil {
		if cerr := handle.Close(); cerr != nil {
			logger.Warn("store close failed", "err", cerr)
		}
	}
	return err
}

// handler receives session events on the session's delivery goroutine.
type handler struct {
	presenter *qr.Presenter
	queue     domain.MessageBus
	logger    *slog.Logger
}

func (h *handler) OnQRChallenge(payload string) {
	if h.presenter == nil {
		h.logger.Info("pairing code issued", "payload", payload)
		return
	}
	h.presenter.Present(payload)
}

func (h *handler) OnReady() {
	h.logger.Info("bot ready, answering messages")
}

func (h *handler) OnMessage(msg domain.InboundMessage) {
	h.queue.Publish(msg)
}

func (h *handler) OnDisconnected(err error) {
	if err != nil {
		h.logger.Warn("session disconnected", "err", err)
		return
	}
	h.logger.Info("session closed")
}
