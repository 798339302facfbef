// Package session owns the lifecycle of one messaging-platform login.
//
// A Driver talks to the platform and reports raw observations through a
// Sink. The Session turns those into an ordered stream of handler calls
// and enforces the state machine:
//
//	Unauthenticated -> AwaitingQRScan -> Ready -> Disconnected
//
// OnReady is delivered once and before any OnMessage. Messages seen while
// not Ready are dropped. Disconnected is terminal.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"greetbot/internal/bus"
	"greetbot/internal/domain"
)

// driverStopTimeout bounds how long Run waits for a driver to exit after
// the session has ended.
const driverStopTimeout = 5 * time.Second

// Driver connects to a messaging platform.
type Driver interface {
	// Name identifies the driver in logs and errors.
	Name() string
	// Run blocks until ctx is cancelled or the connection ends. An error
	// returned before the first Sink call means the driver failed to start.
	Run(ctx context.Context, sink Sink) error
	// Send delivers a text message to a platform address.
	Send(ctx context.Context, to, text string) error
}

// Sink receives raw observations from a Driver. Methods are safe for
// concurrent use and never block.
type Sink interface {
	QR(payload string)
	AuthFailed(err error)
	Authenticated()
	Message(msg domain.InboundMessage)
	Disconnected(err error)
}

type eventKind int

const (
	evQR eventKind = iota
	evReady
	evMessage
	evDisconnected
)

type event struct {
	kind    eventKind
	payload string
	msg     domain.InboundMessage
	err     error
}

// Session is a messaging session over a single Driver.
type Session struct {
	driver Driver
	logger *slog.Logger
	events *bus.EventBus

	mu    sync.Mutex
	state domain.SessionState
	queue []event
	wake  chan struct{}
}

// New creates a session in the Unauthenticated state. events may be nil.
func New(driver Driver, logger *slog.Logger, events *bus.EventBus) *Session {
	return &Session{
		driver: driver,
		logger: logger,
		events: events,
		state:  domain.StateUnauthenticated,
		wake:   make(chan struct{}, 1),
	}
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts the driver and delivers events to h one at a time, in the
// order they were observed, until the session disconnects or ctx is
// cancelled. It returns an error only if the driver fails to start.
func (s *Session) Run(ctx context.Context, h domain.SessionHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.driver.Run(ctx, sink{s})
	}()

	s.logger.Info("session starting", "driver", s.driver.Name())

	for {
		select {
		case <-s.wake:
		case err := <-errCh:
			errCh = nil
			if err != nil && ctx.Err() == nil && s.State() == domain.StateUnauthenticated {
				s.mu.Lock()
				s.state = domain.StateDisconnected
				s.mu.Unlock()
				return fmt.Errorf("start %s driver: %w", s.driver.Name(), err)
			}
			s.disconnect(err)
		case <-ctx.Done():
			s.disconnect(nil)
		}

		for _, ev := range s.drain() {
			s.deliver(h, ev)
			if ev.kind == evDisconnected {
				cancel()
				s.awaitDriver(errCh)
				return nil
			}
		}
	}
}

// Reply sends text to a sender through the driver. It fails with a
// *domain.SendError unless the session is Ready.
func (s *Session) Reply(ctx context.Context, to, text string) error {
	if st := s.State(); st != domain.StateReady {
		return &domain.SendError{Channel: s.driver.Name(), To: to, Err: fmt.Errorf("%w (state %s)", domain.ErrNotReady, st)}
	}
	if err := s.driver.Send(ctx, to, text); err != nil {
		var serr *domain.SendError
		if errors.As(err, &serr) {
			return err
		}
		return &domain.SendError{Channel: s.driver.Name(), To: to, Err: err}
	}
	return nil
}

func (s *Session) awaitDriver(errCh <-chan error) {
	if errCh == nil {
		return
	}
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("driver stopped", "driver", s.driver.Name(), "err", err)
		}
	case <-time.After(driverStopTimeout):
		s.logger.Warn("driver did not stop in time", "driver", s.driver.Name())
	}
}

func (s *Session) deliver(h domain.SessionHandler, ev event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session handler panic", "driver", s.driver.Name(), "panic", r)
		}
	}()
	switch ev.kind {
	case evQR:
		h.OnQRChallenge(ev.payload)
	case evReady:
		h.OnReady()
	case evMessage:
		h.OnMessage(ev.msg)
	case evDisconnected:
		h.OnDisconnected(ev.err)
	}
}

func (s *Session) drain() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// enqueue must be called with s.mu held.
func (s *Session) enqueue(ev event) {
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) emit(eventType string, payload map[string]any, err error) {
	if s.events == nil {
		return
	}
	s.events.Emit(bus.Event{
		Type:    eventType,
		Source:  "session/" + s.driver.Name(),
		Payload: payload,
		Err:     err,
	})
}

func (s *Session) qr(payload string) {
	s.mu.Lock()
	switch s.state {
	case domain.StateReady, domain.StateDisconnected:
		st := s.state
		s.mu.Unlock()
		s.logger.Debug("ignoring qr challenge", "state", st)
		return
	}
	s.state = domain.StateAwaitingQRScan
	s.enqueue(event{kind: evQR, payload: payload})
	s.mu.Unlock()

	s.emit(bus.EventSessionQR, nil, nil)
}

func (s *Session) authFailed(err error) {
	s.mu.Lock()
	switch s.state {
	case domain.StateReady, domain.StateDisconnected:
		s.mu.Unlock()
		return
	}
	s.state = domain.StateAwaitingQRScan
	s.mu.Unlock()

	s.emit(bus.EventSessionAuthFailed, nil, &domain.AuthenticationError{Channel: s.driver.Name(), Err: err})
}

func (s *Session) authenticated() {
	s.mu.Lock()
	switch s.state {
	case domain.StateReady, domain.StateDisconnected:
		s.mu.Unlock()
		return
	}
	s.state = domain.StateReady
	s.enqueue(event{kind: evReady})
	s.mu.Unlock()

	s.emit(bus.EventSessionReady, nil, nil)
}

func (s *Session) message(msg domain.InboundMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Channel == "" {
		msg.Channel = s.driver.Name()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	payload := map[string]any{"id": msg.ID, "from": msg.Sender}

	s.mu.Lock()
	if s.state != domain.StateReady {
		st := s.state
		s.mu.Unlock()
		payload["state"] = st.String()
		s.emit(bus.EventMessageDropped, payload, nil)
		return
	}
	s.enqueue(event{kind: evMessage, msg: msg})
	s.mu.Unlock()

	s.emit(bus.EventMessageReceived, payload, nil)
}

func (s *Session) disconnect(err error) {
	s.mu.Lock()
	if s.state == domain.StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateDisconnected
	s.enqueue(event{kind: evDisconnected, err: err})
	s.mu.Unlock()

	s.emit(bus.EventSessionDisconnected, nil, err)
}

// sink adapts a Session to the Sink interface handed to drivers.
type sink struct{ s *Session }

func (k sink) QR(payload string)                 { k.s.qr(payload) }
func (k sink) AuthFailed(err error)              { k.s.authFailed(err) }
func (k sink) Authenticated()                    { k.s.authenticated() }
func (k sink) Message(msg domain.InboundMessage) { k.s.message(msg) }
func (k sink) Disconnected(err error)            { k.s.disconnect(err) }
