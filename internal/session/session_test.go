package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"greetbot/internal/bus"
	"greetbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sent struct{ to, text string }

// fakeDriver runs script, then blocks until cancelled.
type fakeDriver struct {
	script  func(ctx context.Context, sink Sink) error
	sendErr error

	mu   sync.Mutex
	sent []sent
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Run(ctx context.Context, sink Sink) error {
	if d.script != nil {
		if err := d.script(ctx, sink); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (d *fakeDriver) Send(_ context.Context, to, text string) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	d.mu.Lock()
	d.sent = append(d.sent, sent{to, text})
	d.mu.Unlock()
	return nil
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	msgs  []domain.InboundMessage
	ready chan struct{}
	once  sync.Once
}

func newRecorder() *recorder { return &recorder{ready: make(chan struct{})} }

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) OnQRChallenge(p string) { r.add("qr:" + p) }
func (r *recorder) OnReady() {
	r.add("ready")
	r.once.Do(func() { close(r.ready) })
}
func (r *recorder) OnMessage(m domain.InboundMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	r.add("msg:" + m.Text)
}
func (r *recorder) OnDisconnected(err error) { r.add(fmt.Sprintf("disconnected:%v", err)) }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func runAsync(t *testing.T, ctx context.Context, s *Session, h domain.SessionHandler) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish in time")
		return nil
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_OrderedDelivery(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.QR("ref-1")
		sink.Authenticated()
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "hi"})
		sink.Message(domain.InboundMessage{Sender: "u2", Text: "hello"})
		sink.Disconnected(nil)
		return nil
	}}
	s := New(d, testLogger(), nil)
	rec := newRecorder()

	if err := wait(t, runAsync(t, context.Background(), s, rec)); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"qr:ref-1", "ready", "msg:hi", "msg:hello", "disconnected:<nil>"}
	if got := rec.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if s.State() != domain.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State())
	}
}

func TestSession_MessagesBeforeReadyDropped(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "early"})
		sink.QR("ref")
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "during-qr"})
		sink.Authenticated()
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "hi"})
		sink.Disconnected(nil)
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "late"})
		return nil
	}}
	rec := newRecorder()

	wait(t, runAsync(t, context.Background(), New(d, testLogger(), eb), rec))

	want := []string{"qr:ref", "ready", "msg:hi", "disconnected:<nil>"}
	if got := rec.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if n := len(eb.Replay(bus.EventMessageDropped, time.Time{})); n != 3 {
		t.Fatalf("expected 3 dropped events, got %d", n)
	}
}

func TestSession_ReadyDeliveredOnce(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		sink.Authenticated()
		sink.QR("after-ready")
		sink.Disconnected(errors.New("gone"))
		sink.Disconnected(errors.New("again"))
		return nil
	}}
	rec := newRecorder()

	wait(t, runAsync(t, context.Background(), New(d, testLogger(), nil), rec))

	want := []string{"ready", "disconnected:gone"}
	if got := rec.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSession_AuthFailureReissuesChallenge(t *testing.T) {
	eb := bus.NewEventBus(testLogger())
	var s *Session
	var stateAfterFailure domain.SessionState
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.QR("first")
		sink.AuthFailed(domain.ErrQRExpired)
		stateAfterFailure = s.State()
		sink.QR("second")
		sink.Authenticated()
		return nil
	}}
	s = New(d, testLogger(), eb)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s, rec)
	<-rec.ready
	cancel()
	wait(t, done)

	if stateAfterFailure != domain.StateAwaitingQRScan {
		t.Fatalf("expected awaiting_qr_scan after failure, got %s", stateAfterFailure)
	}
	want := []string{"qr:first", "qr:second", "ready", "disconnected:<nil>"}
	if got := rec.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	failed := eb.Replay(bus.EventSessionAuthFailed, time.Time{})
	if len(failed) != 1 {
		t.Fatalf("expected one auth_failed event, got %d", len(failed))
	}
	var aerr *domain.AuthenticationError
	if !errors.As(failed[0].Err, &aerr) || !errors.Is(aerr, domain.ErrQRExpired) {
		t.Fatalf("expected AuthenticationError wrapping ErrQRExpired, got %v", failed[0].Err)
	}
}

func TestSession_DriverStartFailure(t *testing.T) {
	d := &fakeDriver{script: func(context.Context, Sink) error {
		return errors.New("chrome not found")
	}}
	s := New(d, testLogger(), nil)
	rec := newRecorder()

	err := wait(t, runAsync(t, context.Background(), s, rec))
	if err == nil {
		t.Fatal("expected start error")
	}
	if len(rec.snapshot()) != 0 {
		t.Fatalf("handler should not be called, got %v", rec.snapshot())
	}
	if s.State() != domain.StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State())
	}
}

func TestSession_DriverErrorAfterStartDisconnects(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		return errors.New("socket closed")
	}}
	rec := newRecorder()

	if err := wait(t, runAsync(t, context.Background(), New(d, testLogger(), nil), rec)); err != nil {
		t.Fatalf("expected nil error after start, got %v", err)
	}
	want := []string{"ready", "disconnected:socket closed"}
	if got := rec.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSession_CancelDisconnects(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		return nil
	}}
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, New(d, testLogger(), nil), rec)

	<-rec.ready
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := rec.snapshot()
	if got[len(got)-1] != "disconnected:<nil>" {
		t.Fatalf("expected final disconnect, got %v", got)
	}
}

func TestSession_FillsMessageDefaults(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "hi"})
		sink.Disconnected(nil)
		return nil
	}}
	rec := newRecorder()
	wait(t, runAsync(t, context.Background(), New(d, testLogger(), nil), rec))

	if len(rec.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(rec.msgs))
	}
	m := rec.msgs[0]
	if m.ID == "" || m.Channel != "fake" || m.Timestamp.IsZero() {
		t.Fatalf("expected id, channel and timestamp to be set, got %+v", m)
	}
}

func TestSession_ReplyRequiresReady(t *testing.T) {
	d := &fakeDriver{}
	s := New(d, testLogger(), nil)

	err := s.Reply(context.Background(), "u1", "hi")
	var serr *domain.SendError
	if !errors.As(err, &serr) || !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected SendError wrapping ErrNotReady, got %v", err)
	}
	if serr.To != "u1" {
		t.Fatalf("expected recipient u1, got %q", serr.To)
	}
}

func TestSession_ReplyWhenReady(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		return nil
	}}
	s := New(d, testLogger(), nil)
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, s, rec)
	<-rec.ready

	if err := s.Reply(ctx, "u1", "hello back"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	cancel()
	wait(t, done)

	if len(d.sent) != 1 || d.sent[0] != (sent{"u1", "hello back"}) {
		t.Fatalf("unexpected sends: %+v", d.sent)
	}
}

func TestSession_ReplyWrapsDriverError(t *testing.T) {
	cause := errors.New("rate limited")
	d := &fakeDriver{sendErr: cause, script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		return nil
	}}
	s := New(d, testLogger(), nil)
	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(t, ctx, s, rec)
	<-rec.ready

	err := s.Reply(ctx, "u1", "x")
	var serr *domain.SendError
	if !errors.As(err, &serr) || !errors.Is(err, cause) {
		t.Fatalf("expected SendError wrapping cause, got %v", err)
	}
	cancel()
	wait(t, done)
}

func TestSession_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	d := &fakeDriver{script: func(_ context.Context, sink Sink) error {
		sink.Authenticated()
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "boom"})
		sink.Message(domain.InboundMessage{Sender: "u1", Text: "ok"})
		sink.Disconnected(nil)
		return nil
	}}
	h := &panicky{recorder: newRecorder()}
	wait(t, runAsync(t, context.Background(), New(d, testLogger(), nil), h))

	want := []string{"ready", "msg:ok", "disconnected:<nil>"}
	if got := h.snapshot(); !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

type panicky struct{ *recorder }

func (p *panicky) OnMessage(m domain.InboundMessage) {
	if m.Text == "boom" {
		panic("boom")
	}
	p.recorder.OnMessage(m)
}
