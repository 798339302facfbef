package channel

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"greetbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// recordingSink records driver observations in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	msgs   []domain.InboundMessage
}

func (s *recordingSink) add(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) QR(p string)          { s.add("qr:" + p) }
func (s *recordingSink) AuthFailed(err error) { s.add("auth_failed:" + err.Error()) }
func (s *recordingSink) Authenticated()       { s.add("authenticated") }
func (s *recordingSink) Message(m domain.InboundMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	s.add("message:" + m.Sender + ":" + m.Text)
}
func (s *recordingSink) Disconnected(err error) { s.add(fmt.Sprintf("disconnected:%v", err)) }

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) messages() []domain.InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InboundMessage(nil), s.msgs...)
}

// waitFor polls until at least n observations were recorded.
func (s *recordingSink) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d observations, got %v", n, s.snapshot())
	return nil
}

func equalStrings(a, b []string) bool {
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
