package bus

import (
	"testing"
	"time"

	"greetbot/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Sender: "u1", Text: "hi"})
	b.Publish(domain.InboundMessage{Sender: "u2", Text: "hello"})

	first := <-b.Subscribe()
	second := <-b.Subscribe()
	if first.Sender != "u1" || second.Sender != "u2" {
		t.Fatalf("expected receipt order u1,u2; got %s,%s", first.Sender, second.Sender)
	}
}

func TestInMemoryBus_DefaultBuffer(t *testing.T) {
	b := New(0, testLogger())
	if cap(b.inbound) != 100 {
		t.Fatalf("expected default buffer 100, got %d", cap(b.inbound))
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close() // idempotent

	b.Publish(domain.InboundMessage{Text: "late"}) // must not panic

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestInMemoryBus_FullQueueDrops(t *testing.T) {
	b := New(1, testLogger())
	b.timeout = 20 * time.Millisecond

	b.Publish(domain.InboundMessage{Text: "one"})
	start := time.Now()
	b.Publish(domain.InboundMessage{Text: "two"})
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish on a full queue should wait before dropping")
	}

	if got := (<-b.Subscribe()).Text; got != "one" {
		t.Fatalf("expected the first message, got %q", got)
	}
	select {
	case m := <-b.Subscribe():
		t.Fatalf("expected the second message to be dropped, got %q", m.Text)
	default:
	}
}

func TestInMemoryBus_FullQueueDrainedInTime(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(domain.InboundMessage{Text: "one"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.InboundMessage{Text: "two"})

	if got := (<-b.Subscribe()).Text; got != "two" {
		t.Fatalf("expected two after drain, got %q", got)
	}
}
