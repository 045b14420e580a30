package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Message, 1)

	sub, err := bus.Subscribe(ctx, "test.subject", func(msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.Publish(ctx, "test.subject", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "hello" {
			t.Errorf("Expected 'hello', got %q", string(msg.Data))
		}
		if msg.Subject != "test.subject" {
			t.Errorf("Expected subject 'test.subject', got %q", msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestMemoryBus_Wildcards(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var star, tail atomic.Int32

	s1, _ := bus.Subscribe(ctx, "affilink.workflow.*", func(msg *Message) { star.Add(1) })
	defer s1.Unsubscribe()
	s2, _ := bus.Subscribe(ctx, SubjectAll, func(msg *Message) { tail.Add(1) })
	defer s2.Unsubscribe()

	bus.Publish(ctx, "affilink.workflow.reported", []byte("1"))
	bus.Publish(ctx, "affilink.workflow.opened", []byte("2"))
	bus.Publish(ctx, "affilink.commands.open", []byte("3"))
	bus.Publish(ctx, "other.thing", []byte("4"))

	time.Sleep(100 * time.Millisecond)

	if star.Load() != 2 {
		t.Errorf("Expected 2 messages on workflow.*, got %d", star.Load())
	}
	if tail.Load() != 3 {
		t.Errorf("Expected 3 messages on affilink.>, got %d", tail.Load())
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var count atomic.Int32

	for i := 0; i < 3; i++ {
		sub, _ := bus.Subscribe(ctx, "fanout", func(msg *Message) {
			count.Add(1)
		})
		defer sub.Unsubscribe()
	}

	bus.Publish(ctx, "fanout", []byte("broadcast"))
	time.Sleep(100 * time.Millisecond)

	if count.Load() != 3 {
		t.Errorf("Expected 3 subscribers to receive message, got %d", count.Load())
	}
}

func TestMemoryBus_QueueGroupDeliversOnce(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var grouped, plain atomic.Int32

	for i := 0; i < 3; i++ {
		sub, _ := bus.QueueSubscribe(ctx, "affilink.commands", "workers", func(msg *Message) {
			grouped.Add(1)
		})
		defer sub.Unsubscribe()
	}
	sub, _ := bus.Subscribe(ctx, "affilink.commands", func(msg *Message) { plain.Add(1) })
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(ctx, "affilink.commands", []byte("cmd"))
	}
	time.Sleep(100 * time.Millisecond)

	if grouped.Load() != 5 {
		t.Errorf("Expected each message once across the group, got %d", grouped.Load())
	}
	if plain.Load() != 5 {
		t.Errorf("Expected plain subscriber to see all 5, got %d", plain.Load())
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	var received atomic.Int32

	sub, _ := bus.Subscribe(ctx, "test", func(msg *Message) {
		received.Add(1)
	})

	bus.Publish(ctx, "test", []byte("1"))
	time.Sleep(50 * time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()

	bus.Publish(ctx, "test", []byte("2"))
	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 message after unsubscribe, got %d", received.Load())
	}
}

func TestPublishEvent(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Message, 1)
	sub, _ := bus.Subscribe(ctx, "affilink.workflow.reported", func(msg *Message) { received <- msg })
	defer sub.Unsubscribe()

	if err := PublishEvent(ctx, bus, "reported", map[string]any{"requestId": "r1"}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case msg := <-received:
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type != "reported" || env.ID == "" || env.Data["requestId"] != "r1" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	if err := PublishEvent(ctx, nil, "reported", nil); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo.bar", "foo.bar", true},
		{"foo.bar", "foo.baz", false},
		{"foo.*", "foo.bar", true},
		{"foo.*", "foo.bar.baz", false},
		{"foo.>", "foo.bar", true},
		{"foo.>", "foo.bar.baz", true},
		{"foo.>", "foo", false},
		{"*.bar", "foo.bar", true},
		{"*.bar", "foo.baz", false},
		{"affilink.workflow.*", "affilink.workflow", false},
		{"affilink.>", "affilink.workflow.link_generated", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.subject, func(t *testing.T) {
			got := matchSubject(tt.pattern, tt.subject)
			if got != tt.want {
				t.Errorf("matchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
			}
		})
	}
}

func TestMemoryBus_ClosedOperations(t *testing.T) {
	bus := NewMemoryBus()
	bus.Close()

	ctx := context.Background()

	if err := bus.Publish(ctx, "test", []byte("data")); err != ErrClosed {
		t.Errorf("Expected ErrClosed on publish, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "test", nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed on subscribe, got %v", err)
	}
	if err := bus.Close(); err != ErrClosed {
		t.Errorf("Expected ErrClosed on second close, got %v", err)
	}
}
