package outbox

import (
	"errors"
	"testing"

	"github.com/vikrant48/timepass-chat/pkg/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})
	return store
}

func TestEnqueuePendingAck(t *testing.T) {
	s := newTestStore(t)

	sends := []chat.Outbound{
		{Type: chat.OutboundSend, Conversation: chat.Direct("u2"), ClientID: "c1", SenderID: "u1", Content: "first"},
		{Type: chat.OutboundSend, Conversation: chat.Group("g7"), ClientID: "c2", SenderID: "u1", Content: "second"},
		{Type: chat.OutboundDelete, Conversation: chat.Direct("u2"), MessageID: "m4", SenderID: "u1"},
	}
	for _, out := range sends {
		if err := s.Enqueue(out); err != nil {
			t.Fatalf("enqueue %s: %v", out.Type, err)
		}
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d entries, want 3", len(pending))
	}
	// Flush order is enqueue order.
	if pending[0].Outbound.Content != "first" || pending[2].Outbound.Type != chat.OutboundDelete {
		t.Fatalf("order wrong: %+v", pending)
	}
	if pending[1].Outbound.Conversation != chat.Group("g7") {
		t.Fatalf("conversation lost: %+v", pending[1].Outbound)
	}
	if pending[0].EnqueuedAt.IsZero() {
		t.Fatal("enqueued_at not set")
	}

	if err := s.Ack(pending[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, err := s.Size(); err != nil || n != 2 {
		t.Fatalf("size = %d, %v, want 2", n, err)
	}
}

func TestEnqueueDedupes(t *testing.T) {
	s := newTestStore(t)

	out := chat.Outbound{
		Type:         chat.OutboundSend,
		Conversation: chat.Direct("u2"),
		ClientID:     "c1",
		SenderID:     "u1",
		Content:      "hello",
	}
	if err := s.Enqueue(out); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(out); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if n, _ := s.Size(); n != 1 {
		t.Fatalf("size = %d after duplicate enqueue, want 1", n)
	}

	// A different correlation id is a different send.
	out.ClientID = "c2"
	if err := s.Enqueue(out); err != nil {
		t.Fatalf("enqueue c2: %v", err)
	}
	if n, _ := s.Size(); n != 2 {
		t.Fatalf("size = %d, want 2", n)
	}
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestStore(t)

	err := s.Enqueue(chat.Outbound{Type: chat.OutboundSend, Conversation: chat.Direct("u2")})
	if err == nil {
		t.Fatal("enqueue without sender must fail")
	}
	err = s.Enqueue(chat.Outbound{Type: chat.OutboundSend, SenderID: "u1"})
	if !errors.Is(err, chat.ErrBadConversation) {
		t.Fatalf("enqueue without conversation: %v, want ErrBadConversation", err)
	}
}

func TestMarkAttempt(t *testing.T) {
	s := newTestStore(t)

	out := chat.Outbound{Type: chat.OutboundSend, Conversation: chat.Direct("u2"), ClientID: "c1", SenderID: "u1", Content: "x"}
	if err := s.Enqueue(out); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending, _ := s.Pending()

	if err := s.MarkAttempt(pending[0].ID); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	if err := s.MarkAttempt(pending[0].ID); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}

	pending, _ = s.Pending()
	if pending[0].Attempts != 2 || pending[0].LastAttempt.IsZero() {
		t.Fatalf("entry = %+v, want 2 attempts with last_attempt set", pending[0])
	}
}

func TestAckUnknownEntry(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ack(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ack unknown = %v, want ErrNotFound", err)
	}
	if err := s.MarkAttempt(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark unknown = %v, want ErrNotFound", err)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out := chat.Outbound{Type: chat.OutboundSend, Conversation: chat.Direct("u2"), ClientID: "c1", SenderID: "u1", Content: "durable"}
	if err := s.Enqueue(out); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Outbound.Content != "durable" {
		t.Fatalf("pending after reopen = %+v", pending)
	}
}
