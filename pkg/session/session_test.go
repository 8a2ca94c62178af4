package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
	"github.com/vikrant48/timepass-chat/pkg/history"
	"github.com/vikrant48/timepass-chat/pkg/outbox"
	"github.com/vikrant48/timepass-chat/pkg/realtime"
)

// fakeChannel is a scripted transport: tests push events in and inspect
// what the session emitted.
type fakeChannel struct {
	events chan realtime.Event

	mu      sync.Mutex
	emitted []chat.Outbound
	typed   []bool
	joined  []string
	emitErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan realtime.Event, 32)}
}

func (f *fakeChannel) Events() <-chan realtime.Event { return f.events }

func (f *fakeChannel) Emit(out chat.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, out)
	return nil
}

func (f *fakeChannel) SendTyping(_ chat.ConversationID, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, isTyping)
	return nil
}

func (f *fakeChannel) JoinGroups(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, ids...)
}

func (f *fakeChannel) Close() { close(f.events) }

func (f *fakeChannel) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

func (f *fakeChannel) emittedOutbounds() []chat.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Outbound(nil), f.emitted...)
}

// fakeFetcher serves a fixed backlog per conversation; an empty cursor
// returns the whole thing as the latest page.
type fakeFetcher struct {
	mu      sync.Mutex
	backlog map[string][]chat.Message
	err     error
}

func (f *fakeFetcher) FetchPage(_ context.Context, conv chat.ConversationID, cursor string, _ int) (history.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return history.Page{}, f.err
	}
	if cursor != "" {
		return history.Page{}, nil
	}
	return history.Page{
		Messages: append([]chat.Message(nil), f.backlog[conv.String()]...),
	}, nil
}

func (f *fakeFetcher) add(conv chat.ConversationID, msgs ...chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backlog == nil {
		f.backlog = make(map[string][]chat.Message)
	}
	f.backlog[conv.String()] = append(f.backlog[conv.String()], msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func remoteMsg(id, senderID string, conv chat.ConversationID, text string) chat.Message {
	return chat.Message{
		ID:           id,
		Sender:       chat.Sender{ID: senderID, Username: senderID},
		Conversation: conv,
		Content:      content.Text(text),
		CreatedAt:    time.Now(),
	}
}

func newTestSession(t *testing.T, ch *fakeChannel, fetcher history.Fetcher, queue *outbox.Store) *Session {
	t.Helper()
	s := New(chat.Sender{ID: "u1", Username: "me"}, ch, fetcher, queue, Options{
		PageSize:     20,
		TypingWindow: 50 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

func TestOpenLoadsHistory(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{}
	conv := chat.Direct("u2")
	fetcher.add(conv, remoteMsg("m1", "u2", conv, "hi"), remoteMsg("m2", "u1", conv, "hey"))

	s := newTestSession(t, ch, fetcher, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	msgs := v.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}

	// Opening again returns the same view.
	again, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again != v {
		t.Fatal("reopen created a second view")
	}
}

func TestOpenGroupJoinsRoom(t *testing.T) {
	ch := newFakeChannel()
	s := newTestSession(t, ch, &fakeFetcher{}, nil)

	if _, err := s.Open(context.Background(), chat.Group("g7")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.joined) != 1 || ch.joined[0] != "g7" {
		t.Fatalf("joined = %v", ch.joined)
	}
}

func TestOpenForbiddenPeer(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{err: history.ErrForbidden}
	s := newTestSession(t, ch, fetcher, nil)

	if _, err := s.Open(context.Background(), chat.Direct("u9")); !errors.Is(err, history.ErrForbidden) {
		t.Fatalf("Open = %v, want ErrForbidden", err)
	}
}

func TestInboundMessageRoutedAndRead(t *testing.T) {
	ch := newFakeChannel()
	conv := chat.Direct("u2")
	s := newTestSession(t, ch, &fakeFetcher{}, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch.events <- realtime.Event{Kind: realtime.KindMessage, Message: remoteMsg("m1", "u2", conv, "hello")}

	waitFor(t, func() bool { return len(v.Messages()) == 1 })
	// Receiving a direct message while the conversation is open marks it
	// read for the sender.
	waitFor(t, func() bool {
		for _, out := range ch.emittedOutbounds() {
			if out.Type == chat.OutboundRead && out.MessageID == "m1" {
				return true
			}
		}
		return false
	})
}

func TestSendRoutedThroughChannel(t *testing.T) {
	ch := newFakeChannel()
	conv := chat.Direct("u2")
	s := newTestSession(t, ch, &fakeFetcher{}, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	local, err := v.Send(content.Text("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !local.Pending {
		t.Fatal("local echo not pending")
	}

	outs := ch.emittedOutbounds()
	if len(outs) != 1 || outs[0].Type != chat.OutboundSend || outs[0].ClientID == "" {
		t.Fatalf("emitted = %+v", outs)
	}

	// Ack settles the optimistic entry under its server id.
	ack := remoteMsg("srv-1", "u1", conv, "hello")
	ack.ClientID = outs[0].ClientID
	ch.events <- realtime.Event{Kind: realtime.KindAck, Message: ack}

	waitFor(t, func() bool {
		msgs := v.Messages()
		return len(msgs) == 1 && msgs[0].ID == "srv-1" && !msgs[0].Pending
	})
}

func TestOfflineSendQueuedAndFlushed(t *testing.T) {
	queue, err := outbox.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer queue.Close()

	ch := newFakeChannel()
	ch.setEmitErr(realtime.ErrNotConnected)
	conv := chat.Direct("u2")
	s := newTestSession(t, ch, &fakeFetcher{}, queue)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := v.Send(content.Text("while offline")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := queue.Size(); n != 1 {
		t.Fatalf("outbox size = %d, want 1", n)
	}
	// The optimistic entry stays visible.
	if msgs := v.Messages(); len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("messages = %+v", msgs)
	}

	// Channel comes back: the queued send flushes.
	ch.setEmitErr(nil)
	ch.events <- realtime.Event{Kind: realtime.KindConnected}

	waitFor(t, func() bool {
		n, _ := queue.Size()
		return n == 0
	})
	outs := ch.emittedOutbounds()
	if len(outs) != 1 || outs[0].Content != "while offline" {
		t.Fatalf("flushed = %+v", outs)
	}
}

func TestReconnectRefetchesOpenConversations(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{}
	conv := chat.Direct("u2")
	fetcher.add(conv, remoteMsg("m1", "u2", conv, "before"))

	s := newTestSession(t, ch, fetcher, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A message lands server-side while the channel is down, then the
	// channel comes back.
	fetcher.add(conv, remoteMsg("m2", "u2", conv, "missed"))
	ch.events <- realtime.Event{Kind: realtime.KindDisconnected}
	ch.events <- realtime.Event{Kind: realtime.KindReconnected}

	waitFor(t, func() bool {
		msgs := v.Messages()
		return len(msgs) == 2 && msgs[1].ID == "m2"
	})
}

func TestTypingRoutedAndClearedOnDisconnect(t *testing.T) {
	ch := newFakeChannel()
	conv := chat.Group("g7")
	s := newTestSession(t, ch, &fakeFetcher{}, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch.events <- realtime.Event{Kind: realtime.KindTyping, Typing: realtime.TypingEvent{
		Conversation: conv, UserID: "u2", Username: "priya", IsTyping: true,
	}}
	// Own echo is filtered.
	ch.events <- realtime.Event{Kind: realtime.KindTyping, Typing: realtime.TypingEvent{
		Conversation: conv, UserID: "u1", Username: "me", IsTyping: true,
	}}

	waitFor(t, func() bool {
		names := v.TypingUsers()
		return len(names) == 1 && names[0] == "priya"
	})

	ch.events <- realtime.Event{Kind: realtime.KindDisconnected}
	waitFor(t, func() bool { return len(v.TypingUsers()) == 0 })
}

func TestEditAndDeleteEventsRouted(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{}
	conv := chat.Direct("u2")
	fetcher.add(conv,
		remoteMsg("m1", "u2", conv, "tpyo"),
		remoteMsg("m2", "u2", conv, "regrets"),
	)
	s := newTestSession(t, ch, fetcher, nil)
	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	edited := remoteMsg("m1", "u2", conv, "typo")
	ch.events <- realtime.Event{Kind: realtime.KindEdited, Message: edited}
	ch.events <- realtime.Event{Kind: realtime.KindDeleted, Delete: realtime.DeleteEvent{
		Conversation: conv, MessageID: "m2",
	}}

	waitFor(t, func() bool {
		msgs := v.Messages()
		return len(msgs) == 2 &&
			msgs[0].Content.Text == "typo" && msgs[0].Edited &&
			msgs[1].Deleted && msgs[1].Content.Text == content.DeletedPlaceholder
	})
}

func TestClosedConversationDropsEvents(t *testing.T) {
	ch := newFakeChannel()
	conv := chat.Direct("u2")
	s := newTestSession(t, ch, &fakeFetcher{}, nil)
	if _, err := s.Open(context.Background(), conv); err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.CloseConversation(conv)

	// Nothing to assert beyond "does not blow up": events for the closed
	// conversation are discarded.
	ch.events <- realtime.Event{Kind: realtime.KindMessage, Message: remoteMsg("m1", "u2", conv, "late")}
	time.Sleep(20 * time.Millisecond)

	v, err := s.Open(context.Background(), conv)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if len(v.Messages()) != 0 {
		t.Fatalf("reopened view inherited dropped events: %+v", v.Messages())
	}
}
