// Package session wires the pieces of a logged-in chat client together:
// the realtime channel, per-conversation state machines, history
// pagination, typing indicators and the durable outbox.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/history"
	"github.com/vikrant48/timepass-chat/pkg/logger"
	"github.com/vikrant48/timepass-chat/pkg/outbox"
	"github.com/vikrant48/timepass-chat/pkg/realtime"
	"github.com/vikrant48/timepass-chat/pkg/typing"
)

// Channel is the realtime transport the session drives. realtime.Client
// implements it; tests substitute a scripted fake.
type Channel interface {
	Events() <-chan realtime.Event
	Emit(out chat.Outbound) error
	SendTyping(conv chat.ConversationID, isTyping bool) error
	JoinGroups(ids ...string)
	Close()
}

// Options tune a session. The zero value takes defaults.
type Options struct {
	PageSize     int
	TypingWindow time.Duration
}

// Session owns everything alive for one logged-in user. One dispatch
// goroutine fans channel events out to the open conversations; opening and
// closing conversations is safe from any goroutine.
type Session struct {
	self    chat.Sender
	channel Channel
	fetcher history.Fetcher
	queue   *outbox.Store // nil disables durable sends
	opts    Options

	mu     sync.Mutex
	views  map[string]*View
	closed bool

	recovering sync.Mutex // one recovery at a time
	done       chan struct{}
}

// New builds the session and starts dispatching channel events. queue may
// be nil, in which case a send during an outage fails instead of queueing.
func New(self chat.Sender, ch Channel, fetcher history.Fetcher, queue *outbox.Store, opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = typing.DefaultWindow
	}
	s := &Session{
		self:    self,
		channel: ch,
		fetcher: fetcher,
		queue:   queue,
		opts:    opts,
		views:   make(map[string]*View),
		done:    make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Close shuts the channel down and closes every open conversation.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[string]*View)
	s.mu.Unlock()

	for _, v := range views {
		v.teardown()
	}
	s.channel.Close()
	<-s.done
}

// Emit implements chat.Emitter for the open conversations. A send that
// fails because the channel is down goes to the durable outbox and is
// reported as accepted; it flushes on the next reconnect.
func (s *Session) Emit(out chat.Outbound) error {
	err := s.channel.Emit(out)
	if err == nil {
		return nil
	}
	if s.queue != nil && errors.Is(err, realtime.ErrNotConnected) {
		qErr := s.queue.Enqueue(out)
		if qErr == nil {
			logger.InfoCF("session", "channel down, queued outbound", map[string]any{
				"type":         string(out.Type),
				"conversation": out.Conversation.String(),
			})
			return nil
		}
		logger.ErrorCF("session", "outbox enqueue failed", map[string]any{"error": qErr.Error()})
	}
	return err
}

// Open returns the view for a conversation, fetching its first history
// page on first open. A direct conversation with a non-friend fails with
// history.ErrForbidden.
func (s *Session) Open(ctx context.Context, id chat.ConversationID) (*View, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, chat.ErrClosed
	}
	if v, ok := s.views[id.String()]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	conv, err := chat.NewConversation(id, s.self, s)
	if err != nil {
		return nil, err
	}
	pager := history.NewPaginator(s.fetcher, id, s.opts.PageSize)

	page, err := pager.LoadOlder(ctx)
	if err != nil {
		conv.Close()
		return nil, err
	}
	conv.ApplyPage(page.Messages)

	v := newView(s, conv, pager)
	if id.IsGroup() {
		s.channel.JoinGroups(id.GroupID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.teardown()
		return nil, chat.ErrClosed
	}
	if existing, ok := s.views[id.String()]; ok {
		s.mu.Unlock()
		v.teardown()
		return existing, nil
	}
	s.views[id.String()] = v
	s.mu.Unlock()
	return v, nil
}

// CloseConversation tears one conversation down and forgets it. Later
// events for it are dropped.
func (s *Session) CloseConversation(id chat.ConversationID) {
	s.mu.Lock()
	v, ok := s.views[id.String()]
	if ok {
		delete(s.views, id.String())
	}
	s.mu.Unlock()
	if ok {
		v.teardown()
	}
}

func (s *Session) view(id chat.ConversationID) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[id.String()]
}

func (s *Session) allViews() []*View {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	return views
}

// dispatch fans the channel's event stream out to the open conversations.
// Events for conversations that are not open are dropped; their state is
// rebuilt from history when opened.
func (s *Session) dispatch() {
	defer close(s.done)

	for ev := range s.channel.Events() {
		switch ev.Kind {
		case realtime.KindConnected:
			logger.InfoC("session", "channel connected")
			go s.recover(false)

		case realtime.KindReconnected:
			logger.InfoC("session", "channel reconnected")
			go s.recover(true)

		case realtime.KindDisconnected:
			logger.WarnC("session", "channel disconnected")
			for _, v := range s.allViews() {
				v.typists.Clear()
			}

		case realtime.KindMessage:
			if v := s.view(ev.Message.Conversation); v != nil {
				v.conv.ApplyRemote(ev.Message)
			}

		case realtime.KindAck:
			if v := s.view(ev.Message.Conversation); v != nil {
				v.conv.ApplyAck(ev.Message)
			}

		case realtime.KindEdited:
			if v := s.view(ev.Message.Conversation); v != nil {
				v.conv.ApplyEdited(ev.Message.ID, ev.Message.Content)
			}

		case realtime.KindDeleted:
			if v := s.view(ev.Delete.Conversation); v != nil {
				v.conv.ApplyDeleted(ev.Delete.MessageID)
			}

		case realtime.KindStatus:
			// The update names only the message, so offer it to every open
			// direct conversation; the one holding the message applies it.
			for _, v := range s.allViews() {
				if !v.conv.ID().IsGroup() {
					v.conv.ApplyStatus(ev.Status.MessageID, ev.Status.Delivered, ev.Status.Read)
				}
			}

		case realtime.KindTyping:
			if v := s.view(ev.Typing.Conversation); v != nil {
				v.typists.Apply(ev.Typing.UserID, ev.Typing.Username, ev.Typing.IsTyping)
			}
		}
	}
}

// recover runs after every (re)connect: flush the durable outbox, and on a
// true reconnect re-fetch the latest page of each open conversation, since
// the channel dropped whatever happened while it was down.
func (s *Session) recover(refetch bool) {
	s.recovering.Lock()
	defer s.recovering.Unlock()

	s.flushOutbox()
	if !refetch {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, v := range s.allViews() {
		page, err := v.pager.RefreshLatest(ctx)
		if err != nil {
			logger.ErrorCF("session", "refresh after reconnect failed", map[string]any{
				"conversation": v.conv.ID().String(),
				"error":        err.Error(),
			})
			continue
		}
		v.conv.ApplyLatest(page.Messages)
	}
}

func (s *Session) flushOutbox() {
	if s.queue == nil {
		return
	}
	entries, err := s.queue.Pending()
	if err != nil {
		logger.ErrorCF("session", "outbox read failed", map[string]any{"error": err.Error()})
		return
	}
	for _, e := range entries {
		if err := s.channel.Emit(e.Outbound); err != nil {
			if markErr := s.queue.MarkAttempt(e.ID); markErr != nil {
				logger.ErrorCF("session", "outbox bookkeeping failed", map[string]any{"error": markErr.Error()})
			}
			logger.WarnCF("session", "outbox flush interrupted", map[string]any{
				"error":     err.Error(),
				"remaining": len(entries),
			})
			return
		}
		if err := s.queue.Ack(e.ID); err != nil {
			logger.ErrorCF("session", "outbox ack failed", map[string]any{"error": err.Error()})
		}
	}
	if len(entries) > 0 {
		logger.InfoCF("session", "outbox flushed", map[string]any{"sent": len(entries)})
	}
}
