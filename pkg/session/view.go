package session

import (
	"context"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
	"github.com/vikrant48/timepass-chat/pkg/history"
	"github.com/vikrant48/timepass-chat/pkg/typing"
)

// View is one open conversation as the UI sees it: timeline reads, the
// local write operations, backward pagination and the typing state for
// both directions.
type View struct {
	s       *Session
	conv    *chat.Conversation
	pager   *history.Paginator
	typists *typing.Aggregator
	keys    *typing.Notifier

	updates chan struct{}
	stop    chan struct{}
}

func newView(s *Session, conv *chat.Conversation, pager *history.Paginator) *View {
	v := &View{
		s:       s,
		conv:    conv,
		pager:   pager,
		updates: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	v.typists = typing.NewAggregator(s.self.ID, s.opts.TypingWindow, v.poke)
	v.keys = typing.NewNotifier(v.sendTyping, s.opts.TypingWindow)

	// Fold the conversation's update signal and typing changes into one
	// coalesced channel for the UI.
	go func() {
		for {
			select {
			case _, ok := <-conv.Updates():
				if !ok {
					return
				}
				v.poke()
			case <-v.stop:
				return
			}
		}
	}()
	return v
}

func (v *View) ID() chat.ConversationID { return v.conv.ID() }

// Updates signals after any visible change. Coalesced; read the state
// fresh after each receive.
func (v *View) Updates() <-chan struct{} { return v.updates }

// Messages returns the timeline oldest first.
func (v *View) Messages() []chat.Message { return v.conv.Messages() }

// Send posts a message optimistically. It appears in Messages() at once
// and settles when the server acknowledges it.
func (v *View) Send(body content.Content) (chat.Message, error) {
	v.keys.Stop()
	return v.conv.Send(body)
}

// Edit rewrites one of the user's own messages.
func (v *View) Edit(messageID string, body content.Content) error {
	return v.conv.Edit(messageID, body)
}

// Delete soft-deletes one of the user's own messages.
func (v *View) Delete(messageID string) error {
	return v.conv.Delete(messageID)
}

// LoadOlder fetches the next older history page into the timeline.
func (v *View) LoadOlder(ctx context.Context) error {
	page, err := v.pager.LoadOlder(ctx)
	if err != nil {
		return err
	}
	v.conv.ApplyPage(page.Messages)
	return nil
}

// HasMore reports whether older history may remain.
func (v *View) HasMore() bool { return v.pager.HasMore() }

// Keystroke reports composing activity, driving the throttled typing
// signal to the peer side.
func (v *View) Keystroke() { v.keys.Keystroke() }

// TypingUsers returns who is typing in this conversation right now.
func (v *View) TypingUsers() []string { return v.typists.Typing() }

func (v *View) sendTyping(isTyping bool) {
	// Best effort: a typing signal lost to an outage is not worth queueing.
	_ = v.s.channel.SendTyping(v.conv.ID(), isTyping)
}

func (v *View) poke() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

func (v *View) teardown() {
	close(v.stop)
	v.keys.Stop()
	v.typists.Clear()
	v.conv.Close()
}
