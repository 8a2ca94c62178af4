package chat

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vikrant48/timepass-chat/pkg/content"
	"github.com/vikrant48/timepass-chat/pkg/logger"
)

// OutboundType names the channel event a local action produces.
type OutboundType string

const (
	OutboundSend   OutboundType = "sendMessage"
	OutboundEdit   OutboundType = "editMessage"
	OutboundDelete OutboundType = "deleteMessage"
	OutboundRead   OutboundType = "markAsRead"
)

// Outbound is a client-sent channel event produced by the state machine.
// Content is already wire-encoded.
type Outbound struct {
	Type         OutboundType
	Conversation ConversationID
	ClientID     string
	MessageID    string
	SenderID     string
	Content      string
}

// Emitter forwards outbound events to the realtime channel. Implementations
// that cannot deliver (transport down) return an error; the state machine
// keeps the optimistic local entry either way and leaves queueing to the
// caller's emitter.
type Emitter interface {
	Emit(out Outbound) error
}

// Conversation is the per-conversation state machine. All mutations
// (history pages, realtime events, optimistic local writes) funnel through
// one apply goroutine, so the timeline is never touched from two call sites
// at once. Closing the conversation discards anything still in flight.
type Conversation struct {
	id      ConversationID
	self    Sender
	emitter Emitter

	apply   chan func()
	done    chan struct{}
	closed  atomic.Bool
	updates chan struct{}

	// Owned by the apply goroutine.
	timeline *Timeline
	pending  map[string]string // correlation id -> provisional message id
	dupAcks  int
}

func NewConversation(id ConversationID, self Sender, emitter Emitter) (*Conversation, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	c := &Conversation{
		id:       id,
		self:     self,
		emitter:  emitter,
		apply:    make(chan func(), 64),
		done:     make(chan struct{}),
		updates:  make(chan struct{}, 1),
		timeline: NewTimeline(),
		pending:  make(map[string]string),
	}
	go c.run()
	return c, nil
}

func (c *Conversation) ID() ConversationID { return c.id }

// Updates signals after every applied mutation. Signals coalesce; a reader
// that drains the channel and snapshots Messages sees all prior changes.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

// Close tears the conversation down. Events and fetch results that resolve
// afterwards are discarded, never applied.
func (c *Conversation) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func (c *Conversation) run() {
	for {
		select {
		case fn := <-c.apply:
			fn()
		case <-c.done:
			return
		}
	}
}

// submit queues fn onto the apply loop. Returns ErrClosed after teardown so
// stale callbacks are dropped instead of mutating a dead timeline.
func (c *Conversation) submit(fn func()) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.apply <- fn:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// submitWait runs fn on the apply loop and waits for it to finish.
func (c *Conversation) submitWait(fn func()) error {
	ch := make(chan struct{})
	if err := c.submit(func() {
		fn()
		close(ch)
	}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Messages returns an ordered snapshot of the timeline.
func (c *Conversation) Messages() []Message {
	var out []Message
	if err := c.submitWait(func() { out = c.timeline.Messages() }); err != nil {
		return nil
	}
	return out
}

// IndexOf returns the timeline position of a message id, or -1.
func (c *Conversation) IndexOf(id string) int {
	pos := -1
	c.submitWait(func() { pos = c.timeline.IndexOf(id) })
	return pos
}

// DuplicateAcks reports how many acknowledgments arrived for correlation
// ids that were already reconciled. Surfaced rather than swallowed so the
// dedup contract stays observable.
func (c *Conversation) DuplicateAcks() int {
	n := 0
	c.submitWait(func() { n = c.dupAcks })
	return n
}

// Send appends an optimistic pending message keyed by a fresh correlation
// id and emits sendMessage. The entry stays local-only if the emitter
// fails; reconciliation happens when the ack or echo carrying the same
// correlation id arrives.
func (c *Conversation) Send(body content.Content) (Message, error) {
	if body.Kind == content.KindText && body.Text == "" {
		return Message{}, ErrEmptyContent
	}
	wire, err := body.Encode()
	if err != nil {
		return Message{}, err
	}

	clientID := uuid.New().String()
	msg := Message{
		ID:           clientID,
		ClientID:     clientID,
		Sender:       c.self,
		Conversation: c.id,
		Content:      body,
		CreatedAt:    time.Now(),
		Pending:      true,
	}

	err = c.submitWait(func() {
		c.timeline.Append(msg)
		c.pending[clientID] = clientID
		c.notify()
	})
	if err != nil {
		return Message{}, err
	}

	if err := c.emitter.Emit(Outbound{
		Type:         OutboundSend,
		Conversation: c.id,
		ClientID:     clientID,
		SenderID:     c.self.ID,
		Content:      wire,
	}); err != nil {
		logger.WarnCF("chat", "Send not delivered, kept as local pending state",
			map[string]any{"conversation": c.id.String(), "error": err.Error()})
	}
	return msg, nil
}

// Edit emits editMessage for an own, non-deleted message. The timeline is
// not touched until the messageEdited echo comes back.
func (c *Conversation) Edit(messageID string, body content.Content) error {
	wire, err := body.Encode()
	if err != nil {
		return err
	}
	var checkErr error
	if serr := c.submitWait(func() { checkErr = c.checkOwn(messageID) }); serr != nil {
		return serr
	}
	if checkErr != nil {
		return checkErr
	}
	return c.emitter.Emit(Outbound{
		Type:         OutboundEdit,
		Conversation: c.id,
		MessageID:    messageID,
		SenderID:     c.self.ID,
		Content:      wire,
	})
}

// Delete emits deleteMessage for an own, non-deleted message. Tombstoning
// happens when the messageDeleted echo comes back.
func (c *Conversation) Delete(messageID string) error {
	var checkErr error
	if serr := c.submitWait(func() { checkErr = c.checkOwn(messageID) }); serr != nil {
		return serr
	}
	if checkErr != nil {
		return checkErr
	}
	return c.emitter.Emit(Outbound{
		Type:         OutboundDelete,
		Conversation: c.id,
		MessageID:    messageID,
		SenderID:     c.self.ID,
	})
}

// checkOwn runs on the apply loop.
func (c *Conversation) checkOwn(messageID string) error {
	m := c.timeline.Get(messageID)
	if m == nil {
		return ErrNotFound
	}
	if m.Deleted {
		return ErrMessageDeleted
	}
	if m.Sender.ID != c.self.ID {
		return ErrNotOwnMessage
	}
	return nil
}

// ApplyRemote appends a message delivered by the realtime channel. Appends
// are idempotent under duplicate ids. For direct conversations a message
// from the peer is immediately acknowledged with markAsRead.
func (c *Conversation) ApplyRemote(msg Message) {
	markRead := false
	err := c.submitWait(func() {
		if msg.ClientID != "" {
			if c.reconcile(msg) {
				c.notify()
				return
			}
		}
		c.timeline.Append(msg)
		markRead = !c.id.IsGroup() && msg.Sender.ID != c.self.ID
		c.notify()
	})
	if err != nil {
		return
	}

	if markRead {
		c.emitter.Emit(Outbound{
			Type:         OutboundRead,
			Conversation: c.id,
			MessageID:    msg.ID,
			SenderID:     msg.Sender.ID,
		})
	}
}

// ApplyAck reconciles a server acknowledgment of an own send.
func (c *Conversation) ApplyAck(msg Message) {
	c.submitWait(func() {
		if !c.reconcile(msg) {
			// Ack without a known correlation id: treat as a normal
			// append so the send is not lost.
			c.timeline.Append(msg)
		}
		c.notify()
	})
}

// reconcile runs on the apply loop. Returns true when msg's correlation id
// matched a pending optimistic entry and replaced it in place.
func (c *Conversation) reconcile(msg Message) bool {
	provisionalID, ok := c.pending[msg.ClientID]
	if !ok {
		if msg.ClientID != "" && c.timeline.IndexOf(msg.ID) >= 0 {
			// Second ack for an already-reconciled correlation id.
			c.dupAcks++
			logger.WarnCF("chat", "Duplicate acknowledgment",
				map[string]any{"conversation": c.id.String(), "client_id": msg.ClientID})
			return true
		}
		return false
	}
	delete(c.pending, msg.ClientID)
	msg.Pending = false
	if !c.timeline.Rekey(provisionalID, msg) {
		c.timeline.Append(msg)
	}
	return true
}

// ApplyStatus folds a delivery/read transition in, monotonically. Status is
// only tracked for direct conversations; group updates are ignored.
func (c *Conversation) ApplyStatus(messageID string, delivered, read bool) {
	if c.id.IsGroup() {
		return
	}
	c.submitWait(func() {
		if m := c.timeline.Get(messageID); m != nil {
			m.applyStatus(delivered, read)
			c.notify()
		}
	})
}

// ApplyEdited replaces a message body at its existing position and marks it
// edited. Tombstoned messages are terminal; late edit echoes are dropped.
func (c *Conversation) ApplyEdited(messageID string, body content.Content) {
	c.submitWait(func() {
		m := c.timeline.Get(messageID)
		if m == nil || m.Deleted {
			return
		}
		m.Content = body
		m.Edited = true
		c.notify()
	})
}

// ApplyDeleted tombstones a message in place. The entry keeps its timeline
// position; repeated deletes are no-ops.
func (c *Conversation) ApplyDeleted(messageID string) {
	c.submitWait(func() {
		m := c.timeline.Get(messageID)
		if m == nil || m.Deleted {
			return
		}
		m.Tombstone()
		c.notify()
	})
}

// ApplyPage merges a fetched page of strictly older history: the page is
// prepended wholesale, anything already present keeps its position.
func (c *Conversation) ApplyPage(msgs []Message) {
	c.submitWait(func() {
		c.timeline.Prepend(msgs)
		c.notify()
	})
}

// ApplyLatest merges a re-fetched latest page after reconnect. Known ids are
// overwritten in place, picking up edits, deletes and status changes missed
// while disconnected; unseen messages append at the newest end in order.
func (c *Conversation) ApplyLatest(msgs []Message) {
	c.submitWait(func() {
		for _, m := range msgs {
			c.timeline.Append(m)
		}
		c.notify()
	})
}
