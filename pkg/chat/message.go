// Package chat implements the client-side conversation state machine: one
// ordered, deduplicated timeline per conversation, fed by history pages,
// realtime events and optimistic local writes, all serialized through a
// single apply loop.
package chat

import (
	"errors"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/content"
)

var (
	// ErrBadConversation is returned when a conversation id does not have
	// exactly one of peer id / group id set.
	ErrBadConversation = errors.New("conversation must have exactly one of peer id or group id")
	// ErrClosed is returned for operations on a torn-down conversation.
	ErrClosed = errors.New("conversation closed")
	// ErrNotFound is returned when a message id is not in the timeline.
	ErrNotFound = errors.New("message not found")
	// ErrMessageDeleted is returned for edits targeting a tombstoned message.
	ErrMessageDeleted = errors.New("message is deleted")
	// ErrNotOwnMessage is returned for edits/deletes of another user's message.
	ErrNotOwnMessage = errors.New("not own message")
	// ErrEmptyContent is returned for sends with an empty text body.
	ErrEmptyContent = errors.New("empty message content")
)

// ConversationID identifies a direct (peer) or group conversation. Exactly
// one of the two fields is set; the tag determines routing for every
// operation on the conversation.
type ConversationID struct {
	PeerID  string `json:"peerId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

func Direct(peerID string) ConversationID {
	return ConversationID{PeerID: peerID}
}

func Group(groupID string) ConversationID {
	return ConversationID{GroupID: groupID}
}

func (id ConversationID) IsGroup() bool { return id.GroupID != "" }

func (id ConversationID) Validate() error {
	if (id.PeerID == "") == (id.GroupID == "") {
		return ErrBadConversation
	}
	return nil
}

func (id ConversationID) String() string {
	if id.IsGroup() {
		return "group:" + id.GroupID
	}
	return "direct:" + id.PeerID
}

// Sender carries the message author's identity for attribution in group
// conversations.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is one timeline entry. Content is decoded at the wire boundary;
// the raw string form only exists inside the realtime and history codecs.
//
// A message with Pending=true is an optimistic local write awaiting the
// server acknowledgment that assigns its permanent id. ClientID is the
// client-generated correlation id attached to every outgoing send; the ack
// or group echo carrying the same id reconciles the pending entry exactly
// once.
type Message struct {
	ID           string
	ClientID     string
	Sender       Sender
	Conversation ConversationID
	Content      content.Content
	CreatedAt    time.Time
	Edited       bool
	Deleted      bool
	Delivered    bool
	Read         bool
	Pending      bool
}

// applyStatus folds a delivery/read transition into the message,
// monotonically: state never regresses, and read implies delivered
// regardless of what the event claims.
func (m *Message) applyStatus(delivered, read bool) {
	if read {
		delivered = true
	}
	m.Delivered = m.Delivered || delivered
	m.Read = m.Read || read
}

// Tombstone soft-deletes the message in place: the body is replaced with a
// fixed placeholder and the entry keeps its timeline position forever.
func (m *Message) Tombstone() {
	m.Content = content.Text(content.DeletedPlaceholder)
	m.Deleted = true
}
