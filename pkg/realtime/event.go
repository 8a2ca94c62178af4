// Package realtime maintains the single shared websocket channel: one
// connection per session, JSON event envelopes in both directions, and
// automatic reconnection with room re-joins.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
)

// Server-sent event names.
const (
	evNewDirectMessage    = "newDirectMessage"
	evNewGroupMessage     = "newGroupMessage"
	evMessageSentAck      = "messageSentAck"
	evMessageStatusUpdate = "messageStatusUpdate"
	evUserTyping          = "userTyping"
	evMessageEdited       = "messageEdited"
	evMessageDeleted      = "messageDeleted"
)

// Client-sent event names. The message-shaped ones mirror chat.OutboundType.
const (
	evTyping            = "typing"
	evJoinGroupChannels = "joinGroupChannels"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// wireMessage is the channel's JSON shape for a message, matching the REST
// history payload.
type wireMessage struct {
	ID          string       `json:"id"`
	ClientID    string       `json:"clientId,omitempty"`
	SenderID    string       `json:"senderId"`
	ReceiverID  string       `json:"receiverId,omitempty"`
	GroupID     string       `json:"groupId,omitempty"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	IsEdited    bool         `json:"isEdited"`
	IsDeleted   bool         `json:"isDeleted"`
	IsDelivered bool         `json:"isDelivered"`
	IsRead      bool         `json:"isRead"`
	Sender      *chat.Sender `json:"sender,omitempty"`
}

func (w wireMessage) toMessage(selfID string) chat.Message {
	sender := chat.Sender{ID: w.SenderID}
	if w.Sender != nil {
		sender = *w.Sender
	}

	var conv chat.ConversationID
	if w.GroupID != "" {
		conv = chat.Group(w.GroupID)
	} else if w.SenderID == selfID {
		conv = chat.Direct(w.ReceiverID)
	} else {
		conv = chat.Direct(w.SenderID)
	}

	m := chat.Message{
		ID:           w.ID,
		ClientID:     w.ClientID,
		Sender:       sender,
		Conversation: conv,
		Content:      content.Decode(w.Content),
		CreatedAt:    w.CreatedAt,
		Edited:       w.IsEdited,
		Deleted:      w.IsDeleted,
		Delivered:    w.IsDelivered,
		Read:         w.IsRead,
	}
	if m.Deleted {
		m.Tombstone()
	}
	return m
}

// wireOutbound is the payload for the message-shaped client events.
type wireOutbound struct {
	ClientID   string `json:"clientId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Content    string `json:"content,omitempty"`
}

type wireTyping struct {
	SenderID   string `json:"senderId"`
	Username   string `json:"username"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

type wireStatus struct {
	MessageID   string `json:"messageId"`
	SenderID    string `json:"senderId,omitempty"`
	ReceiverID  string `json:"receiverId,omitempty"`
	IsDelivered bool   `json:"isDelivered"`
	IsRead      bool   `json:"isRead"`
}

type wireDeleted struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type wireJoin struct {
	GroupIDs []string `json:"groupIds"`
}

// Kind discriminates the decoded events the client hands to its consumer.
type Kind int

const (
	// KindConnected fires after the first successful dial.
	KindConnected Kind = iota
	// KindReconnected fires after every later successful dial. The channel
	// delivers at most once, so the consumer must re-fetch what it missed.
	KindReconnected
	// KindDisconnected fires when the connection drops; typing state is
	// stale from this point.
	KindDisconnected
	KindMessage
	KindAck
	KindStatus
	KindTyping
	KindEdited
	KindDeleted
)

// StatusUpdate reports a delivery state change for one direct message.
type StatusUpdate struct {
	MessageID string
	Delivered bool
	Read      bool
}

// TypingEvent reports a peer starting or stopping typing.
type TypingEvent struct {
	Conversation chat.ConversationID
	UserID       string
	Username     string
	IsTyping     bool
}

// DeleteEvent reports a message soft-deleted by its sender.
type DeleteEvent struct {
	Conversation chat.ConversationID
	MessageID    string
}

// Event is one decoded occurrence on the channel. Exactly the field named
// by Kind is populated.
type Event struct {
	Kind    Kind
	Message chat.Message
	Status  StatusUpdate
	Typing  TypingEvent
	Delete  DeleteEvent
}
