package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/logger"
)

var (
	// ErrNotConnected is returned by Emit while the channel is down. The
	// caller decides whether to queue or drop.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("realtime client closed")
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingInterval      = 25 * time.Second
	baseReconnectWait = time.Second
	maxReconnectWait  = 30 * time.Second
)

// Client owns the session's one websocket connection. Events decoded from
// the server come out of Events(); outbound traffic goes through Emit,
// SendTyping and JoinGroups. The client redials on failure with a growing
// delay and replays its room joins on every new connection.
type Client struct {
	url      string
	token    string
	selfID   string
	username string
	dialer   *websocket.Dialer

	events chan Event
	done   chan struct{}
	closed atomic.Bool

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]bool
	ever  bool // a connection has succeeded at least once

	wmu sync.Mutex // serializes data frame writes
}

func NewClient(url, token, selfID, username string) *Client {
	return &Client{
		url:      url,
		token:    token,
		selfID:   selfID,
		username: username,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:   make(chan Event, 100),
		done:     make(chan struct{}),
		rooms:    make(map[string]bool),
	}
}

// Events returns the decoded event stream, connectivity transitions
// included. Closed when the client stops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start runs the connect loop until ctx is cancelled or Close is called.
// It blocks; run it in its own goroutine.
func (c *Client) Start(ctx context.Context) {
	defer close(c.events)

	attempt := 0
	for {
		if c.closed.Load() || ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			wait := reconnectWait(attempt)
			logger.WarnCF("realtime", "dial failed, retrying", map[string]any{
				"error":   err.Error(),
				"attempt": attempt,
				"wait":    wait.String(),
			})
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			continue
		}
		attempt = 0

		c.mu.Lock()
		c.conn = conn
		first := !c.ever
		c.ever = true
		rooms := c.roomsLocked()
		c.mu.Unlock()

		if first {
			c.deliver(Event{Kind: KindConnected})
		} else {
			c.deliver(Event{Kind: KindReconnected})
		}
		if len(rooms) > 0 {
			if err := c.writeEnvelope(evJoinGroupChannels, wireJoin{GroupIDs: rooms}); err != nil {
				logger.WarnCF("realtime", "room join failed", map[string]any{"error": err.Error()})
			}
		}

		c.readUntilError(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.deliver(Event{Kind: KindDisconnected})
	}
}

// Close tears the client down. Safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

// Connected reports whether a connection is currently live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends one state machine outbound over the channel. Implements
// chat.Emitter.
func (c *Client) Emit(out chat.Outbound) error {
	payload := wireOutbound{
		ClientID:  out.ClientID,
		MessageID: out.MessageID,
		SenderID:  out.SenderID,
		Content:   out.Content,
	}
	if out.Conversation.IsGroup() {
		payload.GroupID = out.Conversation.GroupID
	} else {
		payload.ReceiverID = out.Conversation.PeerID
	}
	return c.writeEnvelope(string(out.Type), payload)
}

// SendTyping emits a typing transition for the conversation. Typing is
// fire-and-forget: a failed send is dropped, never queued.
func (c *Client) SendTyping(conv chat.ConversationID, isTyping bool) error {
	payload := wireTyping{SenderID: c.selfID, Username: c.username, IsTyping: isTyping}
	if conv.IsGroup() {
		payload.GroupID = conv.GroupID
	} else {
		payload.ReceiverID = conv.PeerID
	}
	return c.writeEnvelope(evTyping, payload)
}

// JoinGroups registers group rooms. Joins are idempotent, survive the
// client's reconnects, and are sent immediately when connected.
func (c *Client) JoinGroups(ids ...string) {
	c.mu.Lock()
	added := false
	for _, id := range ids {
		if id != "" && !c.rooms[id] {
			c.rooms[id] = true
			added = true
		}
	}
	rooms := c.roomsLocked()
	connected := c.conn != nil
	c.mu.Unlock()

	if !added || !connected {
		return
	}
	if err := c.writeEnvelope(evJoinGroupChannels, wireJoin{GroupIDs: rooms}); err != nil {
		logger.WarnCF("realtime", "room join failed", map[string]any{"error": err.Error()})
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// readUntilError pumps inbound frames and keeps the connection alive with
// pings. Returns when the connection breaks or the client stops.
func (c *Client) readUntilError(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && ctx.Err() == nil {
				logger.WarnCF("realtime", "connection lost", map[string]any{"error": err.Error()})
			}
			return
		}
		c.dispatch(raw)
	}
}

// dispatch decodes one frame into an Event. Unknown event names and broken
// payloads are logged and skipped; the channel never dies on bad input.
func (c *Client) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.WarnCF("realtime", "unreadable frame", map[string]any{"error": err.Error()})
		return
	}

	switch env.Event {
	case evNewDirectMessage, evNewGroupMessage:
		var w wireMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		c.deliver(Event{Kind: KindMessage, Message: w.toMessage(c.selfID)})

	case evMessageSentAck:
		var w wireMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		c.deliver(Event{Kind: KindAck, Message: w.toMessage(c.selfID)})

	case evMessageEdited:
		var w wireMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		c.deliver(Event{Kind: KindEdited, Message: w.toMessage(c.selfID)})

	case evMessageStatusUpdate:
		var w wireStatus
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		c.deliver(Event{Kind: KindStatus, Status: StatusUpdate{
			MessageID: w.MessageID,
			Delivered: w.IsDelivered,
			Read:      w.IsRead,
		}})

	case evUserTyping:
		var w wireTyping
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		conv := chat.Direct(w.SenderID)
		if w.GroupID != "" {
			conv = chat.Group(w.GroupID)
		}
		c.deliver(Event{Kind: KindTyping, Typing: TypingEvent{
			Conversation: conv,
			UserID:       w.SenderID,
			Username:     w.Username,
			IsTyping:     w.IsTyping,
		}})

	case evMessageDeleted:
		var w wireDeleted
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.badPayload(env.Event, err)
			return
		}
		var conv chat.ConversationID
		switch {
		case w.GroupID != "":
			conv = chat.Group(w.GroupID)
		case w.SenderID == c.selfID:
			conv = chat.Direct(w.ReceiverID)
		default:
			conv = chat.Direct(w.SenderID)
		}
		c.deliver(Event{Kind: KindDeleted, Delete: DeleteEvent{
			Conversation: conv,
			MessageID:    w.MessageID,
		}})

	default:
		logger.DebugCF("realtime", "ignoring event", map[string]any{"event": env.Event})
	}
}

func (c *Client) badPayload(event string, err error) {
	logger.WarnCF("realtime", "bad payload", map[string]any{
		"event": event,
		"error": err.Error(),
	})
}

// deliver hands an event to the consumer. Delivery is at most once: if the
// consumer's buffer is full the event is dropped, and the consumer recovers
// via re-fetch on the next reconnect.
func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		logger.WarnCF("realtime", "event buffer full, dropping", map[string]any{"kind": int(ev.Kind)})
	}
}

func (c *Client) writeEnvelope(event string, data any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// roomsLocked returns the joined rooms sorted. Caller holds the lock.
func (c *Client) roomsLocked() []string {
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

func reconnectWait(attempt int) time.Duration {
	wait := baseReconnectWait * time.Duration(attempt)
	if wait > maxReconnectWait {
		wait = maxReconnectWait
	}
	return wait
}
