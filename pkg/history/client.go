package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
)

// wireMessage is the backend's JSON shape for one message.
type wireMessage struct {
	ID          string      `json:"id"`
	ClientID    string      `json:"clientId,omitempty"`
	SenderID    string      `json:"senderId"`
	ReceiverID  string      `json:"receiverId,omitempty"`
	GroupID     string      `json:"groupId,omitempty"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsEdited    bool        `json:"isEdited"`
	IsDeleted   bool        `json:"isDeleted"`
	IsDelivered bool        `json:"isDelivered"`
	IsRead      bool        `json:"isRead"`
	Sender      *chat.Sender `json:"sender,omitempty"`
}

type wirePage struct {
	Messages   []wireMessage `json:"messages"`
	NextCursor string        `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
}

// toMessage decodes the wire form at the boundary. selfID disambiguates the
// peer for direct messages.
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

// HTTPFetcher implements Fetcher against the paginated REST contract:
//
//	GET /api/messages/{selfId}/{peerId}?cursor=<token>&limit=<n>
//	GET /api/messages/group/{groupId}?cursor=<token>&limit=<n>
//
// Both routes return the same {messages, nextCursor, hasMore} shape.
type HTTPFetcher struct {
	baseURL string
	selfID  string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, selfID, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		selfID:  selfID,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFetcher) FetchPage(ctx context.Context, conversation chat.ConversationID, cursor string, limit int) (Page, error) {
	if err := conversation.Validate(); err != nil {
		return Page{}, err
	}

	var endpoint string
	if conversation.IsGroup() {
		endpoint = fmt.Sprintf("%s/api/messages/group/%s", f.baseURL, url.PathEscape(conversation.GroupID))
	} else {
		endpoint = fmt.Sprintf("%s/api/messages/%s/%s", f.baseURL, url.PathEscape(f.selfID), url.PathEscape(conversation.PeerID))
	}

	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var wire wirePage
	if err := f.getJSON(ctx, endpoint+"?"+q.Encode(), &wire); err != nil {
		return Page{}, err
	}

	page := Page{
		Messages:   make([]chat.Message, 0, len(wire.Messages)),
		NextCursor: wire.NextCursor,
		HasMore:    wire.HasMore,
	}
	for _, w := range wire.Messages {
		page.Messages = append(page.Messages, w.toMessage(f.selfID))
	}
	return page, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
