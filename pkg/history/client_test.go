package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
)

func TestFetchPageDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/messages/u1/u2" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("cursor") != "m010" || q.Get("limit") != "20" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{
			"messages": [
				{"id":"m008","senderId":"u2","receiverId":"u1","content":"hey","createdAt":"2025-06-01T12:00:00Z","isDelivered":true,"isRead":true,
				 "sender":{"id":"u2","username":"priya"}},
				{"id":"m009","senderId":"u1","receiverId":"u2","content":"POST_SHARE|abc123|https://cdn/img.png|look at this","createdAt":"2025-06-01T12:01:00Z","isEdited":true}
			],
			"nextCursor": "m008",
			"hasMore": true
		}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "u1", "tok-1")
	page, err := f.FetchPage(context.Background(), chat.Direct("u2"), "m010", 20)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Messages) != 2 || page.NextCursor != "m008" || !page.HasMore {
		t.Fatalf("page = %+v", page)
	}

	first := page.Messages[0]
	if first.Sender.Username != "priya" {
		t.Errorf("sender = %+v", first.Sender)
	}
	if first.Conversation != chat.Direct("u2") {
		t.Errorf("conversation = %v", first.Conversation)
	}
	if !first.Delivered || !first.Read {
		t.Errorf("status flags lost: %+v", first)
	}

	second := page.Messages[1]
	if second.Conversation != chat.Direct("u2") {
		t.Errorf("own message conversation = %v, want the peer's", second.Conversation)
	}
	if second.Content.Kind != content.KindPost || second.Content.PostID != "abc123" {
		t.Errorf("content not decoded: %+v", second.Content)
	}
	if !second.Edited {
		t.Error("isEdited dropped")
	}
}

func TestFetchPageGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/group/g7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("cursor") != "" {
			t.Errorf("first page must not send a cursor, got %q", r.URL.Query().Get("cursor"))
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{
			"messages": [
				{"id":"m001","senderId":"u3","groupId":"g7","content":"gone","createdAt":"2025-06-01T12:00:00Z","isDeleted":true}
			],
			"hasMore": false
		}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "u1", "tok-1")
	page, err := f.FetchPage(context.Background(), chat.Group("g7"), "", 20)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if page.HasMore {
		t.Error("hasMore = true")
	}
	m := page.Messages[0]
	if m.Conversation != chat.Group("g7") {
		t.Errorf("conversation = %v", m.Conversation)
	}
	if !m.Deleted || m.Content.Text != content.DeletedPlaceholder {
		t.Errorf("tombstone not applied: %+v", m)
	}
}

func TestFetchPageForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"not friends"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "u1", "tok-1")
	if _, err := f.FetchPage(context.Background(), chat.Direct("u9"), "", 20); !errors.Is(err, ErrForbidden) {
		t.Fatalf("FetchPage: %v, want ErrForbidden", err)
	}
}

func TestDirectoryPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body string
		switch r.URL.Path {
		case "/api/auth/users":
			body = `[
				{"id":"u1","username":"me"},
				{"id":"u2","username":"priya","avatar":"https://cdn/a.png"},
				{"id":"u3","username":"dev"}
			]`
		case "/api/friends/status/u2":
			body = `{"status":"ACCEPTED"}`
		case "/api/friends/status/u3":
			body = `{"status":"PENDING"}`
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			body = `{}`
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	d := NewDirectory(NewHTTPFetcher(srv.URL, "u1", "tok-1"))
	peers, err := d.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2 (self excluded): %+v", len(peers), peers)
	}
	if peers[0].ID != "u2" || peers[0].Status != FriendAccepted || peers[0].Avatar == "" {
		t.Errorf("peer 0 = %+v", peers[0])
	}
	if peers[1].ID != "u3" || peers[1].Status != FriendPending {
		t.Errorf("peer 1 = %+v", peers[1])
	}
}

func TestDirectoryGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/groups/my-groups" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`[{"id":"g7","name":"weekend plans","_count":{"members":4}}]`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	d := NewDirectory(NewHTTPFetcher(srv.URL, "u1", "tok-1"))
	groups, err := d.Groups(context.Background())
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "weekend plans" || groups[0].Members != 4 {
		t.Fatalf("groups = %+v", groups)
	}
}
