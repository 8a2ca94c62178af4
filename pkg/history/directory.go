package history

import (
	"context"
	"fmt"
	"net/url"
)

// FriendStatus mirrors the backend's friendship state for a peer.
type FriendStatus string

const (
	FriendAccepted        FriendStatus = "ACCEPTED"
	FriendPending         FriendStatus = "PENDING"
	FriendPendingReceived FriendStatus = "PENDING_RECEIVED"
	FriendNone            FriendStatus = "NONE"
)

// Peer is a directory entry for a potential direct conversation. Chat is
// only permitted with accepted friends; the backend enforces this with a
// 403 on fetch.
type Peer struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	Avatar   string       `json:"avatar,omitempty"`
	Status   FriendStatus `json:"status"`
}

// GroupInfo is a directory entry for a joined group conversation.
type GroupInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Directory lists the conversations available to the session: known users
// with friendship status and joined groups. Backed by the same REST surface
// and auth as the page fetcher.
type Directory struct {
	f *HTTPFetcher
}

func NewDirectory(f *HTTPFetcher) *Directory {
	return &Directory{f: f}
}

// Peers returns all other users with their friendship status. A failed
// status probe degrades to FriendNone rather than failing the listing.
func (d *Directory) Peers(ctx context.Context) ([]Peer, error) {
	var users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := d.f.getJSON(ctx, d.f.baseURL+"/api/auth/users", &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	peers := make([]Peer, 0, len(users))
	for _, u := range users {
		if u.ID == d.f.selfID {
			continue
		}
		p := Peer{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Status: FriendNone}

		var status struct {
			Status FriendStatus `json:"status"`
		}
		statusURL := d.f.baseURL + "/api/friends/status/" + url.PathEscape(u.ID)
		if err := d.f.getJSON(ctx, statusURL, &status); err == nil && status.Status != "" {
			p.Status = status.Status
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// Groups returns the session user's joined groups.
func (d *Directory) Groups(ctx context.Context) ([]GroupInfo, error) {
	var groups []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Count struct {
			Members int `json:"members"`
		} `json:"_count"`
	}
	if err := d.f.getJSON(ctx, d.f.baseURL+"/api/groups/my-groups", &groups); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupInfo{ID: g.ID, Name: g.Name, Members: g.Count.Members})
	}
	return out, nil
}
