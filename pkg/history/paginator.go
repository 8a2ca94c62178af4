// Package history implements cursor-based backward pagination of
// conversation messages and the HTTP fetcher behind it.
package history

import (
	"context"
	"errors"
	"sync"

	"github.com/vikrant48/timepass-chat/pkg/chat"
)

var (
	// ErrFetchInFlight is returned when a page fetch is already running for
	// the conversation.
	ErrFetchInFlight = errors.New("page fetch already in flight")
	// ErrNoMore is returned once the earliest message has been reached.
	ErrNoMore = errors.New("no more history")
	// ErrForbidden is returned on a 403: not friends with the peer, or not
	// a member of the group. Fatal to the conversation view, never retried.
	ErrForbidden = errors.New("not authorized for conversation")
)

// Page is one fetch result: messages ordered oldest to newest, plus the
// cursor for the next (older) page.
type Page struct {
	Messages   []chat.Message
	NextCursor string
	HasMore    bool
}

// Fetcher retrieves one page of history. An empty cursor means "most recent
// page".
type Fetcher interface {
	FetchPage(ctx context.Context, conversation chat.ConversationID, cursor string, limit int) (Page, error)
}

// Paginator tracks the (cursor, hasMore) pair for one conversation and
// guards against overlapping fetches. The zero cursor with hasMore=true
// means not yet fetched; hasMore=false means the conversation's earliest
// message has been reached.
type Paginator struct {
	fetcher      Fetcher
	conversation chat.ConversationID
	limit        int

	mu       sync.Mutex
	cursor   string
	primed   bool
	hasMore  bool
	inFlight bool
}

func NewPaginator(fetcher Fetcher, conversation chat.ConversationID, limit int) *Paginator {
	if limit <= 0 {
		limit = 20
	}
	return &Paginator{
		fetcher:      fetcher,
		conversation: conversation,
		limit:        limit,
		hasMore:      true,
	}
}

// HasMore reports whether older history may remain.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// LoadOlder fetches the next page going backwards: the most recent page on
// first call, then strictly older pages from the stored cursor. Concurrent
// calls beyond the first fail with ErrFetchInFlight instead of double
// fetching.
func (p *Paginator) LoadOlder(ctx context.Context) (Page, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return Page{}, ErrFetchInFlight
	}
	if !p.hasMore {
		p.mu.Unlock()
		return Page{}, ErrNoMore
	}
	cursor := p.cursor
	p.inFlight = true
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, p.conversation, cursor, p.limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		return Page{}, err
	}
	p.cursor = page.NextCursor
	p.primed = true
	p.hasMore = page.HasMore
	return page, nil
}

// RefreshLatest re-fetches the most recent page without disturbing the
// backward cursor. Used after reconnect to recover events the channel
// dropped; on a paginator that never fetched it doubles as the initial
// load.
func (p *Paginator) RefreshLatest(ctx context.Context) (Page, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return Page{}, ErrFetchInFlight
	}
	p.inFlight = true
	primed := p.primed
	p.mu.Unlock()

	page, err := p.fetcher.FetchPage(ctx, p.conversation, "", p.limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		return Page{}, err
	}
	if !primed {
		p.cursor = page.NextCursor
		p.primed = true
		p.hasMore = page.HasMore
	}
	return page, nil
}
