// Package typing implements both sides of the typing indicator: a throttled
// notifier on the sending side and a TTL aggregator on the receiving side.
package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is how long a typing signal stays alive without a refresh,
// on both the sending and receiving side.
const DefaultWindow = 3 * time.Second

// Notifier turns a stream of keystrokes into at most one typing=true per
// burst and exactly one trailing typing=false once the burst goes idle.
type Notifier struct {
	send   func(isTyping bool)
	window time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewNotifier builds a notifier that reports transitions through send. A
// window of zero falls back to DefaultWindow.
func NewNotifier(send func(isTyping bool), window time.Duration) *Notifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Notifier{send: send, window: window}
}

// Keystroke records input activity. The first keystroke after idle fires
// typing=true immediately; further keystrokes only push the idle deadline
// out, so a continuous burst emits no extra traffic.
func (n *Notifier) Keystroke() {
	n.mu.Lock()
	wasIdle := !n.active
	n.active = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.window, n.expire)
	n.mu.Unlock()

	if wasIdle {
		n.send(true)
	}
}

// Stop ends the burst immediately, firing typing=false if one was active.
// Called when the composed message is sent or the conversation is left.
func (n *Notifier) Stop() {
	n.mu.Lock()
	wasActive := n.active
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if wasActive {
		n.send(false)
	}
}

func (n *Notifier) expire() {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()

	n.send(false)
}

// Aggregator collects incoming typing events for one conversation and
// answers "who is typing right now". Each user's signal expires after the
// window unless refreshed; the session user's own echoes are ignored.
type Aggregator struct {
	selfID   string
	window   time.Duration
	onChange func()

	mu      sync.Mutex
	typists map[string]typist
	timer   *time.Timer
}

type typist struct {
	username string
	deadline time.Time
}

// NewAggregator builds an aggregator for the given session user. onChange,
// if non-nil, fires after every visible change including TTL expiry; it is
// called without the lock held.
func NewAggregator(selfID string, window time.Duration, onChange func()) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{
		selfID:   selfID,
		window:   window,
		onChange: onChange,
		typists:  make(map[string]typist),
	}
}

// Apply records one typing event. typing=false removes the user at once;
// typing=true adds or refreshes them for the window.
func (a *Aggregator) Apply(userID, username string, isTyping bool) {
	if userID == a.selfID {
		return
	}

	a.mu.Lock()
	changed := false
	if isTyping {
		_, known := a.typists[userID]
		a.typists[userID] = typist{username: username, deadline: time.Now().Add(a.window)}
		changed = !known
		a.scheduleLocked()
	} else if _, known := a.typists[userID]; known {
		delete(a.typists, userID)
		changed = true
	}
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

// Typing returns the usernames currently typing, sorted for stable display.
func (a *Aggregator) Typing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	names := make([]string, 0, len(a.typists))
	for _, t := range a.typists {
		if t.deadline.After(now) {
			names = append(names, t.username)
		}
	}
	sort.Strings(names)
	return names
}

// Clear drops all typists. Called when the realtime channel disconnects,
// since no further typing=false events can arrive.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	had := len(a.typists) > 0
	a.typists = make(map[string]typist)
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	if had {
		a.notify()
	}
}

// scheduleLocked arms the prune timer for the earliest deadline. Caller
// holds the lock.
func (a *Aggregator) scheduleLocked() {
	var earliest time.Time
	for _, t := range a.typists {
		if earliest.IsZero() || t.deadline.Before(earliest) {
			earliest = t.deadline
		}
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if earliest.IsZero() {
		return
	}
	a.timer = time.AfterFunc(time.Until(earliest), a.prune)
}

func (a *Aggregator) prune() {
	a.mu.Lock()
	now := time.Now()
	changed := false
	for id, t := range a.typists {
		if !t.deadline.After(now) {
			delete(a.typists, id)
			changed = true
		}
	}
	a.scheduleLocked()
	a.mu.Unlock()

	if changed {
		a.notify()
	}
}

func (a *Aggregator) notify() {
	if a.onChange != nil {
		a.onChange()
	}
}
