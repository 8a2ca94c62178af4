package chat

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
)

// renderer writes timeline changes to the terminal. When new lines only
// extend what was already printed they are appended; an in-place change
// (edit, delete, status tick, page prepend) repaints the whole timeline.
type renderer struct {
	out    io.Writer
	selfID string

	mu     sync.Mutex
	lines  []string
	typing string
}

func newRenderer(out io.Writer, selfID string) *renderer {
	return &renderer{out: out, selfID: selfID}
}

func (r *renderer) show(msgs []chat.Message) {
	lines := renderTimeline(msgs, r.selfID, time.Now())

	r.mu.Lock()
	defer r.mu.Unlock()

	if extendsPrevious(r.lines, lines) {
		for _, line := range lines[len(r.lines):] {
			fmt.Fprintln(r.out, line)
		}
	} else {
		fmt.Fprintln(r.out, strings.Repeat("-", 40))
		for _, line := range lines {
			fmt.Fprintln(r.out, line)
		}
	}
	r.lines = lines
}

func (r *renderer) showTyping(users []string) {
	line := ""
	switch len(users) {
	case 0:
	case 1:
		line = users[0] + " is typing…"
	default:
		line = strings.Join(users, ", ") + " are typing…"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.typing {
		return
	}
	r.typing = line
	if line != "" {
		fmt.Fprintln(r.out, line)
	}
}

func extendsPrevious(prev, next []string) bool {
	if len(next) < len(prev) {
		return false
	}
	for i := range prev {
		if prev[i] != next[i] {
			return false
		}
	}
	return true
}
