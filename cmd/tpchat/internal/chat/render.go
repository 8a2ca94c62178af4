package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/vikrant48/timepass-chat/pkg/chat"
	"github.com/vikrant48/timepass-chat/pkg/content"
)

// formatDateLabel renders the separator shown above the first message of
// each day: Today, Yesterday, or "2 Jan 2026".
func formatDateLabel(at, now time.Time) string {
	at = at.Local()
	y, m, d := at.Date()
	ny, nm, nd := now.Date()
	if y == ny && m == nm && d == nd {
		return "Today"
	}
	yy, ym, yd := now.AddDate(0, 0, -1).Date()
	if y == yy && m == ym && d == yd {
		return "Yesterday"
	}
	return at.Format("2 Jan 2006")
}

func formatTime(at time.Time) string {
	return at.Local().Format("03:04 PM")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// statusMarks renders the delivery state of an own direct message.
func statusMarks(m chat.Message) string {
	switch {
	case m.Pending:
		return "…"
	case m.Read:
		return "✓✓ read"
	case m.Delivered:
		return "✓✓"
	default:
		return "✓"
	}
}

// renderBody flattens a decoded content value to one display line.
func renderBody(c content.Content) string {
	switch c.Kind {
	case content.KindPhoto:
		return "[photo] " + c.ImageURL
	case content.KindVoice:
		return "[voice] " + c.AudioURL
	case content.KindPost:
		if c.Caption != "" {
			return fmt.Sprintf("[post %s] %s (%s)", c.PostID, c.ImageURL, c.Caption)
		}
		return fmt.Sprintf("[post %s] %s", c.PostID, c.ImageURL)
	default:
		return c.Text
	}
}

// renderMessage produces the chat line for one message.
func renderMessage(m chat.Message, selfID string) string {
	var b strings.Builder

	name := m.Sender.Username
	if name == "" {
		name = m.Sender.ID
	}
	if m.Sender.ID == selfID {
		name = "you"
	}

	fmt.Fprintf(&b, "[%s] %s: %s", formatTime(m.CreatedAt), name, renderBody(m.Content))
	if m.Edited && !m.Deleted {
		b.WriteString(" (edited)")
	}
	if m.Sender.ID == selfID && !m.Conversation.IsGroup() && !m.Deleted {
		fmt.Fprintf(&b, "  %s", statusMarks(m))
	}
	return b.String()
}

// renderTimeline prints messages with date separators, mirroring how the
// mobile UI groups by day.
func renderTimeline(msgs []chat.Message, selfID string, now time.Time) []string {
	lines := make([]string, 0, len(msgs))
	for i, m := range msgs {
		if i == 0 || !sameDay(m.CreatedAt, msgs[i-1].CreatedAt) {
			lines = append(lines, "--- "+formatDateLabel(m.CreatedAt, now)+" ---")
		}
		lines = append(lines, renderMessage(m, selfID))
	}
	return lines
}
