package chat

// Timeline holds a conversation's messages ordered oldest to newest with no
// duplicate ids. It is not safe for concurrent use; the owning Conversation
// serializes all access through its apply loop.
//
// Dedup rule: rendering must be idempotent under duplicate ids, so inserts
// are last-write-wins by id with the position taken from the first
// occurrence.
type Timeline struct {
	msgs  []Message
	index map[string]int
}

func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

func (t *Timeline) Len() int { return len(t.msgs) }

// IndexOf returns the position of a message id, or -1.
func (t *Timeline) IndexOf(id string) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	return -1
}

// Get returns a pointer to the stored message for in-place mutation by the
// apply loop. Callers outside the loop get copies via Messages.
func (t *Timeline) Get(id string) *Message {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	return &t.msgs[i]
}

// Append adds a message at the newest end. If the id is already present the
// existing entry is overwritten in place (last write wins, position kept).
func (t *Timeline) Append(m Message) {
	if i, ok := t.index[m.ID]; ok {
		t.msgs[i] = m
		return
	}
	t.index[m.ID] = len(t.msgs)
	t.msgs = append(t.msgs, m)
}

// Prepend inserts an older page wholesale before the current head. The
// backend guarantees non-overlapping pages, but duplicates are still dropped
// defensively: an id already present keeps its existing position and takes
// the incoming value.
func (t *Timeline) Prepend(page []Message) {
	fresh := make([]Message, 0, len(page))
	pos := make(map[string]int, len(page))
	for _, m := range page {
		if i, ok := t.index[m.ID]; ok {
			t.msgs[i] = m
			continue
		}
		if i, ok := pos[m.ID]; ok {
			fresh[i] = m
			continue
		}
		pos[m.ID] = len(fresh)
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}

	t.msgs = append(fresh, t.msgs...)
	for id, i := range t.index {
		t.index[id] = i + len(fresh)
	}
	for i, m := range fresh {
		t.index[m.ID] = i
	}
}

// Rekey changes a message's id in place, preserving its position. Used when
// the server ack replaces a provisional client id with the permanent one. If
// the new id already entered the timeline through another path (echo racing
// the ack) that later duplicate is dropped and the original position wins.
func (t *Timeline) Rekey(oldID string, m Message) bool {
	i, ok := t.index[oldID]
	if !ok {
		return false
	}
	if j, dup := t.index[m.ID]; dup && j != i {
		t.remove(j)
		i = t.index[oldID]
	}
	delete(t.index, oldID)
	t.index[m.ID] = i
	t.msgs[i] = m
	return true
}

func (t *Timeline) remove(i int) {
	delete(t.index, t.msgs[i].ID)
	t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
	for id, j := range t.index {
		if j > i {
			t.index[id] = j - 1
		}
	}
}

// Messages returns a copy of the ordered timeline.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}
