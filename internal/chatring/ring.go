// Package chatring implements the bounded, in-memory-only chat history
// both GameRoom and GlobalLobby use. Chat is explicitly not persisted
// across cold starts (see spec §6); only the most recent N entries are
// ever held, mirroring the teacher's container/list-backed chatHistory
// in internal/v1/session/methods.go, generalized to a per-ring size
// (room and lobby both use 20) and the REACT toggle this domain adds.
package chatring

import (
	"container/list"

	"github.com/dicearena/backend/internal/protocol"
)

// Ring is a bounded FIFO of protocol.ChatEntry plus an index by message ID
// so REACT can mutate an entry without a linear scan.
type Ring struct {
	max     int
	entries *list.List // of protocol.ChatEntry
	byID    map[string]*list.Element
}

// New constructs a ring that holds at most max entries.
func New(max int) *Ring {
	return &Ring{max: max, entries: list.New(), byID: make(map[string]*list.Element)}
}

// Add appends entry, evicting the oldest entry once the ring is over its
// capacity.
func (r *Ring) Add(entry protocol.ChatEntry) {
	el := r.entries.PushBack(entry)
	r.byID[entry.ID] = el
	for r.entries.Len() > r.max {
		front := r.entries.Front()
		old := front.Value.(protocol.ChatEntry)
		delete(r.byID, old.ID)
		r.entries.Remove(front)
	}
}

// Entries returns the ring contents in chronological order.
func (r *Ring) Entries() []protocol.ChatEntry {
	out := make([]protocol.ChatEntry, 0, r.entries.Len())
	for el := r.entries.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(protocol.ChatEntry))
	}
	return out
}

// ToggleReaction adds or removes userID from emoji's reaction set on the
// message identified by messageID. ok is false if the message has aged
// out of the ring.
func (r *Ring) ToggleReaction(messageID, emoji, userID string, add bool) (entry protocol.ChatEntry, ok bool) {
	el, found := r.byID[messageID]
	if !found {
		return protocol.ChatEntry{}, false
	}
	entry = el.Value.(protocol.ChatEntry)
	if entry.Reactions == nil {
		entry.Reactions = make(map[string][]string)
	}
	users := entry.Reactions[emoji]
	if add {
		if !containsString(users, userID) {
			users = append(users, userID)
		}
	} else {
		users = removeString(users, userID)
	}
	if len(users) == 0 {
		delete(entry.Reactions, emoji)
	} else {
		entry.Reactions[emoji] = users
	}
	el.Value = entry
	return entry, true
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
