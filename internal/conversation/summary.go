// ABOUTME: Conversation summary value types shared by the gateway and synchronizing clients
// ABOUTME: Provides copy-on-write List operations (prepend, merge messages, remove)

package conversation

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// Member is a participant of a conversation as seen by clients.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Message is a single chat message carried inside a Summary.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body,omitempty"`
	Image          string    `json:"image,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary is the client-side view of a conversation: identity, membership
// metadata and the most recent messages (oldest first, latest last).
type Summary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	IsGroup       bool      `json:"is_group"`
	Members       []Member  `json:"members"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Valid reports whether the summary carries an identifier. Payloads without
// one cannot be reconciled against a list.
func (s Summary) Valid() bool {
	return s.ID != ""
}

// LastMessage returns the latest message, if any.
func (s Summary) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a copy of s that shares no slice memory with it.
func (s Summary) Clone() Summary {
	s.Members = slices.Clone(s.Members)
	s.Messages = slices.Clone(s.Messages)
	return s
}

// List is an ordered collection of summaries, most recently active first.
// A List never contains two summaries with the same ID.
type List []Summary

// Contains reports whether a summary with the given ID is present.
func (l List) Contains(id string) bool {
	return lo.ContainsBy(l, func(s Summary) bool { return s.ID == id })
}

// IDs returns the identifiers in list order.
func (l List) IDs() []string {
	return lo.Map(l, func(s Summary, _ int) string { return s.ID })
}

// Clone returns a deep copy of l: neither the list nor any summary's members
// or messages share memory with the original.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, s := range l {
		out[i] = s.Clone()
	}
	return out
}

// Dedupe drops later occurrences of an ID, keeping the first one. Snapshots
// are run through it so the uniqueness invariant holds from the start.
func Dedupe(l List) List {
	return lo.UniqBy(l, func(s Summary) string { return s.ID })
}

// Prepend returns a new list with s inserted at the front. If a summary with
// the same ID already exists anywhere in l, l is returned unchanged and the
// second result is false.
func Prepend(l List, s Summary) (List, bool) {
	if l.Contains(s.ID) {
		return l, false
	}
	out := make(List, 0, len(l)+1)
	out = append(out, s)
	out = append(out, l...)
	return out, true
}

// MergeMessages returns a new list in which the entry matching s.ID has its
// Messages replaced by s.Messages. Every other field and the entry's position
// are kept. When no entry matches, l is returned unchanged and the second
// result is false.
func MergeMessages(l List, s Summary) (List, bool) {
	_, idx, found := lo.FindIndexOf(l, func(c Summary) bool { return c.ID == s.ID })
	if !found {
		return l, false
	}
	out := l.Clone()
	merged := out[idx]
	merged.Messages = s.Messages
	out[idx] = merged
	return out, true
}

// Remove returns a new list without the entry whose ID is id. When no entry
// matches, l is returned unchanged and the second result is false.
func Remove(l List, id string) (List, bool) {
	if !l.Contains(id) {
		return l, false
	}
	return lo.Filter(l, func(c Summary, _ int) bool { return c.ID != id }), true
}
