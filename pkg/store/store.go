// Package store owns the bounded, ordered message list for one room
// and applies every inbound or locally-echoed message under the dedup
// and reconciliation rules. Nothing else mutates the list; the
// optimistic-echo path goes through Apply like everything else.
package store

import (
	"sync"

	"github.com/kritsw/chat-session/pkg/localid"
	"github.com/kritsw/chat-session/pkg/model"
)

// DefaultCap bounds the per-room history; the oldest entries fall off
// once the cap is exceeded.
const DefaultCap = 100

type Store struct {
	mu       sync.Mutex
	roomID   string
	cap      int
	msgs     []model.Message
	onChange func([]model.Message)
}

func New(roomID string) *Store {
	return NewWithCap(roomID, DefaultCap)
}

func NewWithCap(roomID string, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Store{roomID: roomID, cap: capacity}
}

func (s *Store) RoomID() string { return s.roomID }

// OnChange registers a callback invoked with a snapshot after every
// mutation. Called outside the store's lock.
func (s *Store) OnChange(fn func([]model.Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Apply runs one message through the ingestion rules, in order:
// duplicate-by-id drop, duplicate-by-content drop, optimistic
// reconciliation, append, cap eviction.
func (s *Store) Apply(msg model.Message) {
	s.mu.Lock()
	changed := s.apply(msg)
	fn, snap := s.changedLocked(changed)
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Store) apply(msg model.Message) bool {
	// At-most-one row per id, regardless of delivery retries.
	if msg.ID != "" {
		for i := range s.msgs {
			if s.msgs[i].ID == msg.ID {
				return false
			}
		}
	}

	// Content fallback: when either side lacks a stable id, identical
	// (author, body, timestamp) means the same message. A confirmed
	// frame matching an optimistic twin is left for reconciliation
	// below so the placeholder gets replaced rather than kept.
	for i := range s.msgs {
		e := &s.msgs[i]
		if !stableID(msg.ID) || !stableID(e.ID) {
			if e.Author.ID == msg.Author.ID && e.Body == msg.Body && e.Timestamp == msg.Timestamp &&
				!(e.Optimistic && !msg.Optimistic) {
				return false
			}
		}
	}

	// Optimistic reconciliation: the confirmed message replaces its
	// locally-echoed twin. Insertion is at the tail; relative position
	// is not preserved.
	if !msg.Optimistic {
		for i := range s.msgs {
			e := s.msgs[i]
			if e.Optimistic && e.Author.ID == msg.Author.ID && e.Body == msg.Body {
				s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
				break
			}
		}
	}

	s.msgs = append(s.msgs, msg)
	if len(s.msgs) > s.cap {
		s.msgs = append([]model.Message(nil), s.msgs[len(s.msgs)-s.cap:]...)
	}
	return true
}

// MarkDeleted tombstones the message with the given id in place. The
// entry stays in the list so the UI can render it as removed. Returns
// false when no such message exists.
func (s *Store) MarkDeleted(id string) bool {
	s.mu.Lock()
	found := false
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			if !s.msgs[i].Deleted {
				s.msgs[i].Deleted = true
				found = true
			}
			break
		}
	}
	fn, snap := s.changedLocked(found)
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return found
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return s.msgs[i], true
		}
	}
	return model.Message{}, false
}

// Snapshot returns a copy of the list in insertion order. Callers
// needing chronological order sort explicitly.
func (s *Store) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Clear drops the whole list, for session teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

func (s *Store) changedLocked(changed bool) (func([]model.Message), []model.Message) {
	if !changed || s.onChange == nil {
		return nil, nil
	}
	return s.onChange, append([]model.Message(nil), s.msgs...)
}

func stableID(id string) bool {
	return id != "" && !localid.IsLocal(id)
}
