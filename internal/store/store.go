// Package store implements the append-only local event cache that all
// materialized views are derived from. Insertion is idempotent and
// commutative: feeding the same set of events in any order produces the
// same final contents.
package store

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
)

// InvalidEventError indicates an event whose ID does not match the
// recomputed hash of its fields. Such events are dropped, not stored.
type InvalidEventError struct {
	ID       string
	Computed string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("event id %s does not match computed hash %s", e.ID, e.Computed)
}

// Store is a deduplicating cache of events keyed by event ID. It only
// grows for the lifetime of the process: there is no deletion API.
type Store struct {
	events   *xsync.MapOf[string, *nostr.Event]
	byThread *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
	byBoard  *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
}

// New creates an empty event store
func New() *Store {
	return &Store{
		events:   xsync.NewMapOf[string, *nostr.Event](),
		byThread: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
		byBoard:  xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
	}
}

// Put inserts an event if its ID is not already present and returns
// whether it was newly added. Inserting a duplicate ID is a no-op, never
// an overwrite: two events with the same ID are identical by construction.
func (s *Store) Put(evt *nostr.Event) (bool, error) {
	if evt == nil {
		return false, fmt.Errorf("nil event")
	}

	if computed := evt.GetID(); computed != evt.ID {
		return false, &InvalidEventError{ID: evt.ID, Computed: computed}
	}

	if _, loaded := s.events.LoadOrStore(evt.ID, evt); loaded {
		return false, nil
	}

	s.index(evt)
	return true, nil
}

// index records the event under every thread and board it references.
// Indexing happens exactly once per stored event, so the sets only grow.
func (s *Store) index(evt *nostr.Event) {
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		switch tag[0] {
		case "e":
			set, _ := s.byThread.LoadOrStore(tag[1], xsync.NewMapOf[string, struct{}]())
			set.Store(evt.ID, struct{}{})
		case "board":
			set, _ := s.byBoard.LoadOrStore(tag[1], xsync.NewMapOf[string, struct{}]())
			set.Store(evt.ID, struct{}{})
		}
	}
}

// Get returns the event with the given ID, or nil if absent
func (s *Store) Get(id string) *nostr.Event {
	evt, _ := s.events.Load(id)
	return evt
}

// QueryByThread returns all events whose tags reference the given thread
// root. The result is a fresh slice on every call, so iteration is
// restartable; insertion order is not meaningful.
func (s *Store) QueryByThread(threadID string) []*nostr.Event {
	return s.collect(s.byThread, threadID)
}

// QueryByBoard returns all events carrying a board tag for the given board
func (s *Store) QueryByBoard(boardID string) []*nostr.Event {
	return s.collect(s.byBoard, boardID)
}

func (s *Store) collect(idx *xsync.MapOf[string, *xsync.MapOf[string, struct{}]], key string) []*nostr.Event {
	set, ok := idx.Load(key)
	if !ok {
		return nil
	}

	events := make([]*nostr.Event, 0, set.Size())
	set.Range(func(id string, _ struct{}) bool {
		if evt, ok := s.events.Load(id); ok {
			events = append(events, evt)
		}
		return true
	})
	return events
}

// Range iterates over all stored events until fn returns false
func (s *Store) Range(fn func(*nostr.Event) bool) {
	s.events.Range(func(_ string, evt *nostr.Event) bool {
		return fn(evt)
	})
}

// Len returns the number of stored events
func (s *Store) Len() int {
	return s.events.Size()
}

// CountByKind returns event counts grouped by kind, for diagnostics
func (s *Store) CountByKind() map[int]int {
	counts := make(map[int]int)
	s.events.Range(func(_ string, evt *nostr.Event) bool {
		counts[evt.Kind]++
		return true
	})
	return counts
}
