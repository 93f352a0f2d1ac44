package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/nbd-wtf/go-nostr"
)

// Adapter exposes the cache through the eventstore.Store interface so it
// can be handed to nip77.NegentropySync and other go-nostr plumbing that
// expects one.
type Adapter struct {
	store *Store
}

// NewAdapter wraps a Store in the eventstore.Store interface
func NewAdapter(s *Store) *Adapter {
	return &Adapter{store: s}
}

// Init implements eventstore.Store (no-op, the cache needs no setup)
func (a *Adapter) Init() error {
	return nil
}

// Close implements eventstore.Store (no-op, the cache lives for the process)
func (a *Adapter) Close() {}

// QueryEvents implements eventstore.Store. Matching events are sent newest
// first and the channel is closed when done.
func (a *Adapter) QueryEvents(ctx context.Context, filter nostr.Filter) (chan *nostr.Event, error) {
	var matched []*nostr.Event
	a.store.Range(func(evt *nostr.Event) bool {
		if filter.Matches(evt) {
			matched = append(matched, evt)
		}
		return true
	})

	// The limit picks the newest N, so it applies only after ordering;
	// truncating during collection would return an arbitrary subset.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID < matched[j].ID
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	ch := make(chan *nostr.Event, len(matched))
	go func() {
		defer close(ch)
		for _, evt := range matched {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// SaveEvent implements eventstore.Store. Duplicates are silently accepted.
func (a *Adapter) SaveEvent(ctx context.Context, evt *nostr.Event) error {
	_, err := a.store.Put(evt)
	return err
}

// DeleteEvent implements eventstore.Store. The cache is append-only.
func (a *Adapter) DeleteEvent(ctx context.Context, evt *nostr.Event) error {
	return fmt.Errorf("delete not supported: event cache is append-only")
}

// ReplaceEvent implements eventstore.Store. Events are content-addressed,
// so a replacement is just an insert.
func (a *Adapter) ReplaceEvent(ctx context.Context, evt *nostr.Event) error {
	return a.SaveEvent(ctx, evt)
}
