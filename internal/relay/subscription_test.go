package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func testSubscription(t *testing.T, p *Pool, onEvent EventFunc) *Subscription {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		pool:    p,
		onEvent: onEvent,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.Cleanup(s.Close)
	return s
}

func validEvent(content string, tags nostr.Tags, createdAt int64) *nostr.Event {
	evt := &nostr.Event{
		PubKey:    "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
		Kind:      1111,
		Content:   content,
		Tags:      tags,
		CreatedAt: nostr.Timestamp(createdAt),
	}
	evt.ID = evt.GetID()
	return evt
}

func TestSubscription_DeliverExactlyOnce(t *testing.T) {
	p := testPool(t)

	delivered := 0
	s := testSubscription(t, p, func(evt *nostr.Event) {
		delivered++
	})

	evt := validEvent("hello", nostr.Tags{{"e", "aaaa", "", "root"}}, 100)

	// The same event arriving from three relays fires the callback once
	s.deliver(evt)
	s.deliver(evt)
	s.deliver(evt)

	if delivered != 1 {
		t.Errorf("Expected exactly 1 delivery, got %d", delivered)
	}
	if p.Store().Len() != 1 {
		t.Errorf("Expected 1 stored event, got %d", p.Store().Len())
	}
}

func TestSubscription_DeliverDropsCorruptEvents(t *testing.T) {
	p := testPool(t)

	delivered := 0
	s := testSubscription(t, p, func(evt *nostr.Event) {
		delivered++
	})

	evt := validEvent("signed", nil, 100)
	evt.Content = "tampered"
	s.deliver(evt)

	if delivered != 0 {
		t.Errorf("Expected corrupt event not delivered, got %d deliveries", delivered)
	}
	if p.Store().Len() != 0 {
		t.Errorf("Expected corrupt event not stored, got %d", p.Store().Len())
	}
}

func TestSubscription_NoCallbackAfterClose(t *testing.T) {
	p := testPool(t)

	delivered := 0
	s := testSubscription(t, p, func(evt *nostr.Event) {
		delivered++
	})

	s.Close()
	s.deliver(validEvent("late arrival", nil, 100))

	if delivered != 0 {
		t.Errorf("Expected no callback after close, got %d", delivered)
	}
	// Late events still land in the store
	if p.Store().Len() != 1 {
		t.Errorf("Expected late event stored, got %d", p.Store().Len())
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	p := testPool(t)
	s := testSubscription(t, p, nil)

	s.Close()
	s.Close()
	s.Close()

	if !s.closed.Load() {
		t.Error("Expected subscription to report closed")
	}
}

func TestSubscribe_NoURLs(t *testing.T) {
	p := testPool(t)

	_, err := p.Subscribe(context.Background(), nil, nostr.Filters{{}}, nil)
	if err == nil {
		t.Fatal("Expected error for subscribe with no relays")
	}

	var noRelays *NoRelaysAvailableError
	if !errors.As(err, &noRelays) {
		t.Errorf("Expected NoRelaysAvailableError, got %T", err)
	}
}

func TestSubscribe_UnreachableRelayExitsWithoutReconnect(t *testing.T) {
	p := testPool(t) // AutoReconnect disabled

	s, err := p.Subscribe(context.Background(), []string{"ws://127.0.0.1:1"}, nostr.Filters{{}}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer s.Close()

	// Worker gives up after the failed dial instead of retrying forever
	s.Wait()
}
