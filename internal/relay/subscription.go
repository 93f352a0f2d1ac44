package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/fourochan/fourochan/internal/store"
)

// EventFunc receives each newly stored event exactly once
type EventFunc func(*nostr.Event)

// Subscription is the handle for a long-lived multi-relay subscription.
// Close is idempotent and safe to call at any time; events that arrive
// after Close are still inserted into the event store but trigger no
// further callbacks.
type Subscription struct {
	pool    *Pool
	onEvent EventFunc

	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Subscribe opens a per-relay subscription on each of the given relays.
// Every incoming event is deduplicated against the event store; onEvent
// fires exactly once per new event, no matter how many relays deliver it.
func (p *Pool) Subscribe(ctx context.Context, urls []string, filters nostr.Filters, onEvent EventFunc) (*Subscription, error) {
	if len(urls) == 0 {
		return nil, &NoRelaysAvailableError{Op: "subscribe"}
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		pool:    p,
		onEvent: onEvent,
		ctx:     subCtx,
		cancel:  cancel,
	}

	for _, url := range urls {
		s.wg.Add(1)
		go s.run(url, filters)
	}

	return s, nil
}

// run drives one relay's subscription, resubscribing after connection
// loss until the subscription is closed or reconnect is disabled.
func (s *Subscription) run(url string, filters nostr.Filters) {
	defer s.wg.Done()

	for attempt := 0; ; attempt++ {
		if s.ctx.Err() != nil {
			return
		}

		conn, err := s.pool.ensure(s.ctx, url)
		if err != nil {
			if !s.pool.cfg.Policy.AutoReconnect {
				return
			}
			if !s.sleep(s.pool.backoffDelay(attempt)) {
				return
			}
			continue
		}

		sub, err := conn.Subscribe(s.ctx, filters)
		if err != nil {
			s.pool.markError(url, err)
			if !s.pool.cfg.Policy.AutoReconnect {
				return
			}
			if !s.sleep(s.pool.backoffDelay(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		s.drain(sub)
		sub.Unsub()

		if s.ctx.Err() != nil {
			return
		}

		// Events channel closed without cancellation: the relay dropped us
		s.pool.markError(url, errors.New("subscription closed by relay"))
		if !s.pool.cfg.Policy.AutoReconnect {
			return
		}
		if !s.sleep(s.pool.backoffDelay(0)) {
			return
		}
	}
}

// drain forwards events until the relay subscription ends
func (s *Subscription) drain(sub *nostr.Subscription) {
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			if evt == nil {
				continue
			}
			s.deliver(evt)
		case <-s.ctx.Done():
			return
		}
	}
}

// deliver inserts an event into the store and forwards it if new. The
// store insert is the dedup point: a second relay delivering the same ID
// finds isNew=false and is dropped here.
func (s *Subscription) deliver(evt *nostr.Event) {
	isNew, err := s.pool.store.Put(evt)
	if err != nil {
		var invalid *store.InvalidEventError
		if errors.As(err, &invalid) {
			s.pool.log.Warn("dropping corrupt relay event",
				"event_id", evt.ID,
				"error", err)
		}
		return
	}
	if !isNew {
		return
	}

	s.pool.log.LogStoreInsert(evt.ID, evt.Kind, true)

	if s.closed.Load() || s.onEvent == nil {
		return
	}
	s.onEvent(evt)
}

// sleep waits for the given delay, returning false if the subscription
// was closed meanwhile.
func (s *Subscription) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Close releases all underlying per-relay subscriptions. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// Wait blocks until all per-relay workers have exited
func (s *Subscription) Wait() {
	s.wg.Wait()
}
