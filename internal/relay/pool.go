// Package relay manages connections to Nostr relays and presents a
// unified query/subscribe interface over them. Relays are independent and
// mutually distrusting; a single relay failing never fails an aggregate
// call.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fourochan/fourochan/internal/config"
	"github.com/fourochan/fourochan/internal/ops"
	"github.com/fourochan/fourochan/internal/store"
)

// NoRelaysAvailableError indicates no relay responded to a request. The
// caller can recover by retrying.
type NoRelaysAvailableError struct {
	Op string
}

func (e *NoRelaysAvailableError) Error() string {
	return fmt.Sprintf("no relays available for %s", e.Op)
}

// ConnState is the connection state of a single relay
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// managedRelay tracks one relay connection and its state machine
type managedRelay struct {
	url string

	mu        sync.Mutex
	state     ConnState
	conn      *nostr.Relay
	attempts  int
	reconnect bool // cleared by manual Disconnect until the next Connect
}

// Pool manages 0..N relay connections. Each relay connects and reconnects
// independently; queries and subscriptions fan out over whichever subset
// the caller names.
type Pool struct {
	cfg   *config.Relays
	store *store.Store
	log   *ops.Logger

	relays *xsync.MapOf[string, *managedRelay]
	caps   *xsync.MapOf[string, *relayCapabilities]

	// Caps concurrent one-shot query workers per policy
	querySem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a relay pool feeding the given event store
func NewPool(ctx context.Context, cfg *config.Relays, st *store.Store, log *ops.Logger) *Pool {
	if log == nil {
		log = ops.Default()
	}
	poolCtx, cancel := context.WithCancel(ctx)

	maxSubs := cfg.Policy.MaxConcurrentSubs
	if maxSubs <= 0 {
		maxSubs = 8
	}

	return &Pool{
		cfg:      cfg,
		store:    st,
		log:      log.WithComponent("relay"),
		relays:   xsync.NewMapOf[string, *managedRelay](),
		caps:     xsync.NewMapOf[string, *relayCapabilities](),
		querySem: make(chan struct{}, maxSubs),
		ctx:      poolCtx,
		cancel:   cancel,
	}
}

// Store returns the event store all deliveries are deduplicated against
func (p *Pool) Store() *store.Store {
	return p.store
}

func (p *Pool) managed(url string) *managedRelay {
	m, _ := p.relays.LoadOrStore(url, &managedRelay{url: url, state: StateDisconnected})
	return m
}

// connectTimeout returns the per-relay dial timeout
func (p *Pool) connectTimeout() time.Duration {
	if p.cfg.Policy.ConnectTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.cfg.Policy.ConnectTimeoutMs) * time.Millisecond
}

// queryTimeout returns the per-relay bound on one-shot queries
func (p *Pool) queryTimeout() time.Duration {
	if p.cfg.Policy.QueryTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.cfg.Policy.QueryTimeoutMs) * time.Millisecond
}

// backoffDelay returns the reconnect delay for the given attempt count,
// clamped to the last configured step.
func (p *Pool) backoffDelay(attempt int) time.Duration {
	steps := p.cfg.Policy.BackoffMs
	if len(steps) == 0 {
		steps = []int{500, 1500, 5000}
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(steps) {
		attempt = len(steps) - 1
	}
	return time.Duration(steps[attempt]) * time.Millisecond
}

// Connect establishes (or re-establishes) a relay connection and
// re-enables auto-reconnect for it.
func (p *Pool) Connect(ctx context.Context, url string) error {
	m := p.managed(url)

	m.mu.Lock()
	if m.state == StateConnected && m.conn != nil && m.conn.IsConnected() {
		m.reconnect = true
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.reconnect = true
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout())
	defer cancel()

	conn, err := nostr.RelayConnect(dialCtx, url)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateError
		m.attempts++
		p.log.LogRelayConnection(url, m.state.String(), err)
		if p.cfg.Policy.AutoReconnect && m.reconnect {
			go p.reconnectLoop(m)
		}
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	p.log.LogRelayConnection(url, m.state.String(), nil)
	return nil
}

// Disconnect closes a relay connection and suppresses auto-reconnect
// until Connect is called again.
func (p *Pool) Disconnect(url string) {
	m := p.managed(url)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = false
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	p.log.LogRelayConnection(url, m.state.String(), nil)
}

// State returns the connection state of a relay
func (p *Pool) State(url string) ConnState {
	m, ok := p.relays.Load(url)
	if !ok {
		return StateDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// reconnectLoop retries a failed relay with bounded exponential backoff.
// It stops when the relay connects, reconnect is suppressed, or the pool
// shuts down.
func (p *Pool) reconnectLoop(m *managedRelay) {
	for {
		m.mu.Lock()
		if !m.reconnect || m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		delay := p.backoffDelay(m.attempts - 1)
		m.mu.Unlock()

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if !m.reconnect {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(p.ctx, p.connectTimeout())
		conn, err := nostr.RelayConnect(dialCtx, m.url)
		cancel()

		m.mu.Lock()
		if err != nil {
			m.state = StateError
			m.attempts++
			m.mu.Unlock()
			p.log.LogRelayConnection(m.url, StateError.String(), err)
			continue
		}
		m.conn = conn
		m.state = StateConnected
		m.attempts = 0
		m.mu.Unlock()
		p.log.LogRelayConnection(m.url, StateConnected.String(), nil)
		return
	}
}

// ensure returns a live connection for the relay, dialing if needed
func (p *Pool) ensure(ctx context.Context, url string) (*nostr.Relay, error) {
	m := p.managed(url)

	m.mu.Lock()
	if m.state == StateConnected && m.conn != nil && m.conn.IsConnected() {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	if err := p.Connect(ctx, url); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, fmt.Errorf("relay %s not connected", url)
	}
	return m.conn, nil
}

// markError transitions a relay into the error state and kicks off
// reconnection if enabled.
func (p *Pool) markError(url string, err error) {
	m := p.managed(url)

	m.mu.Lock()
	m.state = StateError
	m.attempts++
	if m.conn != nil {
		// The transport may still be open when only the subscribe failed
		m.conn.Close()
		m.conn = nil
	}
	shouldReconnect := p.cfg.Policy.AutoReconnect && m.reconnect
	m.mu.Unlock()

	p.log.LogRelayConnection(url, StateError.String(), err)
	if shouldReconnect {
		go p.reconnectLoop(m)
	}
}

type relayResult struct {
	url    string
	events []*nostr.Event
	err    error
}

// Query fans a one-shot request out to the given relays, waits for each
// relay's end-of-stream or the per-relay timeout, and returns the
// deduplicated union. Partial results are preferred over failure: the
// call errors only when no relay responded at all.
func (p *Pool) Query(ctx context.Context, urls []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(urls) == 0 {
		return nil, &NoRelaysAvailableError{Op: "query"}
	}

	start := time.Now()
	results := make(chan relayResult, len(urls))

	for _, url := range urls {
		go func(url string) {
			select {
			case p.querySem <- struct{}{}:
				defer func() { <-p.querySem }()
			case <-ctx.Done():
				results <- relayResult{url: url, err: ctx.Err()}
				return
			}
			events, err := p.queryOne(ctx, url, filter)
			results <- relayResult{url: url, events: events, err: err}
		}(url)
	}

	collected := make([]relayResult, 0, len(urls))
	for range urls {
		collected = append(collected, <-results)
	}
	merged, responded := mergeRelayResults(collected)

	p.log.LogQuery(len(urls), responded, len(merged), time.Since(start))

	if responded == 0 {
		return nil, &NoRelaysAvailableError{Op: "query"}
	}
	return merged, nil
}

// mergeRelayResults folds per-relay outcomes into a deduplicated union
// and the count of relays that responded. Failed relays are excluded;
// overlap between responders collapses to one event per ID.
func mergeRelayResults(results []relayResult) ([]*nostr.Event, int) {
	merged := make([]*nostr.Event, 0)
	seen := make(map[string]bool)
	responded := 0

	for _, res := range results {
		if res.err != nil {
			continue
		}
		responded++
		for _, evt := range res.events {
			if seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			merged = append(merged, evt)
		}
	}

	return merged, responded
}

// queryOne runs a single-relay request. A timeout returns whatever the
// relay delivered so far; only connect/subscribe failures count as the
// relay not responding.
func (p *Pool) queryOne(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	conn, err := p.ensure(ctx, url)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout())
	defer cancel()

	sub, err := conn.Subscribe(qctx, nostr.Filters{filter})
	if err != nil {
		p.markError(url, err)
		return nil, fmt.Errorf("subscribe failed on %s: %w", url, err)
	}
	defer sub.Unsub()

	events := make([]*nostr.Event, 0)
	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return events, nil
			}
			if evt != nil {
				events = append(events, evt)
			}
		case <-sub.EndOfStoredEvents:
			return events, nil
		case <-qctx.Done():
			return events, nil
		}
	}
}

// Publish sends an event to the given relays. It succeeds if at least one
// relay accepts the event.
func (p *Pool) Publish(ctx context.Context, urls []string, evt *nostr.Event) error {
	if len(urls) == 0 {
		return &NoRelaysAvailableError{Op: "publish"}
	}

	var lastErr error
	successCount := 0

	for _, url := range urls {
		conn, err := p.ensure(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if err := conn.Publish(ctx, *evt); err != nil {
			lastErr = err
			p.markError(url, err)
			continue
		}
		successCount++
	}

	if successCount == 0 {
		if lastErr != nil {
			return fmt.Errorf("failed to publish to any relay: %w", lastErr)
		}
		return &NoRelaysAvailableError{Op: "publish"}
	}
	return nil
}

// Stats reports pool state for diagnostics
func (p *Pool) Stats() *ops.PoolStats {
	stats := &ops.PoolStats{}
	p.relays.Range(func(_ string, m *managedRelay) bool {
		stats.Relays++
		m.mu.Lock()
		if m.state == StateConnected {
			stats.Connected++
		}
		m.mu.Unlock()
		return true
	})
	return stats
}

// Close shuts the pool down, closing all relay connections
func (p *Pool) Close() {
	p.cancel()
	p.relays.Range(func(_ string, m *managedRelay) bool {
		m.mu.Lock()
		m.reconnect = false
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.state = StateDisconnected
		m.mu.Unlock()
		return true
	})
}
