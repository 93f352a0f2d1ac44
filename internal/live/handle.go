package live

import (
	"sync"
	"sync/atomic"
)

// Handle is one open live view. Events that arrive for its key are
// coalesced: at most one rebuild runs at a time, with at most one more
// queued behind it. Close is idempotent; events arriving after Close are
// still stored but no longer notified.
type Handle struct {
	key string
	sub closer

	closed    atomic.Bool
	closeOnce sync.Once

	mu       sync.Mutex
	inFlight bool
	pending  bool

	rebuild func(*Handle)
	trigger func()
}

type closer interface {
	Close()
}

func newHandle(key string, rebuild func(*Handle)) *Handle {
	h := &Handle{key: key, rebuild: rebuild}
	h.trigger = h.schedule
	return h
}

// Key returns the identifier this handle tracks
func (h *Handle) Key() string {
	return h.key
}

// bump signals that an event relevant to this view arrived
func (h *Handle) bump() {
	if h.closed.Load() {
		return
	}
	h.trigger()
}

// schedule starts a rebuild, or marks one pending if a rebuild is already
// running. The running rebuild drains the pending flag before finishing,
// so a burst of arrivals yields at most one follow-up rebuild.
func (h *Handle) schedule() {
	if h.closed.Load() {
		return
	}
	h.mu.Lock()
	if h.inFlight {
		h.pending = true
		h.mu.Unlock()
		return
	}
	h.inFlight = true
	h.mu.Unlock()

	go func() {
		for {
			if !h.closed.Load() {
				h.rebuild(h)
			}
			h.mu.Lock()
			if h.pending && !h.closed.Load() {
				h.pending = false
				h.mu.Unlock()
				continue
			}
			h.inFlight = false
			h.pending = false
			h.mu.Unlock()
			return
		}
	}()
}

// Close stops notifications and tears down the subscription. Safe to call
// multiple times.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.sub != nil {
			h.sub.Close()
		}
	})
}

// Closed reports whether the handle has been closed
func (h *Handle) Closed() bool {
	return h.closed.Load()
}
