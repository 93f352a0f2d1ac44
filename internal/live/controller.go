// Package live drives live-updating views: it hydrates the event store
// from relays, holds long-lived subscriptions per open thread or board,
// and re-materializes the view whenever new events arrive.
package live

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/fourochan/fourochan/internal/config"
	"github.com/fourochan/fourochan/internal/ops"
	"github.com/fourochan/fourochan/internal/relay"
	"github.com/fourochan/fourochan/internal/store"
	"github.com/fourochan/fourochan/internal/threads"
)

// Snapshot is one immutable thread view handed to subscribers
type Snapshot struct {
	Thread    *threads.Thread
	Posts     []*threads.Post
	Tree      []*threads.ReplyNode
	Reactions map[string]*threads.Reaction
}

// BoardSnapshot is one immutable board catalog handed to subscribers
type BoardSnapshot struct {
	BoardID string
	Threads []*threads.Thread
}

// UpdateFunc receives thread snapshots
type UpdateFunc func(*Snapshot)

// BoardUpdateFunc receives board snapshots
type BoardUpdateFunc func(*BoardSnapshot)

// Controller manages the lifecycle of live thread and board views
type Controller struct {
	cfg       *config.Config
	pool      *relay.Pool
	store     *store.Store
	assembler *threads.Assembler
	log       *ops.Logger
}

// NewController creates a controller over the given pool and store
func NewController(cfg *config.Config, pool *relay.Pool, st *store.Store, log *ops.Logger) *Controller {
	if log == nil {
		log = ops.Default()
	}
	return &Controller{
		cfg:       cfg,
		pool:      pool,
		store:     st,
		assembler: threads.NewAssembler(st, log),
		log:       log.WithComponent("live"),
	}
}

// GetThread returns the current materialized thread, without touching the
// network.
func (c *Controller) GetThread(threadID string) (*threads.Thread, error) {
	view, err := c.assembler.AssembleThread(threadID)
	if err != nil {
		return nil, err
	}
	return view.Thread, nil
}

// GetPosts returns the current ordered posts of a thread
func (c *Controller) GetPosts(threadID string) ([]*threads.Post, error) {
	view, err := c.assembler.AssembleThread(threadID)
	if err != nil {
		return nil, err
	}
	return view.Posts, nil
}

// threadFilters builds the relay filters covering one thread: the root
// by ID plus everything tagged with it.
func (c *Controller) threadFilters(threadID string) nostr.Filters {
	return nostr.Filters{
		{IDs: []string{threadID}},
		{
			Kinds: threads.ThreadKindNums(),
			Tags:  nostr.TagMap{"e": []string{threadID}},
			Limit: c.cfg.Live.QueryLimit,
		},
	}
}

// hydrate pulls the given filters from all seed relays into the store.
// Negentropy reconciliation is tried first per relay; relays that cannot
// (or will not) speak it are queried with a plain REQ.
func (c *Controller) hydrate(ctx context.Context, filters nostr.Filters) error {
	seeds := c.cfg.Relays.Seeds

	reqURLs := make([]string, 0, len(seeds))
	synced := 0
	for _, url := range seeds {
		ok := false
		for _, filter := range filters {
			success, err := c.pool.NegentropySync(ctx, url, filter)
			if err != nil {
				c.log.Debug("negentropy failed", "relay", url, "error", err)
				break
			}
			if !success {
				break
			}
			ok = true
		}
		if ok {
			synced++
		} else {
			reqURLs = append(reqURLs, url)
		}
	}

	if len(reqURLs) == 0 {
		return nil
	}

	var lastErr error
	responded := false
	for _, filter := range filters {
		events, err := c.pool.Query(ctx, reqURLs, filter)
		if err != nil {
			lastErr = err
			continue
		}
		responded = true
		for _, evt := range events {
			if _, err := c.store.Put(evt); err != nil {
				c.log.Warn("dropping corrupt event during hydration",
					"event_id", evt.ID,
					"error", err)
			}
		}
	}

	if !responded && synced == 0 {
		return lastErr
	}
	return nil
}

// OpenThread hydrates a thread from the relays, opens a live subscription
// for it, and invokes onUpdate with a fresh snapshot now and after every
// qualifying arrival.
func (c *Controller) OpenThread(ctx context.Context, threadID string, onUpdate UpdateFunc) (*Handle, error) {
	filters := c.threadFilters(threadID)

	if err := c.hydrate(ctx, filters); err != nil {
		return nil, err
	}

	// The root must be present after hydration for the view to exist at all
	if _, err := c.assembler.AssembleThread(threadID); err != nil {
		return nil, err
	}

	h := c.newHandle(threadID, func() (int, bool) {
		view, err := c.assembler.AssembleThread(threadID)
		if err != nil {
			c.log.Warn("re-assembly failed", "thread_id", threadID, "error", err)
			return 0, false
		}
		onUpdate(snapshotOf(view))
		return len(view.Posts), true
	})

	sub, err := c.pool.Subscribe(ctx, c.cfg.Relays.Seeds, filters, func(evt *nostr.Event) {
		if eventConcernsThread(evt, threadID) {
			h.bump()
		}
	})
	if err != nil {
		return nil, err
	}
	h.sub = sub

	// The initial snapshot goes through the same single-flight loop as
	// live rebuilds, so notifications never arrive out of order.
	h.schedule()
	return h, nil
}

// SubscribeToThread is the materialized-view interface name for OpenThread
func (c *Controller) SubscribeToThread(ctx context.Context, threadID string, onUpdate UpdateFunc) (*Handle, error) {
	return c.OpenThread(ctx, threadID, onUpdate)
}

// CloseThread closes a live thread view handle. Idempotent.
func (c *Controller) CloseThread(h *Handle) {
	if h != nil {
		h.Close()
	}
}

// CloseBoard closes a live board view handle. Idempotent.
func (c *Controller) CloseBoard(h *Handle) {
	if h != nil {
		h.Close()
	}
}

// OpenBoard hydrates a board catalog and opens a live subscription for
// new threads on the board and replies to the threads known at open time.
func (c *Controller) OpenBoard(ctx context.Context, boardID string, onUpdate BoardUpdateFunc) (*Handle, error) {
	rootFilter := nostr.Filter{
		Kinds: []int{threads.RootKindNum()},
		Tags:  nostr.TagMap{"board": []string{boardID}},
		Limit: c.cfg.Live.QueryLimit,
	}

	if err := c.hydrate(ctx, nostr.Filters{rootFilter}); err != nil {
		return nil, err
	}

	limit := c.cfg.Display.Limits.MaxThreadsPerBoard
	catalog, err := c.assembler.AssembleBoard(boardID, limit)
	if err != nil {
		return nil, err
	}

	// Hydrate replies for the known threads so bump order is meaningful
	rootIDs := make([]string, 0, len(catalog))
	for _, t := range catalog {
		rootIDs = append(rootIDs, t.ID)
	}
	subFilters := nostr.Filters{rootFilter}
	if len(rootIDs) > 0 {
		replyFilter := nostr.Filter{
			Kinds: threads.ThreadKindNums(),
			Tags:  nostr.TagMap{"e": rootIDs},
			Limit: c.cfg.Live.QueryLimit,
		}
		if err := c.hydrate(ctx, nostr.Filters{replyFilter}); err != nil {
			c.log.Warn("board reply hydration failed", "board_id", boardID, "error", err)
		}
		subFilters = append(subFilters, replyFilter)
	}

	h := c.newHandle("board:"+boardID, func() (int, bool) {
		catalog, err := c.assembler.AssembleBoard(boardID, limit)
		if err != nil {
			c.log.Warn("board re-assembly failed", "board_id", boardID, "error", err)
			return 0, false
		}
		onUpdate(&BoardSnapshot{BoardID: boardID, Threads: catalog})
		return len(catalog), true
	})

	sub, err := c.pool.Subscribe(ctx, c.cfg.Relays.Seeds, subFilters, func(evt *nostr.Event) {
		h.bump()
	})
	if err != nil {
		return nil, err
	}
	h.sub = sub

	h.schedule()
	return h, nil
}

// newHandle wires a rebuild function into a debounced single-flight
// handle.
func (c *Controller) newHandle(key string, rebuild func() (int, bool)) *Handle {
	h := newHandle(key, func(h *Handle) {
		if n, ok := rebuild(); ok {
			c.log.LogLiveUpdate(key, n)
		}
	})

	if ms := c.cfg.Live.DebounceMs; ms > 0 {
		debounced := debounce.New(time.Duration(ms) * time.Millisecond)
		h.trigger = func() { debounced(h.schedule) }
	} else {
		h.trigger = h.schedule
	}
	return h
}

func snapshotOf(view *threads.ThreadView) *Snapshot {
	return &Snapshot{
		Thread:    view.Thread,
		Posts:     view.Posts,
		Tree:      view.Tree,
		Reactions: view.Reactions,
	}
}

// eventConcernsThread reports whether an event belongs to a thread's live
// view: the root itself or anything tagging it.
func eventConcernsThread(evt *nostr.Event, threadID string) bool {
	if evt.ID == threadID {
		return true
	}
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "e" && tag[1] == threadID {
			return true
		}
	}
	return false
}
