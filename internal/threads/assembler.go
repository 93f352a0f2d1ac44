package threads

import (
	"fmt"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/fourochan/fourochan/internal/ops"
	"github.com/fourochan/fourochan/internal/store"
)

// ThreadNotFoundError indicates the thread root is absent from the event
// store. Distinct from connectivity failure: the store was reachable, the
// root just is not there.
type ThreadNotFoundError struct {
	ThreadID string
}

func (e *ThreadNotFoundError) Error() string {
	return fmt.Sprintf("thread not found: %s", e.ThreadID)
}

// Assembler materializes Thread and Post views from the event store. It
// is a pure function over the store's current contents: same events in,
// same view out, regardless of arrival order.
type Assembler struct {
	store *store.Store
	log   *ops.Logger
}

// NewAssembler creates an assembler reading from the given store
func NewAssembler(st *store.Store, log *ops.Logger) *Assembler {
	if log == nil {
		log = ops.Default()
	}
	return &Assembler{
		store: st,
		log:   log.WithComponent("assembler"),
	}
}

// ThreadView is the complete materialized view of one thread
type ThreadView struct {
	Thread    *Thread
	Posts     []*Post      // depth-first order matching Tree
	Tree      []*ReplyNode // ordered reply forest
	Reactions map[string]*Reaction
	Malformed int // reply events skipped for failing structural checks
}

// AssembleThread produces the current best-known view of a thread from
// everything in the store. Malformed replies are counted and skipped,
// never letting a single bad event abort assembly of the rest.
func (a *Assembler) AssembleThread(threadID string) (*ThreadView, error) {
	start := time.Now()

	root := a.store.Get(threadID)
	if root == nil || KindOf(root) != KindThreadRoot {
		return nil, &ThreadNotFoundError{ThreadID: threadID}
	}

	events := a.store.QueryByThread(threadID)

	posts := make([]*Post, 0, len(events))
	reactions := make(map[string]*Reaction)
	seen := make(map[string]bool, len(events))
	malformed := 0

	for _, evt := range events {
		// The store already guarantees unique IDs; re-assert here since the
		// whole view depends on it.
		if seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true

		switch KindOf(evt) {
		case KindReply:
			post, ok := a.buildPost(threadID, evt)
			if !ok {
				malformed++
				continue
			}
			if post != nil {
				posts = append(posts, post)
			}

		case KindReaction:
			target := TargetEventID(evt)
			if target == "" {
				continue
			}
			r := reactions[target]
			if r == nil {
				r = &Reaction{PostID: target, Counts: make(map[string]int)}
				reactions[target] = r
			}
			content := evt.Content
			if content == "" {
				content = "+"
			}
			r.Counts[content]++

		case KindThreadRoot:
			// Another thread's root quoting this one; not part of this view.

		case KindStat, KindProfile, KindUnknown:
			// Stat payloads are advisory: aggregates below are recomputed
			// from the reply set, never trusted from the wire.
		}
	}

	thread := buildThreadMeta(root, posts)
	tree := BuildReplyTree(threadID, posts)
	ordered := FlattenForest(tree)

	a.log.LogAssembly(threadID, len(ordered), malformed, time.Since(start))

	return &ThreadView{
		Thread:    thread,
		Posts:     ordered,
		Tree:      tree,
		Reactions: reactions,
		Malformed: malformed,
	}, nil
}

// buildPost converts a reply event into a Post. Returns (nil, true) for
// replies that belong to a different thread, and (nil, false) for
// structurally malformed ones.
func (a *Assembler) buildPost(threadID string, evt *nostr.Event) (*Post, bool) {
	info, err := ParseThreadInfo(evt)
	if err != nil {
		return nil, false
	}

	// A reply that references this thread only as a quote belongs to its
	// own root, not here.
	if info.RootID != threadID {
		return nil, true
	}

	media := MediaURLs(evt)
	if evt.Content == "" && len(media) == 0 {
		return nil, false
	}

	replyTo := info.ReplyToID
	if replyTo == threadID {
		// Direct replies to the root are root-level by definition
		replyTo = ""
	}

	return &Post{
		ID:           evt.ID,
		ThreadID:     threadID,
		ReplyToID:    replyTo,
		AuthorPubkey: evt.PubKey,
		CreatedAt:    evt.CreatedAt,
		Content:      evt.Content,
		Media:        media,
		References:   info.References,
	}, true
}

// buildThreadMeta derives the Thread view from the root event and the
// accepted reply set. Aggregates are recomputed in full on every call.
func buildThreadMeta(root *nostr.Event, posts []*Post) *Thread {
	lastReply := root.CreatedAt
	for _, p := range posts {
		if p.CreatedAt > lastReply {
			lastReply = p.CreatedAt
		}
	}

	return &Thread{
		ID:            root.ID,
		BoardID:       BoardID(root),
		Title:         Title(root),
		Content:       root.Content,
		Media:         MediaURLs(root),
		AuthorPubkey:  root.PubKey,
		CreatedAt:     root.CreatedAt,
		ReplyCount:    len(posts),
		LastReplyTime: lastReply,
	}
}

// AssembleBoard lists the threads of a board in bump order: most recently
// replied-to first, ID as the tiebreak. limit <= 0 means no limit.
func (a *Assembler) AssembleBoard(boardID string, limit int) ([]*Thread, error) {
	events := a.store.QueryByBoard(boardID)

	threads := make([]*Thread, 0, len(events))
	for _, evt := range events {
		if KindOf(evt) != KindThreadRoot {
			continue
		}
		view, err := a.AssembleThread(evt.ID)
		if err != nil {
			continue
		}
		threads = append(threads, view.Thread)
	}

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].LastReplyTime != threads[j].LastReplyTime {
			return threads[i].LastReplyTime > threads[j].LastReplyTime
		}
		return threads[i].ID < threads[j].ID
	})

	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}

	return threads, nil
}
