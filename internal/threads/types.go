package threads

import "github.com/nbd-wtf/go-nostr"

// Thread is the materialized view of a thread root plus its derived
// aggregates. It is rebuilt on demand from the event store and never
// persisted as a source of truth; consumers treat it as read-only.
type Thread struct {
	ID            string
	BoardID       string
	Title         string
	Content       string
	Media         []string
	AuthorPubkey  string
	CreatedAt     nostr.Timestamp
	ReplyCount    int
	LastReplyTime nostr.Timestamp
}

// Post is the materialized view of a single reply
type Post struct {
	ID           string
	ThreadID     string
	ReplyToID    string // parent as declared; may be missing or unknown
	AuthorPubkey string
	CreatedAt    nostr.Timestamp
	Content      string
	Media        []string
	References   []string
}

// ReplyNode is one node of the reply forest
type ReplyNode struct {
	Post     *Post
	Children []*ReplyNode
}

// Reaction is an aggregate of likes/dislikes on a single post
type Reaction struct {
	PostID string
	Counts map[string]int // reaction content -> count
}
