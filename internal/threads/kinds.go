package threads

import "github.com/nbd-wtf/go-nostr"

// Kind is the semantic type of a protocol event. Dispatch on Kind instead
// of raw kind numbers so adding a new kind is a compile-checked extension
// point.
type Kind int

const (
	KindUnknown Kind = iota
	KindThreadRoot
	KindReply
	KindReaction
	KindProfile
	KindStat
)

// Wire kind numbers: thread roots are NIP-7D threads, replies NIP-22
// comments, reactions NIP-25, profiles kind 0, and thread stat payloads
// ride on NIP-78 application data.
const (
	kindThreadRootNum = 11
	kindReplyNum      = 1111
	kindReactionNum   = 7
	kindProfileNum    = 0
	kindStatNum       = 30078
)

// KindOf classifies an event
func KindOf(evt *nostr.Event) Kind {
	switch evt.Kind {
	case kindThreadRootNum:
		return KindThreadRoot
	case kindReplyNum:
		return KindReply
	case kindReactionNum:
		return KindReaction
	case kindProfileNum:
		return KindProfile
	case kindStatNum:
		return KindStat
	default:
		return KindUnknown
	}
}

// Num returns the wire kind number
func (k Kind) Num() int {
	switch k {
	case KindThreadRoot:
		return kindThreadRootNum
	case KindReply:
		return kindReplyNum
	case KindReaction:
		return kindReactionNum
	case KindProfile:
		return kindProfileNum
	case KindStat:
		return kindStatNum
	default:
		return -1
	}
}

func (k Kind) String() string {
	switch k {
	case KindThreadRoot:
		return "thread-root"
	case KindReply:
		return "reply"
	case KindReaction:
		return "reaction"
	case KindProfile:
		return "profile"
	case KindStat:
		return "stat"
	default:
		return "unknown"
	}
}

// ThreadKindNums returns the kind numbers that participate in a thread
// view, for use in relay filters.
func ThreadKindNums() []int {
	return []int{kindThreadRootNum, kindReplyNum, kindReactionNum, kindStatNum}
}

// RootKindNum returns the wire kind number of thread roots
func RootKindNum() int {
	return kindThreadRootNum
}

// ReplyKindNum returns the wire kind number of replies
func ReplyKindNum() int {
	return kindReplyNum
}
