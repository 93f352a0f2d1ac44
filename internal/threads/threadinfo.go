package threads

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ThreadInfo contains thread relationship information extracted from an event
type ThreadInfo struct {
	RootID     string   // The thread this event belongs to
	ReplyToID  string   // The direct parent event being replied to
	References []string // Other events explicitly quoted, distinct from ReplyToID
}

// ParseThreadInfo extracts thread relationship info from a reply event's e
// tags. Both the marked format (root/reply/mention markers) and the legacy
// positional format are understood.
func ParseThreadInfo(evt *nostr.Event) (*ThreadInfo, error) {
	if k := KindOf(evt); k != KindReply && k != KindThreadRoot {
		return nil, fmt.Errorf("expected thread-root or reply kind, got %d", evt.Kind)
	}

	eTags := make([]nostr.Tag, 0)
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			eTags = append(eTags, tag)
		}
	}

	if len(eTags) == 0 {
		// Not a reply, it's a root post
		return &ThreadInfo{References: make([]string, 0)}, nil
	}

	if hasMarkedTags(eTags) {
		return parseMarkedFormat(eTags), nil
	}

	return parsePositionalFormat(eTags), nil
}

// hasMarkedTags checks if any e tag has a marker (root/reply/mention)
func hasMarkedTags(eTags []nostr.Tag) bool {
	for _, tag := range eTags {
		if len(tag) >= 4 && tag[3] != "" {
			return true
		}
	}
	return false
}

// parseMarkedFormat parses marked e tags (preferred format)
func parseMarkedFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{References: make([]string, 0)}

	for _, tag := range eTags {
		eventID := tag[1]
		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}

		switch marker {
		case "root":
			info.RootID = eventID
		case "reply":
			info.ReplyToID = eventID
		case "mention":
			info.References = append(info.References, eventID)
		default:
			// No marker - treat as a quoted reference
			info.References = append(info.References, eventID)
		}
	}

	// A reply with no root marker is a direct reply to the thread root
	if info.ReplyToID != "" && info.RootID == "" {
		info.RootID = info.ReplyToID
	}

	return info
}

// parsePositionalFormat parses the deprecated positional e tag format
func parsePositionalFormat(eTags []nostr.Tag) *ThreadInfo {
	info := &ThreadInfo{References: make([]string, 0)}

	switch len(eTags) {
	case 1:
		// Single e tag: reply to this event (which is also the root)
		info.RootID = eTags[0][1]
		info.ReplyToID = eTags[0][1]

	case 2:
		// Two e tags: [root, reply]
		info.RootID = eTags[0][1]
		info.ReplyToID = eTags[1][1]

	default:
		// Many e tags: [root, ...references, reply]
		info.RootID = eTags[0][1]
		info.ReplyToID = eTags[len(eTags)-1][1]

		for i := 1; i < len(eTags)-1; i++ {
			info.References = append(info.References, eTags[i][1])
		}
	}

	return info
}

// IsReply returns true if this event replies to another event
func (ti *ThreadInfo) IsReply() bool {
	return ti.ReplyToID != ""
}

// IsRoot returns true if this event starts a new thread
func (ti *ThreadInfo) IsRoot() bool {
	return ti.RootID == "" && ti.ReplyToID == ""
}

// BoardID returns the board tag of a thread root, or "" if absent
func BoardID(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "board" {
			return tag[1]
		}
	}
	return ""
}

// Title returns the subject tag of a thread root, or "" if absent
func Title(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && (tag[0] == "subject" || tag[0] == "title") {
			return tag[1]
		}
	}
	return ""
}

// MediaURLs returns attached media from image and imeta tags
func MediaURLs(evt *nostr.Event) []string {
	media := make([]string, 0)
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "image":
			media = append(media, tag[1])
		case "imeta":
			for _, field := range tag[1:] {
				if len(field) > 4 && field[:4] == "url " {
					media = append(media, field[4:])
				}
			}
		}
	}
	return media
}

// TargetEventID returns the event a reaction or stat update points at,
// which is the first e tag by convention.
func TargetEventID(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}
