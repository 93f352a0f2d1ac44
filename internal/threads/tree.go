package threads

import "sort"

// BuildReplyTree constructs the reply forest for a thread from a flat post
// set. It is a total function: malformed parent references never drop a
// post and never cause unbounded recursion.
//
// Parents that are missing, unknown in this thread, or self-referential
// collapse to root level. A post whose parent chain does not reach the
// thread root within len(posts) hops sits on a cycle and is demoted to
// root level as well. Sibling order is createdAt ascending with ID as the
// tiebreak, so rebuilds and independent peers holding the same event set
// agree on the result.
func BuildReplyTree(threadID string, posts []*Post) []*ReplyNode {
	if len(posts) == 0 {
		return []*ReplyNode{}
	}

	byID := make(map[string]*Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	parentOf := make(map[string]string, len(posts))
	for _, p := range posts {
		parent := p.ReplyToID
		if parent == "" || parent == p.ID {
			parent = threadID
		} else if parent != threadID {
			if _, known := byID[parent]; !known {
				parent = threadID
			}
		}
		parentOf[p.ID] = parent
	}

	// Detect cycles against the unmodified parent map so every member of a
	// cycle (and anything hanging off it) is demoted, not just the first
	// post the walk happens to start from.
	demoted := make(map[string]bool)
	for _, p := range posts {
		cur := p.ID
		terminated := false
		for hops := 0; hops <= len(posts); hops++ {
			parent := parentOf[cur]
			if parent == threadID {
				terminated = true
				break
			}
			cur = parent
		}
		if !terminated {
			demoted[p.ID] = true
		}
	}
	for id := range demoted {
		parentOf[id] = threadID
	}

	children := make(map[string][]*Post)
	for _, p := range posts {
		parent := parentOf[p.ID]
		children[parent] = append(children[parent], p)
	}
	for _, group := range children {
		sortPosts(group)
	}

	return buildNodes(threadID, children)
}

func buildNodes(parentID string, children map[string][]*Post) []*ReplyNode {
	group := children[parentID]
	nodes := make([]*ReplyNode, 0, len(group))
	for _, p := range group {
		nodes = append(nodes, &ReplyNode{
			Post:     p,
			Children: buildNodes(p.ID, children),
		})
	}
	return nodes
}

// sortPosts orders a sibling group by createdAt ascending, ties broken by
// ID lexical order.
func sortPosts(posts []*Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt < posts[j].CreatedAt
		}
		return posts[i].ID < posts[j].ID
	})
}

// FlattenForest returns the posts of a forest in depth-first order
func FlattenForest(nodes []*ReplyNode) []*Post {
	posts := make([]*Post, 0)
	var walk func([]*ReplyNode)
	walk = func(ns []*ReplyNode) {
		for _, n := range ns {
			posts = append(posts, n.Post)
			walk(n.Children)
		}
	}
	walk(nodes)
	return posts
}
