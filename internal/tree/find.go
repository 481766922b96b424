package tree

import (
	"cfgsync/internal/xpath"
)

// Find resolves a path against the document. position, when >= 0, selects
// among comments matching the final segment by their comment ordinal.
// Elements are matched on name and, when the segment has one, id; the first
// match wins.
func (d *Document) Find(path string, position int) *Node {
	p, err := xpath.Parse(path)
	if err != nil {
		return nil
	}
	return d.FindPath(p, position)
}

// FindPath is Find for an already parsed path.
func (d *Document) FindPath(p xpath.Path, position int) *Node {
	if d.root == nil || len(p) == 0 {
		return nil
	}
	if !matches(d.root, p[0]) {
		return nil
	}
	cur := d.root
	for i, seg := range p[1:] {
		pos := -1
		if i == len(p)-2 {
			pos = position
		}
		cur = firstChildMatch(cur, seg, pos)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func firstChildMatch(parent *Node, seg xpath.Segment, position int) *Node {
	ordinal := 0
	for _, c := range parent.children {
		if c.kind == CommentNode {
			if seg.Name != CommentName {
				continue
			}
			if position >= 0 && ordinal != position {
				ordinal++
				continue
			}
			return c
		}
		if matches(c, seg) {
			return c
		}
	}
	return nil
}

func matches(n *Node, seg xpath.Segment) bool {
	if n.name != seg.Name {
		return false
	}
	if !seg.HasID {
		return true
	}
	id, ok := n.ID()
	return ok && id == seg.ID
}

// FindChild returns the child of parent that corresponds to needle: a
// comment with the same content, or an element with the same name and id.
func FindChild(parent, needle *Node) *Node {
	for _, c := range parent.children {
		if c.kind != needle.kind {
			continue
		}
		if c.kind == CommentNode {
			if c.content == needle.content {
				return c
			}
			continue
		}
		if matches(c, needle.segment()) {
			return c
		}
	}
	return nil
}
