package tree

import (
	"fmt"

	cerrors "cfgsync/internal/errors"
)

func (n *Node) tracked() *Document {
	if n.doc != nil && n.doc.tracking {
		return n.doc
	}
	return nil
}

// MarkDirty flags n and every ancestor dirty, as well as the document.
// Ancestors of a dirty node are already dirty, so the walk stops there.
func (n *Node) MarkDirty() {
	for p := n; p != nil; p = p.parent {
		if p.flags.Has(FlagDirty) && p != n {
			break
		}
		p.flags |= FlagDirty
	}
	if n.doc != nil {
		n.doc.dirty = true
	}
}

// MarkCreated flags n and its subtree as created. When the gate refuses the
// creation the node is detached instead and false is returned.
func (n *Node) MarkCreated() bool {
	if d := n.tracked(); d != nil && !d.allowed(n, "") {
		n.detach()
		return false
	}
	n.Walk(func(c *Node) bool {
		c.flags |= FlagCreated
		return true
	})
	n.MarkDirty()
	return true
}

// MarkMoved flags n as repositioned among its siblings.
func (n *Node) MarkMoved() {
	n.flags |= FlagMoved
	n.MarkDirty()
}

// MarkAttrDirty flags a live attribute as changed.
func (n *Node) MarkAttrDirty(name string) {
	a := n.rawAttr(name)
	if a == nil {
		return
	}
	a.Flags = (a.Flags &^ FlagDeleted) | FlagDirty | FlagModified
	n.MarkDirty()
}

// MarkAttrCreated flags an attribute as new. When the gate refuses it the
// attribute is dropped and false is returned.
func (n *Node) MarkAttrCreated(name string) bool {
	a := n.rawAttr(name)
	if a == nil {
		return false
	}
	if d := n.tracked(); d != nil && !d.allowed(n, name) {
		n.dropAttr(name)
		return false
	}
	a.Flags = FlagCreated | FlagDirty | FlagModified
	n.MarkDirty()
	return true
}

// MarkAttrMoved flags an attribute whose position in the attribute list
// changed.
func (n *Node) MarkAttrMoved(name string) {
	a := n.rawAttr(name)
	if a == nil {
		return
	}
	a.Flags |= FlagDirty | FlagMoved
	n.MarkDirty()
}

// SetAttr sets an attribute, appending it when new. While tracking the
// change is flagged; rewriting the same value is not a change.
func (n *Node) SetAttr(name, value string) error {
	if n.kind == CommentNode {
		return fmt.Errorf("setting %s on a comment", name)
	}
	d := n.tracked()
	if d != nil && !d.allowed(n, name) {
		return cerrors.AccessDenied(n.Path(), name)
	}

	a := n.rawAttr(name)
	if a == nil {
		a = &Attr{Name: name, Value: value}
		n.attrs = append(n.attrs, a)
		if d != nil {
			a.Flags = FlagCreated | FlagDirty | FlagModified
			n.MarkDirty()
		}
		return nil
	}

	if a.Value == value && !a.Flags.Has(FlagDeleted) {
		return nil
	}
	a.Value = value
	if d != nil {
		a.Flags = (a.Flags &^ FlagDeleted) | FlagDirty | FlagModified
		n.MarkDirty()
	} else {
		a.Flags &^= FlagDeleted
	}
	return nil
}

// RemoveAttr removes an attribute. While tracking, attributes that existed
// before the session are tombstoned rather than dropped.
func (n *Node) RemoveAttr(name string) error {
	a := n.rawAttr(name)
	if a == nil || a.Flags.Has(FlagDeleted) {
		return nil
	}
	d := n.tracked()
	if d != nil && !d.allowed(n, name) {
		return cerrors.AccessDenied(n.Path(), name)
	}
	if d == nil || a.Flags.Has(FlagCreated) {
		n.dropAttr(name)
		if d != nil {
			n.MarkDirty()
		}
		return nil
	}
	a.Flags |= FlagDeleted | FlagDirty
	n.MarkDirty()
	return nil
}

// SetAttrUntracked writes an attribute without flags or gate checks.
func (n *Node) SetAttrUntracked(name, value string) {
	if a := n.rawAttr(name); a != nil {
		a.Value = value
		a.Flags &^= FlagDeleted
		return
	}
	n.attrs = append(n.attrs, &Attr{Name: name, Value: value})
}

// RemoveAttrUntracked drops an attribute without flags or gate checks.
func (n *Node) RemoveAttrUntracked(name string) {
	n.dropAttr(name)
}

// ReorderAttrs moves the named attributes to the front in the given order.
// Unnamed attributes keep their relative order after them.
func (n *Node) ReorderAttrs(order []string) {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	front := make([]*Attr, len(order))
	var rest []*Attr
	for _, a := range n.attrs {
		if r, ok := rank[a.Name]; ok && !a.Flags.Has(FlagDeleted) {
			front[r] = a
			continue
		}
		rest = append(rest, a)
	}
	out := make([]*Attr, 0, len(n.attrs))
	for _, a := range front {
		if a != nil {
			out = append(out, a)
		}
	}
	n.attrs = append(out, rest...)
}

func (n *Node) dropAttr(name string) {
	for i, a := range n.attrs {
		if a.Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return
		}
	}
}

// InsertChild attaches a detached node at index; an out-of-range index
// appends. While tracking the subtree is flagged created, unless the gate
// refuses it.
func (n *Node) InsertChild(child *Node, index int) error {
	if n.kind == CommentNode {
		return fmt.Errorf("inserting into a comment")
	}
	if child.parent != nil || (child.doc != nil && child.doc.root == child) {
		return fmt.Errorf("inserting %s: node is still attached", child.name)
	}
	n.attach(child, index)

	if d := n.tracked(); d != nil {
		if !child.MarkCreated() {
			return cerrors.AccessDenied(n.Path()+child.segment().String(), "")
		}
	}
	return nil
}

// AppendChild attaches a detached node as the last child.
func (n *Node) AppendChild(child *Node) error {
	return n.InsertChild(child, -1)
}

// AppendChildUntracked attaches a detached node without flags or gate
// checks.
func (n *Node) AppendChildUntracked(child *Node) {
	n.attach(child, -1)
}

// AddElement is a convenience for appending a new element.
func (n *Node) AddElement(name string, attrs ...string) (*Node, error) {
	child := NewElement(name, attrs...)
	if err := n.AppendChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

func (n *Node) attach(child *Node, index int) {
	child.parent = n
	if index < 0 || index >= len(n.children) {
		n.children = append(n.children, child)
	} else {
		n.children = append(n.children, nil)
		copy(n.children[index+1:], n.children[index:])
		n.children[index] = child
	}
	child.adopt(n.doc)
}

func (n *Node) detach() {
	if n.parent == nil {
		return
	}
	p := n.parent
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
	n.adopt(nil)
}

// Discard detaches n without consulting the gate or recording a deletion.
func (n *Node) Discard() {
	if n.parent != nil {
		n.parent.MarkDirty()
	}
	n.detach()
}

// Remove detaches n from the tree. While tracking a node that predates the
// session is recorded as a deleted object.
func (n *Node) Remove() error {
	pos := -1
	if n.kind == CommentNode {
		pos = n.CommentOrdinal()
	}
	return n.RemoveAt(pos)
}

// RemoveAt is Remove with the comment position supplied by the caller, for
// deletions computed against another copy of the tree.
func (n *Node) RemoveAt(position int) error {
	d := n.tracked()
	if n.parent == nil {
		if n.doc != nil && n.doc.root == n {
			doc := n.doc
			n.adopt(nil)
			doc.root = nil
			doc.dirty = true
		}
		return nil
	}
	if d != nil {
		if !d.allowed(n, "") {
			return cerrors.AccessDenied(n.Path(), "")
		}
		if !n.flags.Has(FlagCreated) {
			d.recordDeletion(n, position)
		}
		n.parent.MarkDirty()
	}
	n.detach()
	return nil
}

// MoveTo repositions n among its siblings. While tracking a comment that
// predates the session is recorded as deleted and re-created, since a move
// record cannot address it.
func (n *Node) MoveTo(index int) error {
	p := n.parent
	if p == nil {
		return fmt.Errorf("moving %s: node is detached", n.name)
	}
	if index < 0 || index >= len(p.children) {
		index = len(p.children) - 1
	}
	cur := n.Index()
	if cur == index {
		return nil
	}

	d := n.tracked()
	if d != nil && !d.allowed(n, "") {
		return cerrors.AccessDenied(n.Path(), "")
	}
	if d != nil && n.kind == CommentNode && !n.flags.Has(FlagCreated) {
		d.recordDeletion(n, n.CommentOrdinal())
		n.flags |= FlagCreated
	}

	p.children = append(p.children[:cur], p.children[cur+1:]...)
	p.children = append(p.children, nil)
	copy(p.children[index+1:], p.children[index:])
	p.children[index] = n

	if d != nil {
		if n.flags.Has(FlagCreated) {
			n.MarkDirty()
		} else {
			n.MarkMoved()
		}
	}
	return nil
}
