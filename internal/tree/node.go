package tree

import (
	"fmt"

	"cfgsync/internal/xpath"
)

type Kind uint8

const (
	ElementNode Kind = iota
	CommentNode
)

const (
	// CommentName is the element name comments are addressed by in paths.
	CommentName = "comment"
	IDAttr      = "id"
)

// Attr is a single attribute. A tombstoned attribute (FlagDeleted) stays in
// place until AcceptChanges so its removal can be reported.
type Attr struct {
	Name  string
	Value string
	Flags Flags
}

// Node is an element or a comment.
type Node struct {
	kind     Kind
	name     string
	content  string
	attrs    []*Attr
	children []*Node
	parent   *Node
	doc      *Document
	flags    Flags
}

// NewElement creates a detached element. attrs are name/value pairs.
func NewElement(name string, attrs ...string) *Node {
	if len(attrs)%2 != 0 {
		panic(fmt.Sprintf("tree: odd attribute list for <%s>", name))
	}
	n := &Node{kind: ElementNode, name: name}
	for i := 0; i < len(attrs); i += 2 {
		n.attrs = append(n.attrs, &Attr{Name: attrs[i], Value: attrs[i+1]})
	}
	return n
}

// NewComment creates a detached comment.
func NewComment(content string) *Node {
	return &Node{kind: CommentNode, name: CommentName, content: content}
}

func (n *Node) Kind() Kind          { return n.kind }
func (n *Node) Name() string        { return n.name }
func (n *Node) Content() string     { return n.content }
func (n *Node) Parent() *Node       { return n.parent }
func (n *Node) Document() *Document { return n.doc }
func (n *Node) Flags() Flags        { return n.flags }
func (n *Node) IsComment() bool     { return n.kind == CommentNode }

// SetFlags sets bits in the node's flag set without touching ancestors.
func (n *Node) SetFlags(f Flags) { n.flags |= f }

// ClearFlags clears bits in the node's flag set.
func (n *Node) ClearFlags(f Flags) { n.flags &^= f }

// Children returns a snapshot of the child list.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

func (n *Node) ChildCount() int { return len(n.children) }

func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// FirstChild returns the first child element with the given name.
func (n *Node) FirstChild(name string) *Node {
	for _, c := range n.children {
		if c.kind == ElementNode && c.name == name {
			return c
		}
	}
	return nil
}

// Index returns the node's position among its siblings, or -1 when detached.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.children {
		if c == n {
			return i
		}
	}
	return -1
}

// CommentOrdinal is the zero-based position of a comment among the sibling
// comments that existed before the current tracking session.
func (n *Node) CommentOrdinal() int {
	if n.parent == nil {
		return 0
	}
	pos := 0
	for _, c := range n.parent.children {
		if c == n {
			break
		}
		if c.kind == CommentNode && !c.flags.Has(FlagCreated) {
			pos++
		}
	}
	return pos
}

// Attr returns the value of a live attribute.
func (n *Node) Attr(name string) (string, bool) {
	a := n.rawAttr(name)
	if a == nil || a.Flags.Has(FlagDeleted) {
		return "", false
	}
	return a.Value, true
}

// AttrOr returns the attribute value or def when absent.
func (n *Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// Attrs returns copies of the live attributes in order.
func (n *Node) Attrs() []Attr {
	out := make([]Attr, 0, len(n.attrs))
	for _, a := range n.attrs {
		if !a.Flags.Has(FlagDeleted) {
			out = append(out, *a)
		}
	}
	return out
}

// RawAttrs returns the attribute list including tombstones.
func (n *Node) RawAttrs() []*Attr {
	return n.attrs
}

// ID returns the stable key of the node. Tombstoned ids still count, since
// a peer that has not seen the removal knows the node by it.
func (n *Node) ID() (string, bool) {
	a := n.rawAttr(IDAttr)
	if a == nil {
		return "", false
	}
	return a.Value, true
}

func (n *Node) rawAttr(name string) *Attr {
	for _, a := range n.attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (n *Node) segment() xpath.Segment {
	if n.kind == CommentNode {
		return xpath.Segment{Name: CommentName}
	}
	seg := xpath.Segment{Name: n.name}
	if id, ok := n.ID(); ok {
		seg.ID = id
		seg.HasID = true
	}
	return seg
}

// PathSegments returns the node's path from the root.
func (n *Node) PathSegments() xpath.Path {
	var depth int
	for p := n; p != nil; p = p.parent {
		depth++
	}
	path := make(xpath.Path, depth)
	for p := n; p != nil; p = p.parent {
		depth--
		path[depth] = p.segment()
	}
	return path
}

// Path returns the node's path as a string.
func (n *Node) Path() string {
	return n.PathSegments().String()
}

// Clone returns a detached deep copy of the live content with flags cleared.
func (n *Node) Clone() *Node {
	c := &Node{kind: n.kind, name: n.name, content: n.content}
	for _, a := range n.attrs {
		if a.Flags.Has(FlagDeleted) {
			continue
		}
		c.attrs = append(c.attrs, &Attr{Name: a.Name, Value: a.Value})
	}
	for _, child := range n.children {
		cc := child.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Equal reports whether two subtrees have the same names, comments, live
// attributes (in order) and children.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind || a.name != b.name || a.content != b.content {
		return false
	}
	aa, ba := a.Attrs(), b.Attrs()
	if len(aa) != len(ba) {
		return false
	}
	for i := range aa {
		if aa[i].Name != ba[i].Name || aa[i].Value != ba[i].Value {
			return false
		}
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

func (n *Node) adopt(doc *Document) {
	n.doc = doc
	for _, c := range n.children {
		c.adopt(doc)
	}
}
