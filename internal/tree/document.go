package tree

// ACLGate decides whether a tracked mutation may stick. attr is empty when
// the question is about the element itself.
type ACLGate interface {
	IsWriteAllowed(n *Node, attr string) bool
	// Apply re-evaluates the gate against the document and reverts pending
	// changes it does not allow.
	Apply(d *Document)
}

// DeletedObject describes a node removed while tracking. Position is only
// meaningful for comments and is -1 otherwise.
type DeletedObject struct {
	Path     string
	Position int
}

// Document owns a root node and the tracking state for it.
type Document struct {
	root       *Node
	tracking   bool
	aclEnabled bool
	gate       ACLGate
	deleted    []DeletedObject
	dirty      bool
}

// NewDocument wraps root. A root that already belongs to another document
// is cloned first.
func NewDocument(root *Node) *Document {
	if root != nil && (root.parent != nil || root.doc != nil) {
		root = root.Clone()
	}
	d := &Document{root: root}
	if root != nil {
		root.adopt(d)
	}
	return d
}

func (d *Document) Root() *Node { return d.root }

// Clone returns an untracked deep copy.
func (d *Document) Clone() *Document {
	if d.root == nil {
		return &Document{}
	}
	return NewDocument(d.root.Clone())
}

// Replace swaps the root for a fresh copy of root and drops all tracking
// state. It is the full-resync path.
func (d *Document) Replace(root *Node) {
	if d.root != nil {
		d.root.adopt(nil)
	}
	d.root = nil
	if root != nil {
		d.root = root.Clone()
		d.root.adopt(d)
	}
	d.deleted = nil
	d.dirty = false
}

func (d *Document) Tracking() bool   { return d.tracking }
func (d *Document) ACLEnabled() bool { return d.aclEnabled }
func (d *Document) Dirty() bool      { return d.dirty }

// TrackChanges turns on change tracking. With a non-nil gate every tracked
// mutation is checked against it.
func (d *Document) TrackChanges(gate ACLGate) {
	d.tracking = true
	d.gate = gate
	d.aclEnabled = gate != nil
	if gate != nil {
		gate.Apply(d)
	}
}

// StopTracking leaves flags in place but stops recording new changes.
func (d *Document) StopTracking() {
	d.tracking = false
}

// DisableACL stops enforcement for the rest of the session. Version
// management runs with ACLs off.
func (d *Document) DisableACL() {
	d.aclEnabled = false
}

// DeletedObjects returns the deletions recorded so far, in order.
func (d *Document) DeletedObjects() []DeletedObject {
	return append([]DeletedObject(nil), d.deleted...)
}

// AcceptChanges clears all flags, drops tombstoned attributes and forgets
// recorded deletions.
func (d *Document) AcceptChanges() {
	d.deleted = nil
	if d.root != nil {
		acceptNode(d.root)
	}
	d.dirty = false
}

func acceptNode(n *Node) {
	n.flags = 0
	live := n.attrs[:0]
	for _, a := range n.attrs {
		if a.Flags.Has(FlagDeleted) {
			continue
		}
		a.Flags = 0
		live = append(live, a)
	}
	for i := len(live); i < len(n.attrs); i++ {
		n.attrs[i] = nil
	}
	n.attrs = live
	for _, c := range n.children {
		acceptNode(c)
	}
}

func (d *Document) allowed(n *Node, attr string) bool {
	if !d.aclEnabled || d.gate == nil {
		return true
	}
	return d.gate.IsWriteAllowed(n, attr)
}

func (d *Document) recordDeletion(n *Node, position int) {
	if n.kind != CommentNode {
		position = -1
	}
	d.deleted = append(d.deleted, DeletedObject{Path: n.Path(), Position: position})
	d.dirty = true
}

// ApplyACL re-runs the gate, if any, against the current tree.
func (d *Document) ApplyACL() {
	if d.aclEnabled && d.gate != nil {
		d.gate.Apply(d)
	}
}
