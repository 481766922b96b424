package patchset

import (
	"cfgsync/internal/digest"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"
)

const (
	// MarkerAttr tags the top of a subtree that was removed or added as a
	// whole in a format 1 projection.
	MarkerAttr    = "__crm_diff_marker__"
	MarkerRemoved = "removed:top"
	MarkerAdded   = "added:top"
)

func (g *Generator) createV1(source, target *tree.Node, config bool) *V1 {
	removed, _ := subtract(nil, source, target, false, MarkerRemoved)
	added, _ := subtract(nil, target, source, true, MarkerAdded)
	if removed == nil && added == nil {
		return nil
	}

	p := &V1{
		Source: version.FromNode(source, 1),
		Target: version.FromNode(target, 1),
	}

	// Stamp the version fields so a receiver ends up with the target's
	// vector whichever attributes the projections happen to carry.
	if removed == nil {
		removed = tree.NewElement(target.Name())
	}
	srcAttrs := p.Source.Attrs()
	for i := 0; i < len(srcAttrs); i += 2 {
		if config || srcAttrs[i] == version.AttrNumUpdates {
			removed.SetAttrUntracked(srcAttrs[i], srcAttrs[i+1])
		}
	}

	if added == nil {
		added = tree.NewElement(target.Name())
	}
	for _, a := range target.Attrs() {
		added.SetAttrUntracked(a.Name, a.Value)
	}
	added.ReorderAttrs(attrNames(target.Attrs()))

	p.Removed = []*tree.Node{removed}
	p.Added = []*tree.Node{added}
	return p
}

// subtract returns the parts of left that differ from right. In full mode
// a changed element carries all of its attributes; otherwise only the
// differing ones and its id. Elements missing from right are copied whole
// and tagged with marker.
func subtract(parent, left, right *tree.Node, full bool, marker string) (*tree.Node, bool) {
	if left == nil {
		return nil, false
	}

	if left.IsComment() {
		if right == nil || right.Content() != left.Content() {
			cp := left.Clone()
			attachUntracked(parent, cp)
			return cp, true
		}
		return nil, false
	}

	if right == nil {
		cp := left.Clone()
		cp.SetAttrUntracked(MarkerAttr, marker)
		attachUntracked(parent, cp)
		return cp, true
	}

	if left.Name() != right.Name() {
		return nil, false
	}

	diff := tree.NewElement(left.Name())
	changed := false
	for _, lc := range left.Children() {
		if _, c := subtract(diff, lc, tree.FindChild(right, lc), full, marker); c {
			changed = true
		}
	}

	if changed && full {
		copyAttrs(diff, left)
		attachUntracked(parent, diff)
		return diff, true
	}

	for _, a := range left.Attrs() {
		if a.Name == tree.IDAttr {
			diff.SetAttrUntracked(a.Name, a.Value)
			continue
		}
		if digest.IsFiltered(a.Name) {
			continue
		}
		if rv, ok := right.Attr(a.Name); ok && rv == a.Value {
			continue
		}
		changed = true
		if full {
			copyAttrs(diff, left)
			break
		}
		diff.SetAttrUntracked(a.Name, a.Value)
	}

	if !changed {
		return nil, false
	}
	attachUntracked(parent, diff)
	return diff, true
}

func attachUntracked(parent, child *tree.Node) {
	if parent != nil {
		parent.AppendChildUntracked(child)
	}
}

func copyAttrs(dst, src *tree.Node) {
	for _, a := range src.Attrs() {
		dst.SetAttrUntracked(a.Name, a.Value)
	}
	dst.ReorderAttrs(attrNames(src.Attrs()))
}

func attrNames(attrs []tree.Attr) []string {
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	return names
}

// Prune drops childless elements that carry nothing but an id from both
// projections. Marked subtrees are kept whole.
func (p *V1) Prune() {
	for _, n := range p.Removed {
		prune(n)
	}
	for _, n := range p.Added {
		prune(n)
	}
}

func prune(n *tree.Node) {
	for _, c := range n.Children() {
		if c.IsComment() {
			continue
		}
		if _, marked := c.Attr(MarkerAttr); marked {
			continue
		}
		prune(c)
		if c.ChildCount() > 0 {
			continue
		}
		attrs := c.Attrs()
		if len(attrs) == 0 || (len(attrs) == 1 && attrs[0].Name == tree.IDAttr) {
			c.Discard()
		}
	}
}
