package patchset

import (
	"fmt"

	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// applyV1 subtracts the removed projection and then merges the added one.
// New elements land after their existing siblings; format 1 carries no
// positions.
func (a *Applier) applyV1(doc *tree.Document, p *V1) error {
	removed, added := p.Removed[0], p.Added[0]
	root := doc.Root()
	if removed.Name() != root.Name() || added.Name() != root.Name() {
		return cerrors.PathUnresolved(fmt.Sprintf("/%s", removed.Name()))
	}

	errs := a.removeV1(root, removed)
	if doc.Root() == nil {
		return errs
	}
	errs = multierr.Append(errs, a.addV1(doc.Root(), doc.Root(), added))
	purgeMarkers(doc.Root())
	return errs
}

func (a *Applier) removeV1(target, patch *tree.Node) error {
	if patch.IsComment() {
		return target.Remove()
	}
	if v, _ := patch.Attr(MarkerAttr); v == MarkerRemoved {
		a.logger().Debug("removing subtree", zap.String("path", target.Path()))
		return target.Remove()
	}

	var errs error
	for _, attr := range patch.Attrs() {
		if attr.Name == tree.IDAttr || attr.Name == MarkerAttr {
			continue
		}
		errs = multierr.Append(errs, target.RemoveAttr(attr.Name))
	}
	for _, pc := range patch.Children() {
		tc := tree.FindChild(target, pc)
		if tc == nil {
			continue
		}
		errs = multierr.Append(errs, a.removeV1(tc, pc))
	}
	return errs
}

// addV1 merges patch into target. target is nil when the element does not
// exist yet under parent.
func (a *Applier) addV1(parent, target, patch *tree.Node) error {
	if patch.IsComment() {
		if tree.FindChild(parent, patch) != nil {
			return nil
		}
		return parent.AppendChild(patch.Clone())
	}

	if target == nil {
		cp := patch.Clone()
		purgeMarkers(cp)
		a.logger().Debug("adding subtree", zap.String("parent", parent.Path()), zap.String("name", cp.Name()))
		return parent.AppendChild(cp)
	}

	var errs error
	var order []string
	for _, attr := range patch.Attrs() {
		if attr.Name == MarkerAttr {
			continue
		}
		order = append(order, attr.Name)
		errs = multierr.Append(errs, target.SetAttr(attr.Name, attr.Value))
	}
	target.ReorderAttrs(order)

	for _, pc := range patch.Children() {
		errs = multierr.Append(errs, a.addV1(target, tree.FindChild(target, pc), pc))
	}
	return errs
}

func purgeMarkers(n *tree.Node) {
	n.Walk(func(c *tree.Node) bool {
		if !c.IsComment() {
			c.RemoveAttrUntracked(MarkerAttr)
		}
		return true
	})
}
