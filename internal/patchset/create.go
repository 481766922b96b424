package patchset

import (
	"fmt"
	"strings"

	"cfgsync/internal/digest"
	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"go.uber.org/zap"
)

// DefaultConfigSection is the root child whose changes start a new epoch.
const DefaultConfigSection = "configuration"

// Generator turns the flags on a tracked target into a patchset.
type Generator struct {
	Logger *zap.Logger
	// ConfigSection names the root child that holds configuration.
	ConfigSection string
	// WithDigest attaches a digest to format 2 patches. Format 1 always
	// carries one.
	WithDigest bool
	// FeatureSet keys the digest when the source declares none.
	FeatureSet string
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Generator) section() string {
	if g.ConfigSection == "" {
		return DefaultConfigSection
	}
	return g.ConfigSection
}

// Create builds the patch from source to the tracked target. A clean target
// yields a nil patch and no error. With manageVersion the target's version
// vector is bumped first, which itself becomes part of the patch.
func (g *Generator) Create(source, target *tree.Document, format Format, manageVersion bool) (Patchset, error) {
	if target.Root() == nil || !target.Dirty() {
		return nil, nil
	}
	if source.Root() == nil {
		return nil, fmt.Errorf("creating patch: source document is empty")
	}

	srcFeatures := source.Root().AttrOr(version.AttrFeatureSet, "")
	if format == FormatDefault {
		format = SelectFormat(srcFeatures)
	}
	if format != FormatV1 && format != FormatV2 {
		return nil, cerrors.MalformedPatch("unknown patch format %d", format)
	}

	config := g.IsConfigChange(target)
	if manageVersion {
		target.DisableACL()
		next := version.FromNode(target.Root(), 0).Bump(config)
		if err := next.Write(target.Root()); err != nil {
			return nil, fmt.Errorf("bumping version: %w", err)
		}
	} else {
		src := version.FromNode(source.Root(), 1)
		tgt := version.FromNode(target.Root(), 1)
		if tgt.Compare(src) <= 0 {
			return nil, cerrors.VersionUnchanged("target version %s does not advance source %s", tgt, src)
		}
	}

	var p Patchset
	switch format {
	case FormatV1:
		v1 := g.createV1(source.Root(), target.Root(), config)
		if v1 == nil {
			return nil, nil
		}
		p = v1
	case FormatV2:
		v2 := g.createV2(source, target)
		if len(v2.Changes) == 0 {
			return nil, nil
		}
		p = v2
	}

	if format == FormatV1 || g.WithDigest {
		fs := srcFeatures
		if fs == "" {
			fs = g.FeatureSet
		}
		p.setDigest(digest.Calculate(target.Root(), fs), fs)
	}

	g.logger().Debug("created patch",
		zap.String("summary", Summary(p)),
		zap.Bool("config_changed", config))
	return p, nil
}

// IsConfigChange reports whether the pending changes touch the
// configuration section and so require a new epoch.
func (g *Generator) IsConfigChange(d *tree.Document) bool {
	root := d.Root()
	if root == nil {
		return false
	}
	if cfg := root.FirstChild(g.section()); cfg != nil && cfg.Flags().Has(tree.FlagDirty) {
		return true
	}
	prefix := root.Path() + "/" + g.section()
	for _, del := range d.DeletedObjects() {
		if strings.HasPrefix(del.Path, prefix) {
			return true
		}
	}
	return false
}

func (g *Generator) createV2(source, target *tree.Document) *V2 {
	p := &V2{
		Source: version.FromNode(source.Root(), 1),
		Target: version.FromNode(target.Root(), 1),
	}
	for _, del := range target.DeletedObjects() {
		p.Changes = append(p.Changes, Change{
			Op:       OpDelete,
			Path:     del.Path,
			Position: del.Position,
		})
	}
	p.Changes = buildChanges(target.Root(), p.Changes)
	return p
}

func buildChanges(n *tree.Node, changes []Change) []Change {
	flags := n.Flags()
	if !flags.Any(tree.FlagDirty | tree.FlagCreated) {
		return changes
	}

	parent := n.Parent()
	if flags.Has(tree.FlagCreated) && parent != nil {
		return append(changes, Change{
			Op:       OpCreate,
			Path:     parent.Path(),
			Position: n.Index(),
			Node:     n.Clone(),
		})
	}

	var attrs []AttrChange
	for _, a := range n.RawAttrs() {
		switch {
		case a.Flags.Has(tree.FlagDeleted):
			attrs = append(attrs, AttrChange{Op: AttrUnset, Name: a.Name})
		case a.Flags.Has(tree.FlagDirty):
			attrs = append(attrs, AttrChange{Op: AttrSet, Name: a.Name, Value: a.Value})
		}
	}
	if len(attrs) > 0 {
		changes = append(changes, Change{
			Op:       OpModify,
			Path:     n.Path(),
			Position: -1,
			Attrs:    attrs,
			Result:   n.Attrs(),
		})
	}

	for _, c := range n.Children() {
		changes = buildChanges(c, changes)
	}

	if flags.Has(tree.FlagMoved) && parent != nil {
		changes = append(changes, Change{
			Op:       OpMove,
			Path:     n.Path(),
			Position: n.Index(),
		})
	}
	return changes
}
