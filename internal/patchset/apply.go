package patchset

import (
	"fmt"
	"sort"
	"strings"

	"cfgsync/internal/digest"
	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"
	"cfgsync/internal/xpath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ApplyError collects the per-record failures of one apply. It unwraps to
// the most severe of them.
type ApplyError struct {
	Worst  *cerrors.Error
	Errors []error
}

func (e *ApplyError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d change(s) failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *ApplyError) Unwrap() error {
	if e.Worst == nil {
		return nil
	}
	return e.Worst
}

// Applier replays patchsets onto a local document.
type Applier struct {
	Logger *zap.Logger
}

func (a *Applier) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Apply validates p, optionally checks its versions against doc, replays
// it and verifies the digest when one is attached. Version and validation
// failures leave doc untouched. Any other failure leaves doc in its
// post-apply state; the caller decides whether to keep it.
func (a *Applier) Apply(doc *tree.Document, p Patchset, checkVersion bool) error {
	if p == nil {
		return cerrors.MalformedPatch("no patch")
	}
	if doc.Root() == nil {
		return fmt.Errorf("applying patch: document is empty")
	}
	if err := Validate(p); err != nil {
		return err
	}

	if checkVersion {
		current := version.FromNode(doc.Root(), 0)
		src, tgt := ResolveVersions(p, current)
		if err := version.Check(current, src, tgt); err != nil {
			return err
		}
	}

	var errs error
	switch p := p.(type) {
	case *V1:
		errs = a.applyV1(doc, p)
	case *V2:
		errs = a.applyV2(doc, p)
	}

	if expected, fs := p.DigestInfo(); expected != "" && doc.Root() != nil {
		if actual, ok := digest.Verify(doc.Root(), fs, expected); !ok {
			a.logger().Warn("digest mismatch after apply",
				zap.String("patch", Summary(p)),
				zap.String("expected", expected),
				zap.String("actual", actual))
			errs = multierr.Append(errs, cerrors.DigestMismatch(expected, actual))
		}
	}

	return combine(errs)
}

func combine(errs error) error {
	all := multierr.Errors(errs)
	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	}
	return &ApplyError{Worst: cerrors.Worst(errs), Errors: all}
}

// Validate checks that p is well formed before anything is mutated.
func Validate(p Patchset) error {
	switch p := p.(type) {
	case *V1:
		if len(p.Removed) != 1 {
			return cerrors.NonUniqueChangeset("removal", len(p.Removed))
		}
		if len(p.Added) != 1 {
			return cerrors.NonUniqueChangeset("addition", len(p.Added))
		}
	case *V2:
		for i, c := range p.Changes {
			if _, err := xpath.Parse(c.Path); err != nil {
				return cerrors.MalformedPatch("change %d: %v", i, err)
			}
			switch c.Op {
			case OpDelete:
			case OpCreate:
				if c.Node == nil {
					return cerrors.MalformedPatch("change %d: create at %s has no node", i, c.Path)
				}
				if c.Position < 0 {
					return cerrors.MalformedPatch("change %d: create at %s has no position", i, c.Path)
				}
			case OpMove:
				if c.Position < 0 {
					return cerrors.MalformedPatch("change %d: move of %s has no position", i, c.Path)
				}
			case OpModify:
				if len(c.Attrs) == 0 && len(c.Result) == 0 {
					return cerrors.MalformedPatch("change %d: modify of %s has no attributes", i, c.Path)
				}
				for _, ac := range c.Attrs {
					if ac.Op != AttrSet && ac.Op != AttrUnset {
						return cerrors.MalformedPatch("change %d: unknown attribute operation %q", i, ac.Op)
					}
				}
			default:
				return cerrors.MalformedPatch("change %d: unknown operation %q", i, c.Op)
			}
		}
	default:
		return cerrors.MalformedPatch("unknown patch type %T", p)
	}
	return nil
}

type staged struct {
	change Change
	node   *tree.Node
}

func (a *Applier) applyV2(doc *tree.Document, p *V2) error {
	var errs error
	var pending []staged

	for _, c := range p.Changes {
		path, _ := xpath.Parse(c.Path)
		pos := -1
		if c.Op == OpDelete {
			pos = c.Position
		}
		match := doc.FindPath(path, pos)
		if match == nil {
			if c.Op == OpDelete {
				a.logger().Debug("already deleted", zap.String("path", c.Path), zap.Int("position", c.Position))
				continue
			}
			a.logger().Warn("patch path did not resolve", zap.String("op", string(c.Op)), zap.String("path", c.Path))
			errs = multierr.Append(errs, cerrors.PathUnresolved(c.Path))
			continue
		}

		switch c.Op {
		case OpCreate:
			pending = append(pending, staged{change: c, node: match})
		case OpMove:
			parent := match.Parent()
			if parent == nil {
				errs = multierr.Append(errs, cerrors.PathUnresolved(c.Path+"/.."))
				continue
			}
			// Park the node at the end so positions of the remaining
			// records still refer to the original order.
			if err := match.MoveTo(parent.ChildCount() - 1); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			pending = append(pending, staged{change: c, node: match})
		case OpDelete:
			if err := match.Remove(); err != nil {
				errs = multierr.Append(errs, err)
			}
		case OpModify:
			errs = multierr.Append(errs, applyModify(match, c))
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].change.Position < pending[j].change.Position
	})

	for _, s := range pending {
		switch s.change.Op {
		case OpCreate:
			if err := s.node.InsertChild(s.change.Node.Clone(), s.change.Position); err != nil {
				errs = multierr.Append(errs, err)
			}
		case OpMove:
			if err := s.node.MoveTo(s.change.Position); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if idx := s.node.Index(); idx != s.change.Position {
				a.logger().Warn("moved to a different offset",
					zap.String("path", s.change.Path),
					zap.Int("wanted", s.change.Position),
					zap.Int("got", idx))
				errs = multierr.Append(errs, cerrors.New(cerrors.ErrorTypePathUnresolved,
					"%s moved to offset %d instead of %d", s.change.Path, idx, s.change.Position))
			}
		}
	}
	return errs
}

func applyModify(n *tree.Node, c Change) error {
	var errs error
	for _, ac := range c.Attrs {
		switch ac.Op {
		case AttrSet:
			errs = multierr.Append(errs, n.SetAttr(ac.Name, ac.Value))
		case AttrUnset:
			errs = multierr.Append(errs, n.RemoveAttr(ac.Name))
		}
	}
	if len(c.Result) > 0 {
		n.ReorderAttrs(attrNames(c.Result))
	}
	return errs
}
