// internal/diff/diff.go
package diff

import (
	"fmt"

	"cfgsync/internal/tree"

	"go.uber.org/zap"
)

// Stats counts what a calculation marked.
type Stats struct {
	Created  int
	Deleted  int
	Modified int
	Moved    int
	Denied   int
}

// Changes reports the total number of marked changes.
func (s Stats) Changes() int {
	return s.Created + s.Deleted + s.Modified + s.Moved
}

// Engine marks the differences between two versions of a document on the
// newer one, as if they had been made through the tracking API.
type Engine struct {
	lazy   bool
	logger *zap.Logger
}

type Option func(*Engine)

// WithLazy ignores changes in attribute order.
func WithLazy(lazy bool) Option {
	return func(e *Engine) { e.lazy = lazy }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calculate compares source with target and flags every difference on
// target. Target starts tracking if it was not already; any gate it carries
// is consulted for each change.
func (e *Engine) Calculate(source, target *tree.Document) (Stats, error) {
	var stats Stats
	src, tgt := source.Root(), target.Root()
	if src == nil || tgt == nil {
		return stats, fmt.Errorf("calculating changes: empty document")
	}
	if src.Name() != tgt.Name() {
		return stats, fmt.Errorf("calculating changes: root <%s> replaced by <%s>", src.Name(), tgt.Name())
	}
	srcID, _ := src.ID()
	tgtID, _ := tgt.ID()
	if srcID != tgtID {
		return stats, fmt.Errorf("calculating changes: root id %q replaced by %q", srcID, tgtID)
	}

	if !target.Tracking() {
		target.TrackChanges(nil)
	}
	e.diffNode(src, tgt, &stats)

	e.logger.Debug("calculated changes",
		zap.Int("created", stats.Created),
		zap.Int("deleted", stats.Deleted),
		zap.Int("modified", stats.Modified),
		zap.Int("moved", stats.Moved),
		zap.Int("denied", stats.Denied))
	return stats, nil
}

func (e *Engine) diffNode(old, cur *tree.Node, stats *Stats) {
	if cur.Flags().Has(tree.FlagProcessed) {
		return
	}
	cur.SetFlags(tree.FlagProcessed)

	e.diffAttrs(old, cur, stats)
	e.diffChildren(old, cur, stats)
}

func (e *Engine) diffAttrs(old, cur *tree.Node, stats *Stats) {
	created := map[string]bool{}
	var curOrder []string
	for _, a := range cur.Attrs() {
		created[a.Name] = true
		curOrder = append(curOrder, a.Name)
	}

	var common []string
	for _, oa := range old.Attrs() {
		value, ok := cur.Attr(oa.Name)
		if !ok {
			// Put the old value back so the removal goes through the
			// tracking API and the gate.
			cur.SetAttrUntracked(oa.Name, oa.Value)
			if err := cur.RemoveAttr(oa.Name); err != nil {
				e.denied(stats, cur, oa.Name, err)
				continue
			}
			stats.Modified++
			continue
		}

		delete(created, oa.Name)
		common = append(common, oa.Name)
		if value != oa.Value {
			cur.SetAttrUntracked(oa.Name, oa.Value)
			if err := cur.SetAttr(oa.Name, value); err != nil {
				e.denied(stats, cur, oa.Name, err)
				continue
			}
			stats.Modified++
		}
	}

	if !e.lazy {
		var curCommon []string
		for _, name := range curOrder {
			if !created[name] {
				curCommon = append(curCommon, name)
			}
		}
		kept := stableOrder(common, curCommon)
		for _, name := range curCommon {
			if !kept[name] {
				cur.MarkAttrMoved(name)
				stats.Moved++
			}
		}
	}

	for _, name := range curOrder {
		if !created[name] {
			continue
		}
		if !cur.MarkAttrCreated(name) {
			e.denied(stats, cur, name, nil)
			continue
		}
		stats.Modified++
	}
}

func (e *Engine) diffChildren(old, cur *tree.Node, stats *Stats) {
	oldKids := old.Children()
	curKids := cur.Children()
	oldMatch, curMatch := matchChildren(oldKids, curKids)

	var oldOrder, curOrder []*tree.Node
	for _, c := range oldKids {
		if oldMatch[c] != nil {
			oldOrder = append(oldOrder, c)
		}
	}
	for _, c := range curKids {
		if curMatch[c] != nil {
			curOrder = append(curOrder, curMatch[c])
		}
	}
	kept := stableOrder(oldOrder, curOrder)

	// A comment has no key a move record could address, so a reordered
	// comment is treated as deleted and re-created.
	for _, oc := range oldOrder {
		if oc.IsComment() && !kept[oc] {
			delete(curMatch, oldMatch[oc])
			delete(oldMatch, oc)
		}
	}

	deleted := map[*tree.Node]bool{}
	for _, oc := range oldKids {
		if cc := oldMatch[oc]; cc != nil {
			e.diffNode(oc, cc, stats)
			continue
		}
		e.markChildDeleted(oc, cur, commentPosition(oldKids, oc, deleted), stats)
		deleted[oc] = true
	}

	for _, cc := range curKids {
		oc := curMatch[cc]
		if oc == nil {
			cc.SetFlags(tree.FlagSkip)
			if !cc.MarkCreated() {
				e.denied(stats, cur, cc.Name(), nil)
				continue
			}
			stats.Created++
			continue
		}
		if !kept[oc] {
			cc.MarkMoved()
			stats.Moved++
		}
	}
}

// markChildDeleted re-attaches a copy of the vanished child and removes it
// through the tracking API, which records the deletion and consults the
// gate. A refused deletion leaves the copy in place.
func (e *Engine) markChildDeleted(oc, parent *tree.Node, position int, stats *Stats) {
	cp := oc.Clone()
	parent.AppendChildUntracked(cp)
	if err := cp.RemoveAt(position); err != nil {
		e.denied(stats, parent, oc.Name(), err)
		return
	}
	stats.Deleted++
}

func (e *Engine) denied(stats *Stats, n *tree.Node, what string, err error) {
	stats.Denied++
	e.logger.Debug("change refused by acl",
		zap.String("path", n.Path()),
		zap.String("target", what),
		zap.Error(err))
}

// commentPosition is the ordinal of a comment among the siblings that the
// receiver will still hold when the deletion is applied.
func commentPosition(kids []*tree.Node, target *tree.Node, deleted map[*tree.Node]bool) int {
	if !target.IsComment() {
		return -1
	}
	pos := 0
	for _, c := range kids {
		if c == target {
			break
		}
		if c.IsComment() && !deleted[c] {
			pos++
		}
	}
	return pos
}
