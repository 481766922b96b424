package patchset

import (
	"fmt"
	"strings"

	"cfgsync/internal/tree"
)

// Log renders p as human-readable lines, one per change:
//
//	Diff: --- 0.5.2 (source)
//	Diff: +++ 0.5.3 <digest>
//	-- /cluster/nodes/node[@id='n1']
//	++ /cluster/nodes: <node id="n2"/>
//	+  /cluster/nodes/node[@id='n3']:  @uname=n3
//	-  /cluster/nodes/node[@id='n3']:  @standby
//	+~ /cluster/nodes/node[@id='n4'] moved to offset 0
func Log(p Patchset) []string {
	src, tgt := p.Versions()
	digest, _ := p.DigestInfo()
	lines := []string{
		fmt.Sprintf("Diff: --- %s (source)", src),
		strings.TrimSpace(fmt.Sprintf("Diff: +++ %s %s", tgt, digest)),
	}

	switch p := p.(type) {
	case *V2:
		for _, c := range p.Changes {
			lines = append(lines, logChange(c)...)
		}
	case *V1:
		for _, n := range p.Removed {
			lines = logProjection(lines, n, "", '-', MarkerRemoved)
		}
		for _, n := range p.Added {
			lines = logProjection(lines, n, "", '+', MarkerAdded)
		}
	}
	return lines
}

func logChange(c Change) []string {
	switch c.Op {
	case OpDelete:
		if c.Position >= 0 {
			return []string{fmt.Sprintf("-- %s (comment %d)", c.Path, c.Position)}
		}
		return []string{"-- " + c.Path}
	case OpCreate:
		return []string{fmt.Sprintf("++ %s: %s", c.Path, c.Node.String())}
	case OpMove:
		return []string{fmt.Sprintf("+~ %s moved to offset %d", c.Path, c.Position)}
	case OpModify:
		out := make([]string, 0, len(c.Attrs))
		for _, ac := range c.Attrs {
			if ac.Op == AttrUnset {
				out = append(out, fmt.Sprintf("-  %s:  @%s", c.Path, ac.Name))
				continue
			}
			out = append(out, fmt.Sprintf("+  %s:  @%s=%s", c.Path, ac.Name, ac.Value))
		}
		return out
	}
	return nil
}

// logProjection walks one side of a format 1 patch. Whole subtrees are
// printed on one line; otherwise each carried attribute gets its own.
func logProjection(lines []string, n *tree.Node, parent string, sign byte, marker string) []string {
	if n.IsComment() {
		return append(lines, fmt.Sprintf("%c%c %s: <!--%s-->", sign, sign, parent, n.Content()))
	}

	path := parent + "/" + n.Name()
	if id, ok := n.ID(); ok {
		path = fmt.Sprintf("%s[@id='%s']", path, id)
	}

	if v, _ := n.Attr(MarkerAttr); v == marker {
		cp := n.Clone()
		cp.RemoveAttrUntracked(MarkerAttr)
		if sign == '-' {
			return append(lines, "-- "+path)
		}
		return append(lines, fmt.Sprintf("++ %s: %s", parent, cp.String()))
	}

	for _, a := range n.Attrs() {
		if a.Name == tree.IDAttr {
			continue
		}
		lines = append(lines, fmt.Sprintf("%c  %s:  @%s=%s", sign, path, a.Name, a.Value))
	}
	for _, c := range n.Children() {
		lines = logProjection(lines, c, path, sign, marker)
	}
	return lines
}
