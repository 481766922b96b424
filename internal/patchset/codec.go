package patchset

import (
	"bytes"
	"strconv"

	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"
	"cfgsync/internal/xpath"
)

// Element and attribute names of the patch tree form.
const (
	tagDiff         = "diff"
	tagVersion      = "version"
	tagSource       = "source"
	tagTarget       = "target"
	tagChange       = "change"
	tagChangeList   = "change-list"
	tagChangeAttr   = "change-attr"
	tagChangeResult = "change-result"
	tagRemoved      = "diff-removed"
	tagAdded        = "diff-added"

	attrFormat     = "format"
	attrDigest     = "digest"
	attrFeatureSet = "feature_set"
	attrOperation  = "operation"
	attrPath       = "path"
	attrPosition   = "position"
	attrName       = "name"
	attrValue      = "value"
)

// Encode renders p in its tree form.
func Encode(p Patchset) *tree.Node {
	src, tgt := p.Versions()
	root := tree.NewElement(tagDiff, attrFormat, p.Format().String())
	if d, fs := p.DigestInfo(); d != "" {
		root.SetAttrUntracked(attrDigest, d)
		if fs != "" {
			root.SetAttrUntracked(attrFeatureSet, fs)
		}
	}

	var srcMissing, tgtMissing version.Mask
	switch p := p.(type) {
	case *V1:
		srcMissing, tgtMissing = p.SourceMissing, p.TargetMissing
	case *V2:
		srcMissing, tgtMissing = p.SourceMissing, p.TargetMissing
	}
	ver := tree.NewElement(tagVersion)
	ver.AppendChildUntracked(tree.NewElement(tagSource, src.AttrsExcept(srcMissing)...))
	ver.AppendChildUntracked(tree.NewElement(tagTarget, tgt.AttrsExcept(tgtMissing)...))
	root.AppendChildUntracked(ver)

	switch p := p.(type) {
	case *V1:
		removed := tree.NewElement(tagRemoved)
		for _, n := range p.Removed {
			removed.AppendChildUntracked(n.Clone())
		}
		added := tree.NewElement(tagAdded)
		for _, n := range p.Added {
			added.AppendChildUntracked(n.Clone())
		}
		root.AppendChildUntracked(removed)
		root.AppendChildUntracked(added)
	case *V2:
		for _, c := range p.Changes {
			root.AppendChildUntracked(encodeChange(c))
		}
	}
	return root
}

func encodeChange(c Change) *tree.Node {
	n := tree.NewElement(tagChange, attrOperation, string(c.Op), attrPath, c.Path)
	if c.Position >= 0 {
		n.SetAttrUntracked(attrPosition, strconv.Itoa(c.Position))
	}

	switch c.Op {
	case OpCreate:
		n.AppendChildUntracked(c.Node.Clone())
	case OpModify:
		list := tree.NewElement(tagChangeList)
		for _, ac := range c.Attrs {
			e := tree.NewElement(tagChangeAttr, attrName, ac.Name, attrOperation, string(ac.Op))
			if ac.Op == AttrSet {
				e.SetAttrUntracked(attrValue, ac.Value)
			}
			list.AppendChildUntracked(e)
		}
		n.AppendChildUntracked(list)

		result := tree.NewElement(tagChangeResult)
		post := tree.NewElement(resultName(c.Path))
		for _, a := range c.Result {
			post.SetAttrUntracked(a.Name, a.Value)
		}
		result.AppendChildUntracked(post)
		n.AppendChildUntracked(result)
	}
	return n
}

// resultName is the element name at the end of path, used to label the
// post-image of a modify.
func resultName(path string) string {
	if p, err := xpath.Parse(path); err == nil {
		if last, ok := p.Last(); ok {
			return last.Name
		}
	}
	return "result"
}

// Decode parses the tree form. A missing format attribute means format 1.
func Decode(n *tree.Node) (Patchset, error) {
	if n == nil || n.IsComment() || n.Name() != tagDiff {
		return nil, cerrors.MalformedPatch("patch root is not <%s>", tagDiff)
	}

	format := FormatV1
	if raw, ok := n.Attr(attrFormat); ok {
		f, err := strconv.Atoi(raw)
		if err != nil || (Format(f) != FormatV1 && Format(f) != FormatV2) {
			return nil, cerrors.MalformedPatch("unknown patch format %q", raw)
		}
		format = Format(f)
	}
	digest := n.AttrOr(attrDigest, "")
	fs := n.AttrOr(attrFeatureSet, "")

	// Fields absent from the wire are resolved against the receiver.
	var src, tgt version.Vector
	srcMissing, tgtMissing := version.AllFields, version.AllFields
	ver := n.FirstChild(tagVersion)
	if ver != nil {
		if s := ver.FirstChild(tagSource); s != nil {
			src, srcMissing = version.ReadNode(s)
		}
		if t := ver.FirstChild(tagTarget); t != nil {
			tgt, tgtMissing = version.ReadNode(t)
		}
	}

	if format == FormatV1 {
		p := &V1{Source: src, Target: tgt, SourceMissing: srcMissing, TargetMissing: tgtMissing,
			Digest: digest, FeatureSet: fs}
		if r := n.FirstChild(tagRemoved); r != nil {
			p.Removed = elementChildren(r)
		}
		if a := n.FirstChild(tagAdded); a != nil {
			p.Added = elementChildren(a)
		}
		// Older peers carry the vectors only on the projection roots.
		if ver == nil {
			if len(p.Removed) > 0 {
				p.Source, p.SourceMissing = version.ReadNode(p.Removed[0])
			}
			if len(p.Added) > 0 {
				p.Target, p.TargetMissing = version.ReadNode(p.Added[0])
			}
		}
		return p, nil
	}

	if ver == nil {
		return nil, cerrors.MalformedPatch("format 2 patch has no <%s>", tagVersion)
	}
	p := &V2{Source: src, Target: tgt, SourceMissing: srcMissing, TargetMissing: tgtMissing,
		Digest: digest, FeatureSet: fs}
	for _, cn := range n.Children() {
		if cn.IsComment() || cn.Name() != tagChange {
			continue
		}
		c, err := decodeChange(cn)
		if err != nil {
			return nil, err
		}
		p.Changes = append(p.Changes, c)
	}
	return p, nil
}

func decodeChange(n *tree.Node) (Change, error) {
	c := Change{
		Op:       Op(n.AttrOr(attrOperation, "")),
		Path:     n.AttrOr(attrPath, ""),
		Position: -1,
	}
	if c.Path == "" {
		return c, cerrors.MalformedPatch("%s record has no path", c.Op)
	}
	if raw, ok := n.Attr(attrPosition); ok {
		pos, err := strconv.Atoi(raw)
		if err != nil || pos < 0 {
			return c, cerrors.MalformedPatch("%s record for %s has bad position %q", c.Op, c.Path, raw)
		}
		c.Position = pos
	}

	switch c.Op {
	case OpDelete, OpMove:
	case OpCreate:
		kids := n.Children()
		if len(kids) != 1 {
			return c, cerrors.MalformedPatch("create record for %s holds %d nodes", c.Path, len(kids))
		}
		c.Node = kids[0].Clone()
	case OpModify:
		if list := n.FirstChild(tagChangeList); list != nil {
			for _, e := range list.Children() {
				if e.IsComment() || e.Name() != tagChangeAttr {
					continue
				}
				c.Attrs = append(c.Attrs, AttrChange{
					Op:    AttrOp(e.AttrOr(attrOperation, "")),
					Name:  e.AttrOr(attrName, ""),
					Value: e.AttrOr(attrValue, ""),
				})
			}
		}
		if result := n.FirstChild(tagChangeResult); result != nil {
			if post := elementChildren(result); len(post) > 0 {
				c.Result = post[0].Attrs()
			}
		}
	default:
		return c, cerrors.MalformedPatch("unknown operation %q", c.Op)
	}
	return c, nil
}

func elementChildren(n *tree.Node) []*tree.Node {
	var out []*tree.Node
	for _, c := range n.Children() {
		if !c.IsComment() {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Marshal serializes p as indented text.
func Marshal(p Patchset) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(p).Encode(&buf, tree.EncodeOptions{Indent: "  "}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a serialized patch.
func Unmarshal(data []byte) (Patchset, error) {
	n, err := tree.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, cerrors.MalformedPatch("%v", err)
	}
	return Decode(n)
}
