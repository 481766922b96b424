package tree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Decode reads a single element tree. Text content is dropped; comments
// inside the root element are kept.
func Decode(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	var root, cur *Node

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding tree: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := NewElement(qualified(t.Name))
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				n.attrs = append(n.attrs, &Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if cur == nil {
				if root != nil {
					return nil, fmt.Errorf("decoding tree: more than one root element")
				}
				root = n
			} else {
				cur.attach(n, -1)
			}
			cur = n
		case xml.EndElement:
			if cur == nil || cur.name != qualified(t.Name) {
				return nil, fmt.Errorf("decoding tree: unexpected </%s>", qualified(t.Name))
			}
			cur = cur.parent
		case xml.Comment:
			if cur != nil {
				cur.attach(NewComment(string(t)), -1)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("decoding tree: no root element")
	}
	if cur != nil {
		return nil, fmt.Errorf("decoding tree: unterminated <%s>", cur.name)
	}
	return root, nil
}

func qualified(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

// Parse decodes a tree from a string.
func Parse(s string) (*Node, error) {
	return Decode(strings.NewReader(s))
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) *Node {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// LoadFile reads a document from disk.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	root, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewDocument(root), nil
}

// EncodeOptions controls serialization.
type EncodeOptions struct {
	// Indent is written once per depth level; empty means compact output.
	Indent string
	// SkipAttr drops attributes it returns true for.
	SkipAttr func(name string) bool
	// SortAttrs writes attributes ordered by name.
	SortAttrs bool
}

// Encode writes the live content of n.
func (n *Node) Encode(w io.Writer, opts EncodeOptions) error {
	var buf bytes.Buffer
	writeNode(&buf, n, opts, 0)
	if opts.Indent != "" {
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// String returns the compact serialization.
func (n *Node) String() string {
	var buf bytes.Buffer
	writeNode(&buf, n, EncodeOptions{}, 0)
	return buf.String()
}

// Indented returns a two-space indented serialization.
func (n *Node) Indented() string {
	var buf bytes.Buffer
	n.Encode(&buf, EncodeOptions{Indent: "  "})
	return buf.String()
}

func writeNode(buf *bytes.Buffer, n *Node, opts EncodeOptions, depth int) {
	if opts.Indent != "" && depth > 0 {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(opts.Indent, depth))
	}

	if n.kind == CommentNode {
		buf.WriteString("<!--")
		buf.WriteString(n.content)
		buf.WriteString("-->")
		return
	}

	buf.WriteByte('<')
	buf.WriteString(n.name)

	attrs := n.Attrs()
	if opts.SortAttrs {
		sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	}
	for _, a := range attrs {
		if opts.SkipAttr != nil && opts.SkipAttr(a.Name) {
			continue
		}
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		xml.EscapeText(buf, []byte(a.Value))
		buf.WriteByte('"')
	}

	if len(n.children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	for _, c := range n.children {
		writeNode(buf, c, opts, depth+1)
	}
	if opts.Indent != "" {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(opts.Indent, depth))
	}
	buf.WriteString("</")
	buf.WriteString(n.name)
	buf.WriteByte('>')
}

// WriteFile writes the document indented.
func (d *Document) WriteFile(path string) error {
	if d.root == nil {
		return fmt.Errorf("writing %s: document is empty", path)
	}
	return os.WriteFile(path, []byte(d.root.Indented()), 0644)
}
