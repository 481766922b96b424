// Package xpath implements the restricted path grammar used to address nodes
// in patch records:
//
//	/cluster/configuration/nodes/node[@id='n1']
//
// Each segment is an element name with an optional id predicate. It is not
// general XPath.
package xpath

import (
	"fmt"
	"strings"
)

// Segment is one step of a path.
type Segment struct {
	Name string
	ID   string
	// HasID distinguishes [@id=''] from no predicate.
	HasID bool
}

func (s Segment) String() string {
	if s.HasID {
		return fmt.Sprintf("/%s[@id='%s']", s.Name, s.ID)
	}
	return "/" + s.Name
}

// Path is an absolute path from the document root.
type Path []Segment

func (p Path) String() string {
	var b strings.Builder
	for _, s := range p {
		b.WriteString(s.String())
	}
	return b.String()
}

// Parent returns the path without its final segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Last returns the final segment.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// HasPrefix reports whether p lies at or below prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if prefix[i] != p[i] {
			return false
		}
	}
	return true
}

// Parse parses an absolute path. Ids may not contain a single quote.
func Parse(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("path %q is not absolute", s)
	}

	var path Path
	rest := s
	for len(rest) > 0 {
		if rest[0] != '/' {
			return nil, fmt.Errorf("path %q: expected '/' at %q", s, rest)
		}
		rest = rest[1:]

		end := strings.IndexAny(rest, "/[")
		if end < 0 {
			end = len(rest)
		}
		seg := Segment{Name: rest[:end]}
		if seg.Name == "" {
			return nil, fmt.Errorf("path %q: empty element name", s)
		}
		rest = rest[end:]

		if strings.HasPrefix(rest, "[") {
			const open = "[@id='"
			if !strings.HasPrefix(rest, open) {
				return nil, fmt.Errorf("path %q: unsupported predicate %q", s, rest)
			}
			rest = rest[len(open):]
			closeAt := strings.Index(rest, "']")
			if closeAt < 0 {
				return nil, fmt.Errorf("path %q: unterminated predicate", s)
			}
			seg.ID = rest[:closeAt]
			seg.HasID = true
			rest = rest[closeAt+2:]
		}
		path = append(path, seg)
	}
	return path, nil
}

// MustParse is Parse for constant paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}
