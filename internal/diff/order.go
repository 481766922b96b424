package diff

import (
	"strings"
	"unicode/utf8"

	"cfgsync/internal/tree"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// stableOrder takes two orderings of the same items and returns the items
// that belong to a longest run of common relative order. Everything else
// has moved. Ties between equally long subsequences are broken by the Myers
// diff, which prefers keeping earlier items of before.
func stableOrder[T comparable](before, after []T) map[T]bool {
	kept := make(map[T]bool, len(after))
	if len(before) == 0 || len(after) == 0 {
		return kept
	}

	ids := make(map[T]rune, len(before))
	src := make([]rune, len(before))
	for i, item := range before {
		r := token(i)
		ids[item] = r
		src[i] = r
	}
	dst := make([]rune, len(after))
	for i, item := range after {
		dst[i] = ids[item]
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	pos := 0
	for _, d := range dmp.DiffMainRunes(src, dst, false) {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for k := 0; k < n; k++ {
				kept[after[pos+k]] = true
			}
			pos += n
		case diffmatchpatch.DiffInsert:
			pos += n
		}
	}
	return kept
}

// token maps an index onto a valid, non-surrogate rune so the sequence
// survives the string conversions inside the diff.
func token(i int) rune {
	r := rune(i + 1)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

// matchChildren pairs children of two versions of a node. Elements pair on
// name and id, comments on content; the k-th occurrence of a key pairs
// with the k-th occurrence on the other side.
func matchChildren(old, cur []*tree.Node) (oldMatch, curMatch map[*tree.Node]*tree.Node) {
	oldMatch = make(map[*tree.Node]*tree.Node, len(old))
	curMatch = make(map[*tree.Node]*tree.Node, len(cur))

	pending := map[string][]*tree.Node{}
	for _, c := range old {
		k := key(c)
		pending[k] = append(pending[k], c)
	}
	for _, c := range cur {
		k := key(c)
		queue := pending[k]
		if len(queue) == 0 {
			continue
		}
		oc := queue[0]
		pending[k] = queue[1:]
		oldMatch[oc] = c
		curMatch[c] = oc
	}
	return oldMatch, curMatch
}

func key(n *tree.Node) string {
	var b strings.Builder
	if n.IsComment() {
		b.WriteString("#comment\x00")
		b.WriteString(n.Content())
		return b.String()
	}
	b.WriteString(n.Name())
	if id, ok := n.ID(); ok {
		b.WriteString("\x00")
		b.WriteString(id)
	}
	return b.String()
}
