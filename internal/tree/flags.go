package tree

import "strings"

// Flags records what happened to a node or attribute since the last accepted
// checkpoint.
type Flags uint16

const (
	FlagDirty Flags = 1 << iota
	FlagDeleted
	FlagCreated
	FlagModified
	FlagMoved
	FlagSkip
	FlagProcessed
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagDirty, "dirty"},
	{FlagDeleted, "deleted"},
	{FlagCreated, "created"},
	{FlagModified, "modified"},
	{FlagMoved, "moved"},
	{FlagSkip, "skip"},
	{FlagProcessed, "processed"},
}

// Has reports whether every bit of x is set.
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

// Any reports whether at least one bit of x is set.
func (f Flags) Any(x Flags) bool {
	return f&x != 0
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
