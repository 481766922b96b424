// Package version implements the (admin_epoch, epoch, num_updates) vector
// carried on a document root.
package version

import (
	"fmt"
	"strconv"

	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"

	"golang.org/x/mod/semver"
)

const (
	AttrAdminEpoch = "admin_epoch"
	AttrEpoch      = "epoch"
	AttrNumUpdates = "num_updates"
	AttrFeatureSet = "feature_set"
)

// Fields lists the vector attributes in comparison order.
var Fields = []string{AttrAdminEpoch, AttrEpoch, AttrNumUpdates}

type Vector struct {
	AdminEpoch int `json:"admin_epoch"`
	Epoch      int `json:"epoch"`
	NumUpdates int `json:"num_updates"`
}

func (v Vector) String() string {
	return fmt.Sprintf("%d.%d.%d", v.AdminEpoch, v.Epoch, v.NumUpdates)
}

func (v Vector) field(i int) int {
	switch i {
	case 0:
		return v.AdminEpoch
	case 1:
		return v.Epoch
	default:
		return v.NumUpdates
	}
}

func (v *Vector) set(i, value int) {
	switch i {
	case 0:
		v.AdminEpoch = value
	case 1:
		v.Epoch = value
	default:
		v.NumUpdates = value
	}
}

// Compare orders vectors lexicographically.
func (v Vector) Compare(o Vector) int {
	for i := range Fields {
		switch a, b := v.field(i), o.field(i); {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// Bump returns the vector after a change. A configuration change starts a
// new epoch.
func (v Vector) Bump(configChanged bool) Vector {
	if configChanged {
		v.Epoch++
		v.NumUpdates = 0
		return v
	}
	v.NumUpdates++
	return v
}

// FromNode reads the vector from n; missing or unparsable fields take def.
// Negative values are clamped to zero.
func FromNode(n *tree.Node, def int) Vector {
	var v Vector
	for i, name := range Fields {
		value := def
		if raw, ok := n.Attr(name); ok {
			if parsed, err := strconv.Atoi(raw); err == nil {
				value = parsed
			}
		}
		if value < 0 {
			value = 0
		}
		v.set(i, value)
	}
	return v
}

// Mask marks vector fields; bit i stands for Fields[i].
type Mask uint8

// AllFields marks every field.
const AllFields Mask = 1<<3 - 1

// Has reports whether field i is marked.
func (m Mask) Has(i int) bool { return m&(1<<i) != 0 }

// ReadNode reads the vector from n and reports which fields n does not
// carry. Missing fields read as zero.
func ReadNode(n *tree.Node) (Vector, Mask) {
	var missing Mask
	for i, name := range Fields {
		if _, ok := n.Attr(name); !ok {
			missing |= 1 << i
		}
	}
	return FromNode(n, 0), missing
}

// Fill returns v with the fields marked in missing taken from def.
func (v Vector) Fill(missing Mask, def Vector) Vector {
	for i := range Fields {
		if missing.Has(i) {
			v.set(i, def.field(i))
		}
	}
	return v
}

// Write stores the vector on n through the tracking API.
func (v Vector) Write(n *tree.Node) error {
	for i, name := range Fields {
		if err := n.SetAttr(name, strconv.Itoa(v.field(i))); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// Attrs returns the vector as name/value pairs in field order.
func (v Vector) Attrs() []string {
	out := make([]string, 0, 2*len(Fields))
	for i, name := range Fields {
		out = append(out, name, strconv.Itoa(v.field(i)))
	}
	return out
}

// AttrsExcept is Attrs without the fields marked in skip.
func (v Vector) AttrsExcept(skip Mask) []string {
	out := make([]string, 0, 2*len(Fields))
	for i, name := range Fields {
		if !skip.Has(i) {
			out = append(out, name, strconv.Itoa(v.field(i)))
		}
	}
	return out
}

// Check decides whether a patch from source to target may be applied to a
// receiver at current. The first differing field decides between too old
// and too high; a target that does not advance past source is refused.
func Check(current, source, target Vector) error {
	for i, name := range Fields {
		cur, src := current.field(i), source.field(i)
		if cur < src {
			return cerrors.VersionTooOld("current %s is %d, patch expects %d (%s -> %s)",
				name, cur, src, source, target)
		}
		if cur > src {
			return cerrors.VersionTooHigh("current %s is %d, patch expects %d (%s -> %s)",
				name, cur, src, source, target)
		}
	}
	if target.Compare(source) <= 0 {
		return cerrors.VersionUnchanged("patch does not advance %s", source)
	}
	return nil
}

// CompareFeatureSet compares dotted feature-set strings such as "3.0.8".
// Invalid strings sort before valid ones.
func CompareFeatureSet(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

func canonical(s string) string {
	if s == "" {
		return ""
	}
	if s[0] != 'v' {
		s = "v" + s
	}
	return s
}
