// Package patchset generates and applies the deltas replicas exchange.
//
// Two formats exist. Format 2 is an ordered list of create, delete, modify
// and move records addressed by path. Format 1 is the legacy pair of
// removed/added projections kept for peers older than MinV2FeatureSet.
package patchset

import (
	"fmt"

	"cfgsync/internal/tree"
	"cfgsync/internal/version"
)

type Format int

const (
	// FormatDefault lets the generator pick from the source feature set.
	FormatDefault Format = 0
	FormatV1      Format = 1
	FormatV2      Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatV1:
		return "1"
	case FormatV2:
		return "2"
	default:
		return "default"
	}
}

// MinV2FeatureSet is the newest feature set that only understands format 1.
const MinV2FeatureSet = "3.0.8"

// SelectFormat picks the format a peer declaring featureSet can consume.
func SelectFormat(featureSet string) Format {
	if version.CompareFeatureSet(featureSet, MinV2FeatureSet) > 0 {
		return FormatV2
	}
	return FormatV1
}

// Patchset is either a *V1 or a *V2.
type Patchset interface {
	Format() Format
	Versions() (source, target version.Vector)
	// DigestInfo returns the expected post-apply digest and the feature set
	// its rules are keyed by. An empty digest means none was attached.
	DigestInfo() (digest, featureSet string)
	setDigest(digest, featureSet string)
}

type Op string

const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpModify Op = "modify"
	OpMove   Op = "move"
)

type AttrOp string

const (
	AttrSet   AttrOp = "set"
	AttrUnset AttrOp = "unset"
)

// AttrChange is one entry of a modify record.
type AttrChange struct {
	Op    AttrOp
	Name  string
	Value string
}

// Change is one format 2 record.
type Change struct {
	Op   Op
	Path string
	// Position is the target index for create and move, the comment
	// ordinal for deletes of comments, and -1 otherwise.
	Position int
	// Node is the subtree a create inserts.
	Node *tree.Node
	// Attrs lists the attribute edits of a modify.
	Attrs []AttrChange
	// Result is the attribute set after a modify, in order.
	Result []tree.Attr
}

// V2 is a format 2 patchset.
type V2 struct {
	Source  version.Vector
	Target  version.Vector
	Changes []Change
	// SourceMissing and TargetMissing mark fields the wire form left out.
	// A receiver fills them from its own version.
	SourceMissing version.Mask
	TargetMissing version.Mask
	Digest        string
	FeatureSet    string
}

func (p *V2) Format() Format { return FormatV2 }

func (p *V2) Versions() (version.Vector, version.Vector) { return p.Source, p.Target }

func (p *V2) DigestInfo() (string, string) { return p.Digest, p.FeatureSet }

func (p *V2) setDigest(d, fs string) { p.Digest, p.FeatureSet = d, fs }

// Count returns how many records of op the patch holds.
func (p *V2) Count(op Op) int {
	n := 0
	for _, c := range p.Changes {
		if c.Op == op {
			n++
		}
	}
	return n
}

// V1 is a format 1 patchset. Each phase must hold exactly one root.
type V1 struct {
	Source        version.Vector
	Target        version.Vector
	SourceMissing version.Mask
	TargetMissing version.Mask
	Removed       []*tree.Node
	Added         []*tree.Node
	Digest        string
	FeatureSet    string
}

func (p *V1) Format() Format { return FormatV1 }

func (p *V1) Versions() (version.Vector, version.Vector) { return p.Source, p.Target }

func (p *V1) DigestInfo() (string, string) { return p.Digest, p.FeatureSet }

func (p *V1) setDigest(d, fs string) { p.Digest, p.FeatureSet = d, fs }

// ResolveVersions returns the versions of p as a receiver at current reads
// them. Fields the patch leaves out take the receiver's values; a missing
// target num_updates is one past the receiver's.
func ResolveVersions(p Patchset, current version.Vector) (version.Vector, version.Vector) {
	src, tgt := p.Versions()
	var srcMissing, tgtMissing version.Mask
	switch p := p.(type) {
	case *V2:
		srcMissing, tgtMissing = p.SourceMissing, p.TargetMissing
	case *V1:
		srcMissing, tgtMissing = p.SourceMissing, p.TargetMissing
	}
	next := current
	next.NumUpdates++
	return src.Fill(srcMissing, current), tgt.Fill(tgtMissing, next)
}

// Summary is a one-line description used in logs.
func Summary(p Patchset) string {
	if p == nil {
		return "no patch"
	}
	src, tgt := p.Versions()
	switch p := p.(type) {
	case *V2:
		return fmt.Sprintf("format 2 %s -> %s: %d changes", src, tgt, len(p.Changes))
	case *V1:
		return fmt.Sprintf("format 1 %s -> %s", src, tgt)
	default:
		return "unknown patchset"
	}
}
