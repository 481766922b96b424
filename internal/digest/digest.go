// Package digest computes canonical content hashes of document trees.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"cfgsync/internal/tree"
	"cfgsync/internal/version"
)

// SortedRulesBefore is the first feature set that hashes attributes in
// document order. Older peers sort them by name.
const SortedRulesBefore = "3.0.5"

// FilteredAttrs are bookkeeping attributes that differ between replicas and
// never take part in a digest or a format 1 diff.
var FilteredAttrs = []string{
	"crm-debug-origin",
	"cib-last-written",
	"update-origin",
	"update-client",
	"update-user",
}

// IsFiltered reports whether name is one of FilteredAttrs.
func IsFiltered(name string) bool {
	for _, f := range FilteredAttrs {
		if f == name {
			return true
		}
	}
	return false
}

// Rules selects a canonicalization.
type Rules int

const (
	RulesSorted  Rules = 1
	RulesOrdered Rules = 2
)

// RulesFor returns the canonicalization rules for a feature set.
func RulesFor(featureSet string) Rules {
	if featureSet != "" && version.CompareFeatureSet(featureSet, SortedRulesBefore) < 0 {
		return RulesSorted
	}
	return RulesOrdered
}

// Canonical serializes n without whitespace, tombstoned or filtered
// attributes.
func Canonical(n *tree.Node, rules Rules) []byte {
	var buf bytes.Buffer
	n.Encode(&buf, tree.EncodeOptions{
		SkipAttr:  IsFiltered,
		SortAttrs: rules == RulesSorted,
	})
	return buf.Bytes()
}

// Calculate returns the hex digest of n under the rules of featureSet.
func Calculate(n *tree.Node, featureSet string) string {
	if n == nil {
		return ""
	}
	sum := sha256.Sum256(Canonical(n, RulesFor(featureSet)))
	return hex.EncodeToString(sum[:])
}

// Of hashes a document using the feature set declared on its root.
func Of(d *tree.Document) string {
	root := d.Root()
	if root == nil {
		return ""
	}
	return Calculate(root, root.AttrOr(version.AttrFeatureSet, ""))
}

// Verify reports whether n hashes to expected.
func Verify(n *tree.Node, featureSet, expected string) (string, bool) {
	actual := Calculate(n, featureSet)
	return actual, actual == expected
}
