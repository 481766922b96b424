// Package engine is the checkpoint boundary callers drive: begin tracking,
// generate a patch, apply a patch, accept changes.
package engine

import (
	"fmt"

	"cfgsync/internal/acl"
	"cfgsync/internal/diff"
	"cfgsync/internal/patchset"
	"cfgsync/internal/tree"

	"go.uber.org/zap"
)

type Options struct {
	Logger *zap.Logger
	// ConfigSection names the root child whose changes start a new epoch.
	ConfigSection string
	// WithDigest attaches digests to format 2 patches.
	WithDigest bool
	// FeatureSet keys digests when a document declares none.
	FeatureSet string
	// Lazy ignores attribute order when diffing untracked documents.
	Lazy bool
	// Privileged users bypass ACL evaluation.
	Privileged []string
}

type Engine struct {
	generator  *patchset.Generator
	applier    *patchset.Applier
	differ     *diff.Engine
	privileged []string
	logger     *zap.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator: &patchset.Generator{
			Logger:        logger.Named("generator"),
			ConfigSection: opts.ConfigSection,
			WithDigest:    opts.WithDigest,
			FeatureSet:    opts.FeatureSet,
		},
		applier:    &patchset.Applier{Logger: logger.Named("applier")},
		differ:     diff.NewEngine(diff.WithLazy(opts.Lazy), diff.WithLogger(logger.Named("diff"))),
		privileged: opts.Privileged,
		logger:     logger,
	}
}

// BeginTracking starts recording changes on doc. With enforce set, every
// tracked mutation is checked against the rules for user found in
// aclSource, or in doc itself when aclSource is nil.
func (e *Engine) BeginTracking(doc *tree.Document, user string, aclSource *tree.Node, enforce bool) error {
	if !enforce {
		doc.TrackChanges(nil)
		return nil
	}
	if aclSource == nil {
		aclSource = doc.Root()
	}
	gate, err := acl.New(aclSource, user, acl.Options{
		Privileged: e.privileged,
		Logger:     e.logger.Named("acl"),
	})
	if err != nil {
		return fmt.Errorf("loading acls for %s: %w", user, err)
	}
	doc.TrackChanges(gate)
	return nil
}

// GeneratePatch builds the patch from old to new. A new that carries no
// flagged changes, tracked or not, is first diffed against old; a gate
// installed by BeginTracking is consulted for every difference found.
func (e *Engine) GeneratePatch(old, new *tree.Document, format patchset.Format, manageVersion bool) (patchset.Patchset, error) {
	if !new.Tracking() || !new.Dirty() {
		if _, err := e.differ.Calculate(old, new); err != nil {
			return nil, err
		}
	}
	return e.generator.Create(old, new, format, manageVersion)
}

// ApplyPatch replays p onto doc.
func (e *Engine) ApplyPatch(doc *tree.Document, p patchset.Patchset, checkVersion bool) error {
	return e.applier.Apply(doc, p, checkVersion)
}

// AcceptChanges clears the tracking state of doc.
func (e *Engine) AcceptChanges(doc *tree.Document) {
	doc.AcceptChanges()
}
