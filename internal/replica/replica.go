// Package replica holds one copy of the shared document and moves it
// forward, either by local updates that produce patches or by patches
// received from a peer.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfgsync/internal/engine"
	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/journal"
	"cfgsync/internal/logging"
	"cfgsync/internal/metrics"
	"cfgsync/internal/patchset"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome classifies a received patch.
type Outcome int

const (
	// Applied means the document now holds the patch's target version.
	Applied Outcome = iota
	// Ignored means the patch was already seen; nothing changed.
	Ignored
	// Resync means the replica fell behind or diverged and needs a full
	// copy. The document is left as it was before the patch.
	Resync
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return metrics.ResultApplied
	case Ignored:
		return metrics.ResultIgnored
	default:
		return metrics.ResultResync
	}
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Journal *journal.Journal
	Engine  engine.Options

	// Format for generated patches; FormatDefault follows the document's
	// feature set.
	Format patchset.Format
	// User and EnforceACL gate local updates.
	User       string
	EnforceACL bool
}

type Replica struct {
	ID string

	mu      sync.Mutex
	doc     *tree.Document
	engine  *engine.Engine
	format  patchset.Format
	user    string
	enforce bool
	metrics *metrics.Metrics
	journal *journal.Journal
	logger  *zap.Logger
	noisy   *zap.Logger
}

// New takes ownership of doc.
func New(doc *tree.Document, opts Options) *Replica {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("replica", id))
	opts.Engine.Logger = logger

	r := &Replica{
		ID:      id,
		doc:     doc,
		engine:  engine.New(opts.Engine),
		format:  opts.Format,
		user:    opts.User,
		enforce: opts.EnforceACL,
		metrics: opts.Metrics,
		journal: opts.Journal,
		logger:  logger,
		noisy:   logging.Sampled(logger, time.Second, 5, 100),
	}
	r.publishVersion()
	return r
}

// Snapshot returns a copy of the current document.
func (r *Replica) Snapshot() *tree.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

func (r *Replica) Version() version.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version()
}

func (r *Replica) version() version.Vector {
	if r.doc.Root() == nil {
		return version.Vector{}
	}
	return version.FromNode(r.doc.Root(), 0)
}

// Update runs fn against the tracked document and returns the resulting
// patch, or nil when fn changed nothing. If fn fails the document is
// restored.
func (r *Replica) Update(fn func(root *tree.Node) error) (patchset.Patchset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc.Root() == nil {
		return nil, fmt.Errorf("updating replica %s: document is empty", r.ID)
	}
	before := r.doc.Clone()
	if err := r.engine.BeginTracking(r.doc, r.user, nil, r.enforce); err != nil {
		return nil, err
	}
	defer r.doc.StopTracking()

	if err := fn(r.doc.Root()); err != nil {
		r.doc.Replace(before.Root())
		return nil, err
	}

	p, err := r.engine.GeneratePatch(before, r.doc, r.format, true)
	if err != nil {
		r.doc.Replace(before.Root())
		return nil, err
	}
	r.engine.AcceptChanges(r.doc)
	if p == nil {
		return nil, nil
	}

	if r.metrics != nil {
		r.metrics.RecordGenerated(p.Format().String())
	}
	r.record(p)
	r.publishVersion()
	r.logger.Info("local update", zap.String("patch", patchset.Summary(p)))
	return p, nil
}

// Receive applies a patch from a peer. On any failure other than a stale
// or duplicate patch the document is rolled back and Resync is returned.
// A nil patch, which Update returns when nothing changed, is ignored.
func (r *Replica) Receive(ctx context.Context, p patchset.Patchset) (Outcome, error) {
	if p == nil {
		return Ignored, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := logging.FromContext(ctx, r.logger)
	if r.doc.Root() == nil {
		return Resync, fmt.Errorf("replica %s has no document", r.ID)
	}

	before := r.doc.Clone()
	start := time.Now()
	err := r.engine.ApplyPatch(r.doc, p, true)
	outcome := classify(err)

	switch {
	case outcome == Applied:
		r.record(p)
		r.publishVersion()
		logger.Debug("applied patch", zap.String("patch", patchset.Summary(p)))
	case outcome == Ignored:
		logger.Debug("ignored patch", zap.String("patch", patchset.Summary(p)), zap.Error(err))
	default:
		r.doc.Replace(before.Root())
		if errors.Is(err, cerrors.ErrDigestMismatch) {
			if r.metrics != nil {
				r.metrics.RecordDigestMismatch()
			}
			r.noisy.Error("patch left the document in an unexpected state",
				zap.String("patch", patchset.Summary(p)), zap.Error(err))
		} else {
			r.noisy.Warn("patch could not be applied",
				zap.String("patch", patchset.Summary(p)), zap.Error(err))
		}
	}

	if r.metrics != nil {
		r.metrics.RecordApplied(p.Format().String(), outcome.String(), time.Since(start))
	}
	return outcome, err
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return Applied
	case errors.Is(err, cerrors.ErrVersionTooHigh), errors.Is(err, cerrors.ErrVersionUnchanged):
		return Ignored
	default:
		return Resync
	}
}

// Resync replaces the document with a full copy from a peer.
func (r *Replica) Resync(root *tree.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Replace(root)
	r.publishVersion()
	r.logger.Info("resynced", zap.Stringer("version", r.version()))
}

// CatchUp replays the patches src holds beyond the local version.
func (r *Replica) CatchUp(ctx context.Context, src *journal.Journal) (int, error) {
	chain, err := src.Since(r.Version())
	if err != nil {
		return 0, err
	}
	for i, p := range chain {
		outcome, err := r.Receive(ctx, p)
		if outcome == Resync {
			return i, err
		}
	}
	return len(chain), nil
}

func (r *Replica) record(p patchset.Patchset) {
	if r.journal == nil {
		return
	}
	if _, err := r.journal.Append(p); err != nil {
		r.logger.Warn("could not journal patch", zap.String("patch", patchset.Summary(p)), zap.Error(err))
	}
}

func (r *Replica) publishVersion() {
	if r.metrics != nil {
		r.metrics.SetVersion(r.version())
	}
}
