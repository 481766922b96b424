// internal/journal/journal.go
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfgsync/internal/digest"
	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/patchset"
	"cfgsync/internal/storage"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

var (
	// ErrGap means the journal cannot bridge from the requested version; the
	// peer needs a full resync.
	ErrGap          = errors.New("no patch chain from version")
	ErrCorrupt      = errors.New("journal entry does not match its hash")
	ErrNoCheckpoint = errors.New("no checkpoint")
)

// Entry describes one stored patch.
type Entry struct {
	ID         string         `json:"id"`
	Source     version.Vector `json:"source"`
	Target     version.Vector `json:"target"`
	Format     int            `json:"format"`
	Digest     string         `json:"digest,omitempty"`
	Hash       string         `json:"hash"`
	Size       int            `json:"size"`
	Compressed bool           `json:"compressed"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GetID keys entries by target version so the store lists them in order.
func (e *Entry) GetID() string { return versionKey(e.Target) }

// Checkpoint is a stored snapshot of a whole document.
type Checkpoint struct {
	ID         string         `json:"id"`
	Version    version.Vector `json:"version"`
	Digest     string         `json:"digest"`
	Hash       string         `json:"hash"`
	Compressed bool           `json:"compressed"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (c *Checkpoint) GetID() string { return versionKey(c.Version) }

func versionKey(v version.Vector) string {
	return fmt.Sprintf("%010d.%010d.%010d", v.AdminEpoch, v.Epoch, v.NumUpdates)
}

// Options configures a Journal.
type Options struct {
	CacheSize int // Number of decoded patches to cache
	// Compression applies field by field: a zero MinSize compresses every
	// body, a zero Level takes the default level.
	Compression CompressionOptions
	Logger      *zap.Logger
}

// Journal persists accepted patches so peers that fell behind can catch up
// without a full resync.
type Journal struct {
	entries     *storage.BadgerStore
	checkpoints *storage.BadgerStore
	cache       *lru.Cache[string, []byte]
	cm          *compressionManager
	logger      *zap.Logger
	mu          sync.Mutex
}

func New(db *badger.DB, opts Options) (*Journal, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Journal{
		entries:     storage.NewBadgerStore(db, "patch"),
		checkpoints: storage.NewBadgerStore(db, "checkpoint"),
		cache:       cache,
		cm:          cm,
		logger:      opts.Logger,
	}, nil
}

// Append stores p. A second patch to the same target version is refused.
func (j *Journal) Append(p patchset.Patchset) (*Entry, error) {
	data, err := patchset.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding patch: %w", err)
	}

	src, tgt := p.Versions()
	if tgt.Compare(src) <= 0 {
		return nil, cerrors.VersionUnchanged("patch %s -> %s does not advance", src, tgt)
	}
	d, _ := p.DigestInfo()
	e := &Entry{
		ID:        uuid.NewString(),
		Source:    src,
		Target:    tgt,
		Format:    int(p.Format()),
		Digest:    d,
		Hash:      hashContent(data),
		Size:      len(data),
		CreatedAt: time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	body, compressed := j.cm.compress(data)
	e.Compressed = compressed
	if err := j.entries.Create(e); err != nil {
		return nil, fmt.Errorf("storing patch to %s: %w", tgt, err)
	}
	if err := j.entries.PutBlob(e.ID, body); err != nil {
		j.rollback(j.entries, e.GetID())
		return nil, fmt.Errorf("storing patch body: %w", err)
	}
	j.cache.Add(e.ID, data)

	j.logger.Debug("journaled patch",
		zap.String("id", e.ID),
		zap.Stringer("source", src),
		zap.Stringer("target", tgt),
		zap.Bool("compressed", compressed))
	return e, nil
}

// List returns all entries ordered by target version.
func (j *Journal) List() ([]*Entry, error) {
	var entries []*Entry
	if err := j.entries.List(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Find returns the entry with the given id, or whose target version
// prints as id.
func (j *Journal) Find(id string) (*Entry, error) {
	entries, err := j.List()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id || e.Target.String() == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

// Patch loads and decodes the patch of e.
func (j *Journal) Patch(e *Entry) (patchset.Patchset, error) {
	data, err := j.load(e.ID, e.Hash)
	if err != nil {
		return nil, err
	}
	return patchset.Unmarshal(data)
}

func (j *Journal) load(id, hash string) ([]byte, error) {
	if data, ok := j.cache.Get(id); ok {
		return data, nil
	}

	body, err := j.entries.GetBlob(id)
	if errors.Is(err, storage.ErrNotFound) {
		body, err = j.checkpoints.GetBlob(id)
	}
	if err != nil {
		return nil, err
	}
	data, err := j.cm.decompress(body)
	if err != nil {
		return nil, err
	}
	if hashContent(data) != hash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	j.cache.Add(id, data)
	return data, nil
}

// Since returns the patches that take a peer at v to the newest journaled
// version, in order. A peer already there gets none; a peer the journal
// cannot bridge gets ErrGap.
func (j *Journal) Since(v version.Vector) ([]patchset.Patchset, error) {
	entries, err := j.List()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 || entries[len(entries)-1].Target == v {
		return nil, nil
	}

	bySource := make(map[version.Vector]*Entry, len(entries))
	for _, e := range entries {
		bySource[e.Source] = e
	}

	var chain []patchset.Patchset
	for cur := v; ; {
		e, ok := bySource[cur]
		if !ok {
			break
		}
		p, err := j.Patch(e)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
		cur = e.Target
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w %s", ErrGap, v)
	}
	if _, last := chain[len(chain)-1].Versions(); last != entries[len(entries)-1].Target {
		return nil, fmt.Errorf("%w %s: chain stops at %s", ErrGap, v, last)
	}
	return chain, nil
}

// Checkpoint stores a snapshot of doc at its current version.
func (j *Journal) Checkpoint(doc *tree.Document) (*Checkpoint, error) {
	if doc.Root() == nil {
		return nil, fmt.Errorf("checkpoint of an empty document")
	}
	data := []byte(doc.Root().Indented())
	c := &Checkpoint{
		ID:        uuid.NewString(),
		Version:   version.FromNode(doc.Root(), 0),
		Digest:    digest.Of(doc),
		Hash:      hashContent(data),
		CreatedAt: time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	body, compressed := j.cm.compress(data)
	c.Compressed = compressed
	if err := j.checkpoints.Create(c); err != nil {
		return nil, fmt.Errorf("storing checkpoint at %s: %w", c.Version, err)
	}
	if err := j.checkpoints.PutBlob(c.ID, body); err != nil {
		j.rollback(j.checkpoints, c.GetID())
		return nil, fmt.Errorf("storing checkpoint body: %w", err)
	}
	return c, nil
}

// LatestCheckpoint loads the newest snapshot.
func (j *Journal) LatestCheckpoint() (*Checkpoint, *tree.Document, error) {
	var all []*Checkpoint
	if err := j.checkpoints.List(&all); err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, ErrNoCheckpoint
	}
	c := all[len(all)-1]

	data, err := j.load(c.ID, c.Hash)
	if err != nil {
		return nil, nil, err
	}
	root, err := tree.Parse(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", c.ID, err)
	}
	doc := tree.NewDocument(root)
	if got := digest.Of(doc); got != c.Digest {
		return nil, nil, fmt.Errorf("%w: checkpoint %s digest %s", ErrCorrupt, c.ID, got)
	}
	return c, doc, nil
}

// Compact drops entries that end at or before v, typically the version of
// the latest checkpoint.
func (j *Journal) Compact(v version.Vector) (int, error) {
	entries, err := j.List()
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	dropped := 0
	for _, e := range entries {
		if e.Target.Compare(v) > 0 {
			break
		}
		if err := j.entries.Delete(e.GetID()); err != nil {
			return dropped, err
		}
		if err := j.entries.Delete("blob:" + e.ID); err != nil {
			return dropped, err
		}
		j.cache.Remove(e.ID)
		dropped++
	}
	return dropped, nil
}

// rollback drops an entry whose body could not be stored. A failure leaves
// an entry without a body, which load reports as not found.
func (j *Journal) rollback(store *storage.BadgerStore, id string) {
	if err := store.Delete(id); err != nil {
		j.logger.Error("could not roll back entry", zap.String("id", id), zap.Error(err))
	}
}

func hashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
