package journal

import (
	"errors"
	"strings"
	"testing"

	"cfgsync/internal/patchset"
	"cfgsync/internal/storage"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T, opts Options) *Journal {
	t.Helper()
	db, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	j, err := New(db, opts)
	require.NoError(t, err)
	return j
}

func patch(from, to int) *patchset.V2 {
	return &patchset.V2{
		Source: version.Vector{Epoch: 1, NumUpdates: from},
		Target: version.Vector{Epoch: 1, NumUpdates: to},
		Changes: []patchset.Change{{
			Op:       patchset.OpModify,
			Path:     "/cluster",
			Position: -1,
			Attrs:    []patchset.AttrChange{{Op: patchset.AttrSet, Name: "num_updates", Value: "x"}},
		}},
	}
}

func TestAppendAndList(t *testing.T) {
	j := newJournal(t, Options{})

	for _, n := range []int{3, 1, 2} {
		_, err := j.Append(patch(n-1, n))
		require.NoError(t, err)
	}

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Target.NumUpdates, "entries are ordered by target")
		assert.NotEmpty(t, e.ID)
	}

	t.Run("duplicate target", func(t *testing.T) {
		_, err := j.Append(patch(1, 2))
		assert.Error(t, err)
	})

	t.Run("non-advancing patch", func(t *testing.T) {
		_, err := j.Append(patch(5, 5))
		assert.Error(t, err)
	})

	t.Run("find by id and version", func(t *testing.T) {
		e, err := j.Find(entries[1].ID)
		require.NoError(t, err)
		assert.Equal(t, entries[1].Target, e.Target)

		e, err = j.Find("0.1.3")
		require.NoError(t, err)
		assert.Equal(t, entries[2].ID, e.ID)

		_, err = j.Find("nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestSince(t *testing.T) {
	j := newJournal(t, Options{CacheSize: 1})
	for n := 1; n <= 4; n++ {
		_, err := j.Append(patch(n-1, n))
		require.NoError(t, err)
	}

	chain, err := j.Since(version.Vector{Epoch: 1, NumUpdates: 1})
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, p := range chain {
		src, _ := p.Versions()
		assert.Equal(t, i+1, src.NumUpdates)
	}

	chain, err = j.Since(version.Vector{Epoch: 1, NumUpdates: 4})
	require.NoError(t, err)
	assert.Empty(t, chain)

	_, err = j.Since(version.Vector{Epoch: 0, NumUpdates: 9})
	assert.True(t, errors.Is(err, ErrGap))
}

func TestCompression(t *testing.T) {
	j := newJournal(t, Options{Compression: CompressionOptions{MinSize: 64, Level: 1}})

	p := patch(0, 1)
	p.Changes[0].Attrs[0].Value = strings.Repeat("compressible ", 200)
	e, err := j.Append(p)
	require.NoError(t, err)
	assert.True(t, e.Compressed)

	j.cache.Purge()
	got, err := j.Patch(e)
	require.NoError(t, err)
	assert.Equal(t, p.Changes[0].Attrs[0].Value, got.(*patchset.V2).Changes[0].Attrs[0].Value)

	t.Run("bodies below min size stay raw", func(t *testing.T) {
		j := newJournal(t, Options{Compression: CompressionOptions{MinSize: 1 << 20}})
		e, err := j.Append(patch(0, 1))
		require.NoError(t, err)
		assert.False(t, e.Compressed)
	})

	t.Run("zero min size compresses everything", func(t *testing.T) {
		j := newJournal(t, Options{Compression: CompressionOptions{MinSize: 0}})
		e, err := j.Append(patch(0, 1))
		require.NoError(t, err)
		assert.True(t, e.Compressed)
		assert.Equal(t, DefaultCompressionOptions().Level, j.cm.opts.Level)

		j.cache.Purge()
		_, err = j.Patch(e)
		require.NoError(t, err)
	})
}

func TestCheckpoint(t *testing.T) {
	j := newJournal(t, Options{})

	_, _, err := j.LatestCheckpoint()
	assert.True(t, errors.Is(err, ErrNoCheckpoint))

	doc := tree.NewDocument(tree.MustParse(`<cluster admin_epoch="0" epoch="1" num_updates="2"><!--note--><nodes><node id="n1"/></nodes></cluster>`))
	c, err := j.Checkpoint(doc)
	require.NoError(t, err)
	assert.Equal(t, version.Vector{Epoch: 1, NumUpdates: 2}, c.Version)

	j.cache.Purge()
	latest, restored, err := j.LatestCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, c.ID, latest.ID)
	assert.True(t, tree.Equal(doc.Root(), restored.Root()))
}

func TestCompact(t *testing.T) {
	j := newJournal(t, Options{})
	for n := 1; n <= 3; n++ {
		_, err := j.Append(patch(n-1, n))
		require.NoError(t, err)
	}

	dropped, err := j.Compact(version.Vector{Epoch: 1, NumUpdates: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	entries, err := j.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Target.NumUpdates)
}
