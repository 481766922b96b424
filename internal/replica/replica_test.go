package replica

import (
	"context"
	"errors"
	"testing"

	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/engine"
	"cfgsync/internal/journal"
	"cfgsync/internal/metrics"
	"cfgsync/internal/patchset"
	"cfgsync/internal/storage"
	"cfgsync/internal/tree"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cluster = `<cluster admin_epoch="0" epoch="1" num_updates="0" feature_set="3.19.0">
  <configuration>
    <nodes>
      <node id="n1" uname="a"/>
    </nodes>
  </configuration>
  <status/>
</cluster>`

func pair(t *testing.T) (*Replica, *Replica, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry(), "")
	opts := Options{Metrics: m, Engine: engine.Options{WithDigest: true}}
	primary := New(tree.NewDocument(tree.MustParse(cluster)), opts)
	secondary := New(tree.NewDocument(tree.MustParse(cluster)), opts)
	return primary, secondary, m
}

func addNode(id string) func(*tree.Node) error {
	return func(root *tree.Node) error {
		_, err := root.FirstChild("configuration").FirstChild("nodes").AddElement("node", "id", id, "uname", id)
		return err
	}
}

func TestUpdateAndReceive(t *testing.T) {
	primary, secondary, m := pair(t)

	p, err := primary.Update(addNode("n2"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, primary.Version().Epoch)

	outcome, err := secondary.Receive(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.True(t, tree.Equal(primary.Snapshot().Root(), secondary.Snapshot().Root()))

	outcome, err = secondary.Receive(context.Background(), p)
	assert.Equal(t, Ignored, outcome)
	assert.True(t, errors.Is(err, cerrors.ErrVersionTooHigh))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatchesGenerated.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatchesApplied.WithLabelValues("2", metrics.ResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatchesApplied.WithLabelValues("2", metrics.ResultIgnored)))
}

func TestUpdateWithoutChanges(t *testing.T) {
	primary, _, _ := pair(t)
	p, err := primary.Update(func(*tree.Node) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 1, primary.Version().Epoch)
}

func TestReceiveNoPatch(t *testing.T) {
	primary, secondary, m := pair(t)
	p, err := primary.Update(func(*tree.Node) error { return nil })
	require.NoError(t, err)
	require.Nil(t, p)

	before := secondary.Snapshot().Root().String()
	outcome, err := secondary.Receive(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Ignored, outcome)
	assert.Equal(t, before, secondary.Snapshot().Root().String())
	assert.Zero(t, testutil.CollectAndCount(m.PatchesApplied))
}

func TestUpdateFailureRestores(t *testing.T) {
	primary, _, _ := pair(t)
	before := primary.Snapshot().Root().String()

	_, err := primary.Update(func(root *tree.Node) error {
		if err := addNode("n2")(root); err != nil {
			return err
		}
		return errors.New("abort")
	})
	assert.Error(t, err)
	assert.Equal(t, before, primary.Snapshot().Root().String())
}

func TestReceiveRollsBack(t *testing.T) {
	t.Run("digest mismatch", func(t *testing.T) {
		primary, secondary, m := pair(t)
		p, err := primary.Update(addNode("n2"))
		require.NoError(t, err)
		p.(*patchset.V2).Digest = "deadbeef"

		before := secondary.Snapshot().Root().String()
		outcome, err := secondary.Receive(context.Background(), p)
		assert.Equal(t, Resync, outcome)
		assert.True(t, errors.Is(err, cerrors.ErrDigestMismatch))
		assert.Equal(t, before, secondary.Snapshot().Root().String())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DigestMismatches))
	})

	t.Run("missed patch", func(t *testing.T) {
		primary, secondary, _ := pair(t)
		_, err := primary.Update(addNode("n2"))
		require.NoError(t, err)
		p, err := primary.Update(addNode("n3"))
		require.NoError(t, err)

		outcome, err := secondary.Receive(context.Background(), p)
		assert.Equal(t, Resync, outcome)
		assert.True(t, errors.Is(err, cerrors.ErrVersionTooOld))

		secondary.Resync(primary.Snapshot().Root())
		assert.Equal(t, primary.Version(), secondary.Version())
	})
}

func TestCatchUp(t *testing.T) {
	db, err := storage.Open("")
	require.NoError(t, err)
	defer db.Close()
	j, err := journal.New(db, journal.Options{})
	require.NoError(t, err)

	primary := New(tree.NewDocument(tree.MustParse(cluster)), Options{Journal: j})
	secondary := New(tree.NewDocument(tree.MustParse(cluster)), Options{})

	for _, id := range []string{"n2", "n3", "n4"} {
		_, err := primary.Update(addNode(id))
		require.NoError(t, err)
	}

	n, err := secondary.CatchUp(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, tree.Equal(primary.Snapshot().Root(), secondary.Snapshot().Root()))

	n, err = secondary.CatchUp(context.Background(), j)
	require.NoError(t, err)
	assert.Zero(t, n)
}
