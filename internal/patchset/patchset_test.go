package patchset

import (
	stderrors "errors"
	"testing"

	"cfgsync/internal/diff"
	cerrors "cfgsync/internal/errors"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = `<cluster admin_epoch="0" epoch="1" num_updates="5">
  <configuration>
    <nodes>
      <node id="n1" uname="a"/>
      <node id="n2" uname="b"/>
      <node id="n3" uname="c"/>
    </nodes>
  </configuration>
  <status/>
</cluster>`

func doc(t *testing.T, src string) *tree.Document {
	t.Helper()
	root, err := tree.Parse(src)
	require.NoError(t, err)
	return tree.NewDocument(root)
}

// calculate diffs newer against older and returns the versioned patch.
func calculate(t *testing.T, older, newer string, format Format) (*tree.Document, *tree.Document, Patchset) {
	t.Helper()
	source, target := doc(t, older), doc(t, newer)
	_, err := diff.NewEngine().Calculate(source, target)
	require.NoError(t, err)

	g := &Generator{WithDigest: true}
	p, err := g.Create(source, target, format, true)
	require.NoError(t, err)
	require.NotNil(t, p)
	return source, target, p
}

func TestCreateChild(t *testing.T) {
	source := doc(t, `<cluster admin_epoch="1" epoch="2" num_updates="3"><nodes/></cluster>`)
	target := source.Clone()
	target.TrackChanges(nil)

	_, err := target.Root().FirstChild("nodes").AddElement("node", "id", "n2", "uname", "n2")
	require.NoError(t, err)

	p, err := (&Generator{}).Create(source, target, FormatV2, true)
	require.NoError(t, err)
	v2, ok := p.(*V2)
	require.True(t, ok)

	assert.Equal(t, version.Vector{AdminEpoch: 1, Epoch: 2, NumUpdates: 3}, v2.Source)
	assert.Equal(t, version.Vector{AdminEpoch: 1, Epoch: 2, NumUpdates: 4}, v2.Target)
	require.Equal(t, 1, v2.Count(OpCreate))
	for _, c := range v2.Changes {
		if c.Op == OpCreate {
			assert.Equal(t, "/cluster/nodes", c.Path)
			assert.Equal(t, 0, c.Position)
			assert.Equal(t, `<node id="n2" uname="n2"/>`, c.Node.String())
		}
	}

	replica := source.Clone()
	applier := &Applier{}
	require.NoError(t, applier.Apply(replica, p, true))
	assert.True(t, tree.Equal(target.Root(), replica.Root()), replica.Root().String())

	t.Run("duplicate delivery", func(t *testing.T) {
		err := applier.Apply(replica, p, true)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, cerrors.ErrVersionTooHigh))
	})

	t.Run("log", func(t *testing.T) {
		lines := Log(p)
		assert.Equal(t, "Diff: --- 1.2.3 (source)", lines[0])
		assert.Contains(t, lines, `++ /cluster/nodes: <node id="n2" uname="n2"/>`)
		assert.Contains(t, lines, "+  /cluster:  @num_updates=4")
	})
}

func TestDeleteComment(t *testing.T) {
	src := `<cluster admin_epoch="0" epoch="1" num_updates="0"><configuration><!--a--><x id="1"/><!--b--><!--c--></configuration></cluster>`
	source := doc(t, src)
	target := source.Clone()
	target.TrackChanges(nil)

	cfg := target.Root().FirstChild("configuration")
	require.NoError(t, cfg.Child(2).Remove())

	p, err := (&Generator{}).Create(source, target, FormatV2, true)
	require.NoError(t, err)
	v2 := p.(*V2)

	require.Equal(t, 1, v2.Count(OpDelete))
	del := v2.Changes[0]
	assert.Equal(t, OpDelete, del.Op)
	assert.Equal(t, "/cluster/configuration/comment", del.Path)
	assert.Equal(t, 1, del.Position)
	assert.Equal(t, 2, v2.Target.Epoch, "configuration changes start a new epoch")

	replica := source.Clone()
	require.NoError(t, (&Applier{}).Apply(replica, p, true))
	assert.Equal(t,
		`<cluster admin_epoch="0" epoch="2" num_updates="0"><configuration><!--a--><x id="1"/><!--c--></configuration></cluster>`,
		replica.Root().String())

	t.Run("receiver gained an element sibling", func(t *testing.T) {
		replica := source.Clone()
		require.NoError(t, replica.Root().FirstChild("configuration").InsertChild(tree.NewElement("y", "id", "2"), 1))

		require.NoError(t, (&Applier{}).Apply(replica, p, true))
		assert.Equal(t,
			`<cluster admin_epoch="0" epoch="2" num_updates="0"><configuration><!--a--><y id="2"/><x id="1"/><!--c--></configuration></cluster>`,
			replica.Root().String())
	})
}

func TestMoveRecordInPlace(t *testing.T) {
	d := doc(t, base)
	before := d.Find("/cluster/configuration/nodes", -1).String()

	p := &V2{Changes: []Change{{Op: OpMove, Path: "/cluster/configuration/nodes/node[@id='n2']", Position: 1}}}
	applier := &Applier{}
	for i := 0; i < 2; i++ {
		require.NoError(t, applier.Apply(d, p, false))
		assert.Equal(t, before, d.Find("/cluster/configuration/nodes", -1).String())
	}
}

func TestCreateRefusesUnchangedVersion(t *testing.T) {
	source := doc(t, base)
	target := source.Clone()
	target.TrackChanges(nil)
	require.NoError(t, target.Find("/cluster/status", -1).SetAttr("dc", "n1"))

	_, err := (&Generator{}).Create(source, target, FormatV2, false)
	assert.True(t, stderrors.Is(err, cerrors.ErrVersionUnchanged))

	t.Run("clean target", func(t *testing.T) {
		clean := source.Clone()
		clean.TrackChanges(nil)
		p, err := (&Generator{}).Create(source, clean, FormatV2, true)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		featureSet string
		want       Format
	}{
		{"", FormatV1},
		{"3.0.8", FormatV1},
		{"3.0.9", FormatV2},
		{"3.19.0", FormatV2},
	}
	for _, tt := range tests {
		t.Run(tt.featureSet, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectFormat(tt.featureSet))
		})
	}
}

var roundTrips = []struct {
	name  string
	older string
	newer string
	noV1  bool
}{
	{
		name:  "attribute changed",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" uname="a"/><node id="n2" uname="bb"/><node id="n3" uname="c"/></nodes></configuration><status/></cluster>`,
	},
	{
		name:  "attribute removed and added",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" type="member"/><node id="n2" uname="b"/><node id="n3" uname="c"/></nodes></configuration><status/></cluster>`,
	},
	{
		name:  "attributes reordered",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node uname="a" id="n1"/><node id="n2" uname="b"/><node id="n3" uname="c"/></nodes></configuration><status/></cluster>`,
		noV1:  true,
	},
	{
		name:  "children reordered",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n3" uname="c"/><node id="n1" uname="a"/><node id="n2" uname="b"/></nodes></configuration><status/></cluster>`,
		noV1:  true,
	},
	{
		name:  "child inserted in the middle",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" uname="a"/><node id="n4" uname="d"/><node id="n2" uname="b"/><node id="n3" uname="c"/></nodes></configuration><status/></cluster>`,
		noV1:  true,
	},
	{
		name:  "child appended",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" uname="a"/><node id="n2" uname="b"/><node id="n3" uname="c"/><node id="n4" uname="d"/></nodes></configuration><status/></cluster>`,
	},
	{
		name:  "child deleted",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" uname="a"/><node id="n3" uname="c"/></nodes></configuration><status/></cluster>`,
	},
	{
		name:  "nested subtree created",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n1" uname="a"/><node id="n2" uname="b"/><node id="n3" uname="c"/></nodes><resources><primitive id="r1" class="ocf"><op id="r1-monitor" interval="10s"/></primitive></resources></configuration><status/></cluster>`,
	},
	{
		name:  "comments",
		older: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><!--one--><nodes/><!--two--></configuration></cluster>`,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes/><!--two--><!--three--></configuration></cluster>`,
		noV1:  true,
	},
	{
		name:  "mixed",
		older: base,
		newer: `<cluster admin_epoch="0" epoch="1" num_updates="5"><configuration><nodes><node id="n3" uname="cc"/><node id="n4" uname="d"/><node id="n1" uname="a"/></nodes></configuration><status dc="n1"/></cluster>`,
		noV1:  true,
	},
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatV2, FormatV1} {
		for _, tt := range roundTrips {
			if format == FormatV1 && tt.noV1 {
				continue
			}
			t.Run(format.String()+"/"+tt.name, func(t *testing.T) {
				source, target, p := calculate(t, tt.older, tt.newer, format)
				assert.Equal(t, format, p.Format())

				data, err := Marshal(p)
				require.NoError(t, err)
				decoded, err := Unmarshal(data)
				require.NoError(t, err)

				replica := source.Clone()
				require.NoError(t, (&Applier{}).Apply(replica, decoded, true), string(data))
				assert.True(t, tree.Equal(target.Root(), replica.Root()),
					"want %s\ngot  %s", target.Root().String(), replica.Root().String())
			})
		}
	}
}

func TestFormat1KeepsSiblingOrder(t *testing.T) {
	source, target, p := calculate(t, base, roundTrips[3].newer, FormatV1)

	replica := source.Clone()
	err := (&Applier{}).Apply(replica, p, true)
	assert.True(t, stderrors.Is(err, cerrors.ErrDigestMismatch))

	assert.Equal(t, version.FromNode(target.Root(), 0), version.FromNode(replica.Root(), 0))
	assert.Equal(t,
		source.Find("/cluster/configuration/nodes", -1).String(),
		replica.Find("/cluster/configuration/nodes", -1).String(),
		"format 1 does not reorder siblings")
}

func TestApplyFailures(t *testing.T) {
	t.Run("digest mismatch", func(t *testing.T) {
		source, _, p := calculate(t, base, roundTrips[0].newer, FormatV2)
		p.(*V2).Digest = "0000"

		err := (&Applier{}).Apply(source, p, true)
		assert.True(t, stderrors.Is(err, cerrors.ErrDigestMismatch))
	})

	t.Run("unresolved path", func(t *testing.T) {
		p := &V2{
			Source: version.Vector{Epoch: 1, NumUpdates: 5},
			Target: version.Vector{Epoch: 1, NumUpdates: 6},
			Changes: []Change{{
				Op:       OpModify,
				Path:     "/cluster/configuration/nodes/node[@id='n9']",
				Position: -1,
				Attrs:    []AttrChange{{Op: AttrSet, Name: "uname", Value: "z"}},
			}},
		}
		err := (&Applier{}).Apply(doc(t, base), p, true)
		assert.True(t, stderrors.Is(err, cerrors.ErrPathUnresolved))
	})

	t.Run("missing delete target is tolerated", func(t *testing.T) {
		p := &V2{
			Source:  version.Vector{Epoch: 1, NumUpdates: 5},
			Target:  version.Vector{Epoch: 1, NumUpdates: 6},
			Changes: []Change{{Op: OpDelete, Path: "/cluster/configuration/nodes/node[@id='n9']", Position: -1}},
		}
		assert.NoError(t, (&Applier{}).Apply(doc(t, base), p, true))
	})

	t.Run("version too old", func(t *testing.T) {
		p := &V2{
			Source: version.Vector{Epoch: 2},
			Target: version.Vector{Epoch: 2, NumUpdates: 1},
		}
		err := (&Applier{}).Apply(doc(t, base), p, true)
		assert.True(t, stderrors.Is(err, cerrors.ErrVersionTooOld))
	})

	t.Run("several roots in format 1", func(t *testing.T) {
		p := &V1{
			Removed: []*tree.Node{tree.NewElement("cluster"), tree.NewElement("cluster")},
			Added:   []*tree.Node{tree.NewElement("cluster")},
		}
		d := doc(t, base)
		before := d.Root().String()
		err := (&Applier{}).Apply(d, p, false)
		assert.True(t, stderrors.Is(err, cerrors.ErrNonUniqueChangeset))
		assert.Equal(t, before, d.Root().String())
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		format  Format
		wantErr bool
	}{
		{
			name:   "format defaults to 1",
			input:  `<diff><diff-removed><cluster num_updates="1"/></diff-removed><diff-added><cluster num_updates="2"/></diff-added></diff>`,
			format: FormatV1,
		},
		{
			name:   "format 2",
			input:  `<diff format="2"><version><source epoch="1"/><target epoch="2"/></version><change operation="delete" path="/cluster/x"/></diff>`,
			format: FormatV2,
		},
		{name: "unknown format", input: `<diff format="7"/>`, wantErr: true},
		{name: "wrong root", input: `<patch/>`, wantErr: true},
		{
			name:    "unknown operation",
			input:   `<diff format="2"><version><source/><target/></version><change operation="rename" path="/cluster"/></diff>`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Unmarshal([]byte(tt.input))
			if tt.wantErr {
				assert.True(t, stderrors.Is(err, cerrors.ErrMalformedPatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, p.Format())
		})
	}

	t.Run("sparse versions resolve against the receiver", func(t *testing.T) {
		p, err := Unmarshal([]byte(`<diff format="2"><version><source epoch="1"/><target epoch="2"/></version>` +
			`<change operation="delete" path="/cluster/status"/></diff>`))
		require.NoError(t, err)

		src, tgt := ResolveVersions(p, version.Vector{Epoch: 1, NumUpdates: 5})
		assert.Equal(t, version.Vector{Epoch: 1, NumUpdates: 5}, src)
		assert.Equal(t, version.Vector{Epoch: 2, NumUpdates: 6}, tgt)

		d := doc(t, base)
		require.NoError(t, (&Applier{}).Apply(d, p, true))
		assert.Nil(t, d.Find("/cluster/status", -1))

		data, err := Marshal(p)
		require.NoError(t, err)
		assert.Contains(t, string(data), `<source epoch="1"/>`)
	})

	t.Run("missing version block", func(t *testing.T) {
		p, err := Unmarshal([]byte(`<diff><diff-removed/><diff-added/></diff>`))
		require.NoError(t, err)
		src, tgt := ResolveVersions(p, version.Vector{AdminEpoch: 1, Epoch: 2, NumUpdates: 3})
		assert.Equal(t, version.Vector{AdminEpoch: 1, Epoch: 2, NumUpdates: 3}, src)
		assert.Equal(t, version.Vector{AdminEpoch: 1, Epoch: 2, NumUpdates: 4}, tgt)
	})

	t.Run("format 1 versions from projection roots", func(t *testing.T) {
		p, err := Unmarshal([]byte(tests[0].input))
		require.NoError(t, err)
		src, tgt := p.Versions()
		assert.Equal(t, 1, src.NumUpdates)
		assert.Equal(t, 2, tgt.NumUpdates)
	})
}

func TestPrune(t *testing.T) {
	p := &V1{
		Removed: []*tree.Node{tree.MustParse(`<cluster><configuration><nodes><node id="n1"/></nodes></configuration></cluster>`)},
		Added:   []*tree.Node{tree.MustParse(`<cluster><configuration><node id="n2" __crm_diff_marker__="added:top"/></configuration></cluster>`)},
	}
	p.Prune()
	assert.Equal(t, `<cluster/>`, p.Removed[0].String())
	assert.Equal(t, `<cluster><configuration><node id="n2" __crm_diff_marker__="added:top"/></configuration></cluster>`, p.Added[0].String())
}
