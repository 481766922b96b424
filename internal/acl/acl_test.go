package acl

import (
	"testing"

	"cfgsync/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rules = `<acls>
  <acl_role id="operator">
    <acl_permission id="p-status" kind="write" path="/cluster/status"/>
  </acl_role>
  <acl_target id="alice">
    <role id="operator"/>
    <acl_permission id="p-nodes" kind="write" path="/cluster/configuration/nodes"/>
    <acl_permission id="p-n2" kind="deny" path="/cluster/configuration/nodes/node[@id='n2']"/>
    <acl_permission id="p-uname" kind="read" path="/cluster/configuration/nodes" attribute="uname"/>
  </acl_target>
  <acl_target id="bob">
    <acl_permission id="p-all" kind="write" path="/cluster"/>
    <acl_permission id="p-deny" kind="deny" path="/cluster"/>
  </acl_target>
</acls>`

const doc = `<cluster>
  <configuration>
    <nodes>
      <node id="n1" uname="a"/>
      <node id="n2" uname="b"/>
    </nodes>
  </configuration>
  <status/>
</cluster>`

func TestIsWriteAllowed(t *testing.T) {
	d := tree.NewDocument(tree.MustParse(doc))
	n1 := d.Find("/cluster/configuration/nodes/node[@id='n1']", -1)
	n2 := d.Find("/cluster/configuration/nodes/node[@id='n2']", -1)
	status := d.Find("/cluster/status", -1)
	require.NotNil(t, n1)

	alice, err := New(tree.MustParse(rules), "alice", Options{})
	require.NoError(t, err)

	tests := []struct {
		name string
		node *tree.Node
		attr string
		want bool
	}{
		{"covered subtree", n1, "", true},
		{"covered attribute", n1, "id", true},
		{"read-only attribute", n1, "uname", false},
		{"more specific deny", n2, "", false},
		{"role permission", status, "", true},
		{"no matching rule", d.Root(), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alice.IsWriteAllowed(tt.node, tt.attr))
		})
	}

	t.Run("deny wins a tie", func(t *testing.T) {
		bob, err := New(tree.MustParse(rules), "bob", Options{})
		require.NoError(t, err)
		assert.False(t, bob.IsWriteAllowed(n1, ""))
	})

	t.Run("privileged user", func(t *testing.T) {
		root, err := New(tree.MustParse(rules), "root", Options{})
		require.NoError(t, err)
		assert.True(t, root.IsWriteAllowed(d.Root(), "epoch"))
	})

	t.Run("unknown user", func(t *testing.T) {
		eve, err := New(tree.MustParse(rules), "eve", Options{})
		require.NoError(t, err)
		assert.False(t, eve.IsWriteAllowed(status, ""))
	})
}

func TestNewErrors(t *testing.T) {
	for _, src := range []string{
		`<acls><acl_target id="u"><role id="missing"/></acl_target></acls>`,
		`<acls><acl_target id="u"><acl_permission id="p" kind="maybe" path="/a"/></acl_target></acls>`,
		`<acls><acl_target id="u"><acl_permission id="p" kind="write" path="a"/></acl_target></acls>`,
	} {
		_, err := New(tree.MustParse(src), "u", Options{})
		assert.Error(t, err, src)
	}
}

func TestTrackedEnforcement(t *testing.T) {
	d := tree.NewDocument(tree.MustParse(doc))
	gate, err := New(tree.MustParse(rules), "alice", Options{})
	require.NoError(t, err)
	d.TrackChanges(gate)

	n1 := d.Find("/cluster/configuration/nodes/node[@id='n1']", -1)
	assert.NoError(t, n1.SetAttr("state", "up"))
	assert.Error(t, n1.SetAttr("uname", "z"))
	assert.Error(t, d.Root().SetAttr("epoch", "5"))

	_, err = d.Find("/cluster/status", -1).AddElement("node_state", "id", "n1")
	assert.NoError(t, err)
	_, err = d.Root().AddElement("rogue")
	assert.Error(t, err)
	assert.Nil(t, d.Root().FirstChild("rogue"))

	assert.Error(t, d.Find("/cluster/configuration/nodes/node[@id='n2']", -1).Remove())
	assert.Empty(t, d.DeletedObjects())
}

func TestApplyRevertsCreations(t *testing.T) {
	d := tree.NewDocument(tree.MustParse(doc))
	d.TrackChanges(nil)
	_, err := d.Root().AddElement("rogue")
	require.NoError(t, err)
	require.NoError(t, d.Find("/cluster/status", -1).SetAttr("note", "x"))
	n1 := d.Find("/cluster/configuration/nodes/node[@id='n1']", -1)
	require.NoError(t, n1.SetAttr("state", "up"))

	gate, err := New(tree.MustParse(rules), "alice", Options{})
	require.NoError(t, err)
	gate.Apply(d)

	assert.Nil(t, d.Root().FirstChild("rogue"))
	_, ok := n1.Attr("state")
	assert.True(t, ok)
	note, ok := d.Find("/cluster/status", -1).Attr("note")
	assert.True(t, ok, "status is writable through the operator role")
	assert.Equal(t, "x", note)
}
