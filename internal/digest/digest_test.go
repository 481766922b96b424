package digest

import (
	"testing"

	"cfgsync/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	n := tree.MustParse(`<cluster b="2" a="1" cib-last-written="today">
	  <!-- note -->
	  <nodes/>
	</cluster>`)

	assert.Equal(t, `<cluster b="2" a="1"><!-- note --><nodes/></cluster>`, string(Canonical(n, RulesOrdered)))
	assert.Equal(t, `<cluster a="1" b="2"><!-- note --><nodes/></cluster>`, string(Canonical(n, RulesSorted)))
}

func TestRulesFor(t *testing.T) {
	assert.Equal(t, RulesSorted, RulesFor("3.0.4"))
	assert.Equal(t, RulesOrdered, RulesFor("3.0.5"))
	assert.Equal(t, RulesOrdered, RulesFor("3.19.0"))
	assert.Equal(t, RulesOrdered, RulesFor(""))
}

func TestCalculate(t *testing.T) {
	a := tree.MustParse(`<c x="1" y="2"/>`)
	b := tree.MustParse(`<c y="2" x="1"/>`)

	t.Run("order matters under ordered rules", func(t *testing.T) {
		assert.NotEqual(t, Calculate(a, "3.2.0"), Calculate(b, "3.2.0"))
	})

	t.Run("order ignored under sorted rules", func(t *testing.T) {
		assert.Equal(t, Calculate(a, "3.0.1"), Calculate(b, "3.0.1"))
	})

	t.Run("filtered attributes ignored", func(t *testing.T) {
		c := tree.MustParse(`<c x="1" update-user="me" y="2"/>`)
		assert.Equal(t, Calculate(a, "3.2.0"), Calculate(c, "3.2.0"))
	})

	t.Run("tombstones ignored", func(t *testing.T) {
		d := tree.NewDocument(tree.MustParse(`<c x="1" y="2" z="3"/>`))
		d.TrackChanges(nil)
		require.NoError(t, d.Root().RemoveAttr("z"))
		assert.Equal(t, Calculate(a, "3.2.0"), Calculate(d.Root(), "3.2.0"))
	})

	t.Run("verify", func(t *testing.T) {
		want := Calculate(a, "3.2.0")
		_, ok := Verify(a, "3.2.0", want)
		assert.True(t, ok)
		got, ok := Verify(b, "3.2.0", want)
		assert.False(t, ok)
		assert.Len(t, got, 64)
	})

	assert.Equal(t, "", Calculate(nil, ""))
	assert.Equal(t, "", Of(tree.NewDocument(nil)))
}
