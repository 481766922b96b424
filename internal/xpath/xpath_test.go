package xpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Path
	}{
		{"/cluster", Path{{Name: "cluster"}}},
		{"/cluster/nodes", Path{{Name: "cluster"}, {Name: "nodes"}}},
		{
			"/cluster/nodes/node[@id='n2']",
			Path{{Name: "cluster"}, {Name: "nodes"}, {Name: "node", ID: "n2", HasID: true}},
		},
		{
			"/cluster[@id='c']/comment",
			Path{{Name: "cluster", ID: "c", HasID: true}, {Name: "comment"}},
		},
		{"/a[@id='']", Path{{Name: "a", HasID: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"cluster",
		"/cluster//nodes",
		"/cluster[@name='x']",
		"/cluster[@id='x",
		"/cluster[@id='x']extra",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestPathHelpers(t *testing.T) {
	p := MustParse("/cluster/configuration/nodes")

	assert.True(t, p.HasPrefix(MustParse("/cluster/configuration")))
	assert.False(t, p.HasPrefix(MustParse("/cluster/status")))
	assert.Equal(t, "/cluster/configuration", p.Parent().String())

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, "nodes", last.Name)

	_, ok = Path(nil).Last()
	assert.False(t, ok)
}
