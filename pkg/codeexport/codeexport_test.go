package codeexport

import (
	"testing"

	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Port(node *types.Node, portName string, output bool) (types.Port, bool) {
	return types.Port{Name: portName, AllowsMultipleConnections: true}, true
}

func TestGenerateProducesCompilableShapedSource(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(types.Node{ID: "src", Type: "numbergraph:source", X: 1, Y: 2}))
	require.NoError(t, g.AddNode(types.Node{ID: "dst", Type: "numbergraph:transform", X: 3, Y: 4}))
	require.NoError(t, g.AddLink(types.Link{
		ID: "l1", FromNode: "src", FromPort: "out", ToNode: "dst", ToPort: "in", LinkType: "number",
	}, acceptAllValidator{}))

	source, err := Generate(g, "generated", "Demo")
	require.NoError(t, err)

	text := string(source)
	require.Contains(t, text, "package generated")
	require.Contains(t, text, "func BuildDemo(eng *engine.Engine) error {")
	require.Contains(t, text, `eng.AddNode("src", "numbergraph:source", 1, 2, true)`)
	require.Contains(t, text, `eng.AddNode("dst", "numbergraph:transform", 3, 4, true)`)
	require.Contains(t, text, `ID:       "l1",`)
	require.Contains(t, text, `FromNode: "src",`)
	require.Contains(t, text, `ToNode:   "dst",`)
	require.Contains(t, text, "return nil")
}

func TestGenerateOnEmptyGraphStillProducesValidBody(t *testing.T) {
	g := graph.New()
	source, err := Generate(g, "generated", "Empty")
	require.NoError(t, err)

	text := string(source)
	require.Contains(t, text, "func BuildEmpty(eng *engine.Engine) error {")
	require.Contains(t, text, "return nil")
	require.NotContains(t, text, "AddNode")
}
