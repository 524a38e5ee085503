package graph

import (
	"testing"

	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Port(node *types.Node, portName string, output bool) (types.Port, bool) {
	return types.Port{Name: portName, AllowsMultipleConnections: true}, true
}

type strictValidator struct {
	ports map[string]types.Port
}

func (v strictValidator) Port(node *types.Node, portName string, output bool) (types.Port, bool) {
	p, ok := v.ports[portName]
	return p, ok
}

func TestAddNodeRejectsDuplicateID(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "n1", Type: "pkg:type"}))
	err := g.AddNode(types.Node{ID: "n1", Type: "pkg:type"})
	require.Error(t, err)
}

func TestAddLinkRejectsUnknownEndpoints(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "n1", Type: "pkg:type"}))

	err := g.AddLink(types.Link{ID: "l1", FromNode: "n1", FromPort: "out", ToNode: "missing", ToPort: "in"}, acceptAllValidator{})
	require.Error(t, err)
}

func TestAddLinkRejectsTypeMismatch(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "a", Type: "pkg:type"}))
	require.NoError(t, g.AddNode(types.Node{ID: "b", Type: "pkg:type"}))

	v := strictValidator{ports: map[string]types.Port{
		"out": {Name: "out", LinkType: "number"},
		"in":  {Name: "in", LinkType: "string"},
	}}
	err := g.AddLink(types.Link{ID: "l1", FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "in"}, v)
	require.Error(t, err)
}

func TestAddLinkRejectsSecondConnectionOnSingleUsePort(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "a", Type: "pkg:type"}))
	require.NoError(t, g.AddNode(types.Node{ID: "b", Type: "pkg:type"}))
	require.NoError(t, g.AddNode(types.Node{ID: "c", Type: "pkg:type"}))

	v := strictValidator{ports: map[string]types.Port{
		"out": {Name: "out", LinkType: "number"},
		"in":  {Name: "in", LinkType: "number"},
	}}
	require.NoError(t, g.AddLink(types.Link{ID: "l1", FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "in"}, v))
	err := g.AddLink(types.Link{ID: "l2", FromNode: "a", FromPort: "out", ToNode: "c", ToPort: "in"}, v)
	require.Error(t, err)
}

func TestRemoveNodeAlsoRemovesIncidentLinks(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "a", Type: "pkg:type"}))
	require.NoError(t, g.AddNode(types.Node{ID: "b", Type: "pkg:type"}))
	require.NoError(t, g.AddLink(types.Link{ID: "l1", FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "in"}, acceptAllValidator{}))

	removed, err := g.RemoveNode("a")
	require.NoError(t, err)
	require.Equal(t, []types.LinkID{"l1"}, removed)
	require.False(t, g.HasNode("a"))
	_, ok := g.GetLink("l1")
	require.False(t, ok)
}

func TestMergeLoadRenamesCollidingNodeIDs(t *testing.T) {
	base := New()
	require.NoError(t, base.AddNode(types.Node{ID: "shared", Type: "pkg:type"}))

	incoming := New()
	require.NoError(t, incoming.AddNode(types.Node{ID: "shared", Type: "pkg:type"}))
	require.NoError(t, incoming.AddNode(types.Node{ID: "unique", Type: "pkg:type"}))
	require.NoError(t, incoming.AddLink(types.Link{
		ID: "l1", FromNode: "shared", FromPort: "out", ToNode: "unique", ToPort: "in",
	}, acceptAllValidator{}))

	renames, err := base.MergeLoad(incoming)
	require.NoError(t, err)
	require.Contains(t, renames, types.NodeID("shared"))
	require.NotContains(t, renames, types.NodeID("unique"))

	newID := renames["shared"]
	require.True(t, base.HasNode(newID))
	require.True(t, base.HasNode("unique"))

	links := base.Links()
	require.Len(t, links, 1)
	require.Equal(t, newID, links[0].FromNode)
	require.Equal(t, types.NodeID("unique"), links[0].ToNode)
}

func TestNodeIDsTopologicalOrderRespectsLinks(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(types.Node{ID: "downstream", Type: "pkg:type"}))
	require.NoError(t, g.AddNode(types.Node{ID: "upstream", Type: "pkg:type"}))
	require.NoError(t, g.AddLink(types.Link{
		ID: "l1", FromNode: "upstream", FromPort: "out", ToNode: "downstream", ToPort: "in",
	}, acceptAllValidator{}))

	order := g.NodeIDs(OrderTopological)
	upstreamIdx, downstreamIdx := -1, -1
	for i, id := range order {
		if id == "upstream" {
			upstreamIdx = i
		}
		if id == "downstream" {
			downstreamIdx = i
		}
	}
	require.Less(t, upstreamIdx, downstreamIdx)
}
