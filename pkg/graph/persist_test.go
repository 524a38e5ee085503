package graph

import (
	"path/filepath"
	"testing"

	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

func buildSampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	g.SetMetadata(map[string]any{"title": "sample"})
	require.NoError(t, g.AddNode(types.Node{ID: "a", Type: "pkg:type", X: 1, Y: 2}))
	require.NoError(t, g.AddNode(types.Node{ID: "b", Type: "pkg:type", X: 3, Y: 4}))
	require.NoError(t, g.AddLink(types.Link{
		ID: "l1", FromNode: "a", FromPort: "out", ToNode: "b", ToPort: "in", LinkType: "number",
	}, acceptAllValidator{}))
	return g
}

func TestSaveDirLoadDirRoundTrip(t *testing.T) {
	g := buildSampleGraph(t)
	root := t.TempDir()

	require.NoError(t, g.SaveDir(root))
	loaded, err := LoadDir(root)
	require.NoError(t, err)

	require.Equal(t, map[string]any{"title": "sample"}, loaded.Metadata())
	require.True(t, loaded.HasNode("a"))
	require.True(t, loaded.HasNode("b"))

	link, ok := loaded.GetLink("l1")
	require.True(t, ok)
	require.Equal(t, types.NodeID("a"), link.FromNode)
	require.Equal(t, types.NodeID("b"), link.ToNode)
}

func TestLoadDirOnMissingTopologyReturnsEmptyGraph(t *testing.T) {
	g, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, g.NodeIDs(OrderNone))
}

func TestSaveZipLoadZipRoundTrip(t *testing.T) {
	g := buildSampleGraph(t)
	srcRoot := t.TempDir()
	require.NoError(t, g.SaveDir(srcRoot))

	zipPath := filepath.Join(t.TempDir(), "topology.zip")
	require.NoError(t, SaveZip(srcRoot, zipPath))

	destRoot := t.TempDir()
	require.NoError(t, LoadZip(zipPath, destRoot))

	loaded, err := LoadDir(destRoot)
	require.NoError(t, err)
	require.True(t, loaded.HasNode("a"))
	require.True(t, loaded.HasNode("b"))
	_, ok := loaded.GetLink("l1")
	require.True(t, ok)
}
