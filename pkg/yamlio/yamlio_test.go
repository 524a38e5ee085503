package yamlio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/stretchr/testify/require"
)

type acceptAllValidator struct{}

func (acceptAllValidator) Port(node *types.Node, portName string, output bool) (types.Port, bool) {
	return types.Port{Name: portName, AllowsMultipleConnections: true}, true
}

func TestExportImportRoundTrip(t *testing.T) {
	g := graph.New()
	g.SetMetadata(map[string]any{"title": "demo"})
	require.NoError(t, g.AddNode(types.Node{ID: "src", Type: "numbergraph:source", X: 1, Y: 2}))
	require.NoError(t, g.AddNode(types.Node{ID: "dst", Type: "numbergraph:transform", X: 3, Y: 4}))
	require.NoError(t, g.AddLink(types.Link{
		ID: "l1", FromNode: "src", FromPort: "out", ToNode: "dst", ToPort: "in", LinkType: "number",
	}, acceptAllValidator{}))

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetProperty(storage.OwnerNode, "src", "value", 3.0))
	require.NoError(t, store.SetProperty(storage.OwnerPackage, "numbergraph", "label", "demo-pkg"))

	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, Export(g, store, []types.PackageID{"numbergraph"}, path))

	importStore, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = importStore.Close() })

	imported, err := Import(path, importStore)
	require.NoError(t, err)

	require.Equal(t, map[string]any{"title": "demo"}, imported.Metadata())

	srcNode, ok := imported.GetNode("src")
	require.True(t, ok)
	require.Equal(t, types.NodeTypeDescriptor("numbergraph:source"), srcNode.Type)
	require.Equal(t, 1.0, srcNode.X)

	links := imported.Links()
	require.Len(t, links, 1)
	require.Equal(t, types.NodeID("src"), links[0].FromNode)
	require.Equal(t, types.NodeID("dst"), links[0].ToNode)

	value, ok, err := importStore.GetProperty(storage.OwnerNode, "src", "value")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3.0, value)

	pkgValue, ok, err := importStore.GetProperty(storage.OwnerPackage, "numbergraph", "label")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "demo-pkg", pkgValue)
}

func TestImportRejectsMalformedEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := "nodes:\n  a:\n    node_type: pkg:type\nlinks:\n  l1:\n    from_port: noColon\n    to_port: a:in\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = Import(path, store)
	require.Error(t, err)
}
