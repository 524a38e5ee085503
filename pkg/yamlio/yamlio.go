// Package yamlio implements the plain-text alternative to the zip
// archive save format: a single YAML document describing a topology's
// nodes, links, metadata, and per-owner properties, importable and
// exportable by the CLI's --import-path/--export-path flags when given
// a .yaml or .yml path.
package yamlio

import (
	"fmt"
	"os"

	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"gopkg.in/yaml.v3"
)

// nodeDoc and linkDoc mirror the graph JSON shape (see pkg/graph's
// topology.json format) but in a YAML-friendly, human-editable layout,
// with properties inlined next to each node rather than living in a
// separate data-store tree.
type nodeDoc struct {
	NodeType   string         `yaml:"node_type"`
	X          float64        `yaml:"x"`
	Y          float64        `yaml:"y"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

type linkDoc struct {
	FromPort string `yaml:"from_port"`
	ToPort   string `yaml:"to_port"`
	LinkType string `yaml:"link_type,omitempty"`
}

// Document is the top-level YAML shape.
type Document struct {
	Nodes              map[string]nodeDoc        `yaml:"nodes"`
	Links              map[string]linkDoc        `yaml:"links"`
	Metadata           map[string]any            `yaml:"metadata,omitempty"`
	PackageProperties  map[string]map[string]any `yaml:"package_properties,omitempty"`
}

// Export renders g's nodes, links, and metadata, plus every node's and
// package's persisted properties read from store, into a YAML document
// written to path.
func Export(g *graph.Graph, store storage.Store, packageIDs []types.PackageID, path string) error {
	doc := Document{
		Nodes:             map[string]nodeDoc{},
		Links:             map[string]linkDoc{},
		Metadata:          g.Metadata(),
		PackageProperties: map[string]map[string]any{},
	}

	for _, id := range g.SortedNodeIDs() {
		node, _ := g.GetNode(id)
		props, err := store.GetProperties(storage.OwnerNode, string(id))
		if err != nil {
			return fmt.Errorf("yamlio: reading properties for node %q: %w", id, err)
		}
		doc.Nodes[string(id)] = nodeDoc{
			NodeType:   string(node.Type),
			X:          node.X,
			Y:          node.Y,
			Metadata:   node.Metadata,
			Properties: props,
		}
	}

	for _, link := range g.Links() {
		doc.Links[string(link.ID)] = linkDoc{
			FromPort: fmt.Sprintf("%s:%s", link.FromNode, link.FromPort),
			ToPort:   fmt.Sprintf("%s:%s", link.ToNode, link.ToPort),
			LinkType: link.LinkType,
		}
	}

	for _, pkgID := range packageIDs {
		props, err := store.GetProperties(storage.OwnerPackage, string(pkgID))
		if err != nil {
			return fmt.Errorf("yamlio: reading properties for package %q: %w", pkgID, err)
		}
		if len(props) > 0 {
			doc.PackageProperties[string(pkgID)] = props
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yamlio: encoding topology: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Import reads a YAML document at path into a fresh graph, writing each
// node's and package's inlined properties into store. It returns the
// graph; callers load it into an engine the same way they would a
// directory or zip topology.
func Import(path string, store storage.Store) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("yamlio: reading %q: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yamlio: decoding %q: %w", path, err)
	}

	g := graph.New()
	g.SetMetadata(doc.Metadata)

	ids := sortedKeys(doc.Nodes)
	for _, id := range ids {
		nd := doc.Nodes[id]
		if err := g.AddNode(types.Node{
			ID:       types.NodeID(id),
			Type:     types.NodeTypeDescriptor(nd.NodeType),
			X:        nd.X,
			Y:        nd.Y,
			Metadata: nd.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("yamlio: adding node %q: %w", id, err)
		}
		if len(nd.Properties) > 0 {
			if err := store.SetProperties(storage.OwnerNode, id, nd.Properties); err != nil {
				return nil, fmt.Errorf("yamlio: persisting properties for node %q: %w", id, err)
			}
		}
	}

	linkIDs := sortedKeysLinks(doc.Links)
	for _, id := range linkIDs {
		ld := doc.Links[id]
		fromNode, fromPort, err := splitEndpoint(ld.FromPort)
		if err != nil {
			return nil, fmt.Errorf("yamlio: link %q: %w", id, err)
		}
		toNode, toPort, err := splitEndpoint(ld.ToPort)
		if err != nil {
			return nil, fmt.Errorf("yamlio: link %q: %w", id, err)
		}
		if err := addRawLink(g, types.Link{
			ID:       types.LinkID(id),
			FromNode: fromNode,
			FromPort: fromPort,
			ToNode:   toNode,
			ToPort:   toPort,
			LinkType: ld.LinkType,
		}); err != nil {
			return nil, fmt.Errorf("yamlio: adding link %q: %w", id, err)
		}
	}

	for pkgID, props := range doc.PackageProperties {
		if err := store.SetProperties(storage.OwnerPackage, pkgID, props); err != nil {
			return nil, fmt.Errorf("yamlio: persisting properties for package %q: %w", pkgID, err)
		}
	}

	return g, nil
}

// addRawLink bypasses schema validation -- a yaml document is assumed
// to have been exported from a previously valid topology, and schema
// validation re-runs anyway the moment the caller loads the graph into
// an engine.
func addRawLink(g *graph.Graph, link types.Link) error {
	return g.AddLink(link, permissiveValidator{})
}

// permissiveValidator accepts any port name, deferring the real
// endpoint/port/type checks to the engine's own AddLink when the
// imported graph is loaded.
type permissiveValidator struct{}

func (permissiveValidator) Port(node *types.Node, portName string, output bool) (types.Port, bool) {
	return types.Port{Name: portName, AllowsMultipleConnections: true}, true
}

func splitEndpoint(s string) (types.NodeID, string, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return types.NodeID(s[:i]), s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed endpoint %q: expected node:port", s)
}

func sortedKeys(m map[string]nodeDoc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	insertionSort(keys)
	return keys
}

func sortedKeysLinks(m map[string]linkDoc) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	insertionSort(keys)
	return keys
}

func insertionSort(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
