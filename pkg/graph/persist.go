package graph

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loomgraph/loom/pkg/types"
)

// nodeDoc and linkDoc are the JSON wire shapes for topology.json, per
// the graph JSON format in the design's external interfaces section.
type nodeDoc struct {
	NodeType string         `json:"node_type"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Metadata map[string]any `json:"metadata"`
}

type linkDoc struct {
	FromPort string `json:"from_port"`
	ToPort   string `json:"to_port"`
	LinkType string `json:"link_type"`
}

type topologyDoc struct {
	Nodes    map[string]nodeDoc `json:"nodes"`
	Links    map[string]linkDoc `json:"links"`
	Metadata map[string]any     `json:"metadata"`
}

// MarshalJSON encodes the graph to topology.json's document shape.
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := topologyDoc{
		Nodes:    map[string]nodeDoc{},
		Links:    map[string]linkDoc{},
		Metadata: g.metadata,
	}
	for id, node := range g.nodes {
		doc.Nodes[string(id)] = nodeDoc{
			NodeType: string(node.Type),
			X:        node.X,
			Y:        node.Y,
			Metadata: node.Metadata,
		}
	}
	for id, link := range g.links {
		doc.Links[string(id)] = linkDoc{
			FromPort: fmt.Sprintf("%s:%s", link.FromNode, link.FromPort),
			ToPort:   fmt.Sprintf("%s:%s", link.ToNode, link.ToPort),
			LinkType: link.LinkType,
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// UnmarshalJSON decodes topology.json into this graph. The JSON
// object's key order is not preserved (Go maps have no stable order):
// nodes and links are inserted in lexical id order instead, so every
// load of the same document yields the same insertion order.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc topologyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode topology document: %w", err)
	}

	*g = *New()
	g.metadata = doc.Metadata
	if g.metadata == nil {
		g.metadata = map[string]any{}
	}

	ids := make([]string, 0, len(doc.Nodes))
	for id := range doc.Nodes {
		ids = append(ids, id)
	}
	sortStrings(ids)

	for _, id := range ids {
		nd := doc.Nodes[id]
		if err := g.AddNode(types.Node{
			ID:       types.NodeID(id),
			Type:     types.NodeTypeDescriptor(nd.NodeType),
			X:        nd.X,
			Y:        nd.Y,
			Metadata: nd.Metadata,
		}); err != nil {
			return err
		}
	}

	linkIDs := make([]string, 0, len(doc.Links))
	for id := range doc.Links {
		linkIDs = append(linkIDs, id)
	}
	sortStrings(linkIDs)

	for _, id := range linkIDs {
		ld := doc.Links[id]
		fromNode, fromPort, err := splitEndpoint(ld.FromPort)
		if err != nil {
			return err
		}
		toNode, toPort, err := splitEndpoint(ld.ToPort)
		if err != nil {
			return err
		}
		g.links[types.LinkID(id)] = &types.Link{
			ID:       types.LinkID(id),
			FromNode: fromNode,
			FromPort: fromPort,
			ToNode:   toNode,
			ToPort:   toPort,
			LinkType: ld.LinkType,
		}
	}
	return nil
}

func splitEndpoint(s string) (types.NodeID, string, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return types.NodeID(s[:i]), s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed endpoint %q: expected node:port", s)
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// SaveDir writes topology.json into an execution folder. Per-node and
// per-package data (properties.json, data/*) live alongside under the
// same root but are owned by pkg/storage, not this package.
func (g *Graph) SaveDir(root string) error {
	data, err := g.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create execution folder %q: %w", root, err)
	}
	return os.WriteFile(filepath.Join(root, "topology.json"), data, 0o644)
}

// LoadDir reads topology.json from an execution folder.
func LoadDir(root string) (*Graph, error) {
	data, err := os.ReadFile(filepath.Join(root, "topology.json"))
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topology.json: %w", err)
	}
	g := New()
	if err := g.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return g, nil
}

// SaveZip writes the entire execution folder (topology.json plus every
// node/<id> and package/<id> directory) into a single zip archive --
// the portable save format named in the design's external interfaces.
func SaveZip(root, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip %q: %w", zipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		writer, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(writer, in)
		return err
	})
}

// LoadZip extracts a zip archive produced by SaveZip into root.
func LoadZip(zipPath, root string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip %q: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(root, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dest, err)
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
