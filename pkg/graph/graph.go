// Package graph implements the Graph Model: the in-memory, persisted
// record of a topology's nodes, links, and metadata. It is consulted
// read-only by the execution engine; all mutation happens through its
// own methods, which the owning goroutine is responsible for
// serializing (the engine never mutates a Graph concurrently with
// itself).
package graph

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/loomgraph/loom/pkg/types"
)

// Graph holds the nodes, links, and metadata of one topology.
type Graph struct {
	nodes    map[types.NodeID]*types.Node
	links    map[types.LinkID]*types.Link
	order    []types.NodeID // insertion order, for deterministic tie-breaks
	metadata map[string]any
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    map[types.NodeID]*types.Node{},
		links:    map[types.LinkID]*types.Link{},
		metadata: map[string]any{},
	}
}

// AddNode registers a new node. Returns InvalidNodeError on a
// duplicate id.
func (g *Graph) AddNode(node types.Node) error {
	if _, exists := g.nodes[node.ID]; exists {
		return &types.InvalidNodeError{NodeID: node.ID, Reason: "duplicate node id"}
	}
	copied := node
	g.nodes[node.ID] = &copied
	g.order = append(g.order, node.ID)
	return nil
}

// RemoveNode deletes a node and every link touching it. Returns
// InvalidNodeError if the id is unknown.
func (g *Graph) RemoveNode(id types.NodeID) ([]types.LinkID, error) {
	if _, exists := g.nodes[id]; !exists {
		return nil, &types.InvalidNodeError{NodeID: id, Reason: "unknown node id"}
	}
	var removedLinks []types.LinkID
	for linkID, link := range g.links {
		if link.FromNode == id || link.ToNode == id {
			removedLinks = append(removedLinks, linkID)
		}
	}
	for _, linkID := range removedLinks {
		delete(g.links, linkID)
	}
	delete(g.nodes, id)
	for i, nodeID := range g.order {
		if nodeID == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return removedLinks, nil
}

// GetNode returns a node by id.
func (g *Graph) GetNode(id types.NodeID) (*types.Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// HasNode reports whether an id is registered -- used by AddLink's
// endpoint validation.
func (g *Graph) HasNode(id types.NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// LinkValidator is supplied by the caller (normally backed by the
// schema registry) so AddLink can validate port names, link types, and
// multiplicity without this package depending on pkg/schema.
type LinkValidator interface {
	Port(node *types.Node, portName string, output bool) (types.Port, bool)
}

// AddLink validates and registers a new link. Mirrors the endpoint,
// port-existence, link-type, and multiplicity checks from the original
// topology API's add_link.
func (g *Graph) AddLink(link types.Link, validator LinkValidator) error {
	if _, exists := g.links[link.ID]; exists {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("duplicate link id %q", link.ID)}
	}
	fromNode, ok := g.nodes[link.FromNode]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown from_node %q", link.FromNode)}
	}
	toNode, ok := g.nodes[link.ToNode]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown to_node %q", link.ToNode)}
	}

	fromPort, ok := validator.Port(fromNode, link.FromPort, true)
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown output port %s:%s", link.FromNode, link.FromPort)}
	}
	toPort, ok := validator.Port(toNode, link.ToPort, false)
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown input port %s:%s", link.ToNode, link.ToPort)}
	}
	if fromPort.LinkType != toPort.LinkType {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("link type mismatch: %s != %s", fromPort.LinkType, toPort.LinkType)}
	}
	if link.LinkType == "" {
		link.LinkType = fromPort.LinkType
	}

	if !fromPort.AllowsMultipleConnections && g.connectionCountOnPort(link.FromNode, link.FromPort, true) > 0 {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("output port %s:%s does not allow multiple connections", link.FromNode, link.FromPort)}
	}
	if !toPort.AllowsMultipleConnections && g.connectionCountOnPort(link.ToNode, link.ToPort, false) > 0 {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("input port %s:%s does not allow multiple connections", link.ToNode, link.ToPort)}
	}

	copied := link
	g.links[link.ID] = &copied
	return nil
}

func (g *Graph) connectionCountOnPort(nodeID types.NodeID, port string, output bool) int {
	count := 0
	for _, link := range g.links {
		if output && link.FromNode == nodeID && link.FromPort == port {
			count++
		}
		if !output && link.ToNode == nodeID && link.ToPort == port {
			count++
		}
	}
	return count
}

// RemoveLink deletes a link by id.
func (g *Graph) RemoveLink(id types.LinkID) (*types.Link, error) {
	link, ok := g.links[id]
	if !ok {
		return nil, &types.InvalidLinkError{Reason: fmt.Sprintf("unknown link id %q", id)}
	}
	delete(g.links, id)
	return link, nil
}

// GetLink returns a link by id.
func (g *Graph) GetLink(id types.LinkID) (*types.Link, bool) {
	link, ok := g.links[id]
	return link, ok
}

// Links returns every link, in no particular order.
func (g *Graph) Links() []*types.Link {
	links := make([]*types.Link, 0, len(g.links))
	for _, link := range g.links {
		links = append(links, link)
	}
	return links
}

// OutputsFrom returns the (node, port) pairs that receive from the
// named node's outputs.
func (g *Graph) OutputsFrom(nodeID types.NodeID) []struct {
	Node types.NodeID
	Port string
} {
	var result []struct {
		Node types.NodeID
		Port string
	}
	for _, link := range g.links {
		if link.FromNode == nodeID {
			result = append(result, struct {
				Node types.NodeID
				Port string
			}{link.ToNode, link.ToPort})
		}
	}
	return result
}

// InputsTo returns the (node, port) pairs that feed the named node's
// inputs.
func (g *Graph) InputsTo(nodeID types.NodeID) []struct {
	Node types.NodeID
	Port string
} {
	var result []struct {
		Node types.NodeID
		Port string
	}
	for _, link := range g.links {
		if link.ToNode == nodeID {
			result = append(result, struct {
				Node types.NodeID
				Port string
			}{link.FromNode, link.FromPort})
		}
	}
	return result
}

// ConnectionCounts returns the number of attached links per port name,
// split by direction, for a single node -- consumed by
// connections_changed notifications.
func (g *Graph) ConnectionCounts(nodeID types.NodeID) (inputs map[string]int, outputs map[string]int) {
	inputs = map[string]int{}
	outputs = map[string]int{}
	for _, link := range g.links {
		if link.ToNode == nodeID {
			inputs[link.ToPort]++
		}
		if link.FromNode == nodeID {
			outputs[link.FromPort]++
		}
	}
	return inputs, outputs
}

// NodeOrder controls the ordering returned by NodeIDs.
type NodeOrder int

const (
	OrderNone NodeOrder = iota
	OrderTopological
)

// NodeIDs returns every node id, either in insertion order or in
// topological order. Topological order iteratively selects any node
// whose predecessors have all already been selected, breaking ties by
// insertion order -- this determinism is required for reproducible
// bulk loads and re-runs.
func (g *Graph) NodeIDs(order NodeOrder) []types.NodeID {
	if order == OrderNone {
		ids := make([]types.NodeID, len(g.order))
		copy(ids, g.order)
		return ids
	}
	return g.topologicalOrder()
}

func (g *Graph) topologicalOrder() []types.NodeID {
	predecessorCount := make(map[types.NodeID]int, len(g.nodes))
	for id := range g.nodes {
		predecessorCount[id] = 0
	}
	for _, link := range g.links {
		predecessorCount[link.ToNode]++
	}

	picked := make(map[types.NodeID]bool, len(g.nodes))
	result := make([]types.NodeID, 0, len(g.nodes))

	for len(result) < len(g.nodes) {
		progressed := false
		for _, id := range g.order {
			if picked[id] {
				continue
			}
			if g.allPredecessorsPicked(id, picked) {
				picked[id] = true
				result = append(result, id)
				progressed = true
			}
		}
		if !progressed {
			// a cycle exists; fall back to remaining nodes in insertion
			// order rather than loop forever.
			for _, id := range g.order {
				if !picked[id] {
					picked[id] = true
					result = append(result, id)
				}
			}
			break
		}
	}
	return result
}

func (g *Graph) allPredecessorsPicked(id types.NodeID, picked map[types.NodeID]bool) bool {
	for _, link := range g.links {
		if link.ToNode == id && !picked[link.FromNode] {
			return false
		}
	}
	return true
}

// Metadata returns the topology-level metadata map.
func (g *Graph) Metadata() map[string]any {
	return g.metadata
}

// SetMetadata replaces the topology-level metadata map.
func (g *Graph) SetMetadata(metadata map[string]any) {
	g.metadata = metadata
}

// MergeLoad merges another graph's nodes and links into this one,
// renaming any node whose id collides with one already present. The
// returned map is old-id -> new-id for every renamed node; unrenamed
// nodes are omitted.
func (g *Graph) MergeLoad(other *Graph) (map[types.NodeID]types.NodeID, error) {
	renames := map[types.NodeID]types.NodeID{}
	for _, id := range other.order {
		if g.HasNode(id) {
			renames[id] = types.NodeID("n" + uuid.NewString())
		}
	}

	for _, id := range other.order {
		node := other.nodes[id]
		newID := id
		if renamed, ok := renames[id]; ok {
			newID = renamed
		}
		copied := *node
		copied.ID = newID
		if err := g.AddNode(copied); err != nil {
			return nil, err
		}
	}

	for _, link := range other.links {
		newLink := *link
		if renamed, ok := renames[link.FromNode]; ok {
			newLink.FromNode = renamed
		}
		if renamed, ok := renames[link.ToNode]; ok {
			newLink.ToNode = renamed
		}
		if _, exists := g.links[newLink.ID]; exists {
			newLink.ID = types.LinkID("l" + uuid.NewString())
		}
		g.links[newLink.ID] = &newLink
	}

	return renames, nil
}

// SortedNodeIDs is a convenience used by persistence and export code
// that wants a stable, human-readable ordering rather than engine
// dispatch order.
func (g *Graph) SortedNodeIDs() []types.NodeID {
	ids := make([]types.NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
