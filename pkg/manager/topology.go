package manager

import (
	"fmt"

	"github.com/loomgraph/loom/pkg/graph"
)

// LoadTopology adds every node and link from g onto m in topological
// order, marking each as loading so no dispatch pass runs until the
// whole batch is in place, then dispatches once for the whole batch.
// Every added node is still marked dirty, so that pass runs them all.
// It runs identically whether m is an InProcessRunner or a
// WorkerRunner, since both satisfy Manager with the same AddNode,
// AddLink, and Resume semantics.
func LoadTopology(m Manager, g *graph.Graph) error {
	for _, id := range g.NodeIDs(graph.OrderTopological) {
		node, _ := g.GetNode(id)
		if err := m.AddNode(node.ID, node.Type, node.X, node.Y, true); err != nil {
			return fmt.Errorf("loading node %q: %w", node.ID, err)
		}
	}
	for _, link := range g.Links() {
		if err := m.AddLink(*link, true); err != nil {
			return fmt.Errorf("loading link %q: %w", link.ID, err)
		}
	}
	// Every Manager starts unpaused, so Resume here is just the dispatch
	// pass a bulk load needs -- it does not resume anything that was
	// actually paused.
	m.Resume()
	return nil
}
