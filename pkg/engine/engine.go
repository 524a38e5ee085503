// Package engine implements the Execution Engine: the scheduler that
// owns every node and configuration wrapper in a running topology and
// drives them through the pending/executing/executed/failed state
// machine.
//
// Every mutation -- adding or removing a node or link, marking a node
// dirty, completing an execution, routing a client message -- runs on
// a single dedicated goroutine, the same way the original scheduler
// ran as a single-threaded event loop. Callers on other goroutines
// (the manager, a worker transport, a metrics collector) submit work
// through Engine's public methods, which marshal onto that goroutine
// and block for a result; the engine's own node executions run on
// their own goroutines, bounded by the execution limit, and report
// back through the same channel. No field below is ever touched from
// two goroutines at once, so no mutex guards them.
package engine

import (
	"fmt"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/graph"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/loomgraph/loom/pkg/wrapper"
	"github.com/rs/zerolog"
)

// DefaultExecutionLimit is the default bound on concurrently executing
// nodes, matching the original scheduler's default.
const DefaultExecutionLimit = 4

// StatusListener is invoked whenever a node or configuration publishes
// an advisory status.
type StatusListener func(originID string, originType types.TargetKind, state types.StatusLevel, message string)

// ExecutionStateListener is invoked on every node state transition,
// scheduler-driven or manually reported.
type ExecutionStateListener func(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool)

// ClientMessageListener is invoked whenever a node or configuration
// sends a message to one of its attached clients.
type ClientMessageListener func(originType types.TargetKind, originID string, clientID types.ClientID, parts []any)

// nodeRecord is the engine's bookkeeping for one live node.
type nodeRecord struct {
	node     types.Node
	nodeType *schema.NodeType
	wrapper  *wrapper.NodeWrapper
	state    types.ExecutionState
}

// Engine is the execution scheduler for one topology.
type Engine struct {
	registry *schema.Registry
	store    storage.Store
	fabric   *clientbus.Fabric
	logger   zerolog.Logger

	executionLimit int

	cmds   chan func()
	closed chan struct{}

	nodes          map[types.NodeID]*nodeRecord
	configurations map[types.PackageID]*wrapper.ConfigurationWrapper
	links          map[types.LinkID]types.Link
	outLinks       map[types.NodeID][]types.LinkID
	inLinks        map[types.NodeID][]types.LinkID

	dirty     *orderedSet
	executing map[types.NodeID]bool
	executed  map[types.NodeID]bool
	failed    map[types.NodeID]error
	outputs   map[types.NodeID]types.Outputs
	injected  map[types.NodeID]map[string][]any
	listeners map[types.NodeID]map[string][]func(value any)

	paused   bool
	stopping bool

	onStatus         StatusListener
	onExecutionState ExecutionStateListener
	onClientMessage  ClientMessageListener
	onComplete       func()
}

// Options configures a new Engine.
type Options struct {
	Registry         *schema.Registry
	Store            storage.Store
	Fabric           *clientbus.Fabric
	ExecutionLimit   int
	OnStatus         StatusListener
	OnExecutionState ExecutionStateListener
	OnClientMessage  ClientMessageListener
}

// New constructs an Engine and starts its scheduling goroutine. Call
// Stop when the topology is torn down.
func New(opts Options) *Engine {
	limit := opts.ExecutionLimit
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}
	e := &Engine{
		registry:         opts.Registry,
		store:            opts.Store,
		fabric:           opts.Fabric,
		logger:           log.WithComponent("engine"),
		executionLimit:   limit,
		cmds:             make(chan func(), 1024),
		closed:           make(chan struct{}),
		nodes:            map[types.NodeID]*nodeRecord{},
		configurations:   map[types.PackageID]*wrapper.ConfigurationWrapper{},
		links:            map[types.LinkID]types.Link{},
		outLinks:         map[types.NodeID][]types.LinkID{},
		inLinks:          map[types.NodeID][]types.LinkID{},
		dirty:            newOrderedSet(),
		executing:        map[types.NodeID]bool{},
		executed:         map[types.NodeID]bool{},
		failed:           map[types.NodeID]error{},
		outputs:          map[types.NodeID]types.Outputs{},
		injected:         map[types.NodeID]map[string][]any{},
		listeners:        map[types.NodeID]map[string][]func(value any){},
		onStatus:         opts.OnStatus,
		onExecutionState: opts.OnExecutionState,
		onClientMessage:  opts.OnClientMessage,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for {
		select {
		case cmd := <-e.cmds:
			cmd()
		case <-e.closed:
			return
		}
	}
}

// submit runs fn on the scheduler goroutine and blocks until it
// returns. Safe to call from any goroutine except the scheduler
// goroutine itself.
func (e *Engine) submit(fn func()) {
	done := make(chan struct{})
	e.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// submitAsync enqueues fn without waiting for it to run. Safe to call
// from any goroutine, including the scheduler goroutine itself (a
// lifecycle hook that calls back into a Host method lands here). If
// the engine has been stopped and nothing drains the queue, the send
// is dropped rather than leaking the caller forever.
func (e *Engine) submitAsync(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.closed:
	}
}

// Stop closes every wrapper and shuts down the scheduler goroutine.
// Already-running node executions are allowed to finish; their
// completion reports are dropped once the engine has closed.
func (e *Engine) Stop() {
	e.submit(func() {
		e.stopping = true
		for _, rec := range e.nodes {
			rec.wrapper.Close()
		}
		for _, cw := range e.configurations {
			cw.Close()
		}
	})
	close(e.closed)
}

// Pause prevents dispatch from launching new node executions. Nodes
// already executing are unaffected.
func (e *Engine) Pause() {
	e.submit(func() { e.paused = true })
}

// Resume clears Pause and immediately dispatches.
func (e *Engine) Resume() {
	e.submit(func() {
		e.paused = false
		e.dispatchLocked()
	})
}

// Run installs the completion callback (invoked whenever no node is
// executing and dispatch has nothing left to launch) and dispatches.
// Run does not clear Pause: a paused engine launches nothing, and
// reports no completion, until Resume.
func (e *Engine) Run(onComplete func()) {
	e.submit(func() {
		e.onComplete = onComplete
		e.dispatchLocked()
	})
}

// Dispatch triggers one scheduling pass, launching every dirty node
// whose predecessors have all executed. Callers that add nodes and
// links with loading=true should call this once after the whole batch
// is in place.
func (e *Engine) Dispatch() {
	e.submit(func() { e.dispatchLocked() })
}

// MarkDirty forces a node (and everything downstream of it) back into
// the pending state and dispatches.
func (e *Engine) MarkDirty(id types.NodeID) {
	e.submit(func() {
		e.markDirtyLocked(id)
		e.dispatchLocked()
	})
}

// Clear detaches every client, closes and drops every wrapper, and
// empties every scheduler set. It runs as a single closure on the
// scheduler goroutine so the reset is atomic with respect to any
// dispatch or in-flight completion landing concurrently.
func (e *Engine) Clear() {
	e.submit(func() {
		for _, rec := range e.nodes {
			rec.wrapper.Close()
		}
		for _, cw := range e.configurations {
			cw.Close()
		}
		e.nodes = map[types.NodeID]*nodeRecord{}
		e.configurations = map[types.PackageID]*wrapper.ConfigurationWrapper{}
		e.links = map[types.LinkID]types.Link{}
		e.outLinks = map[types.NodeID][]types.LinkID{}
		e.inLinks = map[types.NodeID][]types.LinkID{}
		e.dirty = newOrderedSet()
		e.executing = map[types.NodeID]bool{}
		e.executed = map[types.NodeID]bool{}
		e.failed = map[types.NodeID]error{}
		e.outputs = map[types.NodeID]types.Outputs{}
		e.injected = map[types.NodeID]map[string][]any{}
		e.listeners = map[types.NodeID]map[string][]func(value any){}
	})
}

// StateCounts is the external, thread-safe query form of the per-state
// counts dispatchLocked already reports to Prometheus via
// reportStateCountsLocked on every dispatch pass; this one goes through
// submit so callers outside the scheduler goroutine can use it safely.
func (e *Engine) StateCounts() map[string]int {
	counts := map[string]int{}
	e.submit(func() {
		for _, rec := range e.nodes {
			counts[string(rec.state)]++
		}
	})
	return counts
}

// AddPackage registers a schema package and, if it declares a
// configuration class, constructs and loads its shared configuration
// instance.
func (e *Engine) AddPackage(def schema.PackageDef) (types.PackageID, error) {
	var id types.PackageID
	var err error
	e.submit(func() {
		id, err = e.addPackageLocked(def)
	})
	return id, err
}

func (e *Engine) addPackageLocked(def schema.PackageDef) (types.PackageID, error) {
	id, err := e.registry.AddPackage(def)
	if err != nil {
		return "", err
	}
	pkg, _ := e.registry.Package(id)
	if !pkg.HasConfigurationClass {
		return id, nil
	}
	factory, err := schema.ResolveConfigurationFactory(pkg.ConfigurationClass)
	if err != nil {
		return "", fmt.Errorf("package %q: %w", id, err)
	}
	cw := wrapper.NewConfigurationWrapper(e, e.store, e.fabric, id)
	instance := factory(cw)
	cw.SetInstance(instance)
	cw.Load()
	e.configurations[id] = cw
	return id, nil
}

// AddNode instantiates a node of the given type and registers it with
// the scheduler. When loading is true, dispatch is not triggered --
// callers performing a bulk topology load should pass true for every
// node and every link, then call Dispatch once at the end.
func (e *Engine) AddNode(id types.NodeID, typeDescriptor types.NodeTypeDescriptor, x, y float64, loading bool) error {
	var err error
	e.submit(func() {
		err = e.addNodeLocked(id, typeDescriptor, x, y, loading)
	})
	return err
}

func (e *Engine) addNodeLocked(id types.NodeID, typeDescriptor types.NodeTypeDescriptor, x, y float64, loading bool) error {
	if _, exists := e.nodes[id]; exists {
		return &types.InvalidNodeError{NodeID: id, Reason: "duplicate node id"}
	}
	nt, err := e.registry.NodeType(typeDescriptor)
	if err != nil {
		return err
	}
	factory, err := schema.ResolveNodeFactory(nt.Classname)
	if err != nil {
		return fmt.Errorf("node %q: %w", id, err)
	}

	nw := wrapper.NewNodeWrapper(e, e.store, e.fabric, id)
	if cw, ok := e.configurations[nt.PackageID]; ok {
		nw.SetConfigurationWrapper(cw)
	}
	instance := factory(nw)
	nw.SetInstance(instance)
	nw.Load()

	e.nodes[id] = &nodeRecord{
		node:     types.Node{ID: id, Type: typeDescriptor, Package: nt.PackageID, X: x, Y: y},
		nodeType: nt,
		wrapper:  nw,
		state:    types.StatePending,
	}
	e.outLinks[id] = nil
	e.inLinks[id] = nil
	e.markDirtyLocked(id)
	if !loading {
		e.dispatchLocked()
	}
	return nil
}

// RemoveNode tears down a node's wrapper, its data store record, and
// every link touching it.
func (e *Engine) RemoveNode(id types.NodeID) error {
	var err error
	e.submit(func() {
		err = e.removeNodeLocked(id)
	})
	return err
}

func (e *Engine) removeNodeLocked(id types.NodeID) error {
	rec, ok := e.nodes[id]
	if !ok {
		return &types.InvalidNodeError{NodeID: id, Reason: "unknown node id"}
	}
	var touching []types.LinkID
	touching = append(touching, e.inLinks[id]...)
	touching = append(touching, e.outLinks[id]...)
	for _, linkID := range touching {
		_ = e.removeLinkLocked(linkID)
	}

	rec.wrapper.Close()
	delete(e.nodes, id)
	delete(e.outLinks, id)
	delete(e.inLinks, id)
	e.dirty.Remove(id)
	delete(e.executing, id)
	delete(e.executed, id)
	delete(e.failed, id)
	delete(e.outputs, id)
	delete(e.injected, id)
	delete(e.listeners, id)

	if err := e.store.DeleteOwner(storage.OwnerNode, string(id)); err != nil {
		e.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to delete node data store record")
	}
	return nil
}

// AddLink validates and registers a link, notifying both endpoints'
// ConnectionsChanged hook and marking the downstream node dirty.
func (e *Engine) AddLink(link types.Link, loading bool) error {
	var err error
	e.submit(func() {
		err = e.addLinkLocked(link, loading)
	})
	return err
}

func (e *Engine) addLinkLocked(link types.Link, loading bool) error {
	if _, exists := e.links[link.ID]; exists {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("duplicate link id %q", link.ID)}
	}
	fromRec, ok := e.nodes[link.FromNode]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown from_node %q", link.FromNode)}
	}
	toRec, ok := e.nodes[link.ToNode]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown to_node %q", link.ToNode)}
	}
	fromPort, ok := fromRec.nodeType.OutputPorts[link.FromPort]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown output port %s:%s", link.FromNode, link.FromPort)}
	}
	toPort, ok := toRec.nodeType.InputPorts[link.ToPort]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown input port %s:%s", link.ToNode, link.ToPort)}
	}
	if fromPort.LinkType != toPort.LinkType {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("link type mismatch: %s != %s", fromPort.LinkType, toPort.LinkType)}
	}
	if link.LinkType == "" {
		link.LinkType = fromPort.LinkType
	}
	if !fromPort.AllowsMultipleConnections && e.portConnectionCount(link.FromNode, link.FromPort, true) > 0 {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("output port %s:%s does not allow multiple connections", link.FromNode, link.FromPort)}
	}
	if !toPort.AllowsMultipleConnections && e.portConnectionCount(link.ToNode, link.ToPort, false) > 0 {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("input port %s:%s does not allow multiple connections", link.ToNode, link.ToPort)}
	}

	e.links[link.ID] = link
	e.outLinks[link.FromNode] = append(e.outLinks[link.FromNode], link.ID)
	e.inLinks[link.ToNode] = append(e.inLinks[link.ToNode], link.ID)

	e.notifyConnectionsChanged(link.FromNode)
	e.notifyConnectionsChanged(link.ToNode)
	e.markDirtyLocked(link.ToNode)
	if !loading {
		e.dispatchLocked()
	}
	return nil
}

func (e *Engine) portConnectionCount(nodeID types.NodeID, port string, output bool) int {
	ids := e.outLinks[nodeID]
	if !output {
		ids = e.inLinks[nodeID]
	}
	count := 0
	for _, id := range ids {
		link := e.links[id]
		if output && link.FromPort == port {
			count++
		}
		if !output && link.ToPort == port {
			count++
		}
	}
	return count
}

// RemoveLink unregisters a link by id.
func (e *Engine) RemoveLink(id types.LinkID) error {
	var err error
	e.submit(func() {
		err = e.removeLinkLocked(id)
	})
	return err
}

func (e *Engine) removeLinkLocked(id types.LinkID) error {
	link, ok := e.links[id]
	if !ok {
		return &types.InvalidLinkError{Reason: fmt.Sprintf("unknown link id %q", id)}
	}
	delete(e.links, id)
	e.outLinks[link.FromNode] = removeLinkID(e.outLinks[link.FromNode], id)
	e.inLinks[link.ToNode] = removeLinkID(e.inLinks[link.ToNode], id)

	e.notifyConnectionsChanged(link.FromNode)
	e.notifyConnectionsChanged(link.ToNode)
	e.markDirtyLocked(link.ToNode)
	e.dispatchLocked()
	return nil
}

func removeLinkID(ids []types.LinkID, target types.LinkID) []types.LinkID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func (e *Engine) notifyConnectionsChanged(nodeID types.NodeID) {
	rec, ok := e.nodes[nodeID]
	if !ok {
		return
	}
	inputs := map[string]int{}
	for _, id := range e.inLinks[nodeID] {
		inputs[e.links[id].ToPort]++
	}
	outputs := map[string]int{}
	for _, id := range e.outLinks[nodeID] {
		outputs[e.links[id].FromPort]++
	}
	rec.wrapper.ConnectionsChanged(inputs, outputs)
}

// InjectInput supplies a standing input value for a node's input port
// that is not fed by any link -- used by the CLI and tests to seed a
// source node without a synthetic upstream.
func (e *Engine) InjectInput(nodeID types.NodeID, port string, value any) {
	e.submit(func() {
		if e.injected[nodeID] == nil {
			e.injected[nodeID] = map[string][]any{}
		}
		e.injected[nodeID][port] = append(e.injected[nodeID][port], value)
		e.markDirtyLocked(nodeID)
		e.dispatchLocked()
	})
}

// AddOutputListener registers a callback invoked every time nodeID
// produces a fresh value on port.
func (e *Engine) AddOutputListener(nodeID types.NodeID, port string, listener func(value any)) {
	e.submit(func() {
		if e.listeners[nodeID] == nil {
			e.listeners[nodeID] = map[string][]func(value any){}
		}
		e.listeners[nodeID][port] = append(e.listeners[nodeID][port], listener)
	})
}

// LoadTopology bulk-registers every node and link from g, suppressing
// dispatch until the whole graph is in place, then dispatches once.
// g's packages must already be registered via AddPackage.
func (e *Engine) LoadTopology(g *graph.Graph) error {
	for _, id := range g.NodeIDs(graph.OrderTopological) {
		node, _ := g.GetNode(id)
		if err := e.AddNode(node.ID, node.Type, node.X, node.Y, true); err != nil {
			return fmt.Errorf("loading node %q: %w", node.ID, err)
		}
	}
	for _, link := range g.Links() {
		if err := e.AddLink(*link, true); err != nil {
			return fmt.Errorf("loading link %q: %w", link.ID, err)
		}
	}
	e.Dispatch()
	return nil
}

// Host interface, consumed by pkg/wrapper -----------------------------

// PublishStatus satisfies wrapper.Host. It is a pure notification and
// never touches scheduler state, so it runs inline regardless of which
// goroutine calls it.
func (e *Engine) PublishStatus(originID string, originType types.TargetKind, state types.StatusLevel, message string) {
	if e.onStatus != nil {
		e.onStatus(originID, originType, state, message)
	}
}

// PublishExecutionState satisfies wrapper.Host.
func (e *Engine) PublishExecutionState(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool) {
	if e.onExecutionState != nil {
		e.onExecutionState(nodeID, state, cause, manual)
	}
}

// RequestExecution satisfies wrapper.Host: a node instance asking to
// be scheduled again. This does mutate scheduler state, so it is
// marshaled onto the scheduler goroutine.
func (e *Engine) RequestExecution(nodeID types.NodeID) {
	e.submitAsync(func() {
		e.markDirtyLocked(nodeID)
		e.dispatchLocked()
	})
}

// SendClientMessage satisfies wrapper.Host.
func (e *Engine) SendClientMessage(originType types.TargetKind, originID string, clientID types.ClientID, parts ...any) {
	if e.onClientMessage != nil {
		e.onClientMessage(originType, originID, clientID, parts)
	}
}
