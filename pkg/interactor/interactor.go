// Package interactor implements the thin facade an interactive host
// (a UI, a notebook kernel, a test harness) drives a running topology
// through: pause/resume/run/stop plus client attach/detach, all
// delegated to a manager.Manager so the facade itself never needs to
// know whether the topology is running in-process or in a worker.
package interactor

import (
	"github.com/loomgraph/loom/pkg/manager"
	"github.com/loomgraph/loom/pkg/types"
)

// Interactor is constructed once per running topology and handed to
// whatever drives the interactive session.
type Interactor struct {
	mgr      manager.Manager
	registry *manager.ClientRegistry
}

// New wraps mgr. Callers must have constructed the engine (or
// WorkerRunner) behind mgr with registry.Dispatch as its
// OnClientMessage callback before attaching any client, or messages
// from targets never reach the attached handles.
func New(mgr manager.Manager, registry *manager.ClientRegistry) *Interactor {
	return &Interactor{mgr: mgr, registry: registry}
}

// AttachNodeClient attaches a client to a node; any client already
// attached under the same id is implicitly replaced.
func (in *Interactor) AttachNodeClient(nodeID string, clientID types.ClientID, options map[string]any, onMessage func(parts []any)) (*manager.Client, error) {
	return in.registry.Open(types.TargetNode, nodeID, clientID, options, onMessage)
}

// DetachNodeClient detaches a previously attached node client.
func (in *Interactor) DetachNodeClient(nodeID string, clientID types.ClientID) error {
	return in.registry.Close(types.TargetNode, nodeID, clientID)
}

// AttachConfigurationClient attaches a client to a package's shared
// configuration.
func (in *Interactor) AttachConfigurationClient(packageID string, clientID types.ClientID, options map[string]any, onMessage func(parts []any)) (*manager.Client, error) {
	return in.registry.Open(types.TargetConfiguration, packageID, clientID, options, onMessage)
}

// DetachConfigurationClient detaches a previously attached
// configuration client.
func (in *Interactor) DetachConfigurationClient(packageID string, clientID types.ClientID) error {
	return in.registry.Close(types.TargetConfiguration, packageID, clientID)
}

// Pause suspends dispatch; nodes already executing run to completion.
func (in *Interactor) Pause() {
	in.mgr.Pause()
}

// Resume clears Pause and dispatches immediately.
func (in *Interactor) Resume() {
	in.mgr.Resume()
}

// Run installs onComplete -- called every time a dispatch pass leaves
// no node executing, even when dirty nodes remain blocked behind a
// failed predecessor -- and starts dispatch. It
// does not block; callers that want to wait for a run to finish should
// block on their own signal from inside onComplete.
func (in *Interactor) Run(onComplete func()) {
	in.mgr.Run(onComplete)
}

// Stop tears down the topology: every wrapper is closed and, for an
// out-of-process manager, the worker process is asked to exit.
func (in *Interactor) Stop() {
	in.mgr.Stop()
}

// CountFailed reports how many nodes are currently in the failed
// state.
func (in *Interactor) CountFailed() int {
	return in.mgr.CountFailed()
}
