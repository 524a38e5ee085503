// Package manager implements the Execution Manager: it runs the
// scheduler either in-process, as a direct wrapper around an
// *engine.Engine, or out-of-process, by supervising a loom-worker child
// and speaking the pkg/transport wire protocol over a loopback TCP
// socket. Both modes satisfy the same Manager interface, so the
// Interactor and the CLI never need to know which one is in play.
package manager

import (
	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
)

// Manager is the host-side control surface for a running topology,
// regardless of whether its scheduler lives in this process or a child
// worker process.
type Manager interface {
	AddPackage(def schema.PackageDef) (types.PackageID, error)
	AddNode(id types.NodeID, typeDescriptor types.NodeTypeDescriptor, x, y float64, loading bool) error
	AddLink(link types.Link, loading bool) error
	RemoveNode(id types.NodeID) error
	RemoveLink(id types.LinkID) error
	Clear()

	Pause()
	Resume()
	Run(onComplete func())
	Stop()
	CountFailed() int

	OpenClient(kind types.TargetKind, targetID string, clientID types.ClientID, options map[string]any) error
	RecvMessage(kind types.TargetKind, targetID string, clientID types.ClientID, parts []any) error
	CloseClient(kind types.TargetKind, targetID string, clientID types.ClientID) error
}

// InProcessRunner runs the Execution Engine on a goroutine inside the
// host process -- the first of the two execution modes named in the
// design. Every Manager method is satisfied directly by the embedded
// engine; this type exists to give in-process execution its own name at
// the manager boundary rather than exposing *engine.Engine to callers
// that should only depend on Manager.
type InProcessRunner struct {
	*engine.Engine
}

// NewInProcessRunner wraps an already-constructed engine.
func NewInProcessRunner(e *engine.Engine) *InProcessRunner {
	return &InProcessRunner{Engine: e}
}

var _ Manager = (*InProcessRunner)(nil)
