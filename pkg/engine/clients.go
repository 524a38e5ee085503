package engine

import (
	"fmt"

	"github.com/loomgraph/loom/pkg/types"
)

// OpenClient attaches a new execution client to a node or
// configuration target. If the target has not been registered yet
// (e.g. init and add_node arrived in the same batch but have not been
// processed), the request is queued in the client fabric for replay
// once the wrapper's Load runs.
func (e *Engine) OpenClient(kind types.TargetKind, targetID string, clientID types.ClientID, options map[string]any) error {
	var err error
	e.submit(func() {
		switch kind {
		case types.TargetNode:
			rec, ok := e.nodes[types.NodeID(targetID)]
			if !ok {
				e.fabric.QueueOpen(kind, targetID, clientID, options)
				return
			}
			rec.wrapper.OpenClient(clientID, options)
		case types.TargetConfiguration:
			cw, ok := e.configurations[types.PackageID(targetID)]
			if !ok {
				e.fabric.QueueOpen(kind, targetID, clientID, options)
				return
			}
			cw.OpenClient(clientID, options)
		default:
			err = fmt.Errorf("unknown target kind %q", kind)
		}
	})
	return err
}

// RecvMessage delivers an inbound message to an attached client,
// queueing it if the target has not registered yet.
func (e *Engine) RecvMessage(kind types.TargetKind, targetID string, clientID types.ClientID, parts []any) error {
	var err error
	e.submit(func() {
		switch kind {
		case types.TargetNode:
			rec, ok := e.nodes[types.NodeID(targetID)]
			if !ok {
				e.fabric.QueueMessage(kind, targetID, clientID, parts)
				return
			}
			rec.wrapper.RecvMessage(clientID, parts)
		case types.TargetConfiguration:
			cw, ok := e.configurations[types.PackageID(targetID)]
			if !ok {
				e.fabric.QueueMessage(kind, targetID, clientID, parts)
				return
			}
			cw.RecvMessage(clientID, parts)
		default:
			err = fmt.Errorf("unknown target kind %q", kind)
		}
	})
	return err
}

// CloseClient detaches a client from a node or configuration target.
// Closing a client on a target that was never registered is a no-op.
func (e *Engine) CloseClient(kind types.TargetKind, targetID string, clientID types.ClientID) error {
	var err error
	e.submit(func() {
		switch kind {
		case types.TargetNode:
			if rec, ok := e.nodes[types.NodeID(targetID)]; ok {
				rec.wrapper.CloseClient(clientID)
			}
		case types.TargetConfiguration:
			if cw, ok := e.configurations[types.PackageID(targetID)]; ok {
				cw.CloseClient(clientID)
			}
		default:
			err = fmt.Errorf("unknown target kind %q", kind)
		}
	})
	return err
}
