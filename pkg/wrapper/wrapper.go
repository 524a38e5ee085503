// Package wrapper implements NodeWrapper and ConfigurationWrapper: the
// mediators between a user-supplied node/configuration instance and
// the rest of the engine -- property/data proxying, status
// publication, lifecycle hook dispatch, and per-target client
// attachment.
package wrapper

import (
	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/rs/zerolog"
)

// Host is the callback surface a wrapper publishes through. The
// engine implements it; wrappers never know about scheduler internals
// beyond this narrow interface.
type Host interface {
	PublishStatus(originID string, originType types.TargetKind, state types.StatusLevel, message string)
	PublishExecutionState(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool)
	RequestExecution(nodeID types.NodeID)
	SendClientMessage(originType types.TargetKind, originID string, clientID types.ClientID, parts ...any)
}

// base holds the fields and behavior shared by NodeWrapper and
// ConfigurationWrapper: a single user instance, client services keyed
// by client id, and shared hook-dispatch helpers.
type base struct {
	host     Host
	fabric   *clientbus.Fabric
	targetID string
	kind     types.TargetKind
	instance schema.NodeInstance // also holds ConfigurationInstance; both are `any`
	logger   zerolog.Logger
}

func (b *base) openClient(clientID types.ClientID, options map[string]any) {
	forwarder := func(parts ...any) {
		b.host.SendClientMessage(b.kind, b.targetID, clientID, parts...)
	}
	service, _ := b.fabric.Attach(b.kind, b.targetID, clientID, forwarder)

	opener, ok := b.instance.(schema.ClientOpener)
	if !ok {
		return
	}
	b.safeCall("open_client", func() error {
		recv := opener.OpenClient(clientID, options, func(parts ...any) { service.SendMessage(parts...) })
		if recv != nil {
			service.SetMessageHandler(func(parts ...any) {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error().Interface("panic", r).Str("target", b.targetID).Msg("panic in client message handler")
					}
				}()
				recv(parts...)
			})
		}
		return nil
	})
}

func (b *base) recvMessage(clientID types.ClientID, parts []any) {
	if service, ok := b.fabric.Lookup(b.kind, b.targetID, clientID); ok {
		service.HandleMessage(parts...)
	} else {
		b.fabric.QueueMessage(b.kind, b.targetID, clientID, parts)
	}
}

func (b *base) closeClient(clientID types.ClientID) {
	if closer, ok := b.instance.(schema.ClientCloseNotifiable); ok {
		b.safeCall("close_client", func() error {
			closer.CloseClient(clientID)
			return nil
		})
	}
	b.fabric.Detach(b.kind, b.targetID, clientID)
}

func (b *base) close() {
	if closer, ok := b.instance.(schema.Closer); ok {
		b.safeCall("close", func() error {
			closer.Close()
			return nil
		})
	}
	b.fabric.UnregisterTarget(b.kind, b.targetID)
}

// safeCall invokes fn and swallows any error or panic, logging it --
// every hook other than execute() follows this policy per the error
// handling design.
func (b *base) safeCall(hookName string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("hook", hookName).Str("target", b.targetID).Msg("panic in lifecycle hook")
		}
	}()
	if err := fn(); err != nil {
		b.logger.Error().Err(err).Str("hook", hookName).Str("target", b.targetID).Msg("error in lifecycle hook")
	}
}
