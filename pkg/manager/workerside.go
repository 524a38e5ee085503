package manager

import (
	"fmt"
	"net"
	"sync"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/transport"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/rs/zerolog"
)

// Serve runs the worker side of the wire protocol on an accepted
// connection: it blocks reading control packets, drives a freshly
// built *engine.Engine, and writes back an event for every scheduler
// callback, until the host sends close_worker or the connection drops.
// Node and configuration classes must already be registered with the
// schema package (by the worker binary's own blank imports) before
// Serve is called; packages themselves arrive over the wire via
// add_package control packets.
func Serve(conn net.Conn, registry *schema.Registry) error {
	logger := log.WithComponent("worker-side")

	first, err := transport.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("manager: reading init frame: %w", err)
	}
	var initPacket transport.ControlPacket
	if len(first) == 0 {
		return fmt.Errorf("manager: init frame carried no control packet")
	}
	if err := first[0].AsJSON(&initPacket); err != nil {
		return fmt.Errorf("manager: decoding init packet: %w", err)
	}
	if initPacket.Action != transport.ActionInit {
		return fmt.Errorf("manager: expected init action, got %q", initPacket.Action)
	}

	store, err := storage.NewFileStore(initPacket.ExecutionFolder)
	if err != nil {
		return fmt.Errorf("manager: opening execution folder: %w", err)
	}

	var writeMu sync.Mutex
	send := func(parts ...transport.Part) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := transport.WriteFrame(conn, parts...); err != nil {
			logger.Error().Err(err).Msg("failed to write event frame")
		}
	}

	eng := engine.New(engine.Options{
		Registry: registry,
		Store:    store,
		Fabric:   clientbus.NewFabric(),
		OnStatus: func(originID string, originType types.TargetKind, state types.StatusLevel, message string) {
			part, err := transport.JSONPart(transport.Event{
				Kind: transport.EventStatus, OriginID: originID, OriginType: string(originType),
				State: string(state), Message: message,
			})
			if err == nil {
				send(part)
			}
		},
		OnExecutionState: func(nodeID types.NodeID, state types.ExecutionState, cause error, manual bool) {
			errText := ""
			if cause != nil {
				errText = cause.Error()
			}
			part, err := transport.JSONPart(transport.Event{
				Kind: transport.EventUpdateExecutionState, NodeID: string(nodeID), State: string(state),
				Error: errText, IsManual: manual, AtTime: transport.NowUnixMilli(),
			})
			if err == nil {
				send(part)
			}
		},
		OnClientMessage: func(originType types.TargetKind, originID string, clientID types.ClientID, parts []any) {
			headerPart, err := transport.JSONPart(transport.Event{
				Kind: transport.EventClientMessage, OriginID: originID, OriginType: string(originType),
				ClientID: transport.ClientIDFrom(clientID),
			})
			if err != nil {
				return
			}
			valuePart, err := transport.JSONPart(parts)
			if err != nil {
				return
			}
			send(headerPart, valuePart)
		},
	})
	defer eng.Stop()

	metrics.RegisterComponent("transport", true, "connected to host")
	metrics.RegisterComponent("engine", true, "running")
	collector := metrics.NewCollector(eng)
	collector.Start()
	defer collector.Stop()

	eng.Run(func() {
		part, err := transport.JSONPart(transport.Event{Kind: transport.EventExecutionComplete, CountFailed: eng.CountFailed()})
		if err == nil {
			send(part)
		}
	})

	for _, in := range initPacket.InjectedInputs {
		eng.InjectInput(types.NodeID(in.NodeID), in.Port, in.Value)
	}
	for _, ol := range initPacket.OutputListeners {
		nodeID, port := types.NodeID(ol.NodeID), ol.Port
		eng.AddOutputListener(nodeID, port, func(value any) {
			part, err := transport.JSONPart(transport.Event{
				Kind: transport.EventOutputNotification, NodeID: string(nodeID), OutputPort: port,
			})
			if err != nil {
				return
			}
			valuePart, err := transport.JSONPart(value)
			if err != nil {
				return
			}
			send(part, valuePart)
		})
	}

	for {
		parts, err := transport.ReadFrame(conn)
		if err != nil {
			return nil
		}
		if len(parts) == 0 {
			continue
		}
		var packet transport.ControlPacket
		if err := parts[0].AsJSON(&packet); err != nil {
			logger.Error().Err(err).Msg("failed to decode control packet")
			continue
		}
		if applyControlPacket(eng, packet, parts[1:], logger) {
			return nil
		}
	}
}

// applyControlPacket applies one decoded packet to eng, logging
// failures rather than aborting the connection, since no action in
// this vocabulary has a synchronous acknowledgement: a rejected
// mutation is logged here and no event is sent to the host for it.
// It reports whether the connection should close.
func applyControlPacket(eng *engine.Engine, packet transport.ControlPacket, extra []transport.Part, logger zerolog.Logger) bool {
	var err error
	switch packet.Action {
	case transport.ActionAddPackage:
		_, err = eng.AddPackage(packet.Package)
	case transport.ActionAddNode:
		descriptor := types.NodeTypeDescriptor(packet.NodeType)
		err = eng.AddNode(types.NodeID(packet.NodeID), descriptor, packet.X, packet.Y, packet.Loading)
	case transport.ActionAddLink:
		err = eng.AddLink(types.Link{
			ID: types.LinkID(packet.LinkID), FromNode: types.NodeID(packet.FromNode), FromPort: packet.FromPort,
			ToNode: types.NodeID(packet.ToNode), ToPort: packet.ToPort, LinkType: packet.LinkType,
		}, packet.Loading)
	case transport.ActionRemoveNode:
		err = eng.RemoveNode(types.NodeID(packet.NodeID))
	case transport.ActionRemoveLink:
		err = eng.RemoveLink(types.LinkID(packet.LinkID))
	case transport.ActionClear:
		eng.Clear()
	case transport.ActionPause:
		eng.Pause()
	case transport.ActionResume:
		eng.Resume()
	case transport.ActionOpenClient:
		err = eng.OpenClient(packet.TargetKind, packet.TargetID, packet.ClientID.ToClientID(), packet.Options)
	case transport.ActionClientMessage:
		var value []any
		if len(extra) > 0 {
			var decoded any
			if decErr := extra[0].AsJSON(&decoded); decErr == nil {
				value = []any{decoded}
			}
		}
		err = eng.RecvMessage(packet.TargetKind, packet.TargetID, packet.ClientID.ToClientID(), value)
	case transport.ActionCloseClient:
		err = eng.CloseClient(packet.TargetKind, packet.TargetID, packet.ClientID.ToClientID())
	case transport.ActionCloseWorker:
		return true
	default:
		logger.Warn().Str("action", string(packet.Action)).Msg("unknown control action")
	}
	if err != nil {
		logger.Error().Err(err).Str("action", string(packet.Action)).Msg("control action failed")
	}
	return false
}
