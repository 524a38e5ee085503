package manager

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loomgraph/loom/pkg/engine"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/transport"
	"github.com/loomgraph/loom/pkg/types"
	"github.com/rs/zerolog"
)

// WorkerRunnerOptions configures an out-of-process run.
type WorkerRunnerOptions struct {
	WorkerPath       string
	ExecutionFolder  string
	OnStatus         engine.StatusListener
	OnExecutionState engine.ExecutionStateListener
	OnClientMessage  engine.ClientMessageListener
}

// WorkerRunner runs the Execution Engine in a child loom-worker process,
// connected over a loopback TCP socket -- the second execution mode
// named in the design. Control actions are written to the worker as
// framed packets and, other than init/close, are fire-and-forget from
// the host's point of view: the wire protocol's event vocabulary has no
// per-action acknowledgement, so a mutation that fails validation is
// only logged by the worker and is not reported back to the host.
type WorkerRunner struct {
	cmd      *exec.Cmd
	listener net.Listener
	conn     net.Conn
	logger   zerolog.Logger

	writeMu sync.Mutex

	onStatus         engine.StatusListener
	onExecutionState engine.ExecutionStateListener
	onClientMessage  engine.ClientMessageListener

	completeMu  sync.Mutex
	onComplete  func()
	countFailed int
}

// StartWorkerRunner launches a loom-worker child process, accepts its
// single connection, and sends the init packet carrying the execution
// folder. No class map is sent: the worker resolves node/configuration
// factories from the registrations compiled into its own binary.
func StartWorkerRunner(opts WorkerRunnerOptions) (*WorkerRunner, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("manager: opening worker listen socket: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	cmd := exec.Command(opts.WorkerPath, "--host", "127.0.0.1", "--port", strconv.Itoa(port))
	if err := cmd.Start(); err != nil {
		listener.Close()
		return nil, fmt.Errorf("manager: starting worker process: %w", err)
	}

	conn, err := acceptWithTimeout(listener, 10*time.Second)
	if err != nil {
		listener.Close()
		_ = cmd.Process.Kill()
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	w := &WorkerRunner{
		cmd:              cmd,
		listener:         listener,
		conn:             conn,
		logger:           log.WithComponent("worker-runner"),
		onStatus:         opts.OnStatus,
		onExecutionState: opts.OnExecutionState,
		onClientMessage:  opts.OnClientMessage,
	}

	if err := w.send(transport.ControlPacket{
		Action:          transport.ActionInit,
		ExecutionFolder: opts.ExecutionFolder,
	}); err != nil {
		conn.Close()
		listener.Close()
		_ = cmd.Process.Kill()
		return nil, err
	}

	go w.receiveLoop()
	return w, nil
}

func acceptWithTimeout(listener net.Listener, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("manager: accepting worker connection: %w", r.err)
		}
		return r.conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("manager: timed out waiting for worker to connect")
	}
}

func (w *WorkerRunner) send(packet transport.ControlPacket) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	part, err := transport.JSONPart(packet)
	if err != nil {
		return err
	}
	if err := transport.WriteFrame(w.conn, part); err != nil {
		return fmt.Errorf("manager: sending %s: %w", packet.Action, err)
	}
	return nil
}

// receiveLoop decodes events from the worker until the connection
// closes, which per the design terminates the host's receive loop with
// no retry.
func (w *WorkerRunner) receiveLoop() {
	for {
		parts, err := transport.ReadFrame(w.conn)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker transport closed")
			return
		}
		if len(parts) == 0 {
			continue
		}
		var ev transport.Event
		if err := parts[0].AsJSON(&ev); err != nil {
			w.logger.Error().Err(err).Msg("failed to decode worker event")
			continue
		}
		w.dispatchEvent(ev, parts[1:])
	}
}

func (w *WorkerRunner) dispatchEvent(ev transport.Event, extra []transport.Part) {
	switch ev.Kind {
	case transport.EventUpdateExecutionState:
		var cause error
		if ev.Error != "" {
			cause = fmt.Errorf("%s", ev.Error)
		}
		if w.onExecutionState != nil {
			w.onExecutionState(types.NodeID(ev.NodeID), types.ExecutionState(ev.State), cause, ev.IsManual)
		}
	case transport.EventStatus:
		if w.onStatus != nil {
			w.onStatus(ev.OriginID, types.TargetKind(ev.OriginType), types.StatusLevel(ev.State), ev.Message)
		}
	case transport.EventOutputNotification:
		// surfaced to callers through AddOutputListener registration on
		// the in-process engine only; out-of-process output listening is
		// not wired to a public callback in this runner.
	case transport.EventClientMessage:
		if w.onClientMessage != nil {
			var value any
			if len(extra) > 0 {
				_ = extra[0].AsJSON(&value)
			}
			w.onClientMessage(types.TargetKind(ev.OriginType), ev.OriginID, ev.ClientID.ToClientID(), []any{value})
		}
	case transport.EventExecutionComplete:
		w.completeMu.Lock()
		w.countFailed = ev.CountFailed
		cb := w.onComplete
		w.completeMu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

func (w *WorkerRunner) AddPackage(def schema.PackageDef) (types.PackageID, error) {
	if err := w.send(transport.ControlPacket{Action: transport.ActionAddPackage, Package: def}); err != nil {
		return "", err
	}
	return types.PackageID(def.ID), nil
}

func (w *WorkerRunner) AddNode(id types.NodeID, typeDescriptor types.NodeTypeDescriptor, x, y float64, loading bool) error {
	return w.send(transport.ControlPacket{
		Action: transport.ActionAddNode, NodeID: string(id), NodeType: string(typeDescriptor), X: x, Y: y, Loading: loading,
	})
}

func (w *WorkerRunner) AddLink(link types.Link, loading bool) error {
	return w.send(transport.ControlPacket{
		Action: transport.ActionAddLink, LinkID: string(link.ID), FromNode: string(link.FromNode), FromPort: link.FromPort,
		ToNode: string(link.ToNode), ToPort: link.ToPort, LinkType: link.LinkType, Loading: loading,
	})
}

func (w *WorkerRunner) RemoveNode(id types.NodeID) error {
	return w.send(transport.ControlPacket{Action: transport.ActionRemoveNode, NodeID: string(id)})
}

func (w *WorkerRunner) RemoveLink(id types.LinkID) error {
	return w.send(transport.ControlPacket{Action: transport.ActionRemoveLink, LinkID: string(id)})
}

func (w *WorkerRunner) Clear() {
	_ = w.send(transport.ControlPacket{Action: transport.ActionClear})
}

func (w *WorkerRunner) Pause() {
	_ = w.send(transport.ControlPacket{Action: transport.ActionPause})
}

func (w *WorkerRunner) Resume() {
	_ = w.send(transport.ControlPacket{Action: transport.ActionResume})
}

func (w *WorkerRunner) Run(onComplete func()) {
	w.completeMu.Lock()
	w.onComplete = onComplete
	w.completeMu.Unlock()
	_ = w.send(transport.ControlPacket{Action: transport.ActionResume})
}

func (w *WorkerRunner) CountFailed() int {
	w.completeMu.Lock()
	defer w.completeMu.Unlock()
	return w.countFailed
}

// Stop sends close_worker, waits briefly for the child to exit on its
// own, then kills it if it has not.
func (w *WorkerRunner) Stop() {
	_ = w.send(transport.ControlPacket{Action: transport.ActionCloseWorker})

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
		_ = w.cmd.Process.Kill()
	}
	w.conn.Close()
	w.listener.Close()
}

func (w *WorkerRunner) OpenClient(kind types.TargetKind, targetID string, clientID types.ClientID, options map[string]any) error {
	return w.send(transport.ControlPacket{
		Action: transport.ActionOpenClient, TargetKind: kind, TargetID: targetID,
		ClientID: transport.ClientIDFrom(clientID), Options: options,
	})
}

func (w *WorkerRunner) RecvMessage(kind types.TargetKind, targetID string, clientID types.ClientID, parts []any) error {
	packetPart, err := transport.JSONPart(transport.ControlPacket{
		Action: transport.ActionClientMessage, TargetKind: kind, TargetID: targetID,
		ClientID: transport.ClientIDFrom(clientID),
	})
	if err != nil {
		return err
	}
	valuePart, err := transport.JSONPart(parts)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return transport.WriteFrame(w.conn, packetPart, valuePart)
}

func (w *WorkerRunner) CloseClient(kind types.TargetKind, targetID string, clientID types.ClientID) error {
	return w.send(transport.ControlPacket{
		Action: transport.ActionCloseClient, TargetKind: kind, TargetID: targetID,
		ClientID: transport.ClientIDFrom(clientID),
	})
}

var _ Manager = (*WorkerRunner)(nil)
