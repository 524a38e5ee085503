package wrapper

import (
	"context"

	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
)

// NodeWrapper owns one node's user instance: property/data proxying,
// status, client attachment, and the execute() call itself.
type NodeWrapper struct {
	base

	nodeID        types.NodeID
	store         storage.Store
	properties    map[string]any
	configuration *ConfigurationWrapper
}

// NewNodeWrapper constructs a wrapper for nodeID. The instance must be
// set with SetInstance before any hook is dispatched.
func NewNodeWrapper(host Host, store storage.Store, fabric *clientbus.Fabric, nodeID types.NodeID) *NodeWrapper {
	w := &NodeWrapper{
		nodeID: nodeID,
		store:  store,
	}
	w.host = host
	w.fabric = fabric
	w.targetID = string(nodeID)
	w.kind = types.TargetNode
	w.logger = log.WithNodeID(string(nodeID))
	w.ReloadProperties()
	return w
}

// NodeID satisfies schema.NodeServices: NodeWrapper is passed directly
// to a node factory as its services handle.
func (w *NodeWrapper) NodeID() types.NodeID {
	return w.nodeID
}

// SetInstance attaches the constructed user instance.
func (w *NodeWrapper) SetInstance(instance schema.NodeInstance) {
	w.instance = instance
}

// SetConfigurationWrapper records the shared configuration for this
// node's package, acquired once at registration.
func (w *NodeWrapper) SetConfigurationWrapper(cw *ConfigurationWrapper) {
	w.configuration = cw
}

// Load calls the instance's optional Load hook, then flushes the
// fabric's queued attach/message traffic for this node now that it is
// registered.
func (w *NodeWrapper) Load() {
	if loader, ok := w.instance.(schema.Loader); ok {
		w.safeCall("load", loader.Load)
	}
	w.fabric.RegisterTarget(types.TargetNode, string(w.nodeID))

	for _, open := range w.fabric.DrainPendingOpens(types.TargetNode, string(w.nodeID)) {
		w.openClient(open.ClientID, open.Options)
	}
	for _, msg := range w.fabric.DrainPending(types.TargetNode, string(w.nodeID)) {
		w.recvMessage(msg.ClientID, msg.Parts)
	}
}

// ConnectionsChanged notifies the instance of new input/output
// connection counts, if it implements the hook.
func (w *NodeWrapper) ConnectionsChanged(inputCounts, outputCounts map[string]int) {
	if notifiable, ok := w.instance.(schema.ConnectionsChangedNotifiable); ok {
		w.safeCall("connections_changed", func() error {
			notifiable.ConnectionsChanged(inputCounts, outputCounts)
			return nil
		})
	}
}

// ResetExecution calls the instance's optional ResetRun hook, invoked
// whenever the scheduler marks this node dirty.
func (w *NodeWrapper) ResetExecution() {
	if resetter, ok := w.instance.(schema.ResetRunner); ok {
		w.safeCall("reset_run", func() error {
			resetter.ResetRun()
			return nil
		})
	}
}

// Execute invokes the instance's Executor hook. Unlike every other
// hook, an error here propagates to the caller rather than being
// swallowed -- the scheduler records it under failed[id].
func (w *NodeWrapper) Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error) {
	executor, ok := w.instance.(schema.Executor)
	if !ok {
		return types.Outputs{}, nil
	}
	outputs, err := executor.Execute(ctx, inputs)
	if err != nil {
		return nil, &types.NodeExecutionFailedError{NodeID: w.nodeID, Cause: err}
	}
	if outputs == nil {
		outputs = types.Outputs{}
	}
	return outputs, nil
}

// SetStatus publishes an advisory status update through the host.
func (w *NodeWrapper) SetStatus(state types.StatusLevel, message string) {
	w.host.PublishStatus(string(w.nodeID), types.TargetNode, state, message)
}

// SetExecutionState publishes a manually-attested execution state,
// bypassing the scheduler's own transitions.
func (w *NodeWrapper) SetExecutionState(state types.ExecutionState) {
	w.host.PublishExecutionState(w.nodeID, state, nil, true)
}

// RequestExecution asks the host to mark this node dirty and
// dispatch.
func (w *NodeWrapper) RequestExecution() {
	w.host.RequestExecution(w.nodeID)
}

// GetProperty returns a cached property value, or defaultValue if
// unset.
func (w *NodeWrapper) GetProperty(name string, defaultValue any) any {
	if v, ok := w.properties[name]; ok {
		return v
	}
	return defaultValue
}

// SetProperty updates the in-memory cache and persists to the data
// store.
func (w *NodeWrapper) SetProperty(name string, value any) {
	if value == nil {
		delete(w.properties, name)
	} else {
		w.properties[name] = value
	}
	if err := w.store.SetProperty(storage.OwnerNode, string(w.nodeID), name, storeValue(value)); err != nil {
		w.logger.Error().Err(err).Str("property", name).Msg("failed to persist property")
	}
}

// ReloadProperties discards the in-memory cache and reloads from the
// data store -- called at the start of every execution so writes made
// during a previous node's execute() are visible.
func (w *NodeWrapper) ReloadProperties() {
	props, err := w.store.GetProperties(storage.OwnerNode, string(w.nodeID))
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to reload properties")
		props = map[string]any{}
	}
	w.properties = props
}

// GetData returns a persisted blob by key.
func (w *NodeWrapper) GetData(key string) (any, bool) {
	payload, _, ok, err := w.store.GetData(storage.OwnerNode, string(w.nodeID), key)
	if err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("failed to read data")
		return nil, false
	}
	return payload, ok
}

// SetData persists a blob by key; value must be []byte, string, or
// nil (to unset).
func (w *NodeWrapper) SetData(key string, value any) {
	kind := storage.PayloadUnset
	var data any
	switch v := value.(type) {
	case []byte:
		kind, data = storage.PayloadBinary, v
	case string:
		kind, data = storage.PayloadText, v
	case nil:
		kind = storage.PayloadUnset
	default:
		w.logger.Error().Str("key", key).Msg("unsupported data type")
		return
	}
	if err := w.store.SetData(storage.OwnerNode, string(w.nodeID), key, data, kind); err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("failed to persist data")
	}
}

// Configuration returns this node's package configuration instance,
// if its package declares one.
func (w *NodeWrapper) Configuration() (schema.ConfigurationInstance, bool) {
	if w.configuration == nil {
		return nil, false
	}
	return w.configuration.instance, true
}

// OpenClient attaches a new client to this node.
func (w *NodeWrapper) OpenClient(clientID types.ClientID, options map[string]any) {
	w.openClient(clientID, options)
}

// RecvMessage delivers an inbound message to an attached client.
func (w *NodeWrapper) RecvMessage(clientID types.ClientID, parts []any) {
	w.recvMessage(clientID, parts)
}

// CloseClient detaches a client from this node.
func (w *NodeWrapper) CloseClient(clientID types.ClientID) {
	w.closeClient(clientID)
}

// Close tears down the wrapper: the instance's Close hook, then
// fabric cleanup.
func (w *NodeWrapper) Close() {
	w.close()
}

// storeValue maps a Go nil to the storage package's Unset sentinel so
// property deletion flows through one code path.
func storeValue(value any) any {
	if value == nil {
		return storage.Unset
	}
	return value
}
