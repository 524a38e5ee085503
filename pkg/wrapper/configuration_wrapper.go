package wrapper

import (
	"github.com/loomgraph/loom/pkg/clientbus"
	"github.com/loomgraph/loom/pkg/log"
	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/storage"
	"github.com/loomgraph/loom/pkg/types"
)

// ConfigurationWrapper owns one package's shared configuration
// instance. It outlives every node of that package within a run and
// has no execute() step of its own.
type ConfigurationWrapper struct {
	base

	packageID  types.PackageID
	store      storage.Store
	properties map[string]any
}

// NewConfigurationWrapper constructs a wrapper for packageID.
func NewConfigurationWrapper(host Host, store storage.Store, fabric *clientbus.Fabric, packageID types.PackageID) *ConfigurationWrapper {
	w := &ConfigurationWrapper{
		packageID: packageID,
		store:     store,
	}
	w.host = host
	w.fabric = fabric
	w.targetID = string(packageID)
	w.kind = types.TargetConfiguration
	w.logger = log.WithPackageID(string(packageID))
	props, err := store.GetProperties(storage.OwnerPackage, string(packageID))
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load package properties")
		props = map[string]any{}
	}
	w.properties = props
	return w
}

// PackageID satisfies schema.ConfigurationServices: ConfigurationWrapper
// is passed directly to a configuration factory as its services handle.
func (w *ConfigurationWrapper) PackageID() types.PackageID {
	return w.packageID
}

// SetInstance attaches the constructed configuration instance.
func (w *ConfigurationWrapper) SetInstance(instance schema.ConfigurationInstance) {
	w.instance = instance
}

// Instance returns the configuration instance, for NodeWrapper to
// expose through its own Configuration() accessor.
func (w *ConfigurationWrapper) Instance() schema.ConfigurationInstance {
	return w.instance
}

// Load calls the instance's optional Load hook, then flushes queued
// attach/message traffic for this package.
func (w *ConfigurationWrapper) Load() {
	if loader, ok := w.instance.(schema.Loader); ok {
		w.safeCall("load", loader.Load)
	}
	w.fabric.RegisterTarget(types.TargetConfiguration, string(w.packageID))

	for _, open := range w.fabric.DrainPendingOpens(types.TargetConfiguration, string(w.packageID)) {
		w.openClient(open.ClientID, open.Options)
	}
	for _, msg := range w.fabric.DrainPending(types.TargetConfiguration, string(w.packageID)) {
		w.recvMessage(msg.ClientID, msg.Parts)
	}
}

// GetProperty returns a cached property, or defaultValue if unset.
func (w *ConfigurationWrapper) GetProperty(name string, defaultValue any) any {
	if v, ok := w.properties[name]; ok {
		return v
	}
	return defaultValue
}

// SetProperty updates the in-memory cache and persists to the data
// store.
func (w *ConfigurationWrapper) SetProperty(name string, value any) {
	if value == nil {
		delete(w.properties, name)
	} else {
		w.properties[name] = value
	}
	if err := w.store.SetProperty(storage.OwnerPackage, string(w.packageID), name, storeValue(value)); err != nil {
		w.logger.Error().Err(err).Str("property", name).Msg("failed to persist package property")
	}
}

// GetData returns a persisted blob by key.
func (w *ConfigurationWrapper) GetData(key string) (any, bool) {
	payload, _, ok, err := w.store.GetData(storage.OwnerPackage, string(w.packageID), key)
	if err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("failed to read package data")
		return nil, false
	}
	return payload, ok
}

// SetData persists a blob by key.
func (w *ConfigurationWrapper) SetData(key string, value any) {
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
	if err := w.store.SetData(storage.OwnerPackage, string(w.packageID), key, data, kind); err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("failed to persist package data")
	}
}

// SetStatus publishes an advisory status update through the host.
func (w *ConfigurationWrapper) SetStatus(state types.StatusLevel, message string) {
	w.host.PublishStatus(string(w.packageID), types.TargetConfiguration, state, message)
}

// OpenClient attaches a new client to this configuration.
func (w *ConfigurationWrapper) OpenClient(clientID types.ClientID, options map[string]any) {
	w.openClient(clientID, options)
}

// RecvMessage delivers an inbound message to an attached client.
func (w *ConfigurationWrapper) RecvMessage(clientID types.ClientID, parts []any) {
	w.recvMessage(clientID, parts)
}

// CloseClient detaches a client.
func (w *ConfigurationWrapper) CloseClient(clientID types.ClientID) {
	w.closeClient(clientID)
}

// Close tears down the wrapper.
func (w *ConfigurationWrapper) Close() {
	w.close()
}
