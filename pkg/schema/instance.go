package schema

import (
	"context"

	"github.com/loomgraph/loom/pkg/types"
)

// NodeInstance and ConfigurationInstance are the user-supplied object
// a factory returns. Go has no "hasattr" -- a wrapper discovers which
// optional lifecycle hooks an instance implements with a type
// assertion against the interfaces below, the same way io.Copy probes
// for io.ReaderFrom/io.WriterTo.
type NodeInstance any

// ConfigurationInstance is the shared, long-lived object returned by a
// package's configuration factory.
type ConfigurationInstance any

// Loader is implemented by instances that need to run setup logic
// after construction, before any execution. Go's goroutines make the
// source's asynchronous/synchronous load() distinction moot: Load is
// always a plain blocking call, and the wrapper calls it synchronously
// on the goroutine that builds the instance.
type Loader interface {
	Load() error
}

// ResetRunner is implemented by instances that need to clear
// transient state when the scheduler invalidates them.
type ResetRunner interface {
	ResetRun()
}

// ConnectionsChangedNotifiable is implemented by instances that care
// about their own port connection counts changing.
type ConnectionsChangedNotifiable interface {
	ConnectionsChanged(inputCounts, outputCounts map[string]int)
}

// Executor is implemented by node instances that do actual work. A
// node with no Executor implementation produces empty outputs, same
// as the source's "no run attribute" fallback.
type Executor interface {
	Execute(ctx context.Context, inputs types.Inputs) (types.Outputs, error)
}

// ClientMessageSender delivers one outbound message to an attached
// external peer; parts are content-addressed the same way as the wire
// protocol's components (nil, []byte, string, or JSON-able value).
type ClientMessageSender func(parts ...any)

// ClientMessageReceiver is returned by OpenClient to receive inbound
// messages from the attached peer, if the instance wants them.
type ClientMessageReceiver func(parts ...any)

// ClientOpener is implemented by instances that serve interactive
// clients.
type ClientOpener interface {
	OpenClient(clientID types.ClientID, options map[string]any, send ClientMessageSender) ClientMessageReceiver
}

// ClientCloseNotifiable is implemented by instances that want to know
// when a client detaches.
type ClientCloseNotifiable interface {
	CloseClient(clientID types.ClientID)
}

// Closer is implemented by instances with teardown logic run once,
// when the wrapper itself is closed.
type Closer interface {
	Close()
}

// NodeServices is passed to a NodeFactory at construction time. It is
// the node's narrow view onto its wrapper: properties, data, status,
// and a handle to its package's shared configuration instance.
type NodeServices interface {
	NodeID() types.NodeID
	GetProperty(name string, defaultValue any) any
	SetProperty(name string, value any)
	GetData(key string) (any, bool)
	SetData(key string, value any)
	SetStatus(state types.StatusLevel, message string)
	RequestExecution()
	SetExecutionState(state types.ExecutionState)
	Configuration() (ConfigurationInstance, bool)
}

// ConfigurationServices is passed to a ConfigurationFactory at
// construction time.
type ConfigurationServices interface {
	PackageID() types.PackageID
	GetProperty(name string, defaultValue any) any
	SetProperty(name string, value any)
	GetData(key string) (any, bool)
	SetData(key string, value any)
	SetStatus(state types.StatusLevel, message string)
}
