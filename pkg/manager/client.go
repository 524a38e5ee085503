package manager

import (
	"sync"

	"github.com/loomgraph/loom/pkg/types"
)

// Client is a single attached execution client: one external peer
// talking to one node or configuration target through a Manager.
// Messages the target sends back arrive via the callback supplied to
// Open. A Client keeps no queue of its own: the handle exists only
// once OpenClient has returned, and traffic addressed to a target that
// is not registered yet is queued by the engine's client fabric.
type Client struct {
	mgr      Manager
	kind     types.TargetKind
	targetID string
	id       types.ClientID

	onMessage func(parts []any)
}

// Open attaches a new client to a target through mgr and returns a
// handle for sending to it. Open does not register the handle
// anywhere, so onMessage is only invoked when the handle was created
// through ClientRegistry.Open and that registry's Dispatch receives
// the target's messages.
func Open(mgr Manager, kind types.TargetKind, targetID string, id types.ClientID, options map[string]any, onMessage func(parts []any)) (*Client, error) {
	if err := mgr.OpenClient(kind, targetID, id, options); err != nil {
		return nil, err
	}
	return &Client{mgr: mgr, kind: kind, targetID: targetID, id: id, onMessage: onMessage}, nil
}

// Send forwards an inbound message from the external peer to the
// target.
func (c *Client) Send(parts ...any) error {
	return c.mgr.RecvMessage(c.kind, c.targetID, c.id, parts)
}

// Close detaches the client.
func (c *Client) Close() error {
	return c.mgr.CloseClient(c.kind, c.targetID, c.id)
}

// deliver is called by the owning ClientRegistry when the target sends
// a message addressed to this client.
func (c *Client) deliver(parts []any) {
	if c.onMessage != nil {
		c.onMessage(parts)
	}
}

// ClientRegistry demultiplexes the single engine-wide client-message
// stream (one ClientMessageListener per Engine/WorkerRunner) back out
// to the individual *Client handles attached to each target, keyed on
// (kind, targetID, clientID). Build one ClientRegistry per running
// topology, pass its Dispatch method as the engine's OnClientMessage
// callback, and use its Open method instead of calling manager.Open
// directly so messages reach the right handle.
type ClientRegistry struct {
	mgr Manager

	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientRegistry builds an empty registry bound to mgr.
func NewClientRegistry(mgr Manager) *ClientRegistry {
	return &ClientRegistry{mgr: mgr, clients: map[string]*Client{}}
}

func registryKey(kind types.TargetKind, targetID string, id types.ClientID) string {
	return string(kind) + "\x00" + targetID + "\x00" + id.Key()
}

// Open attaches a client through the registry's Manager and records it
// for later dispatch.
func (r *ClientRegistry) Open(kind types.TargetKind, targetID string, id types.ClientID, options map[string]any, onMessage func(parts []any)) (*Client, error) {
	c, err := Open(r.mgr, kind, targetID, id, options, onMessage)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.clients[registryKey(kind, targetID, id)] = c
	r.mu.Unlock()
	return c, nil
}

// Close detaches a client and forgets it.
func (r *ClientRegistry) Close(kind types.TargetKind, targetID string, id types.ClientID) error {
	key := registryKey(kind, targetID, id)
	r.mu.Lock()
	c, ok := r.clients[key]
	delete(r.clients, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Dispatch routes one target-originated message to the client it is
// addressed to, if still attached. Pass this as the Manager's
// OnClientMessage callback.
func (r *ClientRegistry) Dispatch(kind types.TargetKind, targetID string, id types.ClientID, parts []any) {
	r.mu.Lock()
	c, ok := r.clients[registryKey(kind, targetID, id)]
	r.mu.Unlock()
	if ok {
		c.deliver(parts)
	}
}
