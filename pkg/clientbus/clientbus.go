// Package clientbus implements the Client Fabric: per-target client
// attachment, in-order pre-connection message queueing, and the
// ClientService contract shared by both peers of a conversation.
package clientbus

import (
	"sync"

	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/types"
)

// MessageForwarder transmits one outbound message to the external
// peer attached to a ClientService.
type MessageForwarder func(parts ...any)

// MessageHandler receives one inbound message.
type MessageHandler func(parts ...any)

// Service is a small object shared by both sides of one client
// conversation. It queues inbound messages until a handler is
// installed, and drops outbound messages once closed.
type Service struct {
	mu              sync.Mutex
	forwarder       MessageForwarder
	handler         MessageHandler
	pendingInbound  [][]any
	open            bool
}

// NewService creates an open ClientService wired to forwarder.
func NewService(forwarder MessageForwarder) *Service {
	return &Service{forwarder: forwarder, open: true}
}

// SendMessage transmits to the peer if the service is still open.
// Returns false if the service was already closed.
func (s *Service) SendMessage(parts ...any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.forwarder(parts...)
	metrics.ClientMessagesTotal.WithLabelValues("outbound").Inc()
	return true
}

// SetMessageHandler installs the inbound handler and flushes any
// messages queued before it existed, in arrival order.
func (s *Service) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || handler == nil {
		return
	}
	s.handler = handler
	queued := s.pendingInbound
	s.pendingInbound = nil
	for _, msg := range queued {
		s.handler(msg...)
	}
}

// HandleMessage is called by the transport/engine to deliver one
// inbound message. If no handler is installed yet, the message is
// queued for replay once one is.
func (s *Service) HandleMessage(parts ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	metrics.ClientMessagesTotal.WithLabelValues("inbound").Inc()
	if s.handler != nil {
		s.handler(parts...)
		return
	}
	s.pendingInbound = append(s.pendingInbound, parts)
}

// Close releases the forwarder and stops accepting traffic in either
// direction.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.forwarder = nil
	s.handler = nil
	s.pendingInbound = nil
}

// pendingOpen/pendingMessage record traffic addressed to a target that
// has not been instantiated yet.
type pendingMessage struct {
	clientID types.ClientID
	parts    []any
}

type pendingOpen struct {
	clientID types.ClientID
	options  map[string]any
}

// Fabric routes attach/detach/message traffic to per-target Services,
// queueing against a target id until the target registers.
//
// Targets are addressed by (TargetKind, target id); within that,
// clients are addressed by their canonical ClientID key. This mirrors
// the engine's pending_node_clients/pending_node_messages maps but
// generalizes over both node and configuration targets.
type Fabric struct {
	mu          sync.Mutex
	services    map[string]map[string]*Service // targetKey -> clientKey -> service
	pending     map[string][]pendingMessage    // targetKey -> queued messages
	pendingOpen map[string][]pendingOpen       // targetKey -> queued attach requests
	ready       map[string]bool                // targetKey -> target has registered
}

func targetKey(kind types.TargetKind, id string) string {
	return string(kind) + "\x00" + id
}

// NewFabric returns an empty client fabric.
func NewFabric() *Fabric {
	return &Fabric{
		services:    map[string]map[string]*Service{},
		pending:     map[string][]pendingMessage{},
		pendingOpen: map[string][]pendingOpen{},
		ready:       map[string]bool{},
	}
}

// QueueOpen records an attach request addressed to a target that is
// not yet registered, for replay once it is.
func (f *Fabric) QueueOpen(kind types.TargetKind, id string, clientID types.ClientID, options map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	f.pendingOpen[key] = append(f.pendingOpen[key], pendingOpen{clientID: clientID, options: options})
	metrics.PendingMessagesQueued.Inc()
}

// DrainPendingOpens returns and clears every attach request queued
// against a target, in arrival order.
func (f *Fabric) DrainPendingOpens(kind types.TargetKind, id string) []struct {
	ClientID types.ClientID
	Options  map[string]any
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	queued := f.pendingOpen[key]
	delete(f.pendingOpen, key)
	metrics.PendingMessagesQueued.Sub(float64(len(queued)))

	result := make([]struct {
		ClientID types.ClientID
		Options  map[string]any
	}, len(queued))
	for i, open := range queued {
		result[i] = struct {
			ClientID types.ClientID
			Options  map[string]any
		}{open.clientID, open.options}
	}
	return result
}

// RegisterTarget marks a target as instantiated; it is a no-op if
// already registered. Callers drain queued attach requests separately
// with DrainPendingOpens, since the actual attach still requires the
// wrapper to build a forwarder.
func (f *Fabric) RegisterTarget(kind types.TargetKind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready[targetKey(kind, id)] = true
}

// UnregisterTarget reverts RegisterTarget, used when a node is
// removed.
func (f *Fabric) UnregisterTarget(kind types.TargetKind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	delete(f.ready, key)
	delete(f.services, key)
	delete(f.pending, key)
}

// IsReady reports whether a target has been registered.
func (f *Fabric) IsReady(kind types.TargetKind, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready[targetKey(kind, id)]
}

// Attach installs a new Service for (kind, id, clientID), replacing
// (detaching) any existing service under the same clientID. Returns
// the new Service and whether the target was ready for immediate
// delivery (the caller is responsible for wiring it into the wrapper
// when true, or leaving it queued when false).
func (f *Fabric) Attach(kind types.TargetKind, id string, clientID types.ClientID, forwarder MessageForwarder) (*Service, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := targetKey(kind, id)
	if f.services[key] == nil {
		f.services[key] = map[string]*Service{}
	}
	if existing, ok := f.services[key][clientID.Key()]; ok {
		existing.Close()
		metrics.ClientsAttached.Dec()
	}
	service := NewService(forwarder)
	f.services[key][clientID.Key()] = service
	metrics.ClientsAttached.Inc()
	return service, f.ready[key]
}

// Detach closes and removes the Service under (kind, id, clientID), if
// any.
func (f *Fabric) Detach(kind types.TargetKind, id string, clientID types.ClientID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	if services, ok := f.services[key]; ok {
		if svc, ok := services[clientID.Key()]; ok {
			svc.Close()
			delete(services, clientID.Key())
			metrics.ClientsAttached.Dec()
		}
	}
}

// Lookup returns the Service attached under (kind, id, clientID), if
// any.
func (f *Fabric) Lookup(kind types.TargetKind, id string, clientID types.ClientID) (*Service, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	services, ok := f.services[targetKey(kind, id)]
	if !ok {
		return nil, false
	}
	svc, ok := services[clientID.Key()]
	return svc, ok
}

// QueueMessage records an inbound message addressed to a target that
// is not yet registered, for replay once it is.
func (f *Fabric) QueueMessage(kind types.TargetKind, id string, clientID types.ClientID, parts []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	f.pending[key] = append(f.pending[key], pendingMessage{clientID: clientID, parts: parts})
	metrics.PendingMessagesQueued.Inc()
}

// DrainPending returns and clears every message queued against a
// target, in arrival order, for the caller to replay once the target's
// wrapper exists.
func (f *Fabric) DrainPending(kind types.TargetKind, id string) []struct {
	ClientID types.ClientID
	Parts    []any
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := targetKey(kind, id)
	queued := f.pending[key]
	delete(f.pending, key)
	metrics.PendingMessagesQueued.Sub(float64(len(queued)))

	result := make([]struct {
		ClientID types.ClientID
		Parts    []any
	}, len(queued))
	for i, msg := range queued {
		result[i] = struct {
			ClientID types.ClientID
			Parts    []any
		}{msg.clientID, msg.parts}
	}
	return result
}
