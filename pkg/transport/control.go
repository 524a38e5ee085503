package transport

import (
	"time"

	"github.com/loomgraph/loom/pkg/schema"
	"github.com/loomgraph/loom/pkg/types"
)

// Action names one host-to-worker control message.
type Action string

const (
	ActionInit          Action = "init"
	ActionAddPackage    Action = "add_package"
	ActionAddNode       Action = "add_node"
	ActionAddLink       Action = "add_link"
	ActionRemoveNode    Action = "remove_node"
	ActionRemoveLink    Action = "remove_link"
	ActionClear         Action = "clear"
	ActionPause         Action = "pause"
	ActionResume        Action = "resume"
	ActionOpenClient    Action = "open_client"
	ActionClientMessage Action = "client_message"
	ActionCloseClient   Action = "close_client"
	ActionCloseWorker   Action = "close_worker"
)

// ClientIDWire is the wire-transmissible shape of types.ClientID; a bare
// string id and a two-element compound id both round-trip through it.
type ClientIDWire struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Compound  bool   `json:"compound,omitempty"`
}

// ToClientID converts a wire id back into the engine's ClientID type.
func (w ClientIDWire) ToClientID() types.ClientID {
	if w.Compound {
		return types.NewCompoundClientID(w.Primary, w.Secondary)
	}
	return types.NewClientID(w.Primary)
}

// ClientIDFrom converts an engine ClientID into its wire shape.
func ClientIDFrom(id types.ClientID) ClientIDWire {
	return ClientIDWire{Primary: id.Primary, Secondary: id.Secondary, Compound: id.IsCompound()}
}

// ControlPacket is part 0 of every host->worker frame. Only the fields
// relevant to Action are populated; the rest are left zero.
type ControlPacket struct {
	Action Action `json:"action"`

	// init
	ExecutionFolder string           `json:"execution_folder,omitempty"`
	InjectedInputs  []InjectedInput  `json:"injected_inputs,omitempty"`
	OutputListeners []OutputListener `json:"output_listeners,omitempty"`

	// add_package
	Package schema.PackageDef `json:"package,omitempty"`

	// add_node / remove_node
	NodeID   string  `json:"node_id,omitempty"`
	NodeType string  `json:"node_type,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Loading  bool    `json:"loading,omitempty"`

	// add_link / remove_link
	LinkID   string `json:"link_id,omitempty"`
	FromNode string `json:"from_node,omitempty"`
	FromPort string `json:"from_port,omitempty"`
	ToNode   string `json:"to_node,omitempty"`
	ToPort   string `json:"to_port,omitempty"`
	LinkType string `json:"link_type,omitempty"`

	// open_client / client_message / close_client
	TargetKind types.TargetKind `json:"target_kind,omitempty"`
	TargetID   string           `json:"target_id,omitempty"`
	ClientID   ClientIDWire     `json:"client_id,omitempty"`
	Options    map[string]any   `json:"options,omitempty"`
}

// InjectedInput names a standing input value to seed at init time.
type InjectedInput struct {
	NodeID string `json:"node_id"`
	Port   string `json:"port"`
	Value  any    `json:"value"`
}

// OutputListener names a (node, port) pair the host wants output
// notifications for, registered at init time.
type OutputListener struct {
	NodeID string `json:"node_id"`
	Port   string `json:"port"`
}

// EventKind names one worker-to-host event.
type EventKind string

const (
	EventUpdateExecutionState EventKind = "update_execution_state"
	EventStatus               EventKind = "status"
	EventOutputNotification   EventKind = "output_notification"
	EventClientMessage        EventKind = "client_message"
	EventExecutionComplete    EventKind = "execution_complete"
)

// Event is part 0 of every worker->host frame.
type Event struct {
	Kind EventKind `json:"kind"`

	// update_execution_state
	NodeID   string `json:"node_id,omitempty"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
	IsManual bool   `json:"is_manual,omitempty"`
	AtTime   int64  `json:"at_time,omitempty"`

	// status
	OriginID   string `json:"origin_id,omitempty"`
	OriginType string `json:"origin_type,omitempty"`
	Message    string `json:"message,omitempty"`

	// output_notification
	OutputPort string `json:"output_port,omitempty"`
	// value is carried in a separate json part, not inlined here, since
	// it may be arbitrarily large or non-JSON-safe binary data.

	// client_message
	ClientID ClientIDWire `json:"client_id,omitempty"`

	// execution_complete
	CountFailed int `json:"count_failed,omitempty"`
}

// NowUnixMilli is a small seam so callers can stamp AtTime without this
// package depending on wall-clock time directly in its own tests.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
