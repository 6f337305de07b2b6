package realtime

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/internal/worker/session"
)

// Event types carried in the envelope's type field.
const (
	EventJoinWorkspace    = "join_workspace"
	EventLeaveWorkspace   = "leave_workspace"
	EventItemCreated      = "item_created"
	EventItemUpdated      = "item_updated"
	EventItemDeleted      = "item_deleted"
	EventItemMoved        = "item_moved"
	EventCursorMove       = "cursor_move"
	EventRequestNeighbors = "request_neighbors"

	EventConnected     = "connected"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventPhysicsUpdate = "physics_update"
	EventNeighbors     = "neighbors"
	EventClustersReady = "clusters_updated"
	EventError         = "error"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// encode marshals an outbound frame.
func encode(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

type joinRequest struct {
	WorkspaceID string `json:"workspace_id"`
	UserName    string `json:"user_name"`
}

type leaveRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

type itemRef struct {
	ItemID string `json:"item_id"`
}

type moveRequest struct {
	ItemID string   `json:"item_id"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
}

type neighborsRequest struct {
	ItemID        string   `json:"item_id"`
	MaxDistance   *float64 `json:"max_distance"`
	MinSimilarity *float64 `json:"min_similarity"`
}

// ConnectedPayload greets a new connection with its id.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// JoinedPayload answers join_workspace.
type JoinedPayload struct {
	WorkspaceID  string           `json:"workspace_id"`
	OtherMembers []session.Member `json:"other_members"`
}

// LeftPayload answers leave_workspace.
type LeftPayload struct {
	WorkspaceID string `json:"workspace_id"`
}

// PresencePayload announces a member joining or leaving.
type PresencePayload struct {
	Timestamp    time.Time `json:"timestamp"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name,omitempty"`
}

// PointEvent is a relayed client mutation stamped with its sender.
type PointEvent struct {
	Timestamp          time.Time       `json:"timestamp"`
	ItemID             string          `json:"item_id,omitempty"`
	ActingConnectionID string          `json:"acting_connection_id"`
	DisplayName        string          `json:"display_name,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
}

// PhysicsUpdatePayload carries one tick's state for a workspace.
type PhysicsUpdatePayload struct {
	Timestamp time.Time                 `json:"timestamp"`
	Updates   map[string]physics.Update `json:"updates"`
}

// NeighborsPayload answers request_neighbors.
type NeighborsPayload struct {
	ItemID    string             `json:"item_id"`
	Neighbors []physics.Neighbor `json:"neighbors"`
}

// ErrorPayload reports a rejected inbound frame.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
