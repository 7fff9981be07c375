package types

import "encoding/json"

// MessageType discriminates the tagged-union wire frames.
type MessageType string

// Client -> server message types.
const (
	MessageTypeAuthenticate MessageType = "authenticate"
	MessageTypePing         MessageType = "ping"
	MessageTypeCreateRoom   MessageType = "create_room"
	MessageTypeJoinRoom     MessageType = "join_room"
	MessageTypeToggleReady  MessageType = "toggle_ready"
	MessageTypeLeaveRoom    MessageType = "leave_room"
	MessageTypeStartGame    MessageType = "start_game"
	MessageTypeGameAction   MessageType = "game_action"
)

// Server -> client message types.
const (
	MessageTypeConnected       MessageType = "connected"
	MessageTypeAuthenticated   MessageType = "authenticated"
	MessageTypePong            MessageType = "pong"
	MessageTypeError           MessageType = "error"
	MessageTypeRoomUpdated     MessageType = "room_updated"
	MessageTypeRoomClosed      MessageType = "room_closed"
	MessageTypeCreateRoomOk    MessageType = "create_room_ok"
	MessageTypeCreateRoomError MessageType = "create_room_error"
	MessageTypeJoinRoomOk      MessageType = "join_room_ok"
	MessageTypeJoinRoomError   MessageType = "join_room_error"
	MessageTypeGameStarted     MessageType = "game_started"
	MessageTypeGameEvents      MessageType = "game_events"
	MessageTypeGameState       MessageType = "game_state"
	MessageTypeGameError       MessageType = "game_error"
)

// Frame is the envelope for every WebSocket message in both directions.
// Payload stays raw on ingress so each handler decodes its own schema.
type Frame struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is the egress counterpart with a concrete payload.
type OutboundFrame struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Payload   any         `json:"payload,omitempty"`
}

// --- Client payloads ---

// AuthenticatePayload binds the connection to a user and room.
type AuthenticatePayload struct {
	Token    string `json:"token"`
	RoomCode string `json:"room_code"`
}

// CreateRoomPayload requests an idempotent room creation. RequestID on the
// frame is mandatory for this type.
type CreateRoomPayload struct {
	MaxPlayers    int             `json:"max_players"`
	Visibility    RoomVisibility  `json:"visibility"`
	RulesetID     string          `json:"ruleset_id"`
	RulesetConfig json.RawMessage `json:"ruleset_config,omitempty"`
}

// JoinRoomPayload joins a room by short code.
type JoinRoomPayload struct {
	RoomCode string `json:"room_code"`
}

// GameActionKind discriminates game_action payloads.
type GameActionKind string

const (
	GameActionRoll          GameActionKind = "roll"
	GameActionMove          GameActionKind = "move"
	GameActionCaptureChoice GameActionKind = "capture_choice"
	GameActionStartGame     GameActionKind = "start_game"
)

// GameActionPayload feeds the engine. MoveID names a token, a stack, or a
// partial stack ("stackID:count"). TargetOwner selects a capture victim.
type GameActionPayload struct {
	Kind        GameActionKind `json:"kind"`
	MoveID      string         `json:"move_id,omitempty"`
	TargetOwner int            `json:"target_owner"`
}

// --- Server payloads ---

// ConnectedPayload is sent immediately on socket accept, before auth.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	ServerID     string `json:"server_id"`
}

// AuthenticatedPayload confirms the handshake and delivers the room snapshot.
type AuthenticatedPayload struct {
	ConnectionID string        `json:"connection_id"`
	UserID       string        `json:"user_id"`
	ServerID     string        `json:"server_id"`
	Room         *RoomSnapshot `json:"room"`
}

// PongPayload carries the server clock for heartbeat round trips.
type PongPayload struct {
	ServerTime string `json:"server_time"`
}

// ErrorPayload is the generic failure reply.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// RoomUpdatedPayload broadcasts the new snapshot after any membership change.
type RoomUpdatedPayload struct {
	Room *RoomSnapshot `json:"room"`
}

// RoomClosedPayload announces room closure to all members.
type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// CreateRoomOkPayload is the reply to a successful create_room.
type CreateRoomOkPayload struct {
	RoomID    string `json:"room_id"`
	Code      string `json:"code"`
	SeatIndex int    `json:"seat_index"`
	IsHost    bool   `json:"is_host"`
	Cached    bool   `json:"cached"`
}

// JoinRoomOkPayload is the reply to a successful join_room.
type JoinRoomOkPayload struct {
	SeatIndex int           `json:"seat_index"`
	Room      *RoomSnapshot `json:"room"`
}
