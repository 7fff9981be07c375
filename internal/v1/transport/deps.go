package transport

import (
	"context"
	"encoding/json"

	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

// RoomService is the room lifecycle surface the hub depends on, satisfied by
// *roomsvc.Service and mocked in tests.
type RoomService interface {
	Create(ctx context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error)
	Join(ctx context.Context, userID, code string) (int, *types.RoomSnapshot, error)
	ResolveByCode(ctx context.Context, code string) (string, error)
	Snapshot(ctx context.Context, roomID string) (*types.RoomSnapshot, error)
	ToggleReady(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error)
	Leave(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error)
	Start(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error)
	Close(ctx context.Context, roomID string) (*types.RoomSnapshot, error)
	SetConnected(ctx context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error)
	RulesetConfig(ctx context.Context, roomID string) (json.RawMessage, error)
	UpsertProfile(ctx context.Context, userID, displayName string) error
}

// PresenceTracker counts live connections per user, satisfied by
// *presence.Tracker.
type PresenceTracker interface {
	Connect(ctx context.Context, userID string)
	Disconnect(ctx context.Context, userID string)
}
