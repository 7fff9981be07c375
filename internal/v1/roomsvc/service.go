package roomsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/cache"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

// Service wraps the room store with read-through snapshot caching. Postgres
// stays the source of truth; the cache only mirrors the latest snapshot for
// cheap cross-pod reads and is dropped when a room closes.
type Service struct {
	store *store.Store
	cache *cache.Service
}

func New(st *store.Store, c *cache.Service) *Service {
	return &Service{store: st, cache: c}
}

func roomMetaKey(roomID string) string  { return fmt.Sprintf("room:%s:meta", roomID) }
func roomSeatsKey(roomID string) string { return fmt.Sprintf("room:%s:seats", roomID) }

// Create idempotently creates a room and returns the result together with a
// fresh snapshot.
func (s *Service) Create(ctx context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error) {
	result, err := s.store.FindOrCreate(ctx, userID, requestID, p)
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.store.GetSnapshot(ctx, result.RoomID)
	if err != nil {
		return nil, nil, err
	}
	if !result.Cached {
		metrics.ActiveRooms.Inc()
	}
	s.cacheSnapshot(ctx, snap)
	return result, snap, nil
}

// Join seats the user in the room identified by code.
func (s *Service) Join(ctx context.Context, userID, code string) (int, *types.RoomSnapshot, error) {
	roomID, err := s.store.ResolveByCode(ctx, code)
	if err != nil {
		return 0, nil, err
	}
	seatIndex, snap, err := s.store.JoinSeat(ctx, roomID, userID)
	if err != nil {
		return 0, nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return seatIndex, snap, nil
}

// ResolveByCode maps a join code to the live room id.
func (s *Service) ResolveByCode(ctx context.Context, code string) (string, error) {
	return s.store.ResolveByCode(ctx, code)
}

// Snapshot reads the authoritative room snapshot from Postgres.
func (s *Service) Snapshot(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	return s.store.GetSnapshot(ctx, roomID)
}

// ToggleReady flips the user's ready flag and rederives the room status.
func (s *Service) ToggleReady(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	snap, err := s.store.ToggleReady(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// Leave vacates the user's seat. The closing flag is true when the host left
// a lobby and the whole room shut down with them.
func (s *Service) Leave(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error) {
	snap, closing, err := s.store.LeaveSeat(ctx, roomID, userID)
	if err != nil {
		return nil, false, err
	}
	if closing {
		s.dropCache(ctx, roomID)
		metrics.ActiveRooms.Dec()
	} else {
		s.cacheSnapshot(ctx, snap)
	}
	return snap, closing, nil
}

// Start transitions a ready lobby into a running game.
func (s *Service) Start(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	snap, err := s.store.StartGame(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// Close shuts the room down regardless of state.
func (s *Service) Close(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	snap, err := s.store.CloseRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.dropCache(ctx, roomID)
	metrics.ActiveRooms.Dec()
	return snap, nil
}

// SetConnected records socket liveness on the user's seat.
func (s *Service) SetConnected(ctx context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
	snap, err := s.store.SetSeatConnected(ctx, roomID, userID, connected)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// RulesetConfig returns the room's stored ruleset overrides.
func (s *Service) RulesetConfig(ctx context.Context, roomID string) (json.RawMessage, error) {
	return s.store.RulesetConfig(ctx, roomID)
}

// UpsertProfile stores the display name shown to other players.
func (s *Service) UpsertProfile(ctx context.Context, userID, displayName string) error {
	return s.store.UpsertProfile(ctx, userID, displayName)
}

// cacheSnapshot mirrors a snapshot into Redis. Failures degrade silently;
// the cache is advisory.
func (s *Service) cacheSnapshot(ctx context.Context, snap *types.RoomSnapshot) {
	if s.cache == nil || snap == nil {
		return
	}

	meta := map[string]string{
		"code":        snap.Code,
		"status":      string(snap.Status),
		"visibility":  string(snap.Visibility),
		"ruleset_id":  snap.RulesetID,
		"max_players": strconv.Itoa(snap.MaxPlayers),
		"version":     strconv.Itoa(snap.Version),
	}
	if err := s.cache.HSet(ctx, roomMetaKey(snap.RoomID), meta); err != nil {
		logging.Warn(ctx, "failed to cache room meta", zap.String("roomId", snap.RoomID), zap.Error(err))
		return
	}

	seats := make(map[string]string, len(snap.Seats))
	for _, seat := range snap.Seats {
		encoded, err := json.Marshal(seat)
		if err != nil {
			continue
		}
		seats["seat:"+strconv.Itoa(seat.SeatIndex)] = string(encoded)
	}
	if err := s.cache.HSet(ctx, roomSeatsKey(snap.RoomID), seats); err != nil {
		logging.Warn(ctx, "failed to cache room seats", zap.String("roomId", snap.RoomID), zap.Error(err))
	}
}

func (s *Service) dropCache(ctx context.Context, roomID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, roomMetaKey(roomID), roomSeatsKey(roomID)); err != nil {
		logging.Warn(ctx, "failed to drop room cache", zap.String("roomId", roomID), zap.Error(err))
	}
}
