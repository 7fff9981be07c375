package roomsvc

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoverse/backend/internal/v1/cache"
	"github.com/ludoverse/backend/internal/v1/types"
)

func strPtr(s string) *string { return &s }

func newCacheService(t *testing.T) (*cache.Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := cache.NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func sampleSnapshot() *types.RoomSnapshot {
	return &types.RoomSnapshot{
		RoomID:     "room-1",
		Code:       "ABC123",
		Status:     types.RoomStatusOpen,
		Visibility: types.VisibilityPrivate,
		RulesetID:  "classic",
		MaxPlayers: 4,
		Version:    3,
		Seats: []types.SeatSnapshot{
			{SeatIndex: 0, UserID: strPtr("user-a"), IsHost: true},
			{SeatIndex: 1},
		},
	}
}

func TestCacheSnapshotMirrorsRoom(t *testing.T) {
	svc, _ := newCacheService(t)
	s := &Service{cache: svc}
	ctx := context.Background()

	s.cacheSnapshot(ctx, sampleSnapshot())

	meta, err := svc.HGetAll(ctx, "room:room-1:meta")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", meta["code"])
	assert.Equal(t, "open", meta["status"])
	assert.Equal(t, "4", meta["max_players"])
	assert.Equal(t, "3", meta["version"])

	seats, err := svc.HGetAll(ctx, "room:room-1:seats")
	require.NoError(t, err)
	assert.Len(t, seats, 2)
	assert.Contains(t, seats["seat:0"], "user-a")
	assert.Contains(t, seats["seat:1"], `"seat_index":1`)
}

func TestDropCacheRemovesKeys(t *testing.T) {
	svc, _ := newCacheService(t)
	s := &Service{cache: svc}
	ctx := context.Background()

	s.cacheSnapshot(ctx, sampleSnapshot())
	s.dropCache(ctx, "room-1")

	exists, err := svc.Exists(ctx, "room:room-1:meta")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = svc.Exists(ctx, "room:room-1:seats")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCacheHelpersTolerateNilCache(t *testing.T) {
	s := &Service{}
	ctx := context.Background()

	// No cache configured: both are silent no-ops.
	s.cacheSnapshot(ctx, sampleSnapshot())
	s.dropCache(ctx, "room-1")
}
