package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludoverse/backend/internal/v1/auth"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

func strPtr(s string) *string { return &s }

func newTestHub(rooms RoomService, validator types.TokenValidator) (*Hub, *mockPresence) {
	presence := &mockPresence{}
	h := NewHub(validator, rooms, presence, nil, Options{
		AuthTimeout:       time.Second,
		HeartbeatInterval: time.Second,
		ConnectionTimeout: 5 * time.Second,
	})
	return h, presence
}

func connect(t *testing.T, h *Hub) (*Client, *mockConn) {
	t.Helper()
	conn := newMockConn()
	client := h.HandleConnection(conn)
	t.Cleanup(func() { _ = conn.Close() })
	waitForFrame(t, conn, types.MessageTypeConnected)
	return client, conn
}

func waitForFrame(t *testing.T, conn *mockConn, mt types.MessageType) types.Frame {
	t.Helper()
	var frame types.Frame
	require.Eventually(t, func() bool {
		f, ok := conn.lastOfType(mt)
		if ok {
			frame = f
		}
		return ok
	}, 2*time.Second, 5*time.Millisecond, "expected a %s frame", mt)
	return frame
}

func sendFrame(conn *mockConn, mt types.MessageType, requestID string, payload any) {
	frame := map[string]any{"type": mt}
	if requestID != "" {
		frame["request_id"] = requestID
	}
	if payload != nil {
		frame["payload"] = payload
	}
	data, _ := json.Marshal(frame)
	conn.in <- data
}

func authenticate(t *testing.T, conn *mockConn, token, roomCode string) types.Frame {
	t.Helper()
	payload := map[string]any{"token": token}
	if roomCode != "" {
		payload["room_code"] = roomCode
	}
	sendFrame(conn, types.MessageTypeAuthenticate, "", payload)
	return waitForFrame(t, conn, types.MessageTypeAuthenticated)
}

func decodeError(t *testing.T, frame types.Frame) types.ErrorPayload {
	t.Helper()
	var p types.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	return p
}

// lobby returns a two-seat snapshot for "room-1" owned by user-a.
func lobby(status types.RoomStatus) *types.RoomSnapshot {
	return &types.RoomSnapshot{
		RoomID:     "room-1",
		Code:       "ABC123",
		Status:     status,
		Visibility: types.VisibilityPrivate,
		RulesetID:  "classic",
		MaxPlayers: 4,
		Version:    1,
		Seats: []types.SeatSnapshot{
			{SeatIndex: 0, UserID: strPtr("user-a"), IsHost: true, Ready: true, Connected: true},
			{SeatIndex: 1, UserID: strPtr("user-b"), Ready: true, Connected: true},
			{SeatIndex: 2},
			{SeatIndex: 3},
		},
	}
}

func TestHandleConnection_SendsConnectedFrame(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	frame, ok := conn.lastOfType(types.MessageTypeConnected)
	require.True(t, ok)
	var p types.ConnectedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.NotEmpty(t, p.ConnectionID)
	assert.Equal(t, h.serverID, p.ServerID)
}

func TestAuthTimeout_ClosesConnection(t *testing.T) {
	presence := &mockPresence{}
	h := NewHub(&mockValidator{}, &mockRoomService{}, presence, nil, Options{
		AuthTimeout:       30 * time.Millisecond,
		HeartbeatInterval: time.Second,
		ConnectionTimeout: 5 * time.Second,
	})
	conn := newMockConn()
	h.HandleConnection(conn)

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatch_RequiresAuthentication(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	sendFrame(conn, types.MessageTypeCreateRoom, "req-1", nil)
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrUnauthenticated, decodeError(t, frame).Code)
}

func TestDispatch_PingAllowedPreAuth(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	sendFrame(conn, types.MessageTypePing, "req-1", nil)
	frame := waitForFrame(t, conn, types.MessageTypePong)
	assert.Equal(t, "req-1", frame.RequestID)

	var p types.PongPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	_, err := time.Parse(time.RFC3339Nano, p.ServerTime)
	assert.NoError(t, err)
}

func TestDispatch_UnknownMessageType(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	sendFrame(conn, "teleport", "req-1", nil)
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrInvalidMessage, decodeError(t, frame).Code)
}

func TestDispatch_MalformedJSONCloses(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	conn.in <- []byte("{not json")
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrInvalidMessage, decodeError(t, frame).Code)
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthenticate_Success(t *testing.T) {
	h, presence := newTestHub(&mockRoomService{}, &mockValidator{})
	client, conn := connect(t, h)

	frame := authenticate(t, conn, "user-a", "")
	var p types.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, "user-a", p.UserID)
	assert.Nil(t, p.Room)

	assert.True(t, client.IsAuthenticated())
	assert.Equal(t, types.UserIdType("user-a"), client.UserID())

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []string{"user-a"}, presence.connects)
}

func TestAuthenticate_InvalidTokenCloses(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{err: auth.ErrTokenInvalid})
	_, conn := connect(t, h)

	sendFrame(conn, types.MessageTypeAuthenticate, "", map[string]any{"token": "bad"})
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrAuthFailed, decodeError(t, frame).Code)
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{err: auth.ErrTokenExpired})
	_, conn := connect(t, h)

	sendFrame(conn, types.MessageTypeAuthenticate, "", map[string]any{"token": "old"})
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrAuthExpired, decodeError(t, frame).Code)
}

func TestAuthenticate_UnknownRoomCode(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)

	sendFrame(conn, types.MessageTypeAuthenticate, "", map[string]any{"token": "user-a", "room_code": "ZZZZZZ"})
	frame := waitForFrame(t, conn, types.MessageTypeError)
	assert.Equal(t, types.ErrRoomNotFound, decodeError(t, frame).Code)
}

func TestAuthenticate_ReconnectsOntoSeat(t *testing.T) {
	rooms := &mockRoomService{
		resolveFn: func(_ context.Context, code string) (string, error) {
			return "room-1", nil
		},
		snapshotFn: func(_ context.Context, roomID string) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusOpen), nil
		},
		setConnectedFn: func(_ context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusOpen), nil
		},
	}
	h, _ := newTestHub(rooms, &mockValidator{})
	client, conn := connect(t, h)

	frame := authenticate(t, conn, "user-a", "ABC123")
	var p types.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	require.NotNil(t, p.Room)
	assert.Equal(t, "room-1", p.Room.RoomID)
	assert.Equal(t, types.RoomIdType("room-1"), client.RoomID())
}

func TestCreateRoom_RequiresUUIDRequestID(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)
	authenticate(t, conn, "user-a", "")

	sendFrame(conn, types.MessageTypeCreateRoom, "not-a-uuid", map[string]any{"max_players": 4})
	frame := waitForFrame(t, conn, types.MessageTypeCreateRoomError)
	assert.Equal(t, types.ErrValidation, decodeError(t, frame).Code)
}

func TestCreateRoom_Success(t *testing.T) {
	rooms := &mockRoomService{
		createFn: func(_ context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error) {
			return &store.CreateResult{RoomID: "room-1", Code: "ABC123", SeatIndex: 0, IsHost: true}, lobby(types.RoomStatusOpen), nil
		},
	}
	h, _ := newTestHub(rooms, &mockValidator{})
	client, conn := connect(t, h)
	authenticate(t, conn, "user-a", "")

	requestID := "0b38ba53-6c5c-44dd-8227-3e62f12f9a25"
	sendFrame(conn, types.MessageTypeCreateRoom, requestID, map[string]any{"max_players": 4})
	frame := waitForFrame(t, conn, types.MessageTypeCreateRoomOk)
	assert.Equal(t, requestID, frame.RequestID)

	var p types.CreateRoomOkPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, "ABC123", p.Code)
	assert.True(t, p.IsHost)
	assert.Equal(t, types.RoomIdType("room-1"), client.RoomID())

	// Creating again without leaving is rejected.
	sendFrame(conn, types.MessageTypeCreateRoom, "1b38ba53-6c5c-44dd-8227-3e62f12f9a25", map[string]any{"max_players": 4})
	errFrame := waitForFrame(t, conn, types.MessageTypeCreateRoomError)
	assert.Equal(t, types.ErrValidation, decodeError(t, errFrame).Code)
}

func TestCreateRoom_ValidatesMaxPlayers(t *testing.T) {
	h, _ := newTestHub(&mockRoomService{}, &mockValidator{})
	_, conn := connect(t, h)
	authenticate(t, conn, "user-a", "")

	sendFrame(conn, types.MessageTypeCreateRoom, "0b38ba53-6c5c-44dd-8227-3e62f12f9a25", map[string]any{"max_players": 9})
	frame := waitForFrame(t, conn, types.MessageTypeCreateRoomError)
	assert.Equal(t, types.ErrValidation, decodeError(t, frame).Code)
}

// twoClientRoom wires two authenticated clients into room-1.
func twoClientRoom(t *testing.T, rooms *mockRoomService) (*Hub, *mockConn, *mockConn) {
	t.Helper()
	if rooms.createFn == nil {
		rooms.createFn = func(_ context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error) {
			return &store.CreateResult{RoomID: "room-1", Code: "ABC123", SeatIndex: 0, IsHost: true}, lobby(types.RoomStatusOpen), nil
		}
	}
	if rooms.joinFn == nil {
		rooms.joinFn = func(_ context.Context, userID, code string) (int, *types.RoomSnapshot, error) {
			return 1, lobby(types.RoomStatusOpen), nil
		}
	}
	h, _ := newTestHub(rooms, &mockValidator{})

	_, connA := connect(t, h)
	authenticate(t, connA, "user-a", "")
	sendFrame(connA, types.MessageTypeCreateRoom, "0b38ba53-6c5c-44dd-8227-3e62f12f9a25", map[string]any{"max_players": 4})
	waitForFrame(t, connA, types.MessageTypeCreateRoomOk)

	_, connB := connect(t, h)
	authenticate(t, connB, "user-b", "")
	sendFrame(connB, types.MessageTypeJoinRoom, "", map[string]any{"room_code": "ABC123"})
	waitForFrame(t, connB, types.MessageTypeJoinRoomOk)

	return h, connA, connB
}

func TestJoinRoom_BroadcastsToExistingMembers(t *testing.T) {
	_, connA, _ := twoClientRoom(t, &mockRoomService{})
	waitForFrame(t, connA, types.MessageTypeRoomUpdated)
}

func TestToggleReady_BroadcastsSnapshot(t *testing.T) {
	rooms := &mockRoomService{
		toggleReadyFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusReadyToStart), nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	sendFrame(connA, types.MessageTypeToggleReady, "req-7", nil)
	frame := waitForFrame(t, connA, types.MessageTypeRoomUpdated)
	var p types.RoomUpdatedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, types.RoomStatusReadyToStart, p.Room.Status)

	frameB := waitForFrame(t, connB, types.MessageTypeRoomUpdated)
	require.NoError(t, json.Unmarshal(frameB.Payload, &p))
	assert.Equal(t, types.RoomStatusReadyToStart, p.Room.Status)
}

func TestLeaveRoom_HostClosesRoom(t *testing.T) {
	rooms := &mockRoomService{
		leaveFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error) {
			return nil, true, nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	sendFrame(connA, types.MessageTypeLeaveRoom, "", nil)
	for _, conn := range []*mockConn{connA, connB} {
		frame := waitForFrame(t, conn, types.MessageTypeRoomClosed)
		var p types.RoomClosedPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &p))
		assert.Equal(t, "host_left", p.Reason)
	}
}

func TestLeaveRoom_GuestLeaves(t *testing.T) {
	rooms := &mockRoomService{
		leaveFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error) {
			return lobby(types.RoomStatusOpen), false, nil
		},
	}
	_, _, connB := twoClientRoom(t, rooms)

	sendFrame(connB, types.MessageTypeLeaveRoom, "req-9", nil)
	frame := waitForFrame(t, connB, types.MessageTypeRoomUpdated)
	assert.Equal(t, "req-9", frame.RequestID)
}

func TestStartGame_BroadcastsOpeningEvents(t *testing.T) {
	rooms := &mockRoomService{
		startFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusInGame), nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	sendFrame(connA, types.MessageTypeStartGame, "", nil)
	for _, conn := range []*mockConn{connA, connB} {
		frame := waitForFrame(t, conn, types.MessageTypeGameStarted)
		var p gameStartedPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &p))
		require.NotEmpty(t, p.Events)
		assert.Equal(t, "game_started", string(p.Events[0].Type))
	}
}

func TestGameAction_WithoutSessionIsBadPhase(t *testing.T) {
	_, connA, _ := twoClientRoom(t, &mockRoomService{})

	sendFrame(connA, types.MessageTypeGameAction, "", map[string]any{"kind": "roll"})
	frame := waitForFrame(t, connA, types.MessageTypeGameError)
	assert.Equal(t, types.ErrBadPhase, decodeError(t, frame).Code)
}

func TestGameAction_RollProducesEvents(t *testing.T) {
	rooms := &mockRoomService{
		startFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusInGame), nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	sendFrame(connA, types.MessageTypeStartGame, "", nil)
	waitForFrame(t, connA, types.MessageTypeGameStarted)

	sendFrame(connA, types.MessageTypeGameAction, "", map[string]any{"kind": "roll"})
	for _, conn := range []*mockConn{connA, connB} {
		frame := waitForFrame(t, conn, types.MessageTypeGameEvents)
		var p gameEventsPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &p))
		require.NotEmpty(t, p.Events)
		assert.Equal(t, "dice_rolled", string(p.Events[0].Type))
	}
}

func TestGameAction_OutOfTurnIsRejected(t *testing.T) {
	rooms := &mockRoomService{
		startFn: func(_ context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusInGame), nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	sendFrame(connA, types.MessageTypeStartGame, "", nil)
	waitForFrame(t, connB, types.MessageTypeGameStarted)

	// Seat 0 opens; user-b acting out of turn is an illegal move.
	sendFrame(connB, types.MessageTypeGameAction, "", map[string]any{"kind": "roll"})
	frame := waitForFrame(t, connB, types.MessageTypeGameError)
	assert.Equal(t, types.ErrIllegalMove, decodeError(t, frame).Code)
}

func TestHostSocketDropClosesLobby(t *testing.T) {
	var mu sync.Mutex
	var closedRoom string
	rooms := &mockRoomService{
		setConnectedFn: func(_ context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusOpen), nil
		},
		closeFn: func(_ context.Context, roomID string) (*types.RoomSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			closedRoom = roomID
			return nil, nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	_ = connA.Close()

	frame := waitForFrame(t, connB, types.MessageTypeRoomClosed)
	var p types.RoomClosedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.Equal(t, "host_left", p.Reason)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "room-1", closedRoom)
}

func TestGuestSocketDropKeepsRoomOpen(t *testing.T) {
	var mu sync.Mutex
	var closeCalled bool
	afterDrop := lobby(types.RoomStatusOpen)
	afterDrop.Version = 9
	rooms := &mockRoomService{
		setConnectedFn: func(_ context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
			return afterDrop, nil
		},
		closeFn: func(_ context.Context, roomID string) (*types.RoomSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			closeCalled = true
			return nil, nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	_ = connB.Close()

	require.Eventually(t, func() bool {
		frame, ok := connA.lastOfType(types.MessageTypeRoomUpdated)
		if !ok {
			return false
		}
		var p types.RoomUpdatedPayload
		return json.Unmarshal(frame.Payload, &p) == nil && p.Room.Version == 9
	}, 2*time.Second, 5*time.Millisecond)
	_, gotClosed := connA.lastOfType(types.MessageTypeRoomClosed)
	assert.False(t, gotClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, closeCalled)
}

func TestHostSocketDropInGameKeepsRoom(t *testing.T) {
	var mu sync.Mutex
	var closeCalled bool
	rooms := &mockRoomService{
		setConnectedFn: func(_ context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
			return lobby(types.RoomStatusInGame), nil
		},
		closeFn: func(_ context.Context, roomID string) (*types.RoomSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			closeCalled = true
			return nil, nil
		},
	}
	_, connA, connB := twoClientRoom(t, rooms)

	_ = connA.Close()

	waitForFrame(t, connB, types.MessageTypeRoomUpdated)
	_, gotClosed := connB.lastOfType(types.MessageTypeRoomClosed)
	assert.False(t, gotClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, closeCalled)
}

func TestDisconnect_ReleasesPresenceAndSeat(t *testing.T) {
	var mu sync.Mutex
	var disconnectedUser string
	rooms := &mockRoomService{
		setConnectedFn: func(_ context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			if !connected {
				disconnectedUser = userID
			}
			return lobby(types.RoomStatusOpen), nil
		},
	}
	rooms.createFn = func(_ context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error) {
		return &store.CreateResult{RoomID: "room-1", Code: "ABC123", SeatIndex: 0, IsHost: true}, lobby(types.RoomStatusOpen), nil
	}
	h, presence := newTestHub(rooms, &mockValidator{})

	_, conn := connect(t, h)
	authenticate(t, conn, "user-a", "")
	sendFrame(conn, types.MessageTypeCreateRoom, "0b38ba53-6c5c-44dd-8227-3e62f12f9a25", map[string]any{"max_players": 4})
	waitForFrame(t, conn, types.MessageTypeCreateRoomOk)

	_ = conn.Close()

	require.Eventually(t, func() bool {
		presence.mu.Lock()
		defer presence.mu.Unlock()
		return len(presence.disconnects) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "user-a", disconnectedUser)
}
