package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ludoverse/backend/internal/v1/auth"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

// mockConn drives the pumps without a real socket. Inbound frames are fed
// through the in channel; everything written is recorded for assertions.
type mockConn struct {
	in chan []byte

	mu          sync.Mutex
	written     [][]byte
	closeFrames [][]byte
	closed      bool
}

func newMockConn() *mockConn {
	return &mockConn{in: make(chan []byte, 16)}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if messageType == websocket.TextMessage {
		m.written = append(m.written, append([]byte{}, data...))
	}
	if messageType == websocket.CloseMessage {
		m.closeFrames = append(m.closeFrames, append([]byte{}, data...))
	}
	return nil
}

// closeSent decodes the first recorded close frame into code and reason.
func (m *mockConn) closeSent() (int, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.closeFrames) == 0 {
		return 0, "", false
	}
	frame := m.closeFrames[0]
	if len(frame) < 2 {
		return 0, "", false
	}
	code := int(frame[0])<<8 | int(frame[1])
	return code, string(frame[2:]), true
}

func (m *mockConn) closeFrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.closeFrames)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.in)
	}
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConn) SetReadLimit(int64)               {}

// frames decodes every recorded outbound frame.
func (m *mockConn) frames() []types.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Frame, 0, len(m.written))
	for _, data := range m.written {
		var f types.Frame
		if err := json.Unmarshal(data, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// lastOfType returns the most recent frame of the given type, if any.
func (m *mockConn) lastOfType(t types.MessageType) (types.Frame, bool) {
	frames := m.frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == t {
			return frames[i], true
		}
	}
	return types.Frame{}, false
}

// mockValidator treats the token string as the subject, or fails when err
// is set.
type mockValidator struct {
	err error
}

func (m *mockValidator) ValidateToken(token string) (*auth.Claims, error) {
	if m.err != nil {
		return nil, m.err
	}
	claims := &auth.Claims{Name: "Player " + token}
	claims.Subject = token
	return claims, nil
}

// mockPresence records connect/disconnect calls.
type mockPresence struct {
	mu          sync.Mutex
	connects    []string
	disconnects []string
}

func (m *mockPresence) Connect(_ context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects = append(m.connects, userID)
}

func (m *mockPresence) Disconnect(_ context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, userID)
}

// mockRoomService is a scriptable RoomService.
type mockRoomService struct {
	createFn        func(ctx context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error)
	joinFn          func(ctx context.Context, userID, code string) (int, *types.RoomSnapshot, error)
	resolveFn       func(ctx context.Context, code string) (string, error)
	snapshotFn      func(ctx context.Context, roomID string) (*types.RoomSnapshot, error)
	toggleReadyFn   func(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error)
	leaveFn         func(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error)
	startFn         func(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error)
	closeFn         func(ctx context.Context, roomID string) (*types.RoomSnapshot, error)
	setConnectedFn  func(ctx context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error)
	rulesetConfigFn func(ctx context.Context, roomID string) (json.RawMessage, error)
	upsertProfileFn func(ctx context.Context, userID, displayName string) error
}

func (m *mockRoomService) Create(ctx context.Context, userID, requestID string, p store.CreateParams) (*store.CreateResult, *types.RoomSnapshot, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, requestID, p)
	}
	return nil, nil, errors.New("create not scripted")
}

func (m *mockRoomService) Join(ctx context.Context, userID, code string) (int, *types.RoomSnapshot, error) {
	if m.joinFn != nil {
		return m.joinFn(ctx, userID, code)
	}
	return 0, nil, errors.New("join not scripted")
}

func (m *mockRoomService) ResolveByCode(ctx context.Context, code string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, code)
	}
	return "", store.ErrRoomNotFound
}

func (m *mockRoomService) Snapshot(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx, roomID)
	}
	return nil, store.ErrRoomNotFound
}

func (m *mockRoomService) ToggleReady(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	if m.toggleReadyFn != nil {
		return m.toggleReadyFn(ctx, roomID, userID)
	}
	return nil, errors.New("toggleReady not scripted")
}

func (m *mockRoomService) Leave(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, bool, error) {
	if m.leaveFn != nil {
		return m.leaveFn(ctx, roomID, userID)
	}
	return nil, false, errors.New("leave not scripted")
}

func (m *mockRoomService) Start(ctx context.Context, roomID, userID string) (*types.RoomSnapshot, error) {
	if m.startFn != nil {
		return m.startFn(ctx, roomID, userID)
	}
	return nil, errors.New("start not scripted")
}

func (m *mockRoomService) Close(ctx context.Context, roomID string) (*types.RoomSnapshot, error) {
	if m.closeFn != nil {
		return m.closeFn(ctx, roomID)
	}
	return nil, nil
}

func (m *mockRoomService) SetConnected(ctx context.Context, roomID, userID string, connected bool) (*types.RoomSnapshot, error) {
	if m.setConnectedFn != nil {
		return m.setConnectedFn(ctx, roomID, userID, connected)
	}
	return nil, errors.New("setConnected not scripted")
}

func (m *mockRoomService) RulesetConfig(ctx context.Context, roomID string) (json.RawMessage, error) {
	if m.rulesetConfigFn != nil {
		return m.rulesetConfigFn(ctx, roomID)
	}
	return nil, nil
}

func (m *mockRoomService) UpsertProfile(ctx context.Context, userID, displayName string) error {
	if m.upsertProfileFn != nil {
		return m.upsertProfileFn(ctx, userID, displayName)
	}
	return nil
}
