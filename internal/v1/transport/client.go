package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/types"
)

const (
	maxMessageSize = 64 * 1024
	writeWait      = 10 * time.Second
	sendBuffer     = 256
)

// wsConnection is the subset of *websocket.Conn the client needs, kept as an
// interface so tests can drive the pumps without a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// Client is one WebSocket connection. A connection starts anonymous and
// becomes bound to a user, and later to a room, through in-band messages.
type Client struct {
	ID   types.ConnectionIdType
	conn wsConnection
	hub  *Hub

	mu            sync.RWMutex
	closed        bool
	authenticated bool
	userID        types.UserIdType
	roomID        types.RoomIdType
	closeCode     int
	closeReason   string

	authTimer *time.Timer
	lastSeen  atomic.Int64

	closeOnce sync.Once
	send      chan []byte
}

func newClient(id types.ConnectionIdType, conn wsConnection, hub *Hub) *Client {
	c := &Client{
		ID:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, sendBuffer),
	}
	c.touch()
	return c
}

// --- state accessors ---

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) UserID() types.UserIdType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) RoomID() types.RoomIdType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setAuthenticated(userID types.UserIdType) {
	c.mu.Lock()
	c.authenticated = true
	c.userID = userID
	timer := c.authTimer
	c.authTimer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

func (c *Client) setRoom(roomID types.RoomIdType) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) idleSince() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Send marshals a frame onto the outbound channel. Full or closed channels
// drop the frame with a warning rather than blocking the caller.
func (c *Client) Send(frame types.OutboundFrame) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "recovered from send on closed client",
				zap.String("connectionId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send channel full, dropping frame",
			zap.String("connectionId", string(c.ID)), zap.String("type", string(frame.Type)))
	}
}

// SendError is a shorthand for the generic error reply.
func (c *Client) SendError(requestID string, code types.ErrorCode, message string) {
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeError,
		RequestID: requestID,
		Payload:   types.ErrorPayload{Code: code, Message: message},
	})
}

// CloseWithCode records the close code and tears the connection down. The
// close frame itself is written by writePump after the send channel drains;
// writePump is the only goroutine allowed to write on the socket.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if !c.closed && c.closeCode == 0 {
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.Disconnect()
}

// closeFrame builds the close control frame from the recorded code, or a
// normal closure when the shutdown was not code-specific.
func (c *Client) closeFrame() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closeCode == 0 {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

// Disconnect closes the send channel, which lets writePump drain and close
// the underlying socket.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames until the socket errors or closes, then
// runs the hub's disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.Disconnect()
		_ = c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if err == websocket.ErrReadLimit {
				c.CloseWithCode(websocket.CloseMessageTooBig, "message exceeds 64KB limit")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.touch()
		c.hub.dispatch(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.Warn(context.Background(), "error writing message",
				zap.String("connectionId", string(c.ID)), zap.Error(err))
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame())
}
