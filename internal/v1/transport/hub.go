package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/game"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/ratelimit"
	"github.com/ludoverse/backend/internal/v1/types"
)

// Hub owns every live connection and routes frames between them, the room
// service, and the game engine.
type Hub struct {
	serverID  string
	validator types.TokenValidator
	rooms     RoomService
	presence  PresenceTracker
	sessions  *game.Registry
	limiter   *ratelimit.RateLimiter

	allowedOrigins    []string
	authTimeout       time.Duration
	heartbeatInterval time.Duration
	connectionTimeout time.Duration

	mu      sync.RWMutex
	clients map[types.ConnectionIdType]*Client
	byUser  map[types.UserIdType]map[types.ConnectionIdType]*Client
	byRoom  map[types.RoomIdType]map[types.ConnectionIdType]*Client

	handlers map[types.MessageType]handlerFunc
}

// Options carries the Hub's tunables.
type Options struct {
	AllowedOrigins    []string
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
}

// NewHub wires the hub with its dependencies.
func NewHub(validator types.TokenValidator, rooms RoomService, presence PresenceTracker, limiter *ratelimit.RateLimiter, opts Options) *Hub {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 30 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = 60 * time.Second
	}

	h := &Hub{
		serverID:          uuid.NewString(),
		validator:         validator,
		rooms:             rooms,
		presence:          presence,
		sessions:          game.NewRegistry(),
		limiter:           limiter,
		allowedOrigins:    opts.AllowedOrigins,
		authTimeout:       opts.AuthTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
		connectionTimeout: opts.ConnectionTimeout,
		clients:           make(map[types.ConnectionIdType]*Client),
		byUser:            make(map[types.UserIdType]map[types.ConnectionIdType]*Client),
		byRoom:            make(map[types.RoomIdType]map[types.ConnectionIdType]*Client),
	}
	h.registerHandlers()
	return h
}

// ServeWs upgrades the HTTP request and starts the connection's pumps. The
// socket is accepted anonymously; authentication happens in-band.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection registers an established socket, greets it, arms the auth
// deadline, and starts the pumps.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := newClient(types.ConnectionIdType(uuid.NewString()), conn, h)

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	metrics.IncConnection()

	client.Send(types.OutboundFrame{
		Type: types.MessageTypeConnected,
		Payload: types.ConnectedPayload{
			ConnectionID: string(client.ID),
			ServerID:     h.serverID,
		},
	})

	client.authTimer = time.AfterFunc(h.authTimeout, func() {
		if !client.IsAuthenticated() {
			logging.Warn(context.Background(), "closing unauthenticated connection",
				zap.String("connectionId", string(client.ID)))
			client.CloseWithCode(types.CloseAuthTimeout, "authentication timed out")
		}
	})

	go client.writePump()
	go client.readPump()
	return client
}

// Run sweeps stale connections until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStale()
		}
	}
}

func (h *Hub) sweepStale() {
	cutoff := time.Now().Add(-h.connectionTimeout)

	h.mu.RLock()
	var stale []*Client
	for _, client := range h.clients {
		if client.idleSince().Before(cutoff) {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		logging.Warn(context.Background(), "closing stale connection",
			zap.String("connectionId", string(client.ID)))
		client.CloseWithCode(types.CloseGoingAway, "heartbeat timeout")
	}
}

// --- registry ---

func (h *Hub) bindUser(client *Client, userID types.UserIdType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[types.ConnectionIdType]*Client)
	}
	h.byUser[userID][client.ID] = client
}

func (h *Hub) bindRoom(client *Client, roomID types.RoomIdType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byRoom[roomID] == nil {
		h.byRoom[roomID] = make(map[types.ConnectionIdType]*Client)
	}
	h.byRoom[roomID][client.ID] = client
	client.setRoom(roomID)
}

func (h *Hub) unbindRoom(client *Client) {
	roomID := client.RoomID()
	if roomID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.byRoom[roomID]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.byRoom, roomID)
		}
	}
	client.setRoom("")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, client.ID)
	if userID := client.UserID(); userID != "" {
		if conns, ok := h.byUser[userID]; ok {
			delete(conns, client.ID)
			if len(conns) == 0 {
				delete(h.byUser, userID)
			}
		}
	}
	if roomID := client.RoomID(); roomID != "" {
		if conns, ok := h.byRoom[roomID]; ok {
			delete(conns, client.ID)
			if len(conns) == 0 {
				delete(h.byRoom, roomID)
			}
		}
	}
}

func (h *Hub) roomClients(roomID types.RoomIdType) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.byRoom[roomID]))
	for _, client := range h.byRoom[roomID] {
		out = append(out, client)
	}
	return out
}

// BroadcastRoom fans a frame out to every connection bound to the room,
// optionally skipping one connection.
func (h *Hub) BroadcastRoom(roomID types.RoomIdType, frame types.OutboundFrame, except types.ConnectionIdType) {
	for _, client := range h.roomClients(roomID) {
		if client.ID == except {
			continue
		}
		client.Send(frame)
	}
}

// SendToUser delivers a frame to every live connection of one user.
func (h *Hub) SendToUser(userID types.UserIdType, frame types.OutboundFrame) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for _, client := range h.byUser[userID] {
		conns = append(conns, client)
	}
	h.mu.RUnlock()

	for _, client := range conns {
		client.Send(frame)
	}
}

// handleDisconnect runs cleanup when a connection's read pump exits: presence
// release, seat liveness, and registry removal.
func (h *Hub) handleDisconnect(client *Client) {
	ctx := context.Background()

	if client.IsAuthenticated() {
		userID := client.UserID()
		h.presence.Disconnect(ctx, string(userID))

		if roomID := client.RoomID(); roomID != "" {
			snap, err := h.rooms.SetConnected(ctx, string(roomID), string(userID), false)
			switch {
			case err != nil:
				logging.Warn(ctx, "failed to mark seat disconnected",
					zap.String("roomId", string(roomID)), zap.Error(err))
			case h.hostLeftLobby(snap, userID) && !h.hasOtherConnection(userID, client.ID):
				if _, err := h.rooms.Close(ctx, string(roomID)); err != nil {
					logging.Warn(ctx, "failed to close room after host disconnect",
						zap.String("roomId", string(roomID)), zap.Error(err))
				}
				h.closeRoomLocally(roomID, "host_left")
			default:
				h.BroadcastRoom(roomID, types.OutboundFrame{
					Type:    types.MessageTypeRoomUpdated,
					Payload: types.RoomUpdatedPayload{Room: snap},
				}, client.ID)
			}
		}
	}

	h.unregister(client)
}

// hostLeftLobby reports whether the departing user holds the host seat of a
// room that has not started yet. In-game rooms survive a host disconnect so
// the host can rejoin.
func (h *Hub) hostLeftLobby(snap *types.RoomSnapshot, userID types.UserIdType) bool {
	if snap == nil {
		return false
	}
	if snap.Status != types.RoomStatusOpen && snap.Status != types.RoomStatusReadyToStart {
		return false
	}
	seat := snap.SeatOf(userID)
	return seat != nil && seat.IsHost
}

// hasOtherConnection reports whether the user still has a live connection
// besides the given one.
func (h *Hub) hasOtherConnection(userID types.UserIdType, except types.ConnectionIdType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.byUser[userID] {
		if id != except {
			return true
		}
	}
	return false
}

// closeRoomLocally drops a closed room's session and unbinds its clients.
func (h *Hub) closeRoomLocally(roomID types.RoomIdType, reason string) {
	h.BroadcastRoom(roomID, types.OutboundFrame{
		Type:    types.MessageTypeRoomClosed,
		Payload: types.RoomClosedPayload{RoomID: string(roomID), Reason: reason},
	}, "")

	h.sessions.Remove(roomID)
	for _, client := range h.roomClients(roomID) {
		h.unbindRoom(client)
	}
}

// Shutdown closes every connection with a going-away frame.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.CloseWithCode(types.CloseGoingAway, "server shutting down")
	}

	logging.Info(ctx, "all connections closed", zap.Int("count", len(clients)))
	return nil
}
