package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/auth"
	"github.com/ludoverse/backend/internal/v1/game"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

// gameStartedPayload opens a game for every room member.
type gameStartedPayload struct {
	Room   *types.RoomSnapshot `json:"room"`
	Events []game.Event        `json:"events"`
}

// gameEventsPayload carries the engine's ordered event batch.
type gameEventsPayload struct {
	Events []game.Event `json:"events"`
}

// gameStatePayload carries the full state for reconnecting clients.
type gameStatePayload struct {
	State json.RawMessage `json:"state"`
}

// displayNameFrom derives a human name from token claims, preferring the
// explicit name, then the email prefix, then the subject.
func displayNameFrom(claims *auth.Claims) string {
	if claims.Name != "" {
		return claims.Name
	}
	if claims.Email != "" {
		if parts := strings.Split(claims.Email, "@"); parts[0] != "" {
			return parts[0]
		}
	}
	return claims.Subject
}

// handleAuthenticate runs the in-band handshake: token validation, optional
// room attach by code, presence registration. Auth failures close the socket
// with the matching 4xxx code after an explanatory error frame.
func (h *Hub) handleAuthenticate(ctx context.Context, c *Client, frame types.Frame) error {
	if c.IsAuthenticated() {
		return cerr(types.ErrValidation, "connection already authenticated")
	}

	var p types.AuthenticatePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return cerr(types.ErrValidation, "invalid authenticate payload")
	}
	if p.Token == "" {
		return cerr(types.ErrValidation, "token is required")
	}

	claims, err := h.validator.ValidateToken(p.Token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			c.SendError(frame.RequestID, types.ErrAuthExpired, "token expired")
			c.CloseWithCode(types.CloseAuthExpired, "token expired")
		} else {
			c.SendError(frame.RequestID, types.ErrAuthFailed, "invalid token")
			c.CloseWithCode(types.CloseAuthFailed, "invalid token")
		}
		return nil
	}
	userID := types.UserIdType(claims.Subject)

	if err := h.rooms.UpsertProfile(ctx, string(userID), displayNameFrom(claims)); err != nil {
		logging.Warn(ctx, "failed to upsert profile", zap.Error(err))
	}

	var snap *types.RoomSnapshot
	if p.RoomCode != "" {
		snap, err = h.attachToRoom(ctx, c, frame.RequestID, userID, p.RoomCode)
		if err != nil {
			return err
		}
		if snap == nil {
			// attachToRoom replied and closed the socket already.
			return nil
		}
	}

	c.setAuthenticated(userID)
	h.bindUser(c, userID)
	h.presence.Connect(ctx, string(userID))
	if snap != nil {
		h.bindRoom(c, types.RoomIdType(snap.RoomID))
	}

	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeAuthenticated,
		RequestID: frame.RequestID,
		Payload: types.AuthenticatedPayload{
			ConnectionID: string(c.ID),
			UserID:       string(userID),
			ServerID:     h.serverID,
			Room:         snap,
		},
	})

	if snap != nil {
		roomID := types.RoomIdType(snap.RoomID)
		h.BroadcastRoom(roomID, types.OutboundFrame{
			Type:    types.MessageTypeRoomUpdated,
			Payload: types.RoomUpdatedPayload{Room: snap},
		}, c.ID)

		// A reconnect into a running game gets the full state.
		if snap.Status == types.RoomStatusInGame {
			if session, ok := h.sessions.Get(roomID); ok {
				if raw, err := session.StateJSON(); err == nil {
					c.Send(types.OutboundFrame{
						Type:    types.MessageTypeGameState,
						Payload: gameStatePayload{State: raw},
					})
				}
			}
		}
	}
	return nil
}

// attachToRoom resolves a join code during the handshake. Members reconnect
// onto their seat; strangers are seated if the lobby allows it. Failures
// close the socket and return a nil snapshot.
func (h *Hub) attachToRoom(ctx context.Context, c *Client, requestID string, userID types.UserIdType, code string) (*types.RoomSnapshot, error) {
	roomID, err := h.rooms.ResolveByCode(ctx, code)
	if err != nil {
		c.SendError(requestID, types.ErrRoomNotFound, "room not found")
		c.CloseWithCode(types.CloseRoomNotFound, "room not found")
		return nil, nil
	}

	snap, err := h.rooms.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if snap.SeatOf(userID) == nil {
		_, snap, err = h.rooms.Join(ctx, string(userID), code)
		if err != nil {
			errCode, msg := mapError(err)
			c.SendError(requestID, errCode, msg)
			c.CloseWithCode(types.CloseRoomAccessDenied, msg)
			return nil, nil
		}
		return snap, nil
	}

	updated, err := h.rooms.SetConnected(ctx, roomID, string(userID), true)
	if err != nil {
		logging.Warn(ctx, "failed to mark seat connected", zap.String("roomId", roomID), zap.Error(err))
		return snap, nil
	}
	return updated, nil
}

func (h *Hub) handlePing(ctx context.Context, c *Client, frame types.Frame) error {
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypePong,
		RequestID: frame.RequestID,
		Payload:   types.PongPayload{ServerTime: time.Now().UTC().Format(time.RFC3339Nano)},
	})
	return nil
}

func (h *Hub) handleCreateRoom(ctx context.Context, c *Client, frame types.Frame) error {
	if _, err := uuid.Parse(frame.RequestID); err != nil {
		return cerr(types.ErrValidation, "create_room requires a UUID request_id")
	}
	if c.RoomID() != "" {
		return cerr(types.ErrValidation, "leave the current room first")
	}

	var p types.CreateRoomPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return cerr(types.ErrValidation, "invalid create_room payload")
		}
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = 4
	}
	if p.MaxPlayers < 2 || p.MaxPlayers > 4 {
		return cerr(types.ErrValidation, "max_players must be between 2 and 4")
	}
	switch p.Visibility {
	case "":
		p.Visibility = types.VisibilityPrivate
	case types.VisibilityPrivate, types.VisibilityPublic:
	default:
		return cerr(types.ErrValidation, "visibility must be public or private")
	}
	if p.RulesetID == "" {
		p.RulesetID = "classic"
	}
	if _, err := game.ParseRulesetConfig(p.RulesetConfig); err != nil {
		return cerr(types.ErrValidation, "invalid ruleset_config: %v", err)
	}

	result, snap, err := h.rooms.Create(ctx, string(c.UserID()), frame.RequestID, store.CreateParams{
		MaxPlayers:    p.MaxPlayers,
		Visibility:    p.Visibility,
		RulesetID:     p.RulesetID,
		RulesetConfig: p.RulesetConfig,
	})
	if err != nil {
		return err
	}

	h.bindRoom(c, types.RoomIdType(result.RoomID))
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeCreateRoomOk,
		RequestID: frame.RequestID,
		Payload: types.CreateRoomOkPayload{
			RoomID:    result.RoomID,
			Code:      result.Code,
			SeatIndex: result.SeatIndex,
			IsHost:    result.IsHost,
			Cached:    result.Cached,
		},
	})
	c.Send(types.OutboundFrame{
		Type:    types.MessageTypeRoomUpdated,
		Payload: types.RoomUpdatedPayload{Room: snap},
	})
	return nil
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, frame types.Frame) error {
	if c.RoomID() != "" {
		return cerr(types.ErrValidation, "leave the current room first")
	}

	var p types.JoinRoomPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return cerr(types.ErrValidation, "invalid join_room payload")
	}
	if p.RoomCode == "" {
		return cerr(types.ErrValidation, "room_code is required")
	}

	seatIndex, snap, err := h.rooms.Join(ctx, string(c.UserID()), p.RoomCode)
	if err != nil {
		return err
	}

	h.bindRoom(c, types.RoomIdType(snap.RoomID))
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeJoinRoomOk,
		RequestID: frame.RequestID,
		Payload:   types.JoinRoomOkPayload{SeatIndex: seatIndex, Room: snap},
	})
	h.BroadcastRoom(types.RoomIdType(snap.RoomID), types.OutboundFrame{
		Type:    types.MessageTypeRoomUpdated,
		Payload: types.RoomUpdatedPayload{Room: snap},
	}, c.ID)
	return nil
}

func (h *Hub) handleToggleReady(ctx context.Context, c *Client, frame types.Frame) error {
	roomID := c.RoomID()
	if roomID == "" {
		return cerr(types.ErrNotInRoom, "join a room first")
	}

	snap, err := h.rooms.ToggleReady(ctx, string(roomID), string(c.UserID()))
	if err != nil {
		return err
	}

	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeRoomUpdated,
		RequestID: frame.RequestID,
		Payload:   types.RoomUpdatedPayload{Room: snap},
	})
	h.BroadcastRoom(roomID, types.OutboundFrame{
		Type:    types.MessageTypeRoomUpdated,
		Payload: types.RoomUpdatedPayload{Room: snap},
	}, c.ID)
	return nil
}

func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client, frame types.Frame) error {
	roomID := c.RoomID()
	if roomID == "" {
		return cerr(types.ErrNotInRoom, "not in a room")
	}

	snap, closing, err := h.rooms.Leave(ctx, string(roomID), string(c.UserID()))
	if err != nil {
		return err
	}

	if closing {
		h.closeRoomLocally(roomID, "host_left")
		return nil
	}

	h.unbindRoom(c)
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeRoomUpdated,
		RequestID: frame.RequestID,
		Payload:   types.RoomUpdatedPayload{Room: snap},
	})
	h.BroadcastRoom(roomID, types.OutboundFrame{
		Type:    types.MessageTypeRoomUpdated,
		Payload: types.RoomUpdatedPayload{Room: snap},
	}, c.ID)
	return nil
}

func (h *Hub) handleStartGame(ctx context.Context, c *Client, frame types.Frame) error {
	return h.startGame(ctx, c, frame.RequestID)
}

// startGame flips the room to in_game and boots an engine session seeded
// from the stored ruleset config.
func (h *Hub) startGame(ctx context.Context, c *Client, requestID string) error {
	roomID := c.RoomID()
	if roomID == "" {
		return cerr(types.ErrNotInRoom, "join a room first")
	}

	snap, err := h.rooms.Start(ctx, string(roomID), string(c.UserID()))
	if err != nil {
		return err
	}

	raw, err := h.rooms.RulesetConfig(ctx, string(roomID))
	if err != nil {
		return fmt.Errorf("loading ruleset config: %w", err)
	}
	rules, err := game.ParseRulesetConfig(raw)
	if err != nil {
		return fmt.Errorf("parsing ruleset config: %w", err)
	}

	session, events, err := game.NewSession(snap, rules, 0)
	if err != nil {
		return fmt.Errorf("starting game session: %w", err)
	}
	h.sessions.Put(session)

	started := gameStartedPayload{Room: snap, Events: events}
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeGameStarted,
		RequestID: requestID,
		Payload:   started,
	})
	h.BroadcastRoom(roomID, types.OutboundFrame{
		Type:    types.MessageTypeGameStarted,
		Payload: started,
	}, c.ID)
	return nil
}

func (h *Hub) handleGameAction(ctx context.Context, c *Client, frame types.Frame) error {
	var p types.GameActionPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return cerr(types.ErrValidation, "invalid game_action payload")
	}

	if p.Kind == types.GameActionStartGame {
		return h.startGame(ctx, c, frame.RequestID)
	}

	roomID := c.RoomID()
	if roomID == "" {
		return cerr(types.ErrNotInRoom, "join a room first")
	}
	session, ok := h.sessions.Get(roomID)
	if !ok {
		return cerr(types.ErrBadPhase, "no game in progress")
	}

	events, err := session.Apply(c.UserID(), p.Kind, p.MoveID, p.TargetOwner)
	if err != nil {
		metrics.GameActionsProcessed.WithLabelValues(string(p.Kind), "error").Inc()
		return err
	}
	metrics.GameActionsProcessed.WithLabelValues(string(p.Kind), "ok").Inc()

	batch := gameEventsPayload{Events: events}
	c.Send(types.OutboundFrame{
		Type:      types.MessageTypeGameEvents,
		RequestID: frame.RequestID,
		Payload:   batch,
	})
	h.BroadcastRoom(roomID, types.OutboundFrame{
		Type:    types.MessageTypeGameEvents,
		Payload: batch,
	}, c.ID)

	if session.Finished() {
		if _, err := h.rooms.Close(ctx, string(roomID)); err != nil {
			logging.Warn(ctx, "failed to close finished room", zap.String("roomId", string(roomID)), zap.Error(err))
		}
		h.closeRoomLocally(roomID, "game_ended")
	}
	return nil
}
