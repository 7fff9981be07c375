package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ludoverse/backend/internal/v1/game"
	"github.com/ludoverse/backend/internal/v1/logging"
	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

// handlerFunc processes one inbound frame. A returned error is mapped to an
// error code and sent back on the request's failure frame type.
type handlerFunc func(ctx context.Context, c *Client, frame types.Frame) error

func (h *Hub) registerHandlers() {
	h.handlers = map[types.MessageType]handlerFunc{
		types.MessageTypeAuthenticate: h.handleAuthenticate,
		types.MessageTypePing:         h.handlePing,
		types.MessageTypeCreateRoom:   h.handleCreateRoom,
		types.MessageTypeJoinRoom:     h.handleJoinRoom,
		types.MessageTypeToggleReady:  h.handleToggleReady,
		types.MessageTypeLeaveRoom:    h.handleLeaveRoom,
		types.MessageTypeStartGame:    h.handleStartGame,
		types.MessageTypeGameAction:   h.handleGameAction,
	}
}

// preAuthAllowed lists the message types an anonymous connection may send.
var preAuthAllowed = map[types.MessageType]bool{
	types.MessageTypeAuthenticate: true,
	types.MessageTypePing:         true,
}

// errorReplyType picks the failure frame type matching the request type.
func errorReplyType(t types.MessageType) types.MessageType {
	switch t {
	case types.MessageTypeCreateRoom:
		return types.MessageTypeCreateRoomError
	case types.MessageTypeJoinRoom:
		return types.MessageTypeJoinRoomError
	case types.MessageTypeStartGame, types.MessageTypeGameAction:
		return types.MessageTypeGameError
	default:
		return types.MessageTypeError
	}
}

// clientError carries a wire error code chosen at the failure site.
type clientError struct {
	code types.ErrorCode
	msg  string
}

func (e *clientError) Error() string { return fmt.Sprintf("%s: %s", e.code, e.msg) }

func cerr(code types.ErrorCode, format string, args ...any) error {
	return &clientError{code: code, msg: fmt.Sprintf(format, args...)}
}

// mapError translates internal failures into wire error codes. Unrecognized
// errors become INTERNAL_ERROR without leaking details.
func mapError(err error) (types.ErrorCode, string) {
	var ce *clientError
	if errors.As(err, &ce) {
		return ce.code, ce.msg
	}
	var re *game.RuleError
	if errors.As(err, &re) {
		return re.Code, re.Message
	}

	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return types.ErrRoomNotFound, "room not found"
	case errors.Is(err, store.ErrRoomClosed):
		return types.ErrRoomClosed, "room is closed"
	case errors.Is(err, store.ErrRoomFull):
		return types.ErrRoomFull, "room is full"
	case errors.Is(err, store.ErrRoomInGameNotMember):
		return types.ErrRoomInGame, "room already started"
	case errors.Is(err, store.ErrRoomNotReady):
		return types.ErrBadPhase, "room is not ready to start"
	case errors.Is(err, store.ErrNotInRoom):
		return types.ErrNotInRoom, "user has no seat in this room"
	case errors.Is(err, store.ErrNotHost):
		return types.ErrNotHost, "only the host may do this"
	case errors.Is(err, store.ErrRequestInProgress):
		return types.ErrRequestInProgress, "an identical request is still in flight"
	case errors.Is(err, store.ErrCodeGenerationFailed):
		return types.ErrCodeGenerationFailed, "could not allocate a unique room code"
	default:
		return types.ErrInternal, "internal error"
	}
}

// dispatch routes one raw inbound message: rate limit, decode, auth guard,
// handler, error mapping. Panics in handlers are contained per frame.
func (h *Hub) dispatch(ctx context.Context, c *Client, data []byte) {
	if h.limiter != nil && !h.limiter.AllowMessage(ctx, string(c.ID)) {
		metrics.MessagesDispatched.WithLabelValues("unknown", "rate_limited").Inc()
		c.SendError("", types.ErrRateLimited, "too many messages, slow down")
		return
	}

	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.MessagesDispatched.WithLabelValues("unknown", "invalid").Inc()
		c.SendError("", types.ErrInvalidMessage, "malformed JSON frame")
		c.CloseWithCode(types.CloseInvalidData, "malformed JSON frame")
		return
	}

	handler, ok := h.handlers[frame.Type]
	if !ok {
		metrics.MessagesDispatched.WithLabelValues(string(frame.Type), "unknown_type").Inc()
		c.SendError(frame.RequestID, types.ErrInvalidMessage, fmt.Sprintf("unknown message type %q", frame.Type))
		return
	}

	if !c.IsAuthenticated() && !preAuthAllowed[frame.Type] {
		metrics.MessagesDispatched.WithLabelValues(string(frame.Type), "unauthenticated").Inc()
		c.SendError(frame.RequestID, types.ErrUnauthenticated, "authenticate first")
		return
	}

	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(frame.Type)).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logging.Error(ctx, "panic in message handler",
				zap.String("type", string(frame.Type)),
				zap.String("connectionId", string(c.ID)),
				zap.Any("panic", r))
			metrics.MessagesDispatched.WithLabelValues(string(frame.Type), "panic").Inc()
			c.SendError(frame.RequestID, types.ErrInternal, "internal error")
		}
	}()

	if err := handler(ctx, c, frame); err != nil {
		code, msg := mapError(err)
		if code == types.ErrInternal {
			logging.Error(ctx, "handler failed",
				zap.String("type", string(frame.Type)),
				zap.String("connectionId", string(c.ID)),
				zap.Error(err))
		}
		metrics.MessagesDispatched.WithLabelValues(string(frame.Type), "error").Inc()
		c.Send(types.OutboundFrame{
			Type:      errorReplyType(frame.Type),
			RequestID: frame.RequestID,
			Payload:   types.ErrorPayload{Code: code, Message: msg},
		})
		return
	}
	metrics.MessagesDispatched.WithLabelValues(string(frame.Type), "ok").Inc()
}
