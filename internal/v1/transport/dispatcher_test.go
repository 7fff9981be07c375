package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ludoverse/backend/internal/v1/game"
	"github.com/ludoverse/backend/internal/v1/store"
	"github.com/ludoverse/backend/internal/v1/types"
)

func TestErrorReplyType(t *testing.T) {
	assert.Equal(t, types.MessageTypeCreateRoomError, errorReplyType(types.MessageTypeCreateRoom))
	assert.Equal(t, types.MessageTypeJoinRoomError, errorReplyType(types.MessageTypeJoinRoom))
	assert.Equal(t, types.MessageTypeGameError, errorReplyType(types.MessageTypeStartGame))
	assert.Equal(t, types.MessageTypeGameError, errorReplyType(types.MessageTypeGameAction))
	assert.Equal(t, types.MessageTypeError, errorReplyType(types.MessageTypeToggleReady))
}

func TestMapError_StoreSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code types.ErrorCode
	}{
		{store.ErrRoomNotFound, types.ErrRoomNotFound},
		{store.ErrRoomClosed, types.ErrRoomClosed},
		{store.ErrRoomFull, types.ErrRoomFull},
		{store.ErrRoomInGameNotMember, types.ErrRoomInGame},
		{store.ErrRoomNotReady, types.ErrBadPhase},
		{store.ErrNotInRoom, types.ErrNotInRoom},
		{store.ErrNotHost, types.ErrNotHost},
		{store.ErrRequestInProgress, types.ErrRequestInProgress},
		{store.ErrCodeGenerationFailed, types.ErrCodeGenerationFailed},
	}
	for _, tc := range cases {
		code, _ := mapError(tc.err)
		assert.Equal(t, tc.code, code, "for %v", tc.err)

		// Wrapped sentinels map identically.
		code, _ = mapError(fmt.Errorf("while joining: %w", tc.err))
		assert.Equal(t, tc.code, code, "for wrapped %v", tc.err)
	}
}

func TestMapError_RuleErrorsKeepTheirCode(t *testing.T) {
	code, msg := mapError(&game.RuleError{Code: types.ErrIllegalMove, Message: "not your turn"})
	assert.Equal(t, types.ErrIllegalMove, code)
	assert.Equal(t, "not your turn", msg)
}

func TestMapError_ClientErrors(t *testing.T) {
	code, msg := mapError(cerr(types.ErrValidation, "max_players must be between %d and %d", 2, 4))
	assert.Equal(t, types.ErrValidation, code)
	assert.Equal(t, "max_players must be between 2 and 4", msg)
}

func TestMapError_UnknownBecomesInternal(t *testing.T) {
	code, msg := mapError(errors.New("pg: connection refused"))
	assert.Equal(t, types.ErrInternal, code)
	// Internal detail never leaks onto the wire.
	assert.Equal(t, "internal error", msg)
}
