package types

// ErrorCode is the machine-readable failure code carried by error,
// *_error and game_error payloads.
type ErrorCode string

const (
	ErrValidation           ErrorCode = "VALIDATION_ERROR"
	ErrUnauthenticated      ErrorCode = "UNAUTHENTICATED"
	ErrAuthFailed           ErrorCode = "AUTH_FAILED"
	ErrAuthExpired          ErrorCode = "AUTH_EXPIRED"
	ErrAuthTimeout          ErrorCode = "AUTH_TIMEOUT"
	ErrRoomNotFound         ErrorCode = "ROOM_NOT_FOUND"
	ErrRoomAccessDenied     ErrorCode = "ROOM_ACCESS_DENIED"
	ErrRoomClosed           ErrorCode = "ROOM_CLOSED"
	ErrRoomInGame           ErrorCode = "ROOM_IN_GAME"
	ErrRoomFull             ErrorCode = "ROOM_FULL"
	ErrRequestInProgress    ErrorCode = "REQUEST_IN_PROGRESS"
	ErrCodeGenerationFailed ErrorCode = "CODE_GENERATION_FAILED"
	ErrNotInRoom            ErrorCode = "NOT_IN_ROOM"
	ErrNotHost              ErrorCode = "NOT_HOST"
	ErrBadPhase             ErrorCode = "BAD_PHASE"
	ErrIllegalMove          ErrorCode = "ILLEGAL_MOVE"
	ErrInvalidMessage       ErrorCode = "INVALID_MESSAGE"
	ErrMessageTooLarge      ErrorCode = "MESSAGE_TOO_LARGE"
	ErrRateLimited          ErrorCode = "RATE_LIMITED"
	ErrInternal             ErrorCode = "INTERNAL_ERROR"
)

// WebSocket close codes used by the handshake and lifecycle paths.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseInvalidData      = 1007
	CloseAuthFailed       = 4001
	CloseAuthExpired      = 4002
	CloseRoomNotFound     = 4003
	CloseRoomAccessDenied = 4004
	CloseAuthTimeout      = 4005
)
