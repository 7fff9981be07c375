package types

import (
	"errors"
	"regexp"

	"github.com/ludoverse/backend/internal/v1/auth"
)

// --- Core Domain Types ---

// UserIdType represents the authenticated subject of a connection.
type UserIdType string

// ConnectionIdType represents a unique identifier for a socket connection.
type ConnectionIdType string

// RoomIdType represents a unique identifier for a game room.
type RoomIdType string

// RoomCodeType is the short join code shared between players.
type RoomCodeType string

// DisplayNameType represents the human-readable name for a player.
type DisplayNameType string

// RoomStatus tracks the room lifecycle.
type RoomStatus string

const (
	RoomStatusOpen         RoomStatus = "open"
	RoomStatusReadyToStart RoomStatus = "ready_to_start"
	RoomStatusInGame       RoomStatus = "in_game"
	RoomStatusClosed       RoomStatus = "closed"
)

// RoomVisibility controls whether a room is listed publicly.
type RoomVisibility string

const (
	VisibilityPrivate RoomVisibility = "private"
	VisibilityPublic  RoomVisibility = "public"
)

// ReadyStatus is the per-seat ready flag.
type ReadyStatus string

const (
	ReadyStatusNotReady ReadyStatus = "not_ready"
	ReadyStatusReady    ReadyStatus = "ready"
)

// SeatStatus tracks seat occupancy.
type SeatStatus string

const (
	SeatStatusEmpty    SeatStatus = "empty"
	SeatStatusOccupied SeatStatus = "occupied"
	SeatStatusLeft     SeatStatus = "left"
)

// --- Snapshots ---

// SeatSnapshot is the wire representation of a single seat.
type SeatSnapshot struct {
	SeatIndex   int     `json:"seat_index"`
	UserID      *string `json:"user_id"`
	DisplayName *string `json:"display_name"`
	Ready       bool    `json:"ready"`
	Connected   bool    `json:"connected"`
	IsHost      bool    `json:"is_host"`
}

// RoomSnapshot is the wire representation of a room, delivered on
// authentication and on every room_updated broadcast.
type RoomSnapshot struct {
	RoomID     string         `json:"room_id"`
	Code       string         `json:"code"`
	Status     RoomStatus     `json:"status"`
	Visibility RoomVisibility `json:"visibility"`
	RulesetID  string         `json:"ruleset_id"`
	MaxPlayers int            `json:"max_players"`
	Seats      []SeatSnapshot `json:"seats"`
	Version    int            `json:"version"`
}

// OccupiedSeats returns the seats that currently have a user.
func (s *RoomSnapshot) OccupiedSeats() []SeatSnapshot {
	out := make([]SeatSnapshot, 0, len(s.Seats))
	for _, seat := range s.Seats {
		if seat.UserID != nil {
			out = append(out, seat)
		}
	}
	return out
}

// SeatOf returns the seat occupied by the given user, or nil.
func (s *RoomSnapshot) SeatOf(userID UserIdType) *SeatSnapshot {
	for i := range s.Seats {
		if s.Seats[i].UserID != nil && *s.Seats[i].UserID == string(userID) {
			return &s.Seats[i]
		}
	}
	return nil
}

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidateRoomCode ensures a join code is well formed before hitting storage.
func ValidateRoomCode(code string) error {
	if !roomCodePattern.MatchString(code) {
		return errors.New("room code must be 6 characters A-Z 0-9")
	}
	return nil
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for bearer token authentication.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}
