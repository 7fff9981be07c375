package game

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ludoverse/backend/internal/v1/metrics"
	"github.com/ludoverse/backend/internal/v1/types"
)

// Session serializes all engine access for one room's game. Actions from
// concurrent connections queue on the mutex and apply in arrival order.
type Session struct {
	mu     sync.Mutex
	roomID types.RoomIdType
	state  *State
	rng    *rand.Rand
	seats  map[types.UserIdType]int
}

// NewSession builds a session from the occupied seats of a room snapshot and
// returns the opening events. Seed selects the dice sequence; pass 0 for a
// time-based seed.
func NewSession(room *types.RoomSnapshot, rules Ruleset, seed int64) (*Session, []Event, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var players []Player
	seats := make(map[types.UserIdType]int)
	for _, seat := range room.Seats {
		if seat.UserID == nil {
			continue
		}
		players = append(players, Player{
			UserID: *seat.UserID,
			Seat:   seat.SeatIndex,
			Color:  seatColors[seat.SeatIndex%len(seatColors)],
		})
		seats[types.UserIdType(*seat.UserID)] = seat.SeatIndex
	}
	if len(players) < 2 {
		return nil, nil, fmt.Errorf("room %s has %d occupied seats, need at least 2", room.RoomID, len(players))
	}

	state, events := New(players, rules)
	return &Session{
		roomID: types.RoomIdType(room.RoomID),
		state:  state,
		rng:    rand.New(rand.NewSource(seed)),
		seats:  seats,
	}, events, nil
}

// Apply maps the user to their seat and runs one action through the engine.
func (s *Session) Apply(userID types.UserIdType, kind types.GameActionKind, moveID string, targetOwner int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat, ok := s.seats[userID]
	if !ok {
		return nil, &RuleError{Code: types.ErrNotInRoom, Message: "user has no seat in this game"}
	}
	return s.state.Process(Action{Kind: kind, Seat: seat, MoveID: moveID, TargetOwner: targetOwner}, s.rng)
}

// StateJSON marshals the full game state under the session lock, for
// game_state frames sent to reconnecting clients.
func (s *Session) StateJSON() (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.state)
}

// Finished reports whether the game reached its terminal phase.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase == PhaseFinished
}

// SeatOf returns the seat bound to the user, if any.
func (s *Session) SeatOf(userID types.UserIdType) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[userID]
	return seat, ok
}

// Registry tracks the live game session per room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.RoomIdType]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[types.RoomIdType]*Session)}
}

// Put registers a session for its room, replacing any stale one.
func (r *Registry) Put(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.roomID]; !exists {
		metrics.ActiveGameSessions.Inc()
	}
	r.sessions[session.roomID] = session
}

// Get returns the live session for a room, if one exists.
func (r *Registry) Get(roomID types.RoomIdType) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[roomID]
	return session, ok
}

// Remove drops a room's session, typically when the room closes.
func (r *Registry) Remove(roomID types.RoomIdType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[roomID]; exists {
		delete(r.sessions, roomID)
		metrics.ActiveGameSessions.Dec()
	}
}
