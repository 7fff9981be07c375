package game

import (
	"fmt"
	"sort"
)

// Phase is the per-turn state machine position.
type Phase string

const (
	PhaseAwaitingRoll          Phase = "awaiting_roll"
	PhaseAwaitingMove          Phase = "awaiting_move"
	PhaseAwaitingCaptureChoice Phase = "awaiting_capture_choice"
	PhaseFinished              Phase = "finished"
)

// TokenState is the board progression of a single token.
type TokenState string

const (
	TokenHell        TokenState = "hell"
	TokenRoad        TokenState = "road"
	TokenHomestretch TokenState = "homestretch"
	TokenHeaven      TokenState = "heaven"
)

var seatColors = []string{"red", "blue", "green", "yellow"}

// Token is one of a player's four pieces. Progress counts squares traveled
// from the player's start: 0..RoadLength-1 on ROAD, then the homestretch,
// with maxProgress being HEAVEN. Tokens in HELL have no board position.
type Token struct {
	ID       string     `json:"id"`
	Owner    int        `json:"owner"`
	State    TokenState `json:"state"`
	Progress int        `json:"progress"`
	StackID  string     `json:"stack_id,omitempty"`
}

// Player binds a seat to a user for the duration of a game.
type Player struct {
	UserID string `json:"user_id"`
	Seat   int    `json:"seat"`
	Color  string `json:"color"`
}

// Turn holds the dice bookkeeping of the current player's turn. Rolls is the
// queue of unconsumed dice in the order rolled; moves always consume the head.
type Turn struct {
	Seat             int   `json:"seat"`
	Rolls            []int `json:"rolls"`
	ConsecutiveSixes int   `json:"consecutive_sixes"`
}

// pendingCapture is set while the engine waits for a capture_choice.
type pendingCapture struct {
	Square   int            `json:"square"`
	MoverIDs []string       `json:"mover_ids"`
	Groups   map[int][]string `json:"groups"`
}

// State is the complete game state for one room. It is mutated only by
// Process and serialized wholesale into game_started / game_state frames.
type State struct {
	Rules        Ruleset         `json:"rules"`
	Players      []Player        `json:"players"`
	Tokens       []*Token        `json:"tokens"`
	CurrentTurn  int             `json:"current_turn"`
	Phase        Phase           `json:"phase"`
	Turn         Turn            `json:"turn"`
	Finished     []int           `json:"finished"`
	StackCounter int             `json:"stack_counter"`
	NextSeq      int             `json:"next_seq"`
	Pending      *pendingCapture `json:"pending_capture,omitempty"`

	safe map[int]bool
}

// New creates the initial state for the given seat order and emits the
// opening events (game_started, turn_started, roll_granted).
func New(players []Player, rules Ruleset) (*State, []Event) {
	s := &State{
		Rules:       rules,
		Players:     players,
		CurrentTurn: 0,
		Phase:       PhaseAwaitingRoll,
		safe:        rules.safeSquares(),
	}
	for _, p := range players {
		color := seatColors[p.Seat%len(seatColors)]
		for i := 1; i <= rules.TokensPerPlayer; i++ {
			s.Tokens = append(s.Tokens, &Token{
				ID:    fmt.Sprintf("%s-%d", color, i),
				Owner: p.Seat,
				State: TokenHell,
			})
		}
	}

	var events []Event
	s.emit(&events, Event{Type: EventGameStarted, Seats: seatsOf(players)})
	s.beginTurn(&events)
	return s, events
}

func seatsOf(players []Player) []int {
	seats := make([]int, len(players))
	for i, p := range players {
		seats[i] = p.Seat
	}
	return seats
}

// ensureSafe lazily rebuilds the safe-square set after deserialization.
func (s *State) ensureSafe() {
	if s.safe == nil {
		s.safe = s.Rules.safeSquares()
	}
}

func (s *State) currentSeat() int {
	return s.Players[s.CurrentTurn].Seat
}

func (s *State) playerBySeat(seat int) *Player {
	for i := range s.Players {
		if s.Players[i].Seat == seat {
			return &s.Players[i]
		}
	}
	return nil
}

func (s *State) token(id string) *Token {
	for _, t := range s.Tokens {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// stackTokens returns the member tokens of a stack in a deterministic order.
func (s *State) stackTokens(stackID string) []*Token {
	var out []*Token
	for _, t := range s.Tokens {
		if t.StackID == stackID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// absolutePosition maps a ROAD token's progress to its absolute road square.
func (s *State) absolutePosition(t *Token) int {
	start := s.Rules.startIndex(t.Owner)
	return (start + t.Progress) % s.Rules.RoadLength
}

// tokensAtRoadSquare returns all ROAD tokens sitting on the absolute square.
func (s *State) tokensAtRoadSquare(square int) []*Token {
	var out []*Token
	for _, t := range s.Tokens {
		if t.State == TokenRoad && s.absolutePosition(t) == square {
			out = append(out, t)
		}
	}
	return out
}

// seatFinished reports whether every token of a seat reached HEAVEN.
func (s *State) seatFinished(seat int) bool {
	for _, t := range s.Tokens {
		if t.Owner == seat && t.State != TokenHeaven {
			return false
		}
	}
	return true
}

func (s *State) isRanked(seat int) bool {
	for _, f := range s.Finished {
		if f == seat {
			return true
		}
	}
	return false
}

func (s *State) newStackID() string {
	s.StackCounter++
	return fmt.Sprintf("s%d", s.StackCounter)
}

// emit assigns the next monotone sequence number and appends the event.
func (s *State) emit(events *[]Event, e Event) {
	s.NextSeq++
	e.Seq = s.NextSeq
	*events = append(*events, e)
}
