package game

// EventType enumerates the fixed observable event vocabulary. Events are the
// only output clients ever see; state mutations stay private.
type EventType string

const (
	EventGameStarted            EventType = "game_started"
	EventTurnStarted            EventType = "turn_started"
	EventRollGranted            EventType = "roll_granted"
	EventDiceRolled             EventType = "dice_rolled"
	EventThreeSixesPenalty      EventType = "three_sixes_penalty"
	EventNoLegalMoves           EventType = "no_legal_moves"
	EventMoveRequested          EventType = "move_requested"
	EventTokenMoved             EventType = "token_moved"
	EventStackSplit             EventType = "stack_split"
	EventStackMerged            EventType = "stack_merged"
	EventCaptureChoiceRequested EventType = "capture_choice_requested"
	EventCaptureOccurred        EventType = "capture_occurred"
	EventTokenReachedHeaven     EventType = "token_reached_heaven"
	EventBonusRollGranted       EventType = "bonus_roll_granted"
	EventTurnEnded              EventType = "turn_ended"
	EventGameEnded              EventType = "game_ended"
)

// MoveOption is one legal move offered to the current player. ID is what a
// subsequent move action must echo: a token id, a stack id, or
// "stackID:count" for a partial stack move.
type MoveOption struct {
	ID        string   `json:"id"`
	TokenIDs  []string `json:"token_ids"`
	Roll      int      `json:"roll"`
	Effective int      `json:"effective"`
	To        int      `json:"to"`
}

// Event is a single observable game event. Seq is monotone per game. Only
// the fields relevant to the Type are populated.
type Event struct {
	Seq      int          `json:"seq"`
	Type     EventType    `json:"type"`
	Seat     *int         `json:"seat,omitempty"`
	Value    *int         `json:"value,omitempty"`
	MoveID   string       `json:"move_id,omitempty"`
	TokenIDs []string     `json:"token_ids,omitempty"`
	To       *int         `json:"to,omitempty"`
	StackID  string       `json:"stack_id,omitempty"`
	Options  []MoveOption `json:"options,omitempty"`
	Groups   map[int][]string `json:"groups,omitempty"`
	Owner    *int         `json:"owner,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Seats    []int        `json:"seats,omitempty"`
	Ranks    []int        `json:"ranks,omitempty"`
}

func intPtr(v int) *int { return &v }
