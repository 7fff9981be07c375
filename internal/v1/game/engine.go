package game

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/ludoverse/backend/internal/v1/types"
)

// Action is a decoded game_action attributed to a seat.
type Action struct {
	Kind        types.GameActionKind
	Seat        int
	MoveID      string
	TargetOwner int
}

// RuleError is a rejected action. The state is guaranteed unchanged when a
// RuleError with code BAD_PHASE or ILLEGAL_MOVE is returned before any event
// was produced.
type RuleError struct {
	Code    types.ErrorCode
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badPhase(format string, args ...any) *RuleError {
	return &RuleError{Code: types.ErrBadPhase, Message: fmt.Sprintf(format, args...)}
}

func illegalMove(format string, args ...any) *RuleError {
	return &RuleError{Code: types.ErrIllegalMove, Message: fmt.Sprintf(format, args...)}
}

// Process advances the state machine with one action. Dice values are drawn
// from rng, so a seeded source makes the whole game deterministic. The
// returned events are the only observable output; on error the state is
// unchanged.
func (s *State) Process(action Action, rng *rand.Rand) ([]Event, error) {
	s.ensureSafe()

	if s.Phase == PhaseFinished {
		return nil, badPhase("game is finished")
	}

	switch action.Kind {
	case types.GameActionRoll:
		return s.processRoll(action, rng)
	case types.GameActionMove:
		return s.processMove(action)
	case types.GameActionCaptureChoice:
		return s.processCaptureChoice(action)
	case types.GameActionStartGame:
		return nil, badPhase("game already started")
	default:
		return nil, illegalMove("unknown action kind %q", action.Kind)
	}
}

func (s *State) processRoll(action Action, rng *rand.Rand) ([]Event, error) {
	if s.Phase != PhaseAwaitingRoll {
		return nil, badPhase("expected a %s action", s.Phase)
	}
	if action.Seat != s.currentSeat() {
		return nil, illegalMove("not seat %d's turn", action.Seat)
	}

	value := rng.Intn(6) + 1
	s.Turn.Rolls = append(s.Turn.Rolls, value)
	if value == 6 {
		s.Turn.ConsecutiveSixes++
	} else {
		s.Turn.ConsecutiveSixes = 0
	}

	var events []Event
	seat := s.currentSeat()
	s.emit(&events, Event{Type: EventDiceRolled, Seat: intPtr(seat), Value: intPtr(value)})

	// Three consecutive sixes forfeit the whole turn: every queued roll is
	// discarded and nothing moves.
	if s.Turn.ConsecutiveSixes >= 3 {
		s.emit(&events, Event{Type: EventThreeSixesPenalty, Seat: intPtr(seat)})
		s.Turn.Rolls = nil
		s.endTurn(&events, "three_sixes")
		return events, nil
	}

	// A six grants another roll before any move is chosen.
	if value == 6 {
		s.emit(&events, Event{Type: EventBonusRollGranted, Seat: intPtr(seat)})
		return events, nil
	}

	s.resolveQueue(&events)
	return events, nil
}

func (s *State) processMove(action Action) ([]Event, error) {
	if s.Phase != PhaseAwaitingMove {
		return nil, badPhase("expected a %s action", s.Phase)
	}
	if action.Seat != s.currentSeat() {
		return nil, illegalMove("not seat %d's turn", action.Seat)
	}
	if len(s.Turn.Rolls) == 0 {
		return nil, badPhase("no roll to allocate")
	}

	raw := s.Turn.Rolls[0]
	var chosen *MoveOption
	for _, opt := range s.legalMoves(action.Seat, raw) {
		if opt.ID == action.MoveID {
			o := opt
			chosen = &o
			break
		}
	}
	if chosen == nil {
		return nil, illegalMove("move %q is not legal for roll %d", action.MoveID, raw)
	}

	var events []Event
	s.Turn.Rolls = s.Turn.Rolls[1:]
	if s.applyAndResolve(*chosen, &events) {
		return events, nil
	}
	s.resolveQueue(&events)
	return events, nil
}

func (s *State) processCaptureChoice(action Action) ([]Event, error) {
	if s.Phase != PhaseAwaitingCaptureChoice || s.Pending == nil {
		return nil, badPhase("no capture choice pending")
	}
	if action.Seat != s.currentSeat() {
		return nil, illegalMove("not seat %d's turn", action.Seat)
	}
	victims, ok := s.Pending.Groups[action.TargetOwner]
	if !ok {
		return nil, illegalMove("seat %d is not a capturable target", action.TargetOwner)
	}

	var events []Event
	s.captureGroup(action.TargetOwner, victims, &events)
	s.Pending = nil
	s.emit(&events, Event{Type: EventBonusRollGranted, Seat: intPtr(s.currentSeat())})
	s.Phase = PhaseAwaitingRoll
	return events, nil
}

// resolveQueue consumes queued rolls until the player must decide something
// or the turn ends: rolls without legal moves are discarded, a single legal
// move is applied automatically, and multiple options pause for a move.
func (s *State) resolveQueue(events *[]Event) {
	for {
		if s.Phase == PhaseFinished {
			return
		}
		if len(s.Turn.Rolls) == 0 {
			s.endTurn(events, "completed")
			return
		}

		raw := s.Turn.Rolls[0]
		seat := s.currentSeat()
		opts := s.legalMoves(seat, raw)

		if len(opts) == 0 {
			s.emit(events, Event{Type: EventNoLegalMoves, Seat: intPtr(seat), Value: intPtr(raw)})
			s.Turn.Rolls = s.Turn.Rolls[1:]
			continue
		}
		if len(opts) == 1 {
			s.Turn.Rolls = s.Turn.Rolls[1:]
			if s.applyAndResolve(opts[0], events) {
				return
			}
			continue
		}

		s.Phase = PhaseAwaitingMove
		s.emit(events, Event{Type: EventMoveRequested, Seat: intPtr(seat), Value: intPtr(raw), Options: opts})
		return
	}
}

// applyAndResolve applies a move and reports whether control returns to the
// caller (capture choice pending, bonus roll granted, or game over).
func (s *State) applyAndResolve(opt MoveOption, events *[]Event) bool {
	captured, pending, finished := s.applyMove(opt, events)
	if finished || pending {
		return true
	}
	if captured {
		s.emit(events, Event{Type: EventBonusRollGranted, Seat: intPtr(s.currentSeat())})
		s.Phase = PhaseAwaitingRoll
		return true
	}
	s.Phase = PhaseAwaitingRoll
	return false
}

// applyMove mutates token positions for one chosen option, handling splits,
// merges, captures, and heaven arrival.
func (s *State) applyMove(opt MoveOption, events *[]Event) (captured, pending, finished bool) {
	tokens := make([]*Token, len(opt.TokenIDs))
	for i, id := range opt.TokenIDs {
		tokens[i] = s.token(id)
	}
	seat := tokens[0].Owner
	fromHell := tokens[0].State == TokenHell
	oldStack := tokens[0].StackID

	// Partial stack move: detach the moving subset first.
	if oldStack != "" && len(opt.TokenIDs) < len(s.stackTokens(oldStack)) {
		var newID string
		if len(tokens) > 1 {
			newID = s.newStackID()
		}
		for _, t := range tokens {
			t.StackID = newID
		}
		s.emit(events, Event{Type: EventStackSplit, Seat: intPtr(seat), StackID: oldStack, TokenIDs: opt.TokenIDs})
		if rest := s.stackTokens(oldStack); len(rest) == 1 {
			rest[0].StackID = ""
		}
	}

	for _, t := range tokens {
		if fromHell {
			t.State = TokenRoad
			t.Progress = 0
			continue
		}
		t.Progress = opt.To
		switch {
		case t.Progress == s.Rules.maxProgress():
			t.State = TokenHeaven
			t.StackID = ""
		case t.Progress >= s.Rules.RoadLength:
			t.State = TokenHomestretch
		}
	}
	s.emit(events, Event{Type: EventTokenMoved, Seat: intPtr(seat), MoveID: opt.ID, TokenIDs: opt.TokenIDs, To: intPtr(opt.To)})

	if tokens[0].State == TokenHeaven {
		for _, t := range tokens {
			s.emit(events, Event{Type: EventTokenReachedHeaven, Seat: intPtr(seat), TokenIDs: []string{t.ID}})
		}
		if s.seatFinished(seat) && !s.isRanked(seat) {
			s.Finished = append(s.Finished, seat)
			if s.Rules.EndOnFirstFinish || len(s.Finished) >= len(s.Players)-1 {
				s.emit(events, Event{Type: EventGameEnded, Ranks: s.Finished})
				s.Phase = PhaseFinished
				return false, false, true
			}
		}
		return false, false, false
	}

	if tokens[0].State != TokenRoad {
		return false, false, false
	}

	// Landing resolution on the shared road.
	square := s.absolutePosition(tokens[0])
	movers := map[string]bool{}
	for _, t := range tokens {
		movers[t.ID] = true
	}

	var own, foes []*Token
	for _, o := range s.tokensAtRoadSquare(square) {
		if movers[o.ID] {
			continue
		}
		if o.Owner == seat {
			own = append(own, o)
		} else {
			foes = append(foes, o)
		}
	}

	if len(own) > 0 {
		stackID := ""
		for _, o := range own {
			if o.StackID != "" {
				stackID = o.StackID
				break
			}
		}
		if stackID == "" {
			stackID = tokens[0].StackID
		}
		if stackID == "" {
			stackID = s.newStackID()
		}
		merged := append(append([]*Token{}, own...), tokens...)
		ids := make([]string, len(merged))
		for i, t := range merged {
			t.StackID = stackID
			ids[i] = t.ID
		}
		sort.Strings(ids)
		s.emit(events, Event{Type: EventStackMerged, Seat: intPtr(seat), StackID: stackID, TokenIDs: ids})
	}

	if len(foes) > 0 && !s.safe[square] {
		groups := map[int][]string{}
		for _, f := range foes {
			groups[f.Owner] = append(groups[f.Owner], f.ID)
		}

		if len(groups) > 1 && s.Rules.CaptureChoiceRequired {
			moverIDs := make([]string, len(tokens))
			for i, t := range tokens {
				moverIDs[i] = t.ID
			}
			s.Pending = &pendingCapture{Square: square, MoverIDs: moverIDs, Groups: groups}
			s.Phase = PhaseAwaitingCaptureChoice
			s.emit(events, Event{Type: EventCaptureChoiceRequested, Seat: intPtr(seat), Groups: groups})
			return false, true, false
		}

		owners := make([]int, 0, len(groups))
		for owner := range groups {
			owners = append(owners, owner)
		}
		sort.Ints(owners)
		for _, owner := range owners {
			s.captureGroup(owner, groups[owner], events)
		}
		return true, false, false
	}

	return false, false, false
}

// captureGroup sends one owner's tokens on a square back to HELL.
func (s *State) captureGroup(owner int, tokenIDs []string, events *[]Event) {
	ids := append([]string{}, tokenIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		t := s.token(id)
		t.State = TokenHell
		t.Progress = 0
		t.StackID = ""
	}
	s.emit(events, Event{Type: EventCaptureOccurred, Owner: intPtr(owner), TokenIDs: ids})
}

// endTurn rotates to the next unfinished player and opens their turn.
func (s *State) endTurn(events *[]Event, reason string) {
	s.emit(events, Event{Type: EventTurnEnded, Seat: intPtr(s.currentSeat()), Reason: reason})
	s.Turn = Turn{}
	for i := 1; i <= len(s.Players); i++ {
		next := (s.CurrentTurn + i) % len(s.Players)
		if !s.seatFinished(s.Players[next].Seat) {
			s.CurrentTurn = next
			break
		}
	}
	s.beginTurn(events)
}

func (s *State) beginTurn(events *[]Event) {
	s.Phase = PhaseAwaitingRoll
	s.Turn = Turn{Seat: s.currentSeat()}
	s.emit(events, Event{Type: EventTurnStarted, Seat: intPtr(s.currentSeat())})
	s.emit(events, Event{Type: EventRollGranted, Seat: intPtr(s.currentSeat())})
}
