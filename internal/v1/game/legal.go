package game

import "fmt"

// legalMoves enumerates every move the seat may make with the given raw
// roll. A unit is either an unstacked token or a whole stack; stacks also
// offer every partial split whose effective roll stays positive and on the
// board. The effective roll is floor(raw / moving-token-count); HELL exits
// use the raw roll and require a configured get-out value.
func (s *State) legalMoves(seat, raw int) []MoveOption {
	s.ensureSafe()
	max := s.Rules.maxProgress()

	var opts []MoveOption
	seenStacks := map[string]bool{}

	for _, t := range s.Tokens {
		if t.Owner != seat {
			continue
		}
		switch t.State {
		case TokenHeaven:
			continue
		case TokenHell:
			if s.Rules.isGetOutRoll(raw) {
				opts = append(opts, MoveOption{
					ID:        t.ID,
					TokenIDs:  []string{t.ID},
					Roll:      raw,
					Effective: raw,
					To:        0,
				})
			}
			continue
		}

		if t.StackID == "" {
			if t.Progress+raw <= max {
				opts = append(opts, MoveOption{
					ID:        t.ID,
					TokenIDs:  []string{t.ID},
					Roll:      raw,
					Effective: raw,
					To:        t.Progress + raw,
				})
			}
			continue
		}

		if seenStacks[t.StackID] {
			continue
		}
		seenStacks[t.StackID] = true
		opts = append(opts, s.stackMoves(t.StackID, raw)...)
	}
	return opts
}

// stackMoves offers the whole-stack move plus every legal partial split.
func (s *State) stackMoves(stackID string, raw int) []MoveOption {
	max := s.Rules.maxProgress()
	tokens := s.stackTokens(stackID)
	height := len(tokens)
	progress := tokens[0].Progress

	ids := make([]string, height)
	for i, t := range tokens {
		ids[i] = t.ID
	}

	var opts []MoveOption
	if eff := raw / height; eff >= 1 && progress+eff <= max {
		opts = append(opts, MoveOption{
			ID:        stackID,
			TokenIDs:  ids,
			Roll:      raw,
			Effective: eff,
			To:        progress + eff,
		})
	}
	for count := 1; count < height; count++ {
		eff := raw / count
		if eff < 1 || progress+eff > max {
			continue
		}
		opts = append(opts, MoveOption{
			ID:        fmt.Sprintf("%s:%d", stackID, count),
			TokenIDs:  ids[:count],
			Roll:      raw,
			Effective: eff,
			To:        progress + eff,
		})
	}
	return opts
}
