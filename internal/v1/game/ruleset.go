package game

import (
	"encoding/json"
	"fmt"
)

// Ruleset carries the board geometry and rule switches for a game. The
// defaults describe the classic board: a 52-square shared road, a 6-square
// private homestretch per player, and four tokens each.
type Ruleset struct {
	RoadLength            int   `json:"road_length"`
	HomestretchLength     int   `json:"homestretch_length"`
	TokensPerPlayer       int   `json:"tokens_per_player"`
	GetOutRolls           []int `json:"get_out_rolls"`
	StartSpacing          int   `json:"start_spacing"`
	SafeOffsets           []int `json:"safe_offsets"`
	CaptureChoiceRequired bool  `json:"capture_choice_required"`
	EndOnFirstFinish      bool  `json:"end_on_first_finish"`
}

// DefaultRuleset returns the classic configuration.
func DefaultRuleset() Ruleset {
	return Ruleset{
		RoadLength:        52,
		HomestretchLength: 6,
		TokensPerPlayer:   4,
		GetOutRolls:       []int{6},
		StartSpacing:      13,
		SafeOffsets:       []int{0, 10},
		EndOnFirstFinish:  true,
	}
}

// ParseRulesetConfig overlays a stored ruleset_config document on the
// defaults. An empty document yields the default ruleset.
func ParseRulesetConfig(raw json.RawMessage) (Ruleset, error) {
	rules := DefaultRuleset()
	if len(raw) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return rules, fmt.Errorf("invalid ruleset config: %w", err)
	}
	if rules.RoadLength <= 0 || rules.HomestretchLength <= 0 ||
		rules.TokensPerPlayer <= 0 || rules.StartSpacing <= 0 {
		return rules, fmt.Errorf("ruleset config has non-positive geometry")
	}
	return rules, nil
}

// maxProgress is the progress value of the final homestretch square; a token
// reaching it exactly enters HEAVEN. Progress 0..RoadLength-1 is ROAD,
// RoadLength..maxProgress-1 is HOMESTRETCH.
func (r Ruleset) maxProgress() int {
	return r.RoadLength + r.HomestretchLength - 1
}

// startIndex is the absolute road square a seat's tokens enter on.
func (r Ruleset) startIndex(seat int) int {
	return (seat * r.StartSpacing) % r.RoadLength
}

// isGetOutRoll reports whether a raw roll releases a token from HELL.
func (r Ruleset) isGetOutRoll(raw int) bool {
	for _, v := range r.GetOutRolls {
		if v == raw {
			return true
		}
	}
	return false
}

// safeSquares returns the set of absolute road indices where captures are
// forbidden: every potential start square plus the configured offsets from
// each start, independent of how many seats are occupied.
func (r Ruleset) safeSquares() map[int]bool {
	safe := make(map[int]bool)
	seats := r.RoadLength / r.StartSpacing
	for seat := 0; seat < seats; seat++ {
		start := r.startIndex(seat)
		for _, off := range r.SafeOffsets {
			safe[(start+off)%r.RoadLength] = true
		}
	}
	return safe
}
