package glicko

import (
	"fmt"
	"strings"
)

// MatchResult is a game outcome from one player's point of view. Only Win,
// Loss and Draw are meaningful; any other value scores as a draw and is its
// own inverse.
type MatchResult uint8

const (
	Win MatchResult = iota
	Loss
	Draw
)

// Invert returns the same result seen from the opponent's side.
func (m MatchResult) Invert() MatchResult {
	switch m {
	case Win:
		return Loss
	case Loss:
		return Win
	default:
		return m
	}
}

// Score maps the result to a Glicko-2 score: 1, 0 or 0.5.
func (m MatchResult) Score() float64 {
	switch m {
	case Win:
		return 1.0
	case Loss:
		return 0.0
	default:
		return 0.5
	}
}

func (m MatchResult) String() string {
	switch m {
	case Win:
		return "win"
	case Loss:
		return "loss"
	default:
		return "draw"
	}
}

// ParseMatchResult accepts "win", "loss" or "draw" in any case.
func ParseMatchResult(s string) (MatchResult, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "win":
		return Win, nil
	case "loss":
		return Loss, nil
	case "draw":
		return Draw, nil
	}
	return Draw, fmt.Errorf("invalid match result %q", s)
}
