package glicko

import (
	"fmt"
	"time"
)

// PlayerHandle identifies a registered player. Handles are issued
// sequentially and never reused.
type PlayerHandle struct{ index int }

// Index is the handle's stable integer identity.
func (h PlayerHandle) Index() int { return h.index }

func (h PlayerHandle) String() string { return fmt.Sprintf("player#%d", h.index) }

// Evidence is one game collected during the open rating period: the
// opponent's internal rating snapshot and this player's score.
type Evidence struct {
	OpponentRating    float64 // mu_j
	OpponentDeviation float64 // phi_j
	Score             float64
}

type player struct {
	rating       InternalRating
	registeredAt time.Time
	// closed-period count at registration; periods before it never touch this player
	registeredPeriod uint32
	pending          []Evidence
}

// playerStore is an append-only registry of player state.
type playerStore struct {
	players []player
}

func (s *playerStore) len() int { return len(s.players) }

func (s *playerStore) register(r PublicRating, at time.Time, period uint32) PlayerHandle {
	s.players = append(s.players, player{
		rating:           r.ToInternal(),
		registeredAt:     at,
		registeredPeriod: period,
	})
	return PlayerHandle{index: len(s.players) - 1}
}

func (s *playerStore) get(h PlayerHandle) (*player, error) {
	if h.index < 0 || h.index >= len(s.players) {
		return nil, fmt.Errorf("%w: %v (have %d players)", ErrUnknownPlayer, h, len(s.players))
	}
	return &s.players[h.index], nil
}

func (s *playerStore) recordResult(h PlayerHandle, opponent InternalRating, score float64) error {
	p, err := s.get(h)
	if err != nil {
		return err
	}
	p.pending = append(p.pending, Evidence{
		OpponentRating:    opponent.rating,
		OpponentDeviation: opponent.deviation,
		Score:             score,
	})
	return nil
}

// peek returns the current rating and pending evidence without clearing it.
// The slice must not be modified by the caller.
func (s *playerStore) peek(h PlayerHandle) (InternalRating, []Evidence, error) {
	p, err := s.get(h)
	if err != nil {
		return InternalRating{}, nil, err
	}
	return p.rating, p.pending, nil
}

// drainAndClose returns the current rating and pending evidence and empties
// the accumulator.
func (s *playerStore) drainAndClose(h PlayerHandle) (InternalRating, []Evidence, error) {
	p, err := s.get(h)
	if err != nil {
		return InternalRating{}, nil, err
	}
	pending := p.pending
	p.pending = nil
	return p.rating, pending, nil
}

func (s *playerStore) replace(h PlayerHandle, r InternalRating) error {
	p, err := s.get(h)
	if err != nil {
		return err
	}
	p.rating = r
	return nil
}
