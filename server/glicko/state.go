package glicko

import (
	"fmt"
	"time"
)

// State is a plain copy of an engine's contents, for persistence.
type State struct {
	Settings      Settings
	Epoch         time.Time
	ClosedPeriods uint32
	Players       []PlayerState
}

// PlayerState is one player's record inside a State.
type PlayerState struct {
	Rating           InternalRating
	RegisteredAt     time.Time
	RegisteredPeriod uint32
	Pending          []Evidence
}

// Snapshot copies the engine's state. No periods are closed.
func (e *RatingEngine) Snapshot() State {
	st := State{
		Settings:      e.settings,
		Epoch:         e.epoch,
		ClosedPeriods: e.closed,
		Players:       make([]PlayerState, len(e.players.players)),
	}
	for i, p := range e.players.players {
		st.Players[i] = PlayerState{
			Rating:           p.rating,
			RegisteredAt:     p.registeredAt,
			RegisteredPeriod: p.registeredPeriod,
			Pending:          append([]Evidence(nil), p.pending...),
		}
	}
	return st
}

// Restore rebuilds an engine from a State, re-validating every value.
func Restore(st State, opts ...Option) (*RatingEngine, error) {
	s := st.Settings
	if _, err := NewSettings(s.startRating, s.volatilityChange, s.convergenceTolerance, s.ratingPeriod, WithMaxDeviation(s.maxDeviation)); err != nil {
		return nil, err
	}
	e := StartNewAt(s, st.Epoch, opts...)
	e.closed = st.ClosedPeriods
	e.players.players = make([]player, 0, len(st.Players))
	for i, ps := range st.Players {
		r := ps.Rating
		if err := validate(r.rating, r.deviation, r.volatility); err != nil {
			return nil, fmt.Errorf("player %d: %w", i, err)
		}
		if ps.RegisteredPeriod > st.ClosedPeriods {
			return nil, fmt.Errorf("player %d: registered in period %d after %d closed periods", i, ps.RegisteredPeriod, st.ClosedPeriods)
		}
		for j, ev := range ps.Pending {
			if err := validate(ev.OpponentRating, ev.OpponentDeviation, 1); err != nil {
				return nil, fmt.Errorf("player %d evidence %d: %w", i, j, err)
			}
			if !(ev.Score >= 0 && ev.Score <= 1) {
				return nil, fmt.Errorf("player %d evidence %d: score %v outside [0,1]", i, j, ev.Score)
			}
		}
		e.players.players = append(e.players.players, player{
			rating:           r,
			registeredAt:     ps.RegisteredAt,
			registeredPeriod: ps.RegisteredPeriod,
			pending:          append([]Evidence(nil), ps.Pending...),
		})
	}
	return e, nil
}
