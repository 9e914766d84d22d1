// Package store persists rating engine snapshots. Postgres (pgx) and
// SQLite backends share the same three-table layout: one header row per
// snapshot revision, one row per player, one row per pending game.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"instant-glicko2/server/glicko"
)

// ErrNotFound is returned by LoadEngine when no snapshot has the name.
var ErrNotFound = errors.New("store: snapshot not found")

// Store saves and loads engine snapshots by name. Every save is a new
// revision; loads return the latest one.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	SaveEngine(ctx context.Context, name string, st glicko.State) (uuid.UUID, error)
	LoadEngine(ctx context.Context, name string) (glicko.State, error)
	Close() error
}

// Open picks a backend from the DSN: postgres:// and postgresql:// go to
// Postgres, anything else is a SQLite path (an optional "sqlite:" prefix is
// stripped).
func Open(ctx context.Context, dsn string, log zerolog.Logger) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := OpenPostgres(ctx, dsn, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	case strings.TrimSpace(dsn) == "":
		return nil, errors.New("store: empty DSN")
	default:
		s, err := OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"), log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

/* -----------------------------
   Row mapping shared by backends
------------------------------*/

type header struct {
	StartRating          float64
	StartDeviation       float64
	StartVolatility      float64
	VolatilityChange     float64
	ConvergenceTolerance float64
	RatingPeriodNS       int64
	MaxDeviation         float64
	EpochNS              *int64
	ClosedPeriods        int64
}

type playerRow struct {
	Handle           int
	Mu               float64
	Phi              float64
	Sigma            float64
	RegisteredAtNS   *int64
	RegisteredPeriod int64
}

type evidenceRow struct {
	Handle      int
	Seq         int
	OpponentMu  float64
	OpponentPhi float64
	Score       float64
}

// Zero times are stored as NULL; every other time, the Unix epoch
// included, as nanoseconds.
func toNanos(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ns := t.UnixNano()
	return &ns
}

func fromNanos(ns *int64) time.Time {
	if ns == nil {
		return time.Time{}
	}
	return time.Unix(0, *ns).UTC()
}

func rowsOf(st glicko.State) (header, []playerRow, []evidenceRow) {
	s := st.Settings
	h := header{
		StartRating:          s.StartRating().Rating(),
		StartDeviation:       s.StartRating().Deviation(),
		StartVolatility:      s.StartRating().Volatility(),
		VolatilityChange:     s.VolatilityChange(),
		ConvergenceTolerance: s.ConvergenceTolerance(),
		RatingPeriodNS:       int64(s.RatingPeriodDuration()),
		MaxDeviation:         s.MaxDeviation(),
		EpochNS:              toNanos(st.Epoch),
		ClosedPeriods:        int64(st.ClosedPeriods),
	}
	players := make([]playerRow, 0, len(st.Players))
	var evidence []evidenceRow
	for i, p := range st.Players {
		players = append(players, playerRow{
			Handle:           i,
			Mu:               p.Rating.Rating(),
			Phi:              p.Rating.Deviation(),
			Sigma:            p.Rating.Volatility(),
			RegisteredAtNS:   toNanos(p.RegisteredAt),
			RegisteredPeriod: int64(p.RegisteredPeriod),
		})
		for j, ev := range p.Pending {
			evidence = append(evidence, evidenceRow{
				Handle:      i,
				Seq:         j,
				OpponentMu:  ev.OpponentRating,
				OpponentPhi: ev.OpponentDeviation,
				Score:       ev.Score,
			})
		}
	}
	return h, players, evidence
}

func assemble(h header, players []playerRow, evidence []evidenceRow) (glicko.State, error) {
	start, err := glicko.NewPublicRating(h.StartRating, h.StartDeviation, h.StartVolatility)
	if err != nil {
		return glicko.State{}, fmt.Errorf("snapshot start rating: %w", err)
	}
	settings, err := glicko.NewSettings(start, h.VolatilityChange, h.ConvergenceTolerance,
		time.Duration(h.RatingPeriodNS), glicko.WithMaxDeviation(h.MaxDeviation))
	if err != nil {
		return glicko.State{}, fmt.Errorf("snapshot settings: %w", err)
	}
	if h.ClosedPeriods < 0 || h.ClosedPeriods > int64(^uint32(0)) {
		return glicko.State{}, fmt.Errorf("snapshot closed periods %d out of range", h.ClosedPeriods)
	}

	sort.Slice(players, func(i, j int) bool { return players[i].Handle < players[j].Handle })
	st := glicko.State{
		Settings:      settings,
		Epoch:         fromNanos(h.EpochNS),
		ClosedPeriods: uint32(h.ClosedPeriods),
		Players:       make([]glicko.PlayerState, len(players)),
	}
	for i, p := range players {
		if p.Handle != i {
			return glicko.State{}, fmt.Errorf("snapshot player handles not contiguous at %d (got %d)", i, p.Handle)
		}
		r, err := glicko.NewInternalRating(p.Mu, p.Phi, p.Sigma)
		if err != nil {
			return glicko.State{}, fmt.Errorf("snapshot player %d: %w", i, err)
		}
		if p.RegisteredPeriod < 0 || p.RegisteredPeriod > h.ClosedPeriods {
			return glicko.State{}, fmt.Errorf("snapshot player %d registered period %d out of range", i, p.RegisteredPeriod)
		}
		st.Players[i] = glicko.PlayerState{
			Rating:           r,
			RegisteredAt:     fromNanos(p.RegisteredAtNS),
			RegisteredPeriod: uint32(p.RegisteredPeriod),
		}
	}

	sort.Slice(evidence, func(i, j int) bool {
		if evidence[i].Handle != evidence[j].Handle {
			return evidence[i].Handle < evidence[j].Handle
		}
		return evidence[i].Seq < evidence[j].Seq
	})
	for _, ev := range evidence {
		if ev.Handle < 0 || ev.Handle >= len(st.Players) {
			return glicko.State{}, fmt.Errorf("snapshot evidence for unknown player %d", ev.Handle)
		}
		p := &st.Players[ev.Handle]
		p.Pending = append(p.Pending, glicko.Evidence{
			OpponentRating:    ev.OpponentMu,
			OpponentDeviation: ev.OpponentPhi,
			Score:             ev.Score,
		})
	}
	return st, nil
}
