package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"instant-glicko2/server/glicko"
)

//go:embed schema.sql
var schema embed.FS

// DB is the Postgres backend.
type DB struct {
	*pgxpool.Pool
	log zerolog.Logger
}

func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*DB, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	log.Info().Str("backend", "postgres").Msg("store opened")
	return &DB{Pool: p, log: log}, nil
}

func (db *DB) Close() error                   { db.Pool.Close(); return nil }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) Migrate(ctx context.Context) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	db.log.Info().Msg("postgres schema applied")
	return nil
}

/* -----------------------------
   Snapshots
------------------------------*/

// SaveEngine writes the state as a new revision under name.
func (db *DB) SaveEngine(ctx context.Context, name string, st glicko.State) (uuid.UUID, error) {
	id := uuid.New()
	h, players, evidence := rowsOf(st)

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx) // safe if already committed

	if _, err := tx.Exec(ctx, `
		INSERT INTO engine_snapshots(
		  id, name, start_rating, start_deviation, start_volatility,
		  volatility_change, convergence_tolerance, rating_period_ns,
		  max_deviation, epoch_ns, closed_periods)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, id, name, h.StartRating, h.StartDeviation, h.StartVolatility,
		h.VolatilityChange, h.ConvergenceTolerance, h.RatingPeriodNS,
		h.MaxDeviation, h.EpochNS, h.ClosedPeriods); err != nil {
		return uuid.Nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"snapshot_players"},
		[]string{"snapshot_id", "handle", "mu", "phi", "sigma", "registered_at_ns", "registered_period"},
		pgx.CopyFromSlice(len(players), func(i int) ([]any, error) {
			p := players[i]
			return []any{id, p.Handle, p.Mu, p.Phi, p.Sigma, p.RegisteredAtNS, p.RegisteredPeriod}, nil
		}),
	); err != nil {
		return uuid.Nil, fmt.Errorf("copy players: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"snapshot_evidence"},
		[]string{"snapshot_id", "handle", "seq", "opponent_mu", "opponent_phi", "score"},
		pgx.CopyFromSlice(len(evidence), func(i int) ([]any, error) {
			ev := evidence[i]
			return []any{id, ev.Handle, ev.Seq, ev.OpponentMu, ev.OpponentPhi, ev.Score}, nil
		}),
	); err != nil {
		return uuid.Nil, fmt.Errorf("copy evidence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	db.log.Debug().Str("name", name).Str("id", id.String()).Int("players", len(players)).Msg("snapshot saved")
	return id, nil
}

// LoadEngine reads the latest revision saved under name.
func (db *DB) LoadEngine(ctx context.Context, name string) (glicko.State, error) {
	var (
		id uuid.UUID
		h  header
	)
	err := db.QueryRow(ctx, `
		SELECT id, start_rating, start_deviation, start_volatility,
		       volatility_change, convergence_tolerance, rating_period_ns,
		       max_deviation, epoch_ns, closed_periods
		  FROM engine_snapshots
		 WHERE name = $1
		 ORDER BY revision DESC
		 LIMIT 1
	`, name).Scan(&id, &h.StartRating, &h.StartDeviation, &h.StartVolatility,
		&h.VolatilityChange, &h.ConvergenceTolerance, &h.RatingPeriodNS,
		&h.MaxDeviation, &h.EpochNS, &h.ClosedPeriods)
	if errors.Is(err, pgx.ErrNoRows) {
		return glicko.State{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return glicko.State{}, err
	}

	rows, err := db.Query(ctx, `
		SELECT handle, mu, phi, sigma, registered_at_ns, registered_period
		  FROM snapshot_players WHERE snapshot_id = $1 ORDER BY handle
	`, id)
	if err != nil {
		return glicko.State{}, err
	}
	var players []playerRow
	for rows.Next() {
		var p playerRow
		if err := rows.Scan(&p.Handle, &p.Mu, &p.Phi, &p.Sigma, &p.RegisteredAtNS, &p.RegisteredPeriod); err != nil {
			rows.Close()
			return glicko.State{}, err
		}
		players = append(players, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return glicko.State{}, err
	}

	rows, err = db.Query(ctx, `
		SELECT handle, seq, opponent_mu, opponent_phi, score
		  FROM snapshot_evidence WHERE snapshot_id = $1 ORDER BY handle, seq
	`, id)
	if err != nil {
		return glicko.State{}, err
	}
	defer rows.Close()
	var evidence []evidenceRow
	for rows.Next() {
		var ev evidenceRow
		if err := rows.Scan(&ev.Handle, &ev.Seq, &ev.OpponentMu, &ev.OpponentPhi, &ev.Score); err != nil {
			return glicko.State{}, err
		}
		evidence = append(evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return glicko.State{}, err
	}
	return assemble(h, players, evidence)
}
