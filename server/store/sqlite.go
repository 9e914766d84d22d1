package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"instant-glicko2/server/glicko"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLite is the embedded single-file backend.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	log = log.With().Str("backend", "sqlite").Str("path", path).Logger()

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "ON"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set PRAGMA %s: %w", p.name, err)
		}
		log.Debug().Str("pragma", p.name).Str("value", p.value).Msg("sqlite pragma set")
	}
	log.Info().Msg("store opened")
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Close() error                   { return s.db.Close() }
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{s.log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run goose migrations: %w", err)
	}
	s.log.Info().Msg("migrations completed")
	return nil
}

// gooseLogger routes goose output through zerolog.
type gooseLogger struct{ log zerolog.Logger }

func (l gooseLogger) Printf(format string, v ...any) { l.log.Debug().Msgf(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Fatal().Msgf(format, v...) }

// SaveEngine writes the state as a new revision under name.
func (s *SQLite) SaveEngine(ctx context.Context, name string, st glicko.State) (uuid.UUID, error) {
	id := uuid.New()
	h, players, evidence := rowsOf(st)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback() // no-op after commit

	var revision int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) + 1 FROM engine_snapshots`).Scan(&revision); err != nil {
		return uuid.Nil, fmt.Errorf("next revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO engine_snapshots(
		  id, revision, name, start_rating, start_deviation, start_volatility,
		  volatility_change, convergence_tolerance, rating_period_ns,
		  max_deviation, epoch_ns, closed_periods, created_at_ns)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, id.String(), revision, name, h.StartRating, h.StartDeviation, h.StartVolatility,
		h.VolatilityChange, h.ConvergenceTolerance, h.RatingPeriodNS,
		h.MaxDeviation, h.EpochNS, h.ClosedPeriods, time.Now().UnixNano()); err != nil {
		return uuid.Nil, fmt.Errorf("insert snapshot: %w", err)
	}

	playerStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_players(snapshot_id, handle, mu, phi, sigma, registered_at_ns, registered_period)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer playerStmt.Close()
	for _, p := range players {
		if _, err := playerStmt.ExecContext(ctx, id.String(), p.Handle, p.Mu, p.Phi, p.Sigma, p.RegisteredAtNS, p.RegisteredPeriod); err != nil {
			return uuid.Nil, fmt.Errorf("insert player %d: %w", p.Handle, err)
		}
	}

	evidenceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_evidence(snapshot_id, handle, seq, opponent_mu, opponent_phi, score)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer evidenceStmt.Close()
	for _, ev := range evidence {
		if _, err := evidenceStmt.ExecContext(ctx, id.String(), ev.Handle, ev.Seq, ev.OpponentMu, ev.OpponentPhi, ev.Score); err != nil {
			return uuid.Nil, fmt.Errorf("insert evidence %d/%d: %w", ev.Handle, ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	s.log.Debug().Str("name", name).Str("id", id.String()).Int64("revision", revision).Int("players", len(players)).Msg("snapshot saved")
	return id, nil
}

// LoadEngine reads the latest revision saved under name.
func (s *SQLite) LoadEngine(ctx context.Context, name string) (glicko.State, error) {
	var (
		id string
		h  header
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, start_rating, start_deviation, start_volatility,
		       volatility_change, convergence_tolerance, rating_period_ns,
		       max_deviation, epoch_ns, closed_periods
		  FROM engine_snapshots
		 WHERE name = ?
		 ORDER BY revision DESC
		 LIMIT 1
	`, name).Scan(&id, &h.StartRating, &h.StartDeviation, &h.StartVolatility,
		&h.VolatilityChange, &h.ConvergenceTolerance, &h.RatingPeriodNS,
		&h.MaxDeviation, &h.EpochNS, &h.ClosedPeriods)
	if errors.Is(err, sql.ErrNoRows) {
		return glicko.State{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return glicko.State{}, err
	}

	players, err := s.loadPlayers(ctx, id)
	if err != nil {
		return glicko.State{}, err
	}
	evidence, err := s.loadEvidence(ctx, id)
	if err != nil {
		return glicko.State{}, err
	}
	return assemble(h, players, evidence)
}

func (s *SQLite) loadPlayers(ctx context.Context, id string) ([]playerRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, mu, phi, sigma, registered_at_ns, registered_period
		  FROM snapshot_players WHERE snapshot_id = ? ORDER BY handle`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []playerRow
	for rows.Next() {
		var p playerRow
		if err := rows.Scan(&p.Handle, &p.Mu, &p.Phi, &p.Sigma, &p.RegisteredAtNS, &p.RegisteredPeriod); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) loadEvidence(ctx context.Context, id string) ([]evidenceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, seq, opponent_mu, opponent_phi, score
		  FROM snapshot_evidence WHERE snapshot_id = ? ORDER BY handle, seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []evidenceRow
	for rows.Next() {
		var ev evidenceRow
		if err := rows.Scan(&ev.Handle, &ev.Seq, &ev.OpponentMu, &ev.OpponentPhi, &ev.Score); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
