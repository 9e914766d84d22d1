package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"instant-glicko2/server/glicko"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "ratings.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	return s
}

// sampleEngine has three players, one late registrant, pending games and
// one closed period.
func sampleEngine(t *testing.T) *glicko.RatingEngine {
	t.Helper()
	start, err := glicko.NewPublicRating(1500, 200, 0.06)
	if err != nil {
		t.Fatalf("NewPublicRating: %v", err)
	}
	settings, err := glicko.NewSettings(start, 0.5, 1e-6, time.Hour, glicko.WithMaxDeviation(350))
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	e := glicko.StartNewAt(settings, t0)

	a, _, err := e.RegisterPlayerAt(start, t0)
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, _, err := e.RegisterPlayerAt(start, t0)
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	if _, err := e.RegisterResultAt(a, b, glicko.Win, t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("result: %v", err)
	}
	late := t0.Add(90 * time.Minute)
	c, _, err := e.RegisterPlayerAt(start, late)
	if err != nil {
		t.Fatalf("register c: %v", err)
	}
	if _, err := e.RegisterResultAt(c, a, glicko.Draw, late); err != nil {
		t.Fatalf("result: %v", err)
	}
	if _, err := e.RegisterResultAt(b, c, glicko.Loss, late.Add(time.Minute)); err != nil {
		t.Fatalf("result: %v", err)
	}
	return e
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	e := sampleEngine(t)
	want := e.Snapshot()

	id, err := s.SaveEngine(ctx, "ladder", want)
	if err != nil {
		t.Fatalf("SaveEngine returned error: %v", err)
	}
	if id.String() == "" {
		t.Fatalf("SaveEngine returned empty id")
	}

	got, err := s.LoadEngine(ctx, "ladder")
	if err != nil {
		t.Fatalf("LoadEngine returned error: %v", err)
	}
	if !got.Epoch.Equal(want.Epoch) || got.ClosedPeriods != want.ClosedPeriods {
		t.Fatalf("header = %v/%d, want %v/%d", got.Epoch, got.ClosedPeriods, want.Epoch, want.ClosedPeriods)
	}
	if got.Settings != want.Settings {
		t.Fatalf("settings = %+v, want %+v", got.Settings, want.Settings)
	}
	if len(got.Players) != len(want.Players) {
		t.Fatalf("players = %d, want %d", len(got.Players), len(want.Players))
	}
	for i := range want.Players {
		w, g := want.Players[i], got.Players[i]
		if g.Rating != w.Rating || !g.RegisteredAt.Equal(w.RegisteredAt) || g.RegisteredPeriod != w.RegisteredPeriod {
			t.Fatalf("player %d = %+v, want %+v", i, g, w)
		}
		if len(g.Pending) != len(w.Pending) {
			t.Fatalf("player %d pending = %d, want %d", i, len(g.Pending), len(w.Pending))
		}
		for j := range w.Pending {
			if g.Pending[j] != w.Pending[j] {
				t.Fatalf("player %d evidence %d = %+v, want %+v", i, j, g.Pending[j], w.Pending[j])
			}
		}
	}

	// The restored engine answers exactly like the source engine.
	restored, err := glicko.Restore(got)
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	at := t0.Add(5 * time.Hour)
	for _, h := range e.PlayerHandles() {
		r1, _, err := e.PlayerRatingAt(h, at)
		if err != nil {
			t.Fatalf("source rating: %v", err)
		}
		r2, _, err := restored.PlayerRatingAt(h, at)
		if err != nil {
			t.Fatalf("restored rating: %v", err)
		}
		if r1 != r2 {
			t.Fatalf("%v: restored %v, source %v", h, r2, r1)
		}
	}
}

func TestSQLiteLatestRevisionWins(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	e := sampleEngine(t)

	first, err := s.SaveEngine(ctx, "ladder", e.Snapshot())
	if err != nil {
		t.Fatalf("SaveEngine returned error: %v", err)
	}
	if _, _, err := e.MaybeCloseRatingPeriodsAt(t0.Add(3 * time.Hour)); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := s.SaveEngine(ctx, "ladder", e.Snapshot())
	if err != nil {
		t.Fatalf("SaveEngine returned error: %v", err)
	}
	if first == second {
		t.Fatalf("both saves returned id %v", first)
	}
	if _, err := s.SaveEngine(ctx, "other", glicko.StartNewAt(glicko.DefaultSettings(), t0).Snapshot()); err != nil {
		t.Fatalf("SaveEngine returned error: %v", err)
	}

	got, err := s.LoadEngine(ctx, "ladder")
	if err != nil {
		t.Fatalf("LoadEngine returned error: %v", err)
	}
	if got.ClosedPeriods != 3 {
		t.Fatalf("closed periods = %d, want 3", got.ClosedPeriods)
	}
	for i, p := range got.Players {
		if len(p.Pending) != 0 {
			t.Fatalf("player %d still has %d pending games after close", i, len(p.Pending))
		}
	}
}

func TestSQLiteMigrateTwice(t *testing.T) {
	s := openTestSQLite(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate returned error: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.LoadEngine(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadEngine error = %v, want ErrNotFound", err)
	}
}

func TestOpenDispatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.db")
	st, err := Open(ctx, "sqlite:"+path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*SQLite); !ok {
		t.Fatalf("Open(sqlite:) returned %T", st)
	}
	if _, err := Open(ctx, "  ", zerolog.Nop()); err == nil {
		t.Fatalf("Open with empty DSN succeeded")
	}
}

func TestAssembleRejectsGaps(t *testing.T) {
	st := glicko.StartNewAt(glicko.DefaultSettings(), t0).Snapshot()
	h, _, _ := rowsOf(st)
	players := []playerRow{
		{Handle: 0, Mu: 0, Phi: 1, Sigma: 0.06},
		{Handle: 2, Mu: 0, Phi: 1, Sigma: 0.06},
	}
	if _, err := assemble(h, players, nil); err == nil {
		t.Fatalf("assemble accepted non-contiguous handles")
	}
	players[1].Handle = 1
	if _, err := assemble(h, players, []evidenceRow{{Handle: 5, OpponentPhi: 1}}); err == nil {
		t.Fatalf("assemble accepted evidence for unknown player")
	}
	bad := players
	bad[0].Phi = -1
	if _, err := assemble(h, bad, nil); !errors.Is(err, glicko.ErrInvalidRating) {
		t.Fatalf("assemble error = %v, want ErrInvalidRating", err)
	}
}

func TestNanosZeroTime(t *testing.T) {
	if toNanos(time.Time{}) != nil {
		t.Fatalf("zero time not stored as NULL")
	}
	if !fromNanos(nil).IsZero() {
		t.Fatalf("NULL not loaded as zero time")
	}
	for _, at := range []time.Time{t0, time.Unix(0, 0).UTC()} {
		if got := fromNanos(toNanos(at)); !got.Equal(at) || got.IsZero() {
			t.Fatalf("round trip = %v, want %v", got, at)
		}
	}
}

func TestSQLiteUnixEpochRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	epoch := time.Unix(0, 0).UTC()

	start, err := glicko.NewPublicRating(1500, 200, 0.06)
	if err != nil {
		t.Fatalf("NewPublicRating: %v", err)
	}
	settings, err := glicko.NewSettings(start, 0.5, 1e-6, time.Hour)
	if err != nil {
		t.Fatalf("NewSettings: %v", err)
	}
	e := glicko.StartNewAt(settings, epoch)
	if _, _, err := e.RegisterPlayerAt(start, epoch); err != nil {
		t.Fatalf("RegisterPlayerAt: %v", err)
	}

	if _, err := s.SaveEngine(ctx, "epoch", e.Snapshot()); err != nil {
		t.Fatalf("SaveEngine returned error: %v", err)
	}
	got, err := s.LoadEngine(ctx, "epoch")
	if err != nil {
		t.Fatalf("LoadEngine returned error: %v", err)
	}
	if !got.Epoch.Equal(epoch) || !got.Players[0].RegisteredAt.Equal(epoch) {
		t.Fatalf("loaded epoch %v, registered %v, want %v", got.Epoch, got.Players[0].RegisteredAt, epoch)
	}

	restored, err := glicko.Restore(got)
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if p := restored.ElapsedPeriodsAt(epoch.Add(30 * time.Minute)); p != 0.5 {
		t.Fatalf("elapsed periods after load = %v, want 0.5", p)
	}
}
