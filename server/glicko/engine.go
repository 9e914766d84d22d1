package glicko

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RatingEngine tracks players and closes rating periods lazily: every public
// method first closes any whole periods that elapsed since the last call.
//
// A RatingEngine is not safe for concurrent use; callers serialise access.
type RatingEngine struct {
	settings Settings
	players  playerStore
	epoch    time.Time
	closed   uint32
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a RatingEngine.
type Option func(*RatingEngine)

// WithClock sets the clock used by the methods without an explicit time.
func WithClock(now func() time.Time) Option {
	return func(e *RatingEngine) { e.now = now }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *RatingEngine) { e.log = l }
}

// StartNew starts an engine whose first period begins now.
func StartNew(settings Settings, opts ...Option) *RatingEngine {
	e := newEngine(settings, opts)
	e.epoch = e.now()
	return e
}

// StartNewAt starts an engine whose first period begins at epoch.
func StartNewAt(settings Settings, epoch time.Time, opts ...Option) *RatingEngine {
	e := newEngine(settings, opts)
	e.epoch = epoch
	return e
}

func newEngine(settings Settings, opts []Option) *RatingEngine {
	e := &RatingEngine{
		settings: settings,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RatingEngine) Settings() Settings    { return e.settings }
func (e *RatingEngine) Epoch() time.Time      { return e.epoch }
func (e *RatingEngine) ClosedPeriods() uint32 { return e.closed }
func (e *RatingEngine) Len() int              { return e.players.len() }
func (e *RatingEngine) Now() time.Time        { return e.now() }

// PlayerHandles lists every issued handle in registration order.
func (e *RatingEngine) PlayerHandles() []PlayerHandle {
	out := make([]PlayerHandle, e.players.len())
	for i := range out {
		out[i] = PlayerHandle{index: i}
	}
	return out
}

// PlayerHandle returns the handle with the given index, if it was issued.
func (e *RatingEngine) PlayerHandle(index int) (PlayerHandle, error) {
	h := PlayerHandle{index: index}
	if _, err := e.players.get(h); err != nil {
		return PlayerHandle{}, err
	}
	return h, nil
}

// ElapsedPeriodsAt is how far now is into the periods not yet closed, as a
// fraction: 2.25 means two whole periods are ready to close.
func (e *RatingEngine) ElapsedPeriodsAt(now time.Time) float64 {
	period := e.settings.ratingPeriod
	span := now.Sub(e.epoch) - time.Duration(e.closed)*period
	if span <= 0 {
		return 0
	}
	return float64(span) / float64(period)
}

func (e *RatingEngine) ElapsedPeriods() float64 { return e.ElapsedPeriodsAt(e.now()) }

// MaybeCloseRatingPeriodsAt closes every whole period that elapsed by now and
// returns the fraction of the open period left over plus the number closed.
func (e *RatingEngine) MaybeCloseRatingPeriodsAt(now time.Time) (float64, uint32, error) {
	elapsed := e.ElapsedPeriodsAt(now)
	whole := math.Floor(elapsed)
	if whole < 1 {
		return elapsed, 0, nil
	}
	n := uint32(math.MaxUint32 - e.closed)
	if whole < float64(n) {
		n = uint32(whole)
	}
	if n == 0 {
		return elapsed, 0, nil
	}
	if err := e.closeRatingPeriods(n); err != nil {
		return elapsed, 0, err
	}
	return e.ElapsedPeriodsAt(now), n, nil
}

func (e *RatingEngine) MaybeCloseRatingPeriods() (float64, uint32, error) {
	return e.MaybeCloseRatingPeriodsAt(e.now())
}

// closeRatingPeriods closes n periods. Evidence only exists for the first
// one; the remaining n-1 are idle and decay in closed form, which equals n-1
// sequential idle closes. Nothing is written unless every player's update
// succeeds.
func (e *RatingEngine) closeRatingPeriods(n uint32) error {
	next := make([]InternalRating, e.players.len())
	games := 0
	for i := range next {
		h := PlayerHandle{index: i}
		r, pending, err := e.players.peek(h)
		if err != nil {
			return err
		}
		games += len(pending)
		nr, err := rate(r, pending, 1, e.settings)
		if err != nil {
			e.log.Warn().Err(err).
				Int("player", i).
				Uint32("period", e.closed+1).
				Int("games", len(pending)).
				Msg("rating period close failed")
			return fmt.Errorf("close period %d for %v: %w", e.closed+1, h, err)
		}
		if n > 1 {
			nr = decay(nr, float64(n-1), e.settings.maxPhi())
		}
		next[i] = nr
	}

	for i, r := range next {
		h := PlayerHandle{index: i}
		if _, _, err := e.players.drainAndClose(h); err != nil {
			return err
		}
		if err := e.players.replace(h, r); err != nil {
			return err
		}
	}
	e.closed += n

	e.log.Debug().
		Uint32("closed", n).
		Uint32("total_closed", e.closed).
		Int("players", len(next)).
		Int("games", games).
		Msg("rating periods closed")
	return nil
}

// RegisterPlayerAt adds a player. Elapsed periods are closed first so the
// newcomer is not charged decay for periods that ended before it existed.
func (e *RatingEngine) RegisterPlayerAt(r PublicRating, now time.Time) (PlayerHandle, uint32, error) {
	if err := validate(r.rating, r.deviation, r.volatility); err != nil {
		return PlayerHandle{}, 0, err
	}
	_, closed, err := e.MaybeCloseRatingPeriodsAt(now)
	if err != nil {
		return PlayerHandle{}, 0, err
	}
	h := e.players.register(r, now, e.closed)
	e.log.Debug().Int("player", h.index).Stringer("rating", r).Msg("player registered")
	return h, closed, nil
}

func (e *RatingEngine) RegisterPlayer(r PublicRating) (PlayerHandle, uint32, error) {
	return e.RegisterPlayerAt(r, e.now())
}

// RegisterResultAt records a game between p1 and p2, result being p1's.
// Each side is scored against the other's instant rating; the Glicko-2
// recomputation itself waits for the period to close.
func (e *RatingEngine) RegisterResultAt(p1, p2 PlayerHandle, result MatchResult, now time.Time) (uint32, error) {
	if _, err := e.players.get(p1); err != nil {
		return 0, err
	}
	if _, err := e.players.get(p2); err != nil {
		return 0, err
	}
	if p1 == p2 {
		return 0, fmt.Errorf("%w: %v", ErrSelfMatch, p1)
	}

	elapsed, closed, err := e.MaybeCloseRatingPeriodsAt(now)
	if err != nil {
		return 0, err
	}
	r1, err := e.instantRating(p1, elapsed)
	if err != nil {
		return closed, err
	}
	r2, err := e.instantRating(p2, elapsed)
	if err != nil {
		return closed, err
	}
	if err := e.players.recordResult(p1, r2, result.Score()); err != nil {
		return closed, err
	}
	if err := e.players.recordResult(p2, r1, result.Invert().Score()); err != nil {
		return closed, err
	}
	return closed, nil
}

func (e *RatingEngine) RegisterResult(p1, p2 PlayerHandle, result MatchResult) (uint32, error) {
	return e.RegisterResultAt(p1, p2, result, e.now())
}

// PlayerRatingAt returns the player's public rating as of now, including the
// games of the open period and the decay of its elapsed fraction.
func (e *RatingEngine) PlayerRatingAt(h PlayerHandle, now time.Time) (PublicRating, uint32, error) {
	r, closed, err := e.PlayerInternalRatingAt(h, now)
	if err != nil {
		return PublicRating{}, closed, err
	}
	return r.ToPublic(), closed, nil
}

func (e *RatingEngine) PlayerRating(h PlayerHandle) (PublicRating, uint32, error) {
	return e.PlayerRatingAt(h, e.now())
}

// PlayerInternalRatingAt is PlayerRatingAt on the Glicko-2 scale.
func (e *RatingEngine) PlayerInternalRatingAt(h PlayerHandle, now time.Time) (InternalRating, uint32, error) {
	if _, err := e.players.get(h); err != nil {
		return InternalRating{}, 0, err
	}
	elapsed, closed, err := e.MaybeCloseRatingPeriodsAt(now)
	if err != nil {
		return InternalRating{}, 0, err
	}
	r, err := e.instantRating(h, elapsed)
	if err != nil {
		return InternalRating{}, closed, err
	}
	return r, closed, nil
}

func (e *RatingEngine) PlayerInternalRating(h PlayerHandle) (InternalRating, uint32, error) {
	return e.PlayerInternalRatingAt(h, e.now())
}

func (e *RatingEngine) instantRating(h PlayerHandle, elapsed float64) (InternalRating, error) {
	r, pending, err := e.players.peek(h)
	if err != nil {
		return InternalRating{}, err
	}
	return rate(r, pending, elapsed, e.settings)
}
