// Package bindings adapts the rating engine to hosts that speak in untyped
// values: float triples, integer handles, result names and timestamps.
// Every input is validated before it reaches the engine, and one mutex
// serialises all access to it.
package bindings

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"instant-glicko2/server/glicko"
)

// ErrInvalidArgument marks host input rejected before reaching the engine.
var ErrInvalidArgument = errors.New("invalid argument")

// NewRating validates a public-scale rating.
func NewRating(rating, deviation, volatility float64) (glicko.PublicRating, error) {
	if !(deviation > 0) {
		return glicko.PublicRating{}, fmt.Errorf("%w: deviation must be positive", ErrInvalidArgument)
	}
	if !(volatility > 0) {
		return glicko.PublicRating{}, fmt.Errorf("%w: volatility must be positive", ErrInvalidArgument)
	}
	return glicko.NewPublicRating(rating, deviation, volatility)
}

// NewSettings validates host settings. The period is in seconds.
func NewSettings(start [3]float64, volatilityChange, convergenceTolerance, periodSeconds float64) (glicko.Settings, error) {
	if !(periodSeconds > 0) || math.IsInf(periodSeconds, 0) {
		return glicko.Settings{}, fmt.Errorf("%w: rating period duration must be positive", ErrInvalidArgument)
	}
	if !(convergenceTolerance > 0) {
		return glicko.Settings{}, fmt.Errorf("%w: convergence tolerance must be positive", ErrInvalidArgument)
	}
	rating, err := NewRating(start[0], start[1], start[2])
	if err != nil {
		return glicko.Settings{}, fmt.Errorf("start rating: %w", err)
	}
	period := time.Duration(periodSeconds * float64(time.Second))
	if period <= 0 {
		return glicko.Settings{}, fmt.Errorf("%w: rating period duration %vs rounds to zero", ErrInvalidArgument, periodSeconds)
	}
	return glicko.NewSettings(rating, volatilityChange, convergenceTolerance, period)
}

// Engine is a mutex-guarded RatingEngine addressed by integer handles.
type Engine struct {
	mu     sync.Mutex
	engine *glicko.RatingEngine
}

// PlayerRating pairs a handle with a public rating.
type PlayerRating struct {
	Handle int
	Rating glicko.PublicRating
}

func New(settings glicko.Settings, opts ...glicko.Option) *Engine {
	return &Engine{engine: glicko.StartNew(settings, opts...)}
}

// Wrap takes ownership of an existing engine, e.g. one restored from storage.
func Wrap(e *glicko.RatingEngine) *Engine {
	return &Engine{engine: e}
}

// WithLogger is re-exported so hosts need not import glicko for it.
func WithLogger(l zerolog.Logger) glicko.Option { return glicko.WithLogger(l) }

func hostTime(ts time.Time) (time.Time, error) {
	if ts.IsZero() || ts.Before(time.Unix(0, 0)) {
		return time.Time{}, fmt.Errorf("%w: timestamp %v is before the Unix epoch", ErrInvalidArgument, ts)
	}
	return ts, nil
}

// handle must be called with mu held.
func (b *Engine) handle(p int) (glicko.PlayerHandle, error) {
	h, err := b.engine.PlayerHandle(p)
	if err != nil {
		return glicko.PlayerHandle{}, fmt.Errorf("handle %d: %w", p, err)
	}
	return h, nil
}

func (b *Engine) RegisterPlayer(rating, deviation, volatility float64) (int, uint32, error) {
	return b.RegisterPlayerAt(rating, deviation, volatility, b.now())
}

func (b *Engine) RegisterPlayerAt(rating, deviation, volatility float64, ts time.Time) (int, uint32, error) {
	r, err := NewRating(rating, deviation, volatility)
	if err != nil {
		return 0, 0, err
	}
	at, err := hostTime(ts)
	if err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h, closed, err := b.engine.RegisterPlayerAt(r, at)
	if err != nil {
		return 0, 0, err
	}
	return h.Index(), closed, nil
}

func (b *Engine) RegisterResult(p1, p2 int, result string) (uint32, error) {
	return b.RegisterResultAt(p1, p2, result, b.now())
}

func (b *Engine) RegisterResultAt(p1, p2 int, result string, ts time.Time) (uint32, error) {
	res, err := glicko.ParseMatchResult(result)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	at, err := hostTime(ts)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h1, err := b.handle(p1)
	if err != nil {
		return 0, fmt.Errorf("player1: %w", err)
	}
	h2, err := b.handle(p2)
	if err != nil {
		return 0, fmt.Errorf("player2: %w", err)
	}
	return b.engine.RegisterResultAt(h1, h2, res, at)
}

func (b *Engine) PlayerRating(p int) (glicko.PublicRating, uint32, error) {
	return b.PlayerRatingAt(p, b.now())
}

func (b *Engine) PlayerRatingAt(p int, ts time.Time) (glicko.PublicRating, uint32, error) {
	at, err := hostTime(ts)
	if err != nil {
		return glicko.PublicRating{}, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.handle(p)
	if err != nil {
		return glicko.PublicRating{}, 0, err
	}
	return b.engine.PlayerRatingAt(h, at)
}

func (b *Engine) PlayerInternalRating(p int) (glicko.InternalRating, uint32, error) {
	return b.PlayerInternalRatingAt(p, b.now())
}

func (b *Engine) PlayerInternalRatingAt(p int, ts time.Time) (glicko.InternalRating, uint32, error) {
	at, err := hostTime(ts)
	if err != nil {
		return glicko.InternalRating{}, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.handle(p)
	if err != nil {
		return glicko.InternalRating{}, 0, err
	}
	return b.engine.PlayerInternalRatingAt(h, at)
}

func (b *Engine) ElapsedPeriods() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.ElapsedPeriods()
}

func (b *Engine) ElapsedPeriodsAt(ts time.Time) (float64, error) {
	at, err := hostTime(ts)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.ElapsedPeriodsAt(at), nil
}

func (b *Engine) MaybeCloseRatingPeriods() (float64, uint32, error) {
	return b.MaybeCloseRatingPeriodsAt(b.now())
}

func (b *Engine) MaybeCloseRatingPeriodsAt(ts time.Time) (float64, uint32, error) {
	at, err := hostTime(ts)
	if err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.MaybeCloseRatingPeriodsAt(at)
}

// ListPlayers returns every player's rating as of ts, in handle order.
func (b *Engine) ListPlayers(ts time.Time) ([]PlayerRating, error) {
	at, err := hostTime(ts)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handles := b.engine.PlayerHandles()
	out := make([]PlayerRating, 0, len(handles))
	for _, h := range handles {
		r, _, err := b.engine.PlayerRatingAt(h, at)
		if err != nil {
			return nil, err
		}
		out = append(out, PlayerRating{Handle: h.Index(), Rating: r})
	}
	return out, nil
}

func (b *Engine) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Len()
}

func (b *Engine) Settings() glicko.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Settings()
}

// Snapshot copies the engine state for persistence.
func (b *Engine) Snapshot() glicko.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Snapshot()
}

func (b *Engine) now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Now()
}
