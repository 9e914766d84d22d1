package glicko

import (
	"fmt"
	"math"
	"time"
)

// Settings is the immutable configuration of a RatingEngine.
type Settings struct {
	startRating          PublicRating
	volatilityChange     float64
	convergenceTolerance float64
	ratingPeriod         time.Duration
	maxDeviation         float64
}

// SettingsOption tweaks optional settings.
type SettingsOption func(*Settings)

// WithMaxDeviation sets the public-scale deviation ceiling that idle decay
// never pushes a player above. Defaults to the start rating's deviation.
func WithMaxDeviation(rd float64) SettingsOption {
	return func(s *Settings) { s.maxDeviation = rd }
}

// NewSettings validates and returns engine settings. volatilityChange is the
// system constant tau; tolerance is the solver's epsilon.
func NewSettings(start PublicRating, volatilityChange, tolerance float64, period time.Duration, opts ...SettingsOption) (Settings, error) {
	s := Settings{
		startRating:          start,
		volatilityChange:     volatilityChange,
		convergenceTolerance: tolerance,
		ratingPeriod:         period,
		maxDeviation:         start.deviation,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := validate(start.rating, start.deviation, start.volatility); err != nil {
		return Settings{}, fmt.Errorf("%w: start rating: %v", ErrInvalidSettings, err)
	}
	if period <= 0 {
		return Settings{}, fmt.Errorf("%w: rating period %v must be positive", ErrInvalidSettings, period)
	}
	if !(tolerance > 0) || math.IsInf(tolerance, 0) {
		return Settings{}, fmt.Errorf("%w: convergence tolerance %v must be positive", ErrInvalidSettings, tolerance)
	}
	if !(volatilityChange > 0) || math.IsInf(volatilityChange, 0) {
		return Settings{}, fmt.Errorf("%w: volatility change %v must be positive", ErrInvalidSettings, volatilityChange)
	}
	if !(s.maxDeviation > 0) || math.IsNaN(s.maxDeviation) {
		return Settings{}, fmt.Errorf("%w: max deviation %v must be positive", ErrInvalidSettings, s.maxDeviation)
	}
	return s, nil
}

// DefaultSettings are the paper's defaults with a one-day rating period.
func DefaultSettings() Settings {
	return Settings{
		startRating:          PublicRating{rating: 1500, deviation: 350, volatility: 0.06},
		volatilityChange:     0.5,
		convergenceTolerance: 1e-6,
		ratingPeriod:         24 * time.Hour,
		maxDeviation:         350,
	}
}

func (s Settings) StartRating() PublicRating           { return s.startRating }
func (s Settings) VolatilityChange() float64           { return s.volatilityChange }
func (s Settings) ConvergenceTolerance() float64       { return s.convergenceTolerance }
func (s Settings) RatingPeriodDuration() time.Duration { return s.ratingPeriod }
func (s Settings) MaxDeviation() float64               { return s.maxDeviation }

// maxPhi is the idle-decay ceiling on the internal scale.
func (s Settings) maxPhi() float64 { return s.maxDeviation / Scale }
