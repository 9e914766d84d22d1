// Package glicko implements an instant Glicko-2 rating engine: results are
// registered as they happen and rating periods close lazily, on the first
// call that observes a period boundary.
//
// Ratings live on two scales. PublicRating is the familiar 1500-centred
// scale; InternalRating is the Glicko-2 working scale (mu/phi) on which the
// update equations are evaluated.
package glicko

import (
	"fmt"
	"math"
)

// Glicko-2 scale constants (paper values).
const (
	Scale  = 173.7178 // rating scale between r <-> mu
	Centre = 1500.0
)

// PublicRating is a human-facing rating: r, RD and sigma.
type PublicRating struct {
	rating     float64
	deviation  float64
	volatility float64
}

// InternalRating is a rating on the Glicko-2 scale: mu, phi and sigma.
type InternalRating struct {
	rating     float64
	deviation  float64
	volatility float64
}

// NewPublicRating validates and returns a public-scale rating.
func NewPublicRating(rating, deviation, volatility float64) (PublicRating, error) {
	if err := validate(rating, deviation, volatility); err != nil {
		return PublicRating{}, err
	}
	return PublicRating{rating: rating, deviation: deviation, volatility: volatility}, nil
}

// NewInternalRating validates and returns a Glicko-2 scale rating.
func NewInternalRating(mu, phi, sigma float64) (InternalRating, error) {
	if err := validate(mu, phi, sigma); err != nil {
		return InternalRating{}, err
	}
	return InternalRating{rating: mu, deviation: phi, volatility: sigma}, nil
}

func validate(rating, deviation, volatility float64) error {
	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return fmt.Errorf("%w: rating %v is not finite", ErrInvalidRating, rating)
	}
	if !(deviation > 0) || math.IsInf(deviation, 0) {
		return fmt.Errorf("%w: deviation %v must be positive", ErrInvalidRating, deviation)
	}
	if !(volatility > 0) || math.IsInf(volatility, 0) {
		return fmt.Errorf("%w: volatility %v must be positive", ErrInvalidRating, volatility)
	}
	return nil
}

func (r PublicRating) Rating() float64     { return r.rating }
func (r PublicRating) Deviation() float64  { return r.deviation }
func (r PublicRating) Volatility() float64 { return r.volatility }

func (r InternalRating) Rating() float64     { return r.rating }
func (r InternalRating) Deviation() float64  { return r.deviation }
func (r InternalRating) Volatility() float64 { return r.volatility }

// ToInternal converts r/RD to mu/phi. Volatility is scale-free.
func (r PublicRating) ToInternal() InternalRating {
	return InternalRating{
		rating:     (r.rating - Centre) / Scale,
		deviation:  r.deviation / Scale,
		volatility: r.volatility,
	}
}

// ToPublic converts mu/phi back to r/RD.
func (r InternalRating) ToPublic() PublicRating {
	return PublicRating{
		rating:     r.rating*Scale + Centre,
		deviation:  r.deviation * Scale,
		volatility: r.volatility,
	}
}

func (r PublicRating) String() string {
	return fmt.Sprintf("r=%.1f RD=%.1f σ=%.5f", r.rating, r.deviation, r.volatility)
}

func (r InternalRating) String() string {
	return fmt.Sprintf("mu=%.5f phi=%.5f σ=%.5f", r.rating, r.deviation, r.volatility)
}
