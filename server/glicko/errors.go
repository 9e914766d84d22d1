package glicko

import "errors"

var (
	// ErrInvalidRating is returned when a deviation or volatility is not positive.
	ErrInvalidRating = errors.New("glicko: invalid rating")
	// ErrInvalidSettings is returned for a non-positive period, tolerance or volatility change.
	ErrInvalidSettings = errors.New("glicko: invalid settings")
	// ErrUnknownPlayer is returned for a handle this engine never issued.
	ErrUnknownPlayer = errors.New("glicko: unknown player")
	// ErrNonConvergent is returned when the volatility solver hits its iteration bound.
	ErrNonConvergent = errors.New("glicko: volatility did not converge")
	// ErrSelfMatch is returned when a result names the same player twice.
	ErrSelfMatch = errors.New("glicko: player cannot play itself")
)
