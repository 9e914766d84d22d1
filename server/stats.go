package main

import (
	"math"

	"instant-glicko2/server/replay"
)

// --------- CI helpers ---------

// WilsonCI95 for a Bernoulli score rate counting draws as half a win.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}

// scoreCI returns the observed score rate and its Wilson interval.
func scoreCI(t replay.Tally) (score, low, hi float64) {
	n := t.Games()
	low, hi = WilsonCI95(t.Wins, t.Draws, n)
	if n == 0 {
		return 0, low, hi
	}
	return (float64(t.Wins) + 0.5*float64(t.Draws)) / float64(n), low, hi
}
