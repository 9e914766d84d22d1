package glicko

import (
	"fmt"
	"math"
)

// --- Glicko-2 helpers (paper notation, internal scale) ---
const pi2 = math.Pi * math.Pi

// Bounds on the volatility solver. Realistic inputs need a handful of
// bracket steps and well under 50 iterations.
var (
	maxBracketSteps = 10000
	maxIterations   = 1000
)

// g(phi_j) and E(mu, mu_j, phi_j)
func g(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*phi*phi/pi2) }
func expectedScore(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// decay is the "no games" step spread over elapsed periods:
// phi' = sqrt(phi^2 + t*sigma^2), never above ceiling unless phi already was.
func decay(r InternalRating, elapsed, ceiling float64) InternalRating {
	if elapsed <= 0 {
		return r
	}
	phi := math.Sqrt(r.deviation*r.deviation + elapsed*r.volatility*r.volatility)
	if phi > ceiling {
		phi = math.Max(ceiling, r.deviation)
	}
	r.deviation = phi
	return r
}

// rate applies a rating period's evidence to r. elapsed is the fraction of
// the period that has passed: 1 when a period closes, less for the instant
// estimate served between boundaries.
func rate(r InternalRating, evidence []Evidence, elapsed float64, s Settings) (InternalRating, error) {
	if len(evidence) == 0 {
		return decay(r, elapsed, s.maxPhi()), nil
	}
	if elapsed < 0 {
		elapsed = 0
	}

	mu, phi := r.rating, r.deviation

	var sumG2E float64 // Σ g^2 * E * (1-E)
	var sumGSE float64 // Σ g * (S - E)
	for _, ev := range evidence {
		gj := g(ev.OpponentDeviation)
		ej := expectedScore(mu, ev.OpponentRating, ev.OpponentDeviation)
		sumG2E += gj * gj * ej * (1.0 - ej)
		sumGSE += gj * (ev.Score - ej)
	}
	if !finite(sumGSE) {
		return InternalRating{}, fmt.Errorf("%w: non-finite evidence (Σg(s-E)=%v)", ErrNonConvergent, sumGSE)
	}
	v := 1.0 / sumG2E
	delta := v * sumGSE
	if !(sumG2E > 0) || !finite(v) || !finite(delta*delta) {
		return noInformation(r, sumGSE, elapsed), nil
	}

	solver := volatilitySolver{
		tau:             s.volatilityChange,
		tolerance:       s.convergenceTolerance,
		maxBracketSteps: maxBracketSteps,
		maxIterations:   maxIterations,
	}
	sigma, err := solver.solve(phi, r.volatility, v, delta)
	if err != nil {
		return InternalRating{}, err
	}

	phiStar := math.Sqrt(phi*phi + elapsed*sigma*sigma)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*sumGSE

	if !finite(muNew) || !(phiNew > 0) || !(sigma > 0) {
		return InternalRating{}, fmt.Errorf("%w: non-finite update (mu=%v phi=%v sigma=%v)", ErrNonConvergent, muNew, phiNew, sigma)
	}
	return InternalRating{rating: muNew, deviation: phiNew, volatility: sigma}, nil
}

// noInformation is the v -> infinity limit of the update, reached when every
// expected score rounds to 0 or 1: sigma is kept, phi' = phi* and mu still
// moves by phi'^2 * Σg(s-E).
func noInformation(r InternalRating, sumGSE, elapsed float64) InternalRating {
	phiStar := math.Sqrt(r.deviation*r.deviation + elapsed*r.volatility*r.volatility)
	r.rating += phiStar * phiStar * sumGSE
	r.deviation = phiStar
	return r
}

// volatilitySolver finds sigma' as the root of the Glicko-2 volatility
// function using the Illinois variant of regula falsi.
type volatilitySolver struct {
	tau             float64
	tolerance       float64
	maxBracketSteps int
	maxIterations   int
}

func (s volatilitySolver) solve(phi, sigma, v, delta float64) (float64, error) {
	a := math.Log(sigma * sigma)
	phi2, delta2, tau2 := phi*phi, delta*delta, s.tau*s.tau
	f := func(x float64) float64 {
		ex := math.Exp(x)
		den := phi2 + v + ex
		return ex*(delta2-phi2-v-ex)/(2.0*den*den) - (x-a)/tau2
	}

	A := a
	var B float64
	if delta2 > phi2+v {
		B = math.Log(delta2 - phi2 - v)
	} else {
		k := 1
		for f(a-float64(k)*s.tau) < 0 {
			if k >= s.maxBracketSteps {
				return 0, fmt.Errorf("%w: no bracket after %d steps", ErrNonConvergent, k)
			}
			k++
		}
		B = a - float64(k)*s.tau
	}

	fA, fB := f(A), f(B)
	if !finite(fA) || !finite(fB) {
		return 0, fmt.Errorf("%w: f(A)=%v f(B)=%v", ErrNonConvergent, fA, fB)
	}
	if fA == 0 {
		return math.Exp(A / 2.0), nil
	}

	for it := 0; math.Abs(B-A) > s.tolerance; it++ {
		if it >= s.maxIterations {
			return 0, fmt.Errorf("%w: |B-A|=%g after %d iterations", ErrNonConvergent, math.Abs(B-A), it)
		}
		if fA*fB > 0 {
			return 0, fmt.Errorf("%w: bracket [%g, %g] lost its sign change", ErrNonConvergent, A, B)
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if !finite(fC) {
			return 0, fmt.Errorf("%w: f(%g)=%v", ErrNonConvergent, C, fC)
		}
		if fC == 0 {
			return math.Exp(C / 2.0), nil
		}
		if fC*fB < 0 {
			A, fA = B, fB
		} else {
			fA /= 2.0
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2.0), nil
}
