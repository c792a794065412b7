// Package normal provides the standard normal distribution used by the pricing engine.
package normal

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is the cumulative distribution and density of a univariate distribution.
// distuv.Normal satisfies it.
type Distribution interface {
	CDF(x float64) float64
	Prob(x float64) float64
}

// Standard is N(0, 1).
var Standard Distribution = distuv.UnitNormal

var invSqrt2Pi = 1 / math.Sqrt(2*math.Pi)

// Cdf returns Φ(x) of the standard normal distribution.
func Cdf(x float64) float64 {
	return Standard.CDF(x)
}

func Pdf(x float64) float64 {
	return Standard.Prob(x)
}

// Hastings Abramowitz & Stegun 26.2.17, |err| < 7.5e-8
type Hastings struct{}

var hastingsCoef = [5]float64{0.31938153, -0.356563782, 1.781477937, -1.821255978, 1.330274429}

// CDF cumulative normal distribution function
func (Hastings) CDF(x float64) float64 {
	l := math.Abs(x)
	k := 1 / (1 + 0.2316419*l)
	poly := k * (hastingsCoef[0] + k*(hastingsCoef[1]+k*(hastingsCoef[2]+k*(hastingsCoef[3]+k*hastingsCoef[4]))))
	res := 1 - invSqrt2Pi*math.Exp(-l*l/2)*poly
	if x < 0 {
		res = 1 - res
	}
	return res
}

func (Hastings) Prob(x float64) float64 {
	return invSqrt2Pi * math.Exp(-x*x/2)
}
