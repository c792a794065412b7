package blackscholes

import (
	"math"
	"strings"
	"time"
)

// DaysPerYear converts calendar days to years of maturity.
const DaysPerYear = 365

// Inputs are the five market inputs of the model. Rate and Volatility are decimals
// (0.05 for 5%) and Maturity is in years (30 days is 30/365).
type Inputs struct {
	Spot       float64 `json:"spot"`       // S, underlying price
	Strike     float64 `json:"strike"`     // K, strike price
	Maturity   float64 `json:"maturity"`   // T, years to expiry
	Rate       float64 `json:"rate"`       // r, continuously compounded risk-free rate
	Volatility float64 `json:"volatility"` // σ, annualised volatility
}

// Validate checks S > 0, K > 0, σ >= 0, T >= 0, that every value is finite and
// that K·e^(−rT), rT and σ²T do not overflow.
func (in Inputs) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"spot", in.Spot},
		{"strike", in.Strike},
		{"maturity", in.Maturity},
		{"rate", in.Rate},
		{"volatility", in.Volatility},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return domainErr(NonFinite, f.name, f.value)
		}
	}
	switch {
	case in.Spot <= 0:
		return domainErr(NonPositiveSpot, "spot", in.Spot)
	case in.Strike <= 0:
		return domainErr(NonPositiveStrike, "strike", in.Strike)
	case in.Volatility < 0:
		return domainErr(NegativeVolatility, "volatility", in.Volatility)
	case in.Maturity < 0:
		return domainErr(NegativeMaturity, "maturity", in.Maturity)
	}
	if dk := in.discountedStrike(); math.IsInf(dk, 0) {
		return domainErr(NonFinite, "discounted strike", dk)
	}
	if rt := in.Rate * in.Maturity; math.IsInf(rt, 0) {
		return domainErr(NonFinite, "rate*maturity", rt)
	}
	// d1 needs σ² and σ²T
	if v := in.Volatility * in.Volatility; math.IsInf(v, 0) || math.IsInf(v*in.Maturity, 0) {
		return domainErr(NonFinite, "volatility^2*maturity", v*in.Maturity)
	}
	return nil
}

// degenerate reports the zero field(s) that make d1 undefined, or "" when d1 exists.
func (in Inputs) degenerate() string {
	var zero []string
	if in.Volatility == 0 {
		zero = append(zero, "volatility")
	}
	if in.Maturity == 0 {
		zero = append(zero, "maturity")
	}
	if len(zero) == 0 && in.Volatility*math.Sqrt(in.Maturity) == 0 {
		// σ√T underflowed
		zero = append(zero, "volatility*sqrt(maturity)")
	}
	return strings.Join(zero, ",")
}

func (in Inputs) discountedStrike() float64 {
	return in.Strike * math.Exp(-in.Rate*in.Maturity)
}

// YearFraction returns the whole calendar days from now to expiry divided by
// DaysPerYear. Partial days are dropped, and past expiries give a negative value.
func YearFraction(now, expiry time.Time) float64 {
	days := math.Floor(expiry.Sub(now).Hours() / 24)
	return days / DaysPerYear
}
