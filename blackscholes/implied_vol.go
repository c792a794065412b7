package blackscholes

import (
	"fmt"
	"math"
)

const (
	DefaultVolMin = 1e-4
	DefaultVolMax = 5.0

	MaxExecTimes = 100
	// PriceEpsilon is the price tolerance of the implied volatility search.
	PriceEpsilon = 1e-8
	// secantSteps are run before the search falls back to bisection.
	secantSteps = 5
)

// ImpliedVolatility with the default engine.
func ImpliedVolatility(t OptionType, price float64, in Inputs) (float64, error) {
	return Default.ImpliedVolatility(t, price, in)
}

// ImpliedVolatility finds σ such that the model price of the option equals price.
// in.Volatility is ignored. The search brackets σ in the engine's range, takes
// false-position steps first and bisects afterwards.
func (e *Engine) ImpliedVolatility(t OptionType, price float64, in Inputs) (float64, error) {
	in.Volatility = e.volMax
	if err := in.Validate(); err != nil {
		return 0, err
	}
	if in.Maturity == 0 {
		return 0, domainErr(Degenerate, "maturity", in.Maturity)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, domainErr(NonFinite, "price", price)
	}

	discK := in.discountedStrike()
	lower, upper := math.Max(in.Spot-discK, 0), in.Spot
	if t == Put {
		lower, upper = math.Max(discK-in.Spot, 0), discK
	}
	if price < lower-PriceEpsilon || price > upper {
		return 0, fmt.Errorf("%w: %s price %v not in [%v, %v]", ErrPriceOutOfBounds, t, price, lower, upper)
	}

	priceAt := func(iv float64) float64 {
		in.Volatility = iv
		return e.price(t, in)
	}

	ivMin, ivMax := e.volMin, e.volMax
	opMin, opMax := priceAt(ivMin), priceAt(ivMax)
	switch {
	case math.Abs(price-opMin) <= PriceEpsilon:
		return ivMin, nil
	case math.Abs(price-opMax) <= PriceEpsilon:
		return ivMax, nil
	case price < opMin || price > opMax:
		return 0, fmt.Errorf("%w: %s price %v outside [%v, %v] for volatility in [%v, %v]",
			ErrNoConvergence, t, price, opMin, opMax, ivMin, ivMax)
	}

	iv := (ivMin + ivMax) / 2
	op := priceAt(iv)
	for execCount := 0; math.Abs(price-op) > PriceEpsilon; execCount++ {
		if execCount >= MaxExecTimes {
			return 0, fmt.Errorf("%w: %s price %v, last volatility %v", ErrNoConvergence, t, price, iv)
		}
		if op < price {
			ivMin, opMin = iv, op
		} else {
			ivMax, opMax = iv, op
		}
		if execCount >= secantSteps || opMax == opMin {
			iv = (ivMax + ivMin) / 2
		} else {
			iv = ivMin + (price-opMin)*(ivMax-ivMin)/(opMax-opMin)
		}
		op = priceAt(iv)
		if ivMax-ivMin <= 1e-15 && math.Abs(price-op) > PriceEpsilon {
			return 0, fmt.Errorf("%w: %s price %v, bracket collapsed at volatility %v with price %v",
				ErrNoConvergence, t, price, iv, op)
		}
	}
	return iv, nil
}
