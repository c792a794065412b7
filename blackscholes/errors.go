package blackscholes

import (
	"errors"
	"fmt"
)

var (
	// ErrDomain matches every *DomainError through errors.Is.
	ErrDomain = errors.New("blackscholes: input outside model domain")
	// ErrPriceOutOfBounds is returned by ImpliedVolatility when the quoted price
	// violates the no-arbitrage bounds of the option.
	ErrPriceOutOfBounds = errors.New("blackscholes: option price outside no-arbitrage bounds")
	// ErrNoConvergence is returned by ImpliedVolatility when no volatility inside
	// the search range reproduces the quoted price.
	ErrNoConvergence = errors.New("blackscholes: implied volatility did not converge")
)

// Kind identifies which input invariant a DomainError reports.
type Kind int

const (
	NonPositiveSpot Kind = iota + 1
	NonPositiveStrike
	NegativeVolatility
	NegativeMaturity
	// NaN or Inf input, or a product of inputs that overflows
	NonFinite
	// Degenerate is σ = 0 or T = 0 (or both) under the FailFast policy, where d1 is undefined.
	Degenerate
	// σ = 0 or T = 0 with S at the discounted strike
	DegenerateAtStrike
)

func (k Kind) String() string {
	switch k {
	case NonPositiveSpot:
		return "spot must be positive"
	case NonPositiveStrike:
		return "strike must be positive"
	case NegativeVolatility:
		return "volatility must not be negative"
	case NegativeMaturity:
		return "maturity must not be negative"
	case NonFinite:
		return "value must be finite"
	case Degenerate:
		return "zero volatility or maturity"
	case DegenerateAtStrike:
		return "greeks undefined at the strike for zero volatility or maturity"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DomainError reports an input outside the domain of the model.
type DomainError struct {
	Kind  Kind
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("blackscholes: %s (%s=%v)", e.Kind, e.Field, e.Value)
}

func (e *DomainError) Is(target error) bool {
	return target == ErrDomain
}

func domainErr(kind Kind, field string, value float64) error {
	return &DomainError{Kind: kind, Field: field, Value: value}
}
