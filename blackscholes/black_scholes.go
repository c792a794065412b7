package blackscholes

import (
	"math"
	"strings"

	"github.com/charlerive/optionlib/normal"
)

// OptionType is the direction of a European option.
type OptionType int

const (
	Call OptionType = iota
	Put
)

func (t OptionType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

// ParseOptionType accepts "c", "call", "p" and "put" in any case.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "call":
		return Call, true
	case "p", "put":
		return Put, true
	}
	return Call, false
}

// Greeks of one option. Vega, Theta and Rho are per 0.01 move, not per unit.
type Greeks struct {
	Delta float64 `json:"delta"` // ∂V/∂S
	Gamma float64 `json:"gamma"` // ∂²V/∂S²
	Vega  float64 `json:"vega"`  // 0.01·∂V/∂σ
	Theta float64 `json:"theta"` // 0.01·∂V/∂t
	Rho   float64 `json:"rho"`   // 0.01·∂V/∂r
}

// Result is the price and Greeks of the call and put sharing one set of inputs.
type Result struct {
	CallPrice float64 `json:"call_price"`
	PutPrice  float64 `json:"put_price"`
	Call      Greeks  `json:"call_greeks"`
	Put       Greeks  `json:"put_greeks"`
}

func (r Result) Price(t OptionType) float64 {
	if t == Put {
		return r.PutPrice
	}
	return r.CallPrice
}

func (r Result) Greeks(t OptionType) Greeks {
	if t == Put {
		return r.Put
	}
	return r.Call
}

// Policy decides what happens when σ = 0 or T = 0 and d1 is undefined.
type Policy int

const (
	// FailFast returns a Degenerate DomainError.
	FailFast Policy = iota
	// IntrinsicLimit returns the σ→0 limits: prices are the discounted intrinsic
	// values and the Greeks are their limiting values away from the strike.
	IntrinsicLimit
)

func (p Policy) String() string {
	if p == IntrinsicLimit {
		return "limit"
	}
	return "fail-fast"
}

// Engine is safe for concurrent use.
type Engine struct {
	dist   normal.Distribution
	policy Policy
	volMin float64
	volMax float64
}

type Option func(*Engine)

// WithDistribution replaces the standard normal provider.
func WithDistribution(d normal.Distribution) Option {
	return func(e *Engine) {
		e.dist = d
	}
}

// WithPolicy selects the policy for zero volatility or maturity.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithVolBounds sets the implied volatility search range.
func WithVolBounds(min, max float64) Option {
	return func(e *Engine) {
		if min > 0 && max > min {
			e.volMin, e.volMax = min, max
		}
	}
}

// New builds an engine with the standard normal distribution and the FailFast policy.
func New(opts ...Option) *Engine {
	e := &Engine{
		dist:   normal.Standard,
		policy: FailFast,
		volMin: DefaultVolMin,
		volMax: DefaultVolMax,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Default is the engine used by the package level functions.
var Default = New()

// Evaluate prices a call and a put with the default engine.
func Evaluate(in Inputs) (Result, error) {
	return Default.Evaluate(in)
}

// D1D2 returns the intermediate terms
//
//	d1 = (ln(S/K) + (r + σ²/2)·T) / (σ·√T)
//	d2 = d1 − σ·√T
//
// It fails with a Degenerate DomainError when σ = 0 or T = 0.
func D1D2(in Inputs) (d1, d2 float64, err error) {
	if err = in.Validate(); err != nil {
		return 0, 0, err
	}
	if field := in.degenerate(); field != "" {
		return 0, 0, degenerateErr(in, field)
	}
	d1, d2 = d1d2(in)
	return d1, d2, nil
}

func d1d2(in Inputs) (float64, float64) {
	volSqrtT := in.Volatility * math.Sqrt(in.Maturity)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+in.Volatility*in.Volatility/2)*in.Maturity) / volSqrtT
	return d1, d1 - volSqrtT
}

func degenerateErr(in Inputs, field string) error {
	v := in.Volatility
	if field == "maturity" {
		v = in.Maturity
	}
	return domainErr(Degenerate, field, v)
}

// Evaluate returns either the full result or a *DomainError.
func (e *Engine) Evaluate(in Inputs) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if field := in.degenerate(); field != "" {
		if e.policy == IntrinsicLimit {
			res, err := intrinsicLimit(in)
			if err == nil {
				err = res.checkFinite()
			}
			if err != nil {
				return Result{}, err
			}
			return res, nil
		}
		return Result{}, degenerateErr(in, field)
	}
	res := e.evaluate(in)
	if err := res.checkFinite(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// checkFinite rejects a result that overflowed although every input was finite.
func (r Result) checkFinite() error {
	for i, v := range r.Row() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domainErr(NonFinite, Columns[i], v)
		}
	}
	return nil
}

// evaluate assumes valid inputs with σ√T > 0.
func (e *Engine) evaluate(in Inputs) Result {
	S, K, T, r, sigma := in.Spot, in.Strike, in.Maturity, in.Rate, in.Volatility
	sqrtT := math.Sqrt(T)
	d1, d2 := d1d2(in)
	discount := math.Exp(-r * T)
	discK := K * discount

	nd1 := e.dist.CDF(d1)
	nd2 := e.dist.CDF(d2)
	nNegD2 := e.dist.CDF(-d2)
	pd1 := e.dist.Prob(d1)

	callPrice := clamp(S*nd1-discK*nd2, 0, S)
	// put-call parity
	putPrice := clamp(discK-S+callPrice, 0, discK)

	gamma := pd1 / (S * sigma * sqrtT)
	vega := 0.01 * S * pd1 * sqrtT
	decay := -pd1 * S * sigma / (2 * sqrtT)

	return Result{
		CallPrice: callPrice,
		PutPrice:  putPrice,
		Call: Greeks{
			Delta: nd1,
			Gamma: gamma,
			Vega:  vega,
			Theta: 0.01 * (decay - nd2*r*discK),
			Rho:   0.01 * nd2 * discount * K * T,
		},
		Put: Greeks{
			Delta: nd1 - 1,
			Gamma: gamma,
			Vega:  vega,
			Theta: 0.01 * (decay + nNegD2*r*discK),
			Rho:   -0.01 * nNegD2 * discount * K * T,
		},
	}
}

// callPrice is the call leg of evaluate
func (e *Engine) callPrice(in Inputs) float64 {
	d1, d2 := d1d2(in)
	return clamp(in.Spot*e.dist.CDF(d1)-in.discountedStrike()*e.dist.CDF(d2), 0, in.Spot)
}

func (e *Engine) price(t OptionType, in Inputs) float64 {
	c := e.callPrice(in)
	if t == Put {
		discK := in.discountedStrike()
		return clamp(discK-in.Spot+c, 0, discK)
	}
	return c
}

// intrinsicLimit is the σ→0 limit of the closed forms: Φ(d1), Φ(d2) tend to 1 in the
// money and 0 out of it while φ(d1) tends to 0.
func intrinsicLimit(in Inputs) (Result, error) {
	discount := math.Exp(-in.Rate * in.Maturity)
	discK := in.Strike * discount
	forward := in.Spot - discK
	if forward == 0 {
		return Result{}, domainErr(DegenerateAtStrike, "spot", in.Spot)
	}
	rho := 0.01 * in.Strike * in.Maturity * discount
	theta := 0.01 * in.Rate * discK
	if forward > 0 {
		return Result{
			CallPrice: forward,
			Call:      Greeks{Delta: 1, Theta: -theta, Rho: rho},
		}, nil
	}
	return Result{
		PutPrice: -forward,
		Put:      Greeks{Delta: -1, Theta: theta, Rho: -rho},
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
