// Package svi fits a raw SVI volatility smile to quoted implied volatilities of a
// single expiry so that any strike on the ladder can be priced with its own σ.
//
// see: Gatheral, "A parsimonious arbitrage-free implied volatility parameterization" (2004)
package svi

import (
	"math"
	"sort"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const ParamsLen = 5

var (
	ErrTooFewQuotes = errors.New("svi: at least 5 quotes are required")
	ErrInvalidQuote = errors.New("svi: invalid quote")
	ErrFitFailed    = errors.New("svi: fit failed")
)

// Params are the raw SVI parameters of the total variance
//
//	w(k) = a + b·(ρ·(k−η) + √((k−η)² + c²))
type Params struct {
	A   float64 `json:"a"`   // level
	B   float64 `json:"b"`   // angle between the asymptotes
	C   float64 `json:"c"`   // smoothness at the vertex
	Rho float64 `json:"rho"` // rotation
	Eta float64 `json:"eta"` // translation
}

// Variance is the total implied variance at log-moneyness k.
func (p Params) Variance(k float64) float64 {
	km := k - p.Eta
	return p.A + p.B*(p.Rho*km+math.Sqrt(km*km+p.C*p.C))
}

// gradient of Variance with respect to (a, b, c, ρ, η).
func (p Params) gradVariance(k float64, dst []float64) {
	km := k - p.Eta
	root := math.Sqrt(km*km + p.C*p.C)
	dst[0] = 1
	dst[1] = p.Rho*km + root
	if root > 0 {
		dst[2] = p.B * p.C / root
		dst[4] = -p.B * (p.Rho + km/root)
	} else {
		dst[2] = 0
		dst[4] = -p.B * p.Rho
	}
	dst[3] = p.B * km
}

func (p Params) slice() []float64 {
	return []float64{p.A, p.B, p.C, p.Rho, p.Eta}
}

func paramsOf(x []float64) Params {
	return Params{A: x[0], B: x[1], C: x[2], Rho: x[3], Eta: x[4]}
}

func (p Params) finite() bool {
	for _, v := range p.slice() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Quote is a market implied volatility at one strike.
type Quote struct {
	Strike float64 `json:"strike"`
	Vol    float64 `json:"vol"`
}

// Smile is an SVI slice for one expiry.
type Smile struct {
	Params
	Forward  float64 `json:"forward"`
	Maturity float64 `json:"maturity"` // years
}

// LogMoneyness ln(K/F)
func (s *Smile) LogMoneyness(strike float64) float64 {
	return math.Log(strike / s.Forward)
}

// Vol returns the implied volatility of the smile at strike.
func (s *Smile) Vol(strike float64) float64 {
	return math.Sqrt(math.Abs(s.Variance(s.LogMoneyness(strike)) / s.Maturity))
}

func (s *Smile) Variances(kList []float64) []float64 {
	res := make([]float64, len(kList))
	for i, k := range kList {
		res[i] = s.Variance(k)
	}
	return res
}

// Inputs builds pricing inputs for each strike with the smile's volatility.
func (s *Smile) Inputs(spot, rate float64, strikes []float64) []blackscholes.Inputs {
	out := make([]blackscholes.Inputs, len(strikes))
	for i, k := range strikes {
		out[i] = blackscholes.Inputs{
			Spot:       spot,
			Strike:     k,
			Maturity:   s.Maturity,
			Rate:       rate,
			Volatility: s.Vol(k),
		}
	}
	return out
}

// RMSE is the root mean square error of the smile against the quoted vols.
func RMSE(s *Smile, quotes []Quote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	res := make([]float64, len(quotes))
	for i, q := range quotes {
		res[i] = q.Vol - s.Vol(q.Strike)
	}
	return floats.Norm(res, 2) / math.Sqrt(float64(len(quotes)))
}

// market is the quotes of one expiry in log-moneyness and total variance.
type market struct {
	forward, maturity float64
	quotes            []Quote
	kList, vList      []float64
}

func newMarket(forward, maturity float64, quotes []Quote) (*market, error) {
	if !(forward > 0) || math.IsInf(forward, 0) {
		return nil, errors.Wrapf(ErrInvalidQuote, "forward %v", forward)
	}
	if !(maturity > 0) || math.IsInf(maturity, 0) {
		return nil, errors.Wrapf(ErrInvalidQuote, "maturity %v", maturity)
	}
	if len(quotes) < ParamsLen {
		return nil, errors.Wrapf(ErrTooFewQuotes, "got %d", len(quotes))
	}
	sorted := make([]Quote, len(quotes))
	copy(sorted, quotes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Strike < sorted[j].Strike })

	m := &market{
		forward:  forward,
		maturity: maturity,
		quotes:   sorted,
		kList:    make([]float64, len(sorted)),
		vList:    make([]float64, len(sorted)),
	}
	for i, q := range sorted {
		if !(q.Strike > 0) || !(q.Vol > 0) || math.IsInf(q.Strike, 0) || math.IsInf(q.Vol, 0) {
			return nil, errors.Wrapf(ErrInvalidQuote, "strike %v vol %v", q.Strike, q.Vol)
		}
		if i > 0 && q.Strike == sorted[i-1].Strike {
			return nil, errors.Wrapf(ErrInvalidQuote, "duplicate strike %v", q.Strike)
		}
		m.kList[i] = math.Log(q.Strike / forward)
		m.vList[i] = q.Vol * q.Vol * maturity
	}
	return m, nil
}

func (m *market) smile(p Params) *Smile {
	return &Smile{Params: p, Forward: m.forward, Maturity: m.maturity}
}

// fallbackParams is a neutral starting point when the asymptotes are unusable.
func (m *market) fallbackParams() Params {
	return Params{A: floats.Min(m.vList) / 2, B: 0.1, C: 0.1, Rho: -0.5, Eta: 0.1}
}

// InitialGuess places the SVI asymptotes through the two lowest and the two highest
// strikes and sets c so that the vertex matches the smallest quoted variance.
func InitialGuess(forward, maturity float64, quotes []Quote) (*Smile, error) {
	m, err := newMarket(forward, maturity, quotes)
	if err != nil {
		return nil, err
	}
	return m.smile(m.initialParams()), nil
}

func (m *market) initialParams() Params {
	n := len(m.kList)
	lx1, lx2, ly1, ly2 := m.kList[0], m.kList[1], m.vList[0], m.vList[1]
	rx1, rx2, ry1, ry2 := m.kList[n-2], m.kList[n-1], m.vList[n-2], m.vList[n-1]

	// coefficients of the left and right asymptotes w = a + b·k
	bl := -math.Abs((ly2 - ly1) / (lx2 - lx1))
	al := ly1 - bl*lx1
	br := math.Abs((ry2 - ry1) / (rx2 - rx1))
	ar := ry1 - br*rx1

	p := Params{}
	p.B = (br - bl) / 2
	if !(p.B > 0) {
		return m.fallbackParams()
	}
	p.Rho = math.Max(-0.99, math.Min(0.99, (bl+br)/(br-bl)))
	// the asymptotes cross at the vertex (η, a)
	p.Eta = (ar - al) / (bl - br)
	p.A = al + bl*p.Eta
	p.C = (floats.Min(m.vList) - p.A) / p.B / math.Sqrt(1-p.Rho*p.Rho)
	if !(p.C > 0) {
		p.C = 1e-3
	}
	if !p.finite() {
		return m.fallbackParams()
	}
	return p
}
