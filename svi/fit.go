package svi

import (
	"math"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	MaxIterations = 100
	Tolerance     = 1e-14
	lambda0       = 1e-3
	lambdaMax     = 1e12
	slsqpMaxEval  = 2000
)

// Method selects the calibration algorithm.
type Method string

const (
	LevenbergMarquardt Method = "lm"
	NelderMead         Method = "nelder-mead"
	SLSQP              Method = "slsqp"
)

// Fit calibrates a smile to quotes with the given method.
func Fit(method Method, forward, maturity float64, quotes []Quote) (*Smile, error) {
	switch method {
	case LevenbergMarquardt, "":
		return FitLM(forward, maturity, quotes)
	case NelderMead:
		return FitNelderMead(forward, maturity, quotes)
	case SLSQP:
		return FitSLSQP(forward, maturity, quotes)
	}
	return nil, errors.Errorf("svi: unknown fit method %q", method)
}

// FitLM runs Levenberg–Marquardt on the implied volatility residuals, starting
// from InitialGuess. Steps that would leave b < 0 or |ρ| >= 1 are rejected, so the
// returned smile never fits worse than the initial guess.
func FitLM(forward, maturity float64, quotes []Quote) (*Smile, error) {
	m, err := newMarket(forward, maturity, quotes)
	if err != nil {
		return nil, err
	}
	p, err := m.levenbergMarquardt(m.initialParams())
	if err != nil {
		return nil, err
	}
	return m.smile(p), nil
}

// volResiduals writes quote vol − model vol into r and returns the sum of squares.
func (m *market) volResiduals(p Params, r *mat.VecDense) float64 {
	cost := 0.0
	for i, k := range m.kList {
		res := m.quotes[i].Vol - math.Sqrt(math.Abs(p.Variance(k)/m.maturity))
		r.SetVec(i, res)
		cost += res * res
	}
	return cost
}

// jacobian of the model vols √(|w|/T) with respect to the parameters.
func (m *market) jacobian(p Params, jac *mat.Dense) {
	grad := make([]float64, ParamsLen)
	for i, k := range m.kList {
		w := p.Variance(k)
		vol := math.Sqrt(math.Abs(w / m.maturity))
		scale := 0.0
		if vol > 0 {
			scale = math.Copysign(1/(2*vol*m.maturity), w)
		}
		p.gradVariance(k, grad)
		for j := 0; j < ParamsLen; j++ {
			jac.Set(i, j, grad[j]*scale)
		}
	}
}

func admissible(p Params) bool {
	return p.finite() && p.B >= 0 && math.Abs(p.Rho) < 1
}

func (m *market) levenbergMarquardt(p Params) (Params, error) {
	n := len(m.kList)
	r := mat.NewVecDense(n, nil)
	rNew := mat.NewVecDense(n, nil)
	jac := mat.NewDense(n, ParamsLen, nil)
	var (
		jtj       mat.Dense
		jtr, step mat.VecDense
	)

	cost := m.volResiduals(p, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return p, errors.Wrap(ErrFitFailed, "initial residuals are not finite")
	}

	lambda := lambda0
	for i := 0; i < MaxIterations && lambda < lambdaMax; i++ {
		m.jacobian(p, jac)
		jtj.Mul(jac.T(), jac)
		jtr.MulVec(jac.T(), r)
		for d := 0; d < ParamsLen; d++ {
			jtj.Set(d, d, jtj.At(d, d)*(1+lambda)+lambda*1e-12)
		}

		if err := step.SolveVec(&jtj, &jtr); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				lambda *= 10
				continue
			}
		}

		x := p.slice()
		for d := range x {
			x[d] += step.AtVec(d)
		}
		cand := paramsOf(x)
		if !admissible(cand) {
			lambda *= 10
			continue
		}
		newCost := m.volResiduals(cand, rNew)
		if !(newCost < cost) {
			lambda *= 10
			continue
		}

		improvement := cost - newCost
		p, cost = cand, newCost
		r.CopyVec(rNew)
		lambda /= 10
		if improvement <= Tolerance*(1+cost) {
			break
		}
	}
	return p, nil
}

// leastSquares is the squared error in total variance.
func (m *market) leastSquares(p Params) float64 {
	sum := 0.0
	for i, k := range m.kList {
		d := p.Variance(k) - m.vList[i]
		sum += d * d
	}
	return sum
}

func (m *market) leastSquaresGrad(p Params, dst []float64) {
	grad := make([]float64, ParamsLen)
	for j := range dst {
		dst[j] = 0
	}
	for i, k := range m.kList {
		d := 2 * (p.Variance(k) - m.vList[i])
		p.gradVariance(k, grad)
		floats.AddScaled(dst, d, grad)
	}
}

// butterfly returns the wing conditions against butterfly arbitrage; all must be
// positive.
func butterfly(p Params) [4]float64 {
	rp, rm := p.Rho+1, p.Rho-1
	return [4]float64{
		(4-p.A+p.B*p.Eta*rp)*(p.A-p.B*p.Eta*rp) - p.B*p.B*rp*rp,
		4 - p.B*p.B*rp*rp,
		(4-p.A+p.B*p.Eta*rm)*(p.A-p.B*p.Eta*rm) - p.B*p.B*rm*rm,
		4 - p.B*p.B*rm*rm,
	}
}

func arbitrageFree(p Params) bool {
	for _, c := range butterfly(p) {
		if !(c > 0) {
			return false
		}
	}
	return true
}

type bounds struct {
	lo, hi []float64
}

func (m *market) bounds() bounds {
	kMin, kMax := floats.Min(m.kList), floats.Max(m.kList)
	return bounds{
		lo: []float64{1e-6, 1e-3, 1e-3, -0.999999, math.Min(2*kMin, kMin)},
		hi: []float64{floats.Max(m.vList), 2, 2, 0.999999, math.Max(2*kMax, kMax)},
	}
}

func (b bounds) contains(x []float64) bool {
	for i, v := range x {
		if !(v >= b.lo[i] && v <= b.hi[i]) {
			return false
		}
	}
	return true
}

func (b bounds) clamp(p Params) []float64 {
	x := p.slice()
	for i := range x {
		x[i] = math.Max(b.lo[i], math.Min(b.hi[i], x[i]))
	}
	return x
}

// feasibleStart prefers the asymptotic guess and falls back to neutral parameters.
func (m *market) feasibleStart(b bounds) []float64 {
	guess := b.clamp(m.initialParams())
	if arbitrageFree(paramsOf(guess)) {
		return guess
	}
	if fallback := b.clamp(m.fallbackParams()); arbitrageFree(paramsOf(fallback)) {
		return fallback
	}
	return guess
}

// FitNelderMead minimises the total variance error with gonum's Nelder–Mead,
// treating the bounds and butterfly conditions as hard walls.
func FitNelderMead(forward, maturity float64, quotes []Quote) (*Smile, error) {
	m, err := newMarket(forward, maturity, quotes)
	if err != nil {
		return nil, err
	}
	b := m.bounds()
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p := paramsOf(x)
			if !b.contains(x) || !arbitrageFree(p) {
				return math.MaxFloat64
			}
			return m.leastSquares(p)
		},
	}
	result, err := optimize.Minimize(problem, m.feasibleStart(b), nil, &optimize.NelderMead{})
	if result == nil {
		return nil, errors.Wrapf(ErrFitFailed, "nelder-mead: %v", err)
	}
	if result.F >= math.MaxFloat64 {
		return nil, errors.Wrap(ErrFitFailed, "nelder-mead: no feasible parameters")
	}
	return m.smile(paramsOf(result.X)), nil
}

// FitSLSQP minimises the total variance error with nlopt's SLSQP under the bounds
// and the butterfly conditions.
func FitSLSQP(forward, maturity float64, quotes []Quote) (*Smile, error) {
	m, err := newMarket(forward, maturity, quotes)
	if err != nil {
		return nil, err
	}
	b := m.bounds()

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, ParamsLen)
	if err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt: %v", err)
	}
	defer opt.Destroy()

	if err = opt.SetLowerBounds(b.lo); err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt lower bounds: %v", err)
	}
	if err = opt.SetUpperBounds(b.hi); err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt upper bounds: %v", err)
	}
	err = opt.SetMinObjective(func(x, gradient []float64) float64 {
		p := paramsOf(x)
		if len(gradient) > 0 {
			m.leastSquaresGrad(p, gradient)
		}
		return m.leastSquares(p)
	})
	if err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt objective: %v", err)
	}
	for i := 0; i < 4; i++ {
		idx := i
		// nlopt wants fc(x) <= 0
		fc := func(x []float64) float64 {
			return -butterfly(paramsOf(x))[idx]
		}
		err = opt.AddInequalityConstraint(func(x, gradient []float64) float64 {
			if len(gradient) > 0 {
				fd.Gradient(gradient, fc, x, nil)
			}
			return fc(x)
		}, 1e-9)
		if err != nil {
			return nil, errors.Wrapf(ErrFitFailed, "nlopt constraint %d: %v", idx, err)
		}
	}
	if err = opt.SetFtolRel(1e-12); err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt ftol: %v", err)
	}
	if err = opt.SetXtolRel(1e-10); err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt xtol: %v", err)
	}
	if err = opt.SetMaxEval(slsqpMaxEval); err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "nlopt max eval: %v", err)
	}

	x, _, err := opt.Optimize(m.feasibleStart(b))
	if err != nil {
		return nil, errors.Wrapf(ErrFitFailed, "slsqp: %v", err)
	}
	p := paramsOf(x)
	if !p.finite() {
		return nil, errors.Wrap(ErrFitFailed, "slsqp: parameters are not finite")
	}
	return m.smile(p), nil
}
