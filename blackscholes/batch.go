package blackscholes

import (
	"context"
	"iter"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Outcome is the evaluation of one element of a batch. Err is set instead of
// Result when that element is rejected; the rest of the batch is unaffected.
type Outcome struct {
	Index  int
	Inputs Inputs
	Result Result
	Err    error
}

// Batch returns the outcomes of inputs in order. Elements are evaluated as the
// sequence is consumed, and ranging over it again starts from the first element.
func (e *Engine) Batch(inputs []Inputs) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		for i, in := range inputs {
			res, err := e.Evaluate(in)
			if !yield(Outcome{Index: i, Inputs: in, Result: res, Err: err}) {
				return
			}
		}
	}
}

// EvaluateAll evaluates inputs on up to workers goroutines and returns the
// outcomes in input order. workers <= 0 uses GOMAXPROCS. Elements not started
// before ctx is done carry ctx.Err().
func (e *Engine) EvaluateAll(ctx context.Context, inputs []Inputs, workers int) []Outcome {
	out := make([]Outcome, len(inputs))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := e.Evaluate(inputs[i])
				out[i] = Outcome{Index: i, Inputs: inputs[i], Result: res, Err: err}
			}
		}()
	}

	cancel := func(from int) {
		for j := from; j < len(inputs); j++ {
			out[j] = Outcome{Index: j, Inputs: inputs[j], Err: ctx.Err()}
		}
	}
feed:
	for i := range inputs {
		// select picks at random when both are ready
		if ctx.Err() != nil {
			cancel(i)
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancel(i)
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// Columns names the columns of the matrix returned by EvaluateVec.
var Columns = []string{
	"call_price", "put_price",
	"call_delta", "call_gamma", "call_vega", "call_theta", "call_rho",
	"put_delta", "put_gamma", "put_vega", "put_theta", "put_rho",
}

func (r Result) Row() []float64 {
	return []float64{
		r.CallPrice, r.PutPrice,
		r.Call.Delta, r.Call.Gamma, r.Call.Vega, r.Call.Theta, r.Call.Rho,
		r.Put.Delta, r.Put.Gamma, r.Put.Vega, r.Put.Theta, r.Put.Rho,
	}
}

// EvaluateVec evaluates element-wise. A rejected element leaves its row zero and
// its error at errs[i]; errs is nil when all succeed. Panics with mat.ErrShape if
// the lengths differ.
func (e *Engine) EvaluateVec(s, k, t, r, sigma mat.Vector) (*mat.Dense, []error) {
	n := s.Len()
	for _, v := range []mat.Vector{k, t, r, sigma} {
		if v.Len() != n {
			panic(mat.ErrShape)
		}
	}
	if n == 0 {
		return nil, nil
	}

	m := mat.NewDense(n, len(Columns), nil)
	var errs []error
	for i := 0; i < n; i++ {
		res, err := e.Evaluate(Inputs{
			Spot:       s.AtVec(i),
			Strike:     k.AtVec(i),
			Maturity:   t.AtVec(i),
			Rate:       r.AtVec(i),
			Volatility: sigma.AtVec(i),
		})
		if err != nil {
			if errs == nil {
				errs = make([]error, n)
			}
			errs[i] = err
			continue
		}
		m.SetRow(i, res.Row())
	}
	return m, errs
}
