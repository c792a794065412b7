package blackscholes

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/charlerive/optionlib/normal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var textbook = Inputs{Spot: 100, Strike: 100, Maturity: 1, Rate: 0.05, Volatility: 0.2}

func TestEvaluate_ReferenceCase(t *testing.T) {
	t.Parallel()
	res, err := Evaluate(textbook)
	require.NoError(t, err)

	assert.InDelta(t, 10.4506, res.CallPrice, 1e-3)
	assert.InDelta(t, 5.5735, res.PutPrice, 1e-3)
	assert.InDelta(t, 0.6368, res.Call.Delta, 1e-3)
	assert.InDelta(t, -0.3632, res.Put.Delta, 1e-3)
	assert.InDelta(t, 0.0188, res.Call.Gamma, 1e-3)
	assert.InDelta(t, 0.3752, res.Call.Vega, 1e-3)

	// full precision regression
	assert.InDelta(t, 10.450583572185565, res.CallPrice, 1e-9)
	assert.InDelta(t, 5.573526022256971, res.PutPrice, 1e-9)
	assert.InDelta(t, 0.018762017345846895, res.Put.Gamma, 1e-12)
	assert.InDelta(t, 0.3752403469169379, res.Put.Vega, 1e-12)
	assert.InDelta(t, -0.06414027546438197, res.Call.Theta, 1e-12)
	assert.InDelta(t, -0.01657880423934626, res.Put.Theta, 1e-12)
	assert.InDelta(t, 0.5323248154537634, res.Call.Rho, 1e-12)
	assert.InDelta(t, -0.41890460904695065, res.Put.Rho, 1e-12)
}

func TestD1D2(t *testing.T) {
	t.Parallel()
	d1, d2, err := D1D2(textbook)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, d1, 1e-12)
	assert.InDelta(t, 0.15, d2, 1e-12)

	_, _, err = D1D2(Inputs{Spot: 100, Strike: 100, Maturity: 0, Volatility: 0.2})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Degenerate, de.Kind)
}

// randomInputs draws valid inputs over a wide range with a fixed seed.
func randomInputs(n int) []Inputs {
	rnd := rand.New(rand.NewSource(20221017))
	out := make([]Inputs, n)
	for i := range out {
		out[i] = Inputs{
			Spot:       1 + rnd.Float64()*999,
			Strike:     1 + rnd.Float64()*999,
			Maturity:   0.001 + rnd.Float64()*5,
			Rate:       -0.02 + rnd.Float64()*0.12,
			Volatility: 0.01 + rnd.Float64()*1.5,
		}
	}
	return out
}

func TestPutCallParity(t *testing.T) {
	t.Parallel()
	for _, in := range randomInputs(2000) {
		res, err := Evaluate(in)
		require.NoError(t, err)
		want := in.Spot - in.Strike*math.Exp(-in.Rate*in.Maturity)
		scale := math.Max(1, math.Max(in.Spot, in.Strike))
		assert.InDeltaf(t, want, res.CallPrice-res.PutPrice, 1e-9*scale, "%+v", in)
	}
}

func TestPriceAndDeltaBounds(t *testing.T) {
	t.Parallel()
	for _, in := range randomInputs(2000) {
		res, err := Evaluate(in)
		require.NoError(t, err)
		discK := in.Strike * math.Exp(-in.Rate*in.Maturity)

		assert.GreaterOrEqual(t, res.CallPrice, 0.0)
		assert.LessOrEqual(t, res.CallPrice, in.Spot)
		assert.GreaterOrEqual(t, res.PutPrice, 0.0)
		assert.LessOrEqual(t, res.PutPrice, discK)

		assert.GreaterOrEqual(t, res.Call.Delta, 0.0)
		assert.LessOrEqual(t, res.Call.Delta, 1.0)
		assert.GreaterOrEqual(t, res.Put.Delta, -1.0)
		assert.LessOrEqual(t, res.Put.Delta, 0.0)

		assert.Equal(t, res.Call.Gamma, res.Put.Gamma)
		assert.Equal(t, res.Call.Vega, res.Put.Vega)
		assert.GreaterOrEqual(t, res.Call.Gamma, 0.0)
		assert.GreaterOrEqual(t, res.Call.Vega, 0.0)
	}
}

func TestMonotonicity(t *testing.T) {
	t.Parallel()
	const slack = 1e-12
	base := Inputs{Strike: 100, Maturity: 0.5, Rate: 0.03, Volatility: 0.25}

	prev, err := Evaluate(Inputs{Spot: 1, Strike: base.Strike, Maturity: base.Maturity, Rate: base.Rate, Volatility: base.Volatility})
	require.NoError(t, err)
	for s := 2.0; s <= 400; s++ {
		in := base
		in.Spot = s
		res, err := Evaluate(in)
		require.NoError(t, err)
		assert.GreaterOrEqualf(t, res.CallPrice, prev.CallPrice-slack, "call in S at %v", s)
		assert.LessOrEqualf(t, res.PutPrice, prev.PutPrice+slack, "put in S at %v", s)
		prev = res
	}

	base.Spot = 90
	prev, err = Evaluate(Inputs{Spot: 90, Strike: 100, Maturity: 0.5, Rate: 0.03, Volatility: 0.01})
	require.NoError(t, err)
	for v := 0.02; v <= 3; v += 0.01 {
		in := base
		in.Volatility = v
		res, err := Evaluate(in)
		require.NoError(t, err)
		assert.GreaterOrEqualf(t, res.CallPrice, prev.CallPrice-slack, "call in σ at %v", v)
		assert.GreaterOrEqualf(t, res.PutPrice, prev.PutPrice-slack, "put in σ at %v", v)
		prev = res
	}
}

func TestShortMaturityApproachesIntrinsic(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		spot, call, put float64
	}{
		{110, 10, 0},
		{90, 0, 10},
		{150, 50, 0},
	} {
		res, err := Evaluate(Inputs{Spot: tc.spot, Strike: 100, Maturity: 1e-10, Rate: 0.05, Volatility: 0.2})
		require.NoError(t, err)
		assert.InDeltaf(t, tc.call, res.CallPrice, 1e-6, "S=%v", tc.spot)
		assert.InDeltaf(t, tc.put, res.PutPrice, 1e-6, "S=%v", tc.spot)
	}
}

func TestDomainRejection(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name  string
		in    Inputs
		kind  Kind
		field string
	}{
		{"zero spot", Inputs{Spot: 0, Strike: 100, Maturity: 1, Volatility: 0.2}, NonPositiveSpot, "spot"},
		{"negative spot", Inputs{Spot: -5, Strike: 100, Maturity: 1, Volatility: 0.2}, NonPositiveSpot, "spot"},
		{"zero strike", Inputs{Spot: 100, Strike: 0, Maturity: 1, Volatility: 0.2}, NonPositiveStrike, "strike"},
		{"negative vol", Inputs{Spot: 100, Strike: 100, Maturity: 1, Volatility: -0.1}, NegativeVolatility, "volatility"},
		{"negative maturity", Inputs{Spot: 100, Strike: 100, Maturity: -1, Volatility: 0.2}, NegativeMaturity, "maturity"},
		{"nan rate", Inputs{Spot: 100, Strike: 100, Maturity: 1, Rate: math.NaN(), Volatility: 0.2}, NonFinite, "rate"},
		{"inf spot", Inputs{Spot: math.Inf(1), Strike: 100, Maturity: 1, Volatility: 0.2}, NonFinite, "spot"},
		{"overflowing discount", Inputs{Spot: 100, Strike: 100, Maturity: 1000, Rate: -1e6, Volatility: 0.2}, NonFinite, "discounted strike"},
		{"overflowing rate times maturity", Inputs{Spot: 100, Strike: 100, Maturity: 1e200, Rate: 1e200, Volatility: 0.2}, NonFinite, "rate*maturity"},
		{"overflowing sigma squared", Inputs{Spot: 100, Strike: 100, Maturity: 4, Volatility: 1e308}, NonFinite, "volatility^2*maturity"},
		{"overflowing sigma squared short maturity", Inputs{Spot: 100, Strike: 100, Maturity: 1, Rate: 0.05, Volatility: 1e160}, NonFinite, "volatility^2*maturity"},
		{"overflowing total variance", Inputs{Spot: 100, Strike: 100, Maturity: 1e10, Volatility: 1e150}, NonFinite, "volatility^2*maturity"},
		{"overflowing put rho", Inputs{Spot: 100, Strike: 1e20, Maturity: 1e300, Volatility: 0.2}, NonFinite, "put_rho"},
		{"overflowing theta", Inputs{Spot: 1e300, Strike: 1e300, Maturity: 1e-20, Volatility: 1e10}, NonFinite, "call_theta"},
		{"zero vol", Inputs{Spot: 100, Strike: 100, Maturity: 1, Volatility: 0}, Degenerate, "volatility"},
		{"zero maturity", Inputs{Spot: 100, Strike: 100, Maturity: 0, Volatility: 0.2}, Degenerate, "maturity"},
		{"zero vol and maturity", Inputs{Spot: 100, Strike: 100}, Degenerate, "volatility,maturity"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := Evaluate(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDomain)
			var de *DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.kind, de.Kind)
			assert.Equal(t, tc.field, de.Field)
			assert.Equal(t, Result{}, res, "no partial result")
		})
	}
}

func TestEvaluate_FiniteOrError(t *testing.T) {
	t.Parallel()
	// the call rho has a zero factor and must not become Inf·0
	in := Inputs{Spot: 100, Strike: 1e20, Maturity: 1e300, Volatility: 0.2}
	res := Default.evaluate(in)
	assert.Zero(t, res.Call.Rho)
	assert.True(t, math.IsInf(res.Put.Rho, -1))

	limit := New(WithPolicy(IntrinsicLimit))
	_, err := limit.Evaluate(Inputs{Spot: 1e11, Strike: 1e10, Maturity: 1e-300, Rate: 1e300})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, NonFinite, de.Kind)
	assert.Equal(t, "call_theta", de.Field)

	for _, in := range randomInputs(500) {
		res, err := Evaluate(in)
		require.NoError(t, err)
		for i, v := range res.Row() {
			assert.Falsef(t, math.IsNaN(v) || math.IsInf(v, 0), "%s of %+v", Columns[i], in)
		}
	}
}

func TestIntrinsicLimitPolicy(t *testing.T) {
	t.Parallel()
	e := New(WithPolicy(IntrinsicLimit))
	assert.Equal(t, IntrinsicLimit, e.Policy())

	// σ = 0, call out of the money against the discounted strike
	in := Inputs{Spot: 100, Strike: 120, Maturity: 1, Rate: 0.05, Volatility: 0}
	res, err := e.Evaluate(in)
	require.NoError(t, err)
	discK := 120 * math.Exp(-0.05)
	assert.Zero(t, res.CallPrice)
	assert.InDelta(t, discK-100, res.PutPrice, 1e-12)
	assert.Equal(t, Greeks{}, res.Call)
	assert.Equal(t, -1.0, res.Put.Delta)
	assert.Zero(t, res.Put.Gamma)
	assert.Zero(t, res.Put.Vega)
	assert.InDelta(t, 0.01*0.05*discK, res.Put.Theta, 1e-12)
	assert.InDelta(t, -0.01*discK, res.Put.Rho, 1e-12)

	// σ = 0, call in the money
	in.Strike = 80
	res, err = e.Evaluate(in)
	require.NoError(t, err)
	assert.InDelta(t, 100-80*math.Exp(-0.05), res.CallPrice, 1e-12)
	assert.Zero(t, res.PutPrice)
	assert.Equal(t, 1.0, res.Call.Delta)
	assert.InDelta(t, -0.01*0.05*80*math.Exp(-0.05), res.Call.Theta, 1e-12)
	assert.Equal(t, Greeks{}, res.Put)

	// T = 0 is the undiscounted intrinsic value
	res, err = e.Evaluate(Inputs{Spot: 90, Strike: 100, Rate: 0.05, Volatility: 0.2})
	require.NoError(t, err)
	assert.Zero(t, res.CallPrice)
	assert.Equal(t, 10.0, res.PutPrice)
	assert.Zero(t, res.Put.Rho)

	// exactly at the strike the Greeks are undefined
	_, err = e.Evaluate(Inputs{Spot: 100, Strike: 100, Volatility: 0.2})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, DegenerateAtStrike, de.Kind)

	// negative inputs are still rejected first
	_, err = e.Evaluate(Inputs{Spot: 100, Strike: 100, Maturity: -1})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, NegativeMaturity, de.Kind)
}

func TestIntrinsicLimitMatchesSmallVolatility(t *testing.T) {
	t.Parallel()
	e := New(WithPolicy(IntrinsicLimit))
	for _, strike := range []float64{70, 90, 110, 130} {
		in := Inputs{Spot: 100, Strike: strike, Maturity: 0.75, Rate: 0.04}
		limit, err := e.Evaluate(in)
		require.NoError(t, err)
		in.Volatility = 1e-6
		near, err := e.Evaluate(in)
		require.NoError(t, err)
		assert.InDeltaf(t, limit.CallPrice, near.CallPrice, 1e-9, "K=%v", strike)
		assert.InDeltaf(t, limit.PutPrice, near.PutPrice, 1e-9, "K=%v", strike)
		assert.InDeltaf(t, limit.Call.Delta, near.Call.Delta, 1e-9, "K=%v", strike)
		assert.InDeltaf(t, limit.Call.Theta, near.Call.Theta, 1e-9, "K=%v", strike)
		assert.InDeltaf(t, limit.Put.Rho, near.Put.Rho, 1e-9, "K=%v", strike)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	t.Parallel()
	first, err := Evaluate(textbook)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Evaluate(textbook)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestWithDistribution(t *testing.T) {
	t.Parallel()
	fast := New(WithDistribution(normal.Hastings{}))
	want, err := Evaluate(textbook)
	require.NoError(t, err)
	got, err := fast.Evaluate(textbook)
	require.NoError(t, err)
	assert.InDelta(t, want.CallPrice, got.CallPrice, 2e-5)
	assert.InDelta(t, want.PutPrice, got.PutPrice, 2e-5)
	assert.InDelta(t, want.Call.Delta, got.Call.Delta, 1e-7)
}

func TestResultAccessors(t *testing.T) {
	t.Parallel()
	res, err := Evaluate(textbook)
	require.NoError(t, err)
	assert.Equal(t, res.CallPrice, res.Price(Call))
	assert.Equal(t, res.PutPrice, res.Price(Put))
	assert.Equal(t, res.Put, res.Greeks(Put))
	row := res.Row()
	require.Len(t, row, len(Columns))
	assert.Equal(t, res.Put.Rho, row[len(row)-1])
}

func TestParseOptionType(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]OptionType{"c": Call, "CALL": Call, " p ": Put, "Put": Put} {
		got, ok := ParseOptionType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseOptionType("straddle")
	assert.False(t, ok)
	assert.Equal(t, "put", Put.String())
}

func TestYearFraction(t *testing.T) {
	t.Parallel()
	now := time.Date(2022, 6, 13, 11, 44, 0, 0, time.UTC)
	assert.Equal(t, 11.0/365, YearFraction(now, time.Date(2022, 6, 24, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0.0, YearFraction(now, now.Add(23*time.Hour)))
	assert.Equal(t, -2.0/365, YearFraction(now, now.Add(-36*time.Hour)))
}

func TestDomainErrorMessage(t *testing.T) {
	t.Parallel()
	err := error(&DomainError{Kind: NonPositiveStrike, Field: "strike", Value: 0})
	assert.Equal(t, "blackscholes: strike must be positive (strike=0)", err.Error())
	assert.True(t, errors.Is(err, ErrDomain))
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
