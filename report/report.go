// Package report renders pricing results for people: decimal rounding and
// table, markdown or JSON output.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"text/tabwriter"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/charlerive/optionlib/svi"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Format is an output format.
type Format string

const (
	Table    Format = "table"
	Markdown Format = "markdown"
	JSON     Format = "json"
)

// ParseFormat accepts table, markdown (or md) and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return Table, nil
	case "markdown", "md":
		return Markdown, nil
	case "json":
		return JSON, nil
	}
	return "", errors.Errorf("report: unknown format %q", s)
}

type Leg struct {
	Price decimal.Decimal `json:"price"`
	Delta decimal.Decimal `json:"delta"`
	Gamma decimal.Decimal `json:"gamma"`
	Vega  decimal.Decimal `json:"vega"`
	Rho   decimal.Decimal `json:"rho"`
	Theta decimal.Decimal `json:"theta"`
}

func newLeg(price float64, g blackscholes.Greeks, places int32) Leg {
	round := func(v float64) decimal.Decimal {
		return decimal.NewFromFloat(v).Round(places)
	}
	return Leg{
		Price: round(price),
		Delta: round(g.Delta),
		Gamma: round(g.Gamma),
		Vega:  round(g.Vega),
		Rho:   round(g.Rho),
		Theta: round(g.Theta),
	}
}

// Quote is a result rounded for display.
type Quote struct {
	Inputs blackscholes.Inputs `json:"inputs"`
	Call   Leg                 `json:"call"`
	Put    Leg                 `json:"put"`
}

// NewQuote rounds res to places decimal places.
func NewQuote(in blackscholes.Inputs, res blackscholes.Result, places int32) Quote {
	return Quote{
		Inputs: in,
		Call:   newLeg(res.CallPrice, res.Call, places),
		Put:    newLeg(res.PutPrice, res.Put, places),
	}
}

var inputRows = []struct {
	label, symbol string
	value         func(blackscholes.Inputs) float64
}{
	{"Underlying price", "S", func(in blackscholes.Inputs) float64 { return in.Spot }},
	{"Strike price", "K", func(in blackscholes.Inputs) float64 { return in.Strike }},
	{"Time to maturity", "T", func(in blackscholes.Inputs) float64 { return in.Maturity }},
	{"Risk-free interest rate", "r", func(in blackscholes.Inputs) float64 { return in.Rate }},
	{"Volatility", "sigma", func(in blackscholes.Inputs) float64 { return in.Volatility }},
}

var resultRows = []struct {
	label string
	value func(Leg) decimal.Decimal
}{
	{"Price", func(l Leg) decimal.Decimal { return l.Price }},
	{"delta", func(l Leg) decimal.Decimal { return l.Delta }},
	{"gamma", func(l Leg) decimal.Decimal { return l.Gamma }},
	{"vega", func(l Leg) decimal.Decimal { return l.Vega }},
	{"rho", func(l Leg) decimal.Decimal { return l.Rho }},
	{"theta", func(l Leg) decimal.Decimal { return l.Theta }},
}

type Renderer struct {
	Format Format
	Places int32
}

// Write renders the inputs frame followed by the price and Greeks frame.
func (r Renderer) Write(w io.Writer, in blackscholes.Inputs, res blackscholes.Result) error {
	q := NewQuote(in, res, r.Places)
	if r.Format == JSON {
		return writeJSON(w, q)
	}
	prices := frame{head: []string{"", "Call", "Put"}}
	for _, row := range resultRows {
		prices.rows = append(prices.rows, []string{row.label, row.value(q.Call).StringFixed(r.Places), row.value(q.Put).StringFixed(r.Places)})
	}
	return r.writeFrames(w, inputFrame(in, true), prices)
}

type impliedVol struct {
	Type       string              `json:"type"`
	Price      float64             `json:"price"`
	Volatility decimal.Decimal     `json:"volatility"`
	Inputs     blackscholes.Inputs `json:"inputs"`
}

// WriteImpliedVol renders the inputs of a quoted option and the volatility
// that reproduces its price. in.Volatility holds the solved volatility.
func (r Renderer) WriteImpliedVol(w io.Writer, t blackscholes.OptionType, price float64, in blackscholes.Inputs) error {
	iv := impliedVol{
		Type:       t.String(),
		Price:      price,
		Volatility: decimal.NewFromFloat(in.Volatility).Round(r.Places),
		Inputs:     in,
	}
	if r.Format == JSON {
		return writeJSON(w, iv)
	}
	f := inputFrame(in, false)
	f.rows = append(f.rows,
		[]string{"Option price", t.String(), fmt.Sprint(price)},
		[]string{"Implied volatility", "sigma", iv.Volatility.StringFixed(r.Places)},
	)
	return r.writeFrames(w, f)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "report: encode json")
}

type frame struct {
	head []string
	rows [][]string
}

func inputFrame(in blackscholes.Inputs, withVol bool) frame {
	f := frame{head: []string{"", "Symbol", "Input"}}
	for _, row := range inputRows {
		if row.symbol == "sigma" && !withVol {
			continue
		}
		f.rows = append(f.rows, []string{row.label, row.symbol, fmt.Sprint(row.value(in))})
	}
	return f
}

// writeFrames writes frames one after another, separated by an empty line.
func (r Renderer) writeFrames(w io.Writer, frames ...frame) error {
	if r.Format == Markdown {
		var b strings.Builder
		for i, f := range frames {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "| %s |\n|---|%s\n", strings.Join(f.head, " | "), strings.Repeat("---:|", len(f.head)-1))
			for _, row := range f.rows {
				fmt.Fprintf(&b, "| %s |\n", strings.Join(row, " | "))
			}
		}
		_, err := io.WriteString(w, b.String())
		return errors.Wrap(err, "report: write markdown")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for i, f := range frames {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\t\n", strings.Join(f.head, "\t"))
		for _, row := range f.rows {
			fmt.Fprintf(tw, "%s\t\n", strings.Join(row, "\t"))
		}
	}
	return errors.Wrap(tw.Flush(), "report: write table")
}

type batchRow struct {
	Index int    `json:"index"`
	Quote *Quote `json:"quote,omitempty"`
	Error string `json:"error,omitempty"`
}

// WriteBatch renders every outcome in order. Rejected rows show their error in
// place of the frames. It returns the number of rejected rows.
func (r Renderer) WriteBatch(w io.Writer, outcomes iter.Seq[blackscholes.Outcome]) (int, error) {
	failed := 0
	if r.Format == JSON {
		var rows []batchRow
		for o := range outcomes {
			row := batchRow{Index: o.Index}
			if o.Err != nil {
				failed++
				row.Error = o.Err.Error()
			} else {
				q := NewQuote(o.Inputs, o.Result, r.Places)
				row.Quote = &q
			}
			rows = append(rows, row)
		}
		return failed, writeJSON(w, rows)
	}

	for o := range outcomes {
		header := fmt.Sprintf("row %d", o.Index)
		if r.Format == Markdown {
			header = "### " + header
		}
		if o.Err != nil {
			failed++
			if _, err := fmt.Fprintf(w, "%s: error: %v\n\n", header, o.Err); err != nil {
				return failed, errors.Wrap(err, "report: write batch")
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n", header); err != nil {
			return failed, errors.Wrap(err, "report: write batch")
		}
		if err := r.Write(w, o.Inputs, o.Result); err != nil {
			return failed, err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return failed, errors.Wrap(err, "report: write batch")
		}
	}
	return failed, nil
}

type smileReport struct {
	Smile  *svi.Smile `json:"smile"`
	RMSE   float64    `json:"rmse"`
	Quotes []smileRow `json:"quotes"`
}

type smileRow struct {
	Strike    decimal.Decimal `json:"strike"`
	MarketVol decimal.Decimal `json:"market_vol"`
	ModelVol  decimal.Decimal `json:"model_vol"`
	Call      decimal.Decimal `json:"call"`
	Put       decimal.Decimal `json:"put"`
	Error     string          `json:"error,omitempty"`
}

// WriteSmile renders the fit and prices each quoted strike at the model vol.
func (r Renderer) WriteSmile(w io.Writer, smile *svi.Smile, quotes []svi.Quote, outcomes []blackscholes.Outcome) error {
	rep := smileReport{Smile: smile, RMSE: svi.RMSE(smile, quotes)}
	for i, q := range quotes {
		row := smileRow{
			Strike:    decimal.NewFromFloat(q.Strike),
			MarketVol: decimal.NewFromFloat(q.Vol).Round(r.Places),
			ModelVol:  decimal.NewFromFloat(smile.Vol(q.Strike)).Round(r.Places),
		}
		if i < len(outcomes) {
			if err := outcomes[i].Err; err != nil {
				row.Error = err.Error()
			} else {
				row.Call = decimal.NewFromFloat(outcomes[i].Result.CallPrice).Round(r.Places)
				row.Put = decimal.NewFromFloat(outcomes[i].Result.PutPrice).Round(r.Places)
			}
		}
		rep.Quotes = append(rep.Quotes, row)
	}
	if r.Format == JSON {
		return writeJSON(w, rep)
	}

	if _, err := fmt.Fprintf(w, "a=%g b=%g c=%g rho=%g eta=%g rmse=%g\n\n", smile.A, smile.B, smile.C, smile.Rho, smile.Eta, rep.RMSE); err != nil {
		return errors.Wrap(err, "report: write smile")
	}
	f := frame{head: []string{"strike", "market vol", "model vol", "call", "put"}}
	for _, row := range rep.Quotes {
		call, put := row.Call.StringFixed(r.Places), row.Put.StringFixed(r.Places)
		if row.Error != "" {
			call, put = "error", row.Error
		}
		f.rows = append(f.rows, []string{row.Strike.String(), row.MarketVol.StringFixed(r.Places), row.ModelVol.StringFixed(r.Places), call, put})
	}
	return r.writeFrames(w, f)
}
