package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/charlerive/optionlib/svi"
	"github.com/pkg/errors"
)

// expiryLayout is mm-dd-yyyy.
const expiryLayout = "01-02-2006"

var errMaturity = errors.New("exactly one of --expiry, --days or --maturity is required")

// maturity holds the mutually exclusive ways of giving the time to expiry.
type maturity struct {
	expiry string
	days   *int
	years  *float64
}

// resolve returns the time to expiry in years. An expiry date counts whole
// days from now.
func (m maturity) resolve(now time.Time) (float64, error) {
	set := 0
	if m.expiry != "" {
		set++
	}
	if m.days != nil {
		set++
	}
	if m.years != nil {
		set++
	}
	if set != 1 {
		return 0, errMaturity
	}

	switch {
	case m.expiry != "":
		expiry, err := time.ParseInLocation(expiryLayout, strings.TrimSpace(m.expiry), now.Location())
		if err != nil {
			return 0, errors.Wrapf(err, "expiry %q is not mm-dd-yyyy", m.expiry)
		}
		return blackscholes.YearFraction(now, expiry), nil
	case m.days != nil:
		return float64(*m.days) / blackscholes.DaysPerYear, nil
	}
	return *m.years, nil
}

// fromPercent converts a rate and volatility given in percentage points.
func fromPercent(in blackscholes.Inputs, percent bool) blackscholes.Inputs {
	if percent {
		in.Rate /= 100
		in.Volatility /= 100
	}
	return in
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	return f, nil
}

// header maps column names to indexes and checks that required are present.
func header(record []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(record))
	for i, name := range record {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("csv header is missing column %q", name)
		}
	}
	return cols, nil
}

func field(record []string, cols map[string]int, name string) (float64, bool, error) {
	i, ok := cols[name]
	if !ok || i >= len(record) || strings.TrimSpace(record[i]) == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0, true, errors.Wrapf(err, "column %s", name)
	}
	return v, true, nil
}

type inputRow struct {
	Line   int
	Inputs blackscholes.Inputs
	Err    error
}

// readInputs parses a CSV with the header spot,strike,maturity,rate,vol. rate
// is optional and defaults to the rate argument.
func readInputs(r io.Reader, rate float64, percent bool) ([]inputRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	first, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("csv: empty input")
	}
	if err != nil {
		return nil, errors.Wrap(err, "csv header")
	}
	cols, err := header(first, "spot", "strike", "maturity", "vol")
	if err != nil {
		return nil, err
	}

	var rows []inputRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return rows, errors.Wrap(err, "csv")
			}
			rows = append(rows, inputRow{Line: perr.Line, Err: err})
			continue
		}
		line, _ := cr.FieldPos(0)
		rows = append(rows, parseInputRow(line, record, cols, rate, percent))
	}
	return rows, nil
}

func parseInputRow(line int, record []string, cols map[string]int, rate float64, percent bool) inputRow {
	row := inputRow{Line: line}
	values := make(map[string]float64, 5)
	for _, name := range []string{"spot", "strike", "maturity", "vol"} {
		v, ok, err := field(record, cols, name)
		if err == nil && !ok {
			err = errors.Errorf("column %s is empty", name)
		}
		if err != nil {
			row.Err = errors.Wrapf(err, "line %d", line)
			return row
		}
		values[name] = v
	}
	r, ok, err := field(record, cols, "rate")
	if err != nil {
		row.Err = errors.Wrapf(err, "line %d", line)
		return row
	}
	row.Inputs = fromPercent(blackscholes.Inputs{
		Spot:       values["spot"],
		Strike:     values["strike"],
		Maturity:   values["maturity"],
		Rate:       r,
		Volatility: values["vol"],
	}, percent)
	if !ok {
		row.Inputs.Rate = rate
	}
	return row
}

// readQuotes parses a CSV with the header strike,vol.
func readQuotes(r io.Reader, percent bool) ([]svi.Quote, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "csv")
	}
	if len(records) == 0 {
		return nil, errors.New("csv: empty input")
	}
	cols, err := header(records[0], "strike", "vol")
	if err != nil {
		return nil, err
	}
	quotes := make([]svi.Quote, 0, len(records)-1)
	for i, record := range records[1:] {
		var q svi.Quote
		var ok bool
		if q.Strike, ok, err = field(record, cols, "strike"); err != nil || !ok {
			return nil, errors.Errorf("row %d: bad strike", i+1)
		}
		if q.Vol, ok, err = field(record, cols, "vol"); err != nil || !ok {
			return nil, errors.Errorf("row %d: bad vol", i+1)
		}
		if percent {
			q.Vol /= 100
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
