package main

import (
	"math"
	"slices"
	"time"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/charlerive/optionlib/report"
	"github.com/charlerive/optionlib/svi"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

const sessionKey = "session"

// session is built once per run from the merged configuration.
type session struct {
	cfg      *Config
	log      *zap.Logger
	engine   *blackscholes.Engine
	renderer report.Renderer
	now      func() time.Time
}

func sessionOf(c *cli.Context) *session {
	return c.App.Metadata[sessionKey].(*session)
}

var maturityFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "expiry",
		Usage: "expiration date as mm-dd-yyyy",
	},
	&cli.IntFlag{
		Name:  "days",
		Usage: "days to expiry",
	},
	&cli.Float64Flag{
		Name:  "maturity",
		Usage: "time to maturity in years",
	},
}

var spotFlag = &cli.Float64Flag{
	Name:     "spot",
	Aliases:  []string{"s"},
	Usage:    "underlying price",
	Required: true,
}

var rateFlag = &cli.Float64Flag{
	Name:    "rate",
	Aliases: []string{"r"},
	Usage:   "risk-free interest rate, continuously compounded (default from config)",
}

var contractFlags = append([]cli.Flag{
	spotFlag,
	&cli.Float64Flag{
		Name:     "strike",
		Aliases:  []string{"k"},
		Usage:    "strike price",
		Required: true,
	},
	rateFlag,
}, maturityFlags...)

var workersFlag = &cli.IntFlag{
	Name:  "workers",
	Usage: "number of pricing goroutines (default from config)",
}

var priceCommand = &cli.Command{
	Name:  "price",
	Usage: "prices a European call and put and their Greeks",
	Flags: append(slices.Clone(contractFlags), &cli.Float64Flag{
		Name:     "vol",
		Aliases:  []string{"v"},
		Usage:    "volatility",
		Required: true,
	}),
	Action: priceAction,
}

var batchCommand = &cli.Command{
	Name:      "batch",
	Usage:     "prices every row of a CSV file with the header spot,strike,maturity,rate,vol",
	ArgsUsage: "--file <inputs.csv>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "CSV file to read, - for stdin",
			Value:   "-",
		},
		workersFlag,
	},
	Action: batchAction,
}

var ivCommand = &cli.Command{
	Name:  "iv",
	Usage: "solves for the volatility that reproduces a quoted option price",
	Flags: append(slices.Clone(contractFlags),
		&cli.StringFlag{
			Name:     "type",
			Usage:    "call or put",
			Required: true,
		},
		&cli.Float64Flag{
			Name:     "price",
			Usage:    "quoted option price",
			Required: true,
		},
	),
	Action: ivAction,
}

var smileCommand = &cli.Command{
	Name:  "smile",
	Usage: "fits an SVI smile to quoted volatilities and prices the quoted strikes",
	Flags: append([]cli.Flag{
		spotFlag,
		rateFlag,
		&cli.StringFlag{
			Name:     "quotes",
			Aliases:  []string{"q"},
			Usage:    "CSV file with the header strike,vol",
			Required: true,
		},
		&cli.Float64Flag{
			Name:  "forward",
			Usage: "forward price (default spot·e^(rT))",
		},
		&cli.StringFlag{
			Name:  "method",
			Usage: "calibration method: lm, nelder-mead or slsqp",
			Value: string(svi.LevenbergMarquardt),
		},
		workersFlag,
	}, maturityFlags...),
	Action: smileAction,
}

func maturityOf(c *cli.Context) maturity {
	m := maturity{expiry: c.String("expiry")}
	if c.IsSet("days") {
		d := c.Int("days")
		m.days = &d
	}
	if c.IsSet("maturity") {
		y := c.Float64("maturity")
		m.years = &y
	}
	return m
}

// inputsOf reads the contract flags. Rate and volatility flags are percentage
// points when --percent is set; the configured rate is always a fraction.
func inputsOf(c *cli.Context, s *session) (blackscholes.Inputs, error) {
	t, err := maturityOf(c).resolve(s.now())
	if err != nil {
		return blackscholes.Inputs{}, err
	}
	in := fromPercent(blackscholes.Inputs{
		Spot:       c.Float64("spot"),
		Strike:     c.Float64("strike"),
		Maturity:   t,
		Rate:       c.Float64("rate"),
		Volatility: c.Float64("vol"),
	}, s.cfg.Percent)
	if !c.IsSet("rate") {
		in.Rate = s.cfg.Rate
	}
	return in, nil
}

func workersOf(c *cli.Context, s *session) int {
	if c.IsSet("workers") && c.Int("workers") > 0 {
		return c.Int("workers")
	}
	return s.cfg.Workers
}

func priceAction(c *cli.Context) error {
	s := sessionOf(c)
	in, err := inputsOf(c, s)
	if err != nil {
		return err
	}
	s.log.Debug("price", zap.Reflect("inputs", in), zap.Stringer("policy", s.engine.Policy()))
	res, err := s.engine.Evaluate(in)
	if err != nil {
		return errors.Wrap(err, "price")
	}
	return s.renderer.Write(c.App.Writer, in, res)
}

func ivAction(c *cli.Context) error {
	s := sessionOf(c)
	t, ok := blackscholes.ParseOptionType(c.String("type"))
	if !ok {
		return errors.Errorf("iv: unknown option type %q", c.String("type"))
	}
	in, err := inputsOf(c, s)
	if err != nil {
		return err
	}
	price := c.Float64("price")
	vol, err := s.engine.ImpliedVolatility(t, price, in)
	if err != nil {
		return errors.Wrap(err, "iv")
	}
	s.log.Debug("implied volatility", zap.Stringer("type", t), zap.Float64("price", price), zap.Float64("vol", vol))
	in.Volatility = vol
	return s.renderer.WriteImpliedVol(c.App.Writer, t, price, in)
}

func batchAction(c *cli.Context) error {
	s := sessionOf(c)
	f, err := openInput(c.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readInputs(f, s.cfg.Rate, s.cfg.Percent)
	if err != nil {
		return errors.Wrap(err, "batch")
	}
	outcomes := evaluateRows(c, s, rows)

	failed, err := s.renderer.WriteBatch(c.App.Writer, slices.Values(outcomes))
	if err != nil {
		return err
	}

	var calls []float64
	for _, o := range outcomes {
		if o.Err == nil {
			calls = append(calls, o.Result.CallPrice)
		}
	}
	fields := []zap.Field{zap.Int("rows", len(outcomes)), zap.Int("rejected", failed)}
	if len(calls) > 0 {
		fields = append(fields,
			zap.Float64("call_min", floats.Min(calls)),
			zap.Float64("call_max", floats.Max(calls)),
			zap.Float64("call_mean", floats.Sum(calls)/float64(len(calls))),
		)
	}
	if failed > 0 {
		s.log.Warn("batch finished with rejected rows", fields...)
	} else {
		s.log.Info("batch finished", fields...)
	}
	return nil
}

// evaluateRows prices the parsed rows concurrently and merges parse errors back
// in, so outcome i is data row i of the file.
func evaluateRows(c *cli.Context, s *session, rows []inputRow) []blackscholes.Outcome {
	var (
		valid []blackscholes.Inputs
		at    []int
	)
	outcomes := make([]blackscholes.Outcome, len(rows))
	for i, row := range rows {
		outcomes[i] = blackscholes.Outcome{Index: i, Inputs: row.Inputs, Err: row.Err}
		if row.Err != nil {
			s.log.Debug("rejected row", zap.Int("line", row.Line), zap.Error(row.Err))
			continue
		}
		valid = append(valid, row.Inputs)
		at = append(at, i)
	}
	for j, o := range s.engine.EvaluateAll(c.Context, valid, workersOf(c, s)) {
		o.Index = at[j]
		outcomes[at[j]] = o
	}
	return outcomes
}

func smileAction(c *cli.Context) error {
	s := sessionOf(c)
	t, err := maturityOf(c).resolve(s.now())
	if err != nil {
		return err
	}
	spot := c.Float64("spot")
	rate := s.cfg.Rate
	if c.IsSet("rate") {
		rate = c.Float64("rate")
		if s.cfg.Percent {
			rate /= 100
		}
	}
	forward := spot * math.Exp(rate*t)
	if c.IsSet("forward") {
		forward = c.Float64("forward")
	}

	f, err := openInput(c.String("quotes"))
	if err != nil {
		return err
	}
	defer f.Close()
	quotes, err := readQuotes(f, s.cfg.Percent)
	if err != nil {
		return errors.Wrap(err, "smile")
	}

	method := svi.Method(c.String("method"))
	start := time.Now()
	smile, err := svi.Fit(method, forward, t, quotes)
	if err != nil {
		return errors.Wrap(err, "smile")
	}
	s.log.Info("smile fitted",
		zap.String("method", string(method)),
		zap.Int("quotes", len(quotes)),
		zap.Float64("rmse", svi.RMSE(smile, quotes)),
		zap.Duration("took", time.Since(start)),
	)

	strikes := make([]float64, len(quotes))
	for i, q := range quotes {
		strikes[i] = q.Strike
	}
	outcomes := s.engine.EvaluateAll(c.Context, smile.Inputs(spot, rate, strikes), workersOf(c, s))
	return s.renderer.WriteSmile(c.App.Writer, smile, quotes, outcomes)
}
