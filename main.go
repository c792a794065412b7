// Command bsm prices European options with the Black–Scholes–Merton model.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/charlerive/optionlib/report"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string
	policy     string
	format     string
	precision  int
	percent    bool
)

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "bsm"
	app.Usage = "Black–Scholes–Merton prices and Greeks for European options"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.EnableBashCompletion = true
	app.Metadata = map[string]interface{}{}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "config file (yaml, json or toml)",
			EnvVars:     []string{envPrefix + "_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "policy",
			Usage:       "degenerate inputs (σ=0 or T=0): fail-fast or limit",
			Destination: &policy,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "output format: table, markdown or json",
			Destination: &format,
		},
		&cli.IntFlag{
			Name:        "precision",
			Usage:       "decimal places in the output",
			Destination: &precision,
		},
		&cli.BoolFlag{
			Name:        "percent",
			Usage:       "rates and volatilities are given in percentage points",
			Destination: &percent,
		},
	}
	app.Commands = []*cli.Command{
		priceCommand,
		batchCommand,
		ivCommand,
		smileCommand,
	}
	app.Before = func(c *cli.Context) error {
		s, err := newSession(c, stderr)
		if err != nil {
			return err
		}
		c.App.Metadata[sessionKey] = s
		return nil
	}
	app.After = func(c *cli.Context) error {
		if s, ok := c.App.Metadata[sessionKey].(*session); ok {
			_ = s.log.Sync()
		}
		return nil
	}
	return app
}

// newSession merges config, environment and global flags.
func newSession(c *cli.Context, stderr io.Writer) (*session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = logLevel
	}
	if c.IsSet("policy") {
		cfg.Policy = policy
	}
	if c.IsSet("format") {
		cfg.Format = format
	}
	if c.IsSet("precision") {
		cfg.Precision = int32(precision)
	}
	if c.IsSet("percent") {
		cfg.Percent = percent
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	p, _ := parsePolicy(cfg.Policy)
	f, _ := report.ParseFormat(cfg.Format)
	logger.Debug("config loaded",
		zap.String("file", configPath),
		zap.String("policy", p.String()),
		zap.String("format", string(f)),
		zap.Int("workers", cfg.Workers),
	)
	return &session{
		cfg:      cfg,
		log:      logger,
		engine:   blackscholes.New(blackscholes.WithPolicy(p)),
		renderer: report.Renderer{Format: f, Places: cfg.Precision},
		now:      time.Now,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bsm:", err)
		os.Exit(1)
	}
}
