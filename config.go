package main

import (
	"io"
	"math"
	"runtime"
	"strings"

	"github.com/charlerive/optionlib/blackscholes"
	"github.com/charlerive/optionlib/report"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "BSM"

// Config precedence: defaults, file, BSM_* env, explicit flags.
type Config struct {
	Rate      float64 `mapstructure:"rate"`
	Policy    string  `mapstructure:"policy"`
	Format    string  `mapstructure:"format"`
	Precision int32   `mapstructure:"precision"`
	LogLevel  string  `mapstructure:"log_level"`
	Workers   int     `mapstructure:"workers"`
	Percent   bool    `mapstructure:"percent"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rate", 0.0)
	v.SetDefault("policy", blackscholes.FailFast.String())
	v.SetDefault("format", string(report.Table))
	v.SetDefault("precision", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("percent", false)
}

// loadConfig reads path when it is not empty. The result is not validated, so
// that flags can still override it.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Validate checks every field and fills in the worker count when it is zero.
func (c *Config) Validate() error {
	if math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		return errors.Errorf("config: rate %v is not finite", c.Rate)
	}
	if _, err := parsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Precision < 0 || c.Precision > 16 {
		return errors.Errorf("config: precision %d out of range [0, 16]", c.Precision)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log level")
	}
	if c.Workers < 0 {
		return errors.Errorf("config: workers %d is negative", c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	return nil
}

func parsePolicy(s string) (blackscholes.Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast", "failfast":
		return blackscholes.FailFast, nil
	case "limit", "intrinsic", "intrinsic-limit":
		return blackscholes.IntrinsicLimit, nil
	}
	return 0, errors.Errorf("config: unknown policy %q", s)
}

// newLogger writes console-encoded logs at level and above to w.
func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), lvl)
	return zap.New(core).Named("bsm"), nil
}
