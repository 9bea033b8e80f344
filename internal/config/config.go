// Package config loads stall watchdog parameters from defaults, an optional
// config file, PRIMALSTALL_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables read by Load
const EnvPrefix = "PRIMALSTALL"

// Parameter keys, namespaced like the solver parameters they replace
const (
	KeyAbsTol   = "limits.primalstall.abstol"
	KeyRelTol   = "limits.primalstall.reltol"
	KeyMinTime  = "limits.primalstall.mintime"
	KeyMaxTime  = "limits.primalstall.maxtime"
	KeyFracTime = "limits.primalstall.fractime"
)

type param struct {
	key   string
	flag  string
	usage string
	def   func(stall.Config) float64
	set   func(*stall.Config, float64)
}

var params = []param{
	{KeyAbsTol, "abstol", "absolute improvement tolerance",
		func(c stall.Config) float64 { return c.AbsTol }, func(c *stall.Config, v float64) { c.AbsTol = v }},
	{KeyRelTol, "reltol", "relative improvement tolerance",
		func(c stall.Config) float64 { return c.RelTol }, func(c *stall.Config, v float64) { c.RelTol = v }},
	{KeyMinTime, "mintime", "minimum improvement time (seconds)",
		func(c stall.Config) float64 { return c.MinTime }, func(c *stall.Config, v float64) { c.MinTime = v }},
	{KeyMaxTime, "maxtime", "maximum improvement time (seconds)",
		func(c stall.Config) float64 { return c.MaxTime }, func(c *stall.Config, v float64) { c.MaxTime = v }},
	{KeyFracTime, "fractime", "fraction of elapsed time without improvement, in [0,1]",
		func(c stall.Config) float64 { return c.FracTime }, func(c *stall.Config, v float64) { c.FracTime = v }},
}

// RegisterFlags adds --abstol, --reltol, --mintime, --maxtime and --fractime to fs
func RegisterFlags(fs *pflag.FlagSet) {
	def := stall.DefaultConfig()
	for _, p := range params {
		fs.Float64(p.flag, p.def(def), p.usage)
	}
}

// New returns a viper instance with defaults and environment bindings set up
func New() *viper.Viper {
	v := viper.New()
	def := stall.DefaultConfig()
	for _, p := range params {
		v.SetDefault(p.key, p.def(def))
		// PRIMALSTALL_ABSTOL rather than the nested key path
		_ = v.BindEnv(p.key, EnvPrefix+"_"+strings.ToUpper(p.flag))
	}
	return v
}

// Load resolves the stall configuration. path may be empty; fs may be nil or
// a flag set prepared with RegisterFlags.
func Load(path string, fs *pflag.FlagSet) (stall.Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return stall.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for _, p := range params {
			if f := fs.Lookup(p.flag); f != nil {
				if err := v.BindPFlag(p.key, f); err != nil {
					return stall.Config{}, fmt.Errorf("failed to bind flag %s: %w", p.flag, err)
				}
			}
		}
	}

	return FromViper(v)
}

// FromViper reads and validates the stall parameters from v
func FromViper(v *viper.Viper) (stall.Config, error) {
	var cfg stall.Config
	for _, p := range params {
		value, err := toFloat(v.Get(p.key))
		if err != nil {
			return stall.Config{}, fmt.Errorf("invalid %s: %w", p.key, err)
		}
		p.set(&cfg, value)
	}

	if err := cfg.Validate(); err != nil {
		return stall.Config{}, fmt.Errorf("invalid stall configuration: %w", err)
	}
	return cfg, nil
}

// toFloat accepts numbers and strings such as "inf" or "+Inf"
func toFloat(raw any) (float64, error) {
	if s, ok := raw.(string); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return cast.ToFloat64E(raw)
}

// ApplyChangedFlags overrides cfg with the flags the user set explicitly.
// Used where another source (a replay script) sits between the config file
// and the command line.
func ApplyChangedFlags(cfg stall.Config, fs *pflag.FlagSet) (stall.Config, error) {
	for _, p := range params {
		f := fs.Lookup(p.flag)
		if f == nil || !f.Changed {
			continue
		}
		value, err := fs.GetFloat64(p.flag)
		if err != nil {
			return stall.Config{}, fmt.Errorf("invalid --%s: %w", p.flag, err)
		}
		p.set(&cfg, value)
	}
	if err := cfg.Validate(); err != nil {
		return stall.Config{}, fmt.Errorf("invalid stall configuration: %w", err)
	}
	return cfg, nil
}
