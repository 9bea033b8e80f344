package stall

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Config holds the tolerances and time bounds of a stall monitor.
// It is immutable for the lifetime of the monitor it is given to.
type Config struct {
	// AbsTol is the absolute improvement that always counts as significant
	AbsTol float64

	// RelTol is the improvement, as a fraction of the previous incumbent,
	// that counts as significant. Example: 0.01 = 1%
	RelTol float64

	// MinTime is the grace period (seconds without improvement) before
	// interruption is considered at all
	MinTime float64

	// MaxTime is the time without improvement (seconds) beyond which the
	// search is interrupted
	MaxTime float64

	// FracTime interrupts once the time without improvement exceeds this
	// fraction of the total elapsed solving time. Must be in [0,1]
	FracTime float64
}

// DefaultConfig returns the defaults: only relative improvements of more than
// 1% count, and no time bound ever fires.
func DefaultConfig() Config {
	return Config{
		AbsTol:   math.Inf(1),
		RelTol:   0.01,
		MinTime:  0,
		MaxTime:  math.Inf(1),
		FracTime: 1,
	}
}

// Validate rejects NaN, negative values and a FracTime outside [0,1].
// The monitor itself never validates; this is for the configuration layer.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"abstol", c.AbsTol},
		{"reltol", c.RelTol},
		{"mintime", c.MinTime},
		{"maxtime", c.MaxTime},
		{"fractime", c.FracTime},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) {
			return fmt.Errorf("%s must be a number", f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%s must be >= 0, got %g", f.name, f.value)
		}
	}
	if c.FracTime > 1 {
		return fmt.Errorf("fractime must be in [0,1], got %g", c.FracTime)
	}
	return nil
}

// configJSON mirrors Config with infinity-safe numbers
type configJSON struct {
	AbsTol   JSONFloat `json:"abstol"`
	RelTol   JSONFloat `json:"reltol"`
	MinTime  JSONFloat `json:"mintime"`
	MaxTime  JSONFloat `json:"maxtime"`
	FracTime JSONFloat `json:"fractime"`
}

// MarshalJSON writes infinite bounds as the string "inf"
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		AbsTol:   JSONFloat(c.AbsTol),
		RelTol:   JSONFloat(c.RelTol),
		MinTime:  JSONFloat(c.MinTime),
		MaxTime:  JSONFloat(c.MaxTime),
		FracTime: JSONFloat(c.FracTime),
	})
}

// UnmarshalJSON starts from DefaultConfig so omitted fields keep their defaults
func (c *Config) UnmarshalJSON(data []byte) error {
	def := DefaultConfig()
	aux := configJSON{
		AbsTol:   JSONFloat(def.AbsTol),
		RelTol:   JSONFloat(def.RelTol),
		MinTime:  JSONFloat(def.MinTime),
		MaxTime:  JSONFloat(def.MaxTime),
		FracTime: JSONFloat(def.FracTime),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Config{
		AbsTol:   float64(aux.AbsTol),
		RelTol:   float64(aux.RelTol),
		MinTime:  float64(aux.MinTime),
		MaxTime:  float64(aux.MaxTime),
		FracTime: float64(aux.FracTime),
	}
	return nil
}

// JSONFloat is a float64 that round-trips infinities and NaN through JSON
// as the strings "inf", "-inf" and "nan"
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(v):
		return []byte(`"nan"`), nil
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*f = JSONFloat(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}
