// Package replay feeds recorded or hand-written event sequences through a
// stall monitor so that tolerances and time bounds can be tuned offline.
package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/cwbudde/primalstall/internal/store"
)

// Event is one improvement candidate or progress tick at a solving time
type Event struct {
	Kind  store.EventKind `yaml:"kind"`
	Time  float64         `yaml:"time"`
	Value *float64        `yaml:"value,omitempty"`
}

// Overrides replaces individual stall parameters; nil fields keep the base
// value. YAML accepts .inf for unbounded values.
type Overrides struct {
	AbsTol   *float64 `yaml:"abstol,omitempty"`
	RelTol   *float64 `yaml:"reltol,omitempty"`
	MinTime  *float64 `yaml:"mintime,omitempty"`
	MaxTime  *float64 `yaml:"maxtime,omitempty"`
	FracTime *float64 `yaml:"fractime,omitempty"`
}

// Script is a replayable event sequence.
//
//	sense: minimize
//	config:
//	  maxtime: 5
//	events:
//	  - {kind: improvement, time: 0.5, value: 100}
//	  - {kind: tick, time: 6}
type Script struct {
	SenseName string    `yaml:"sense,omitempty"`
	Config    Overrides `yaml:"config,omitempty"`
	Events    []Event   `yaml:"events"`

	sense stall.Sense
}

// Sense returns the parsed optimization direction
func (s *Script) Sense() stall.Sense {
	return s.sense
}

// Apply layers the script's overrides on top of base
func (s *Script) Apply(base stall.Config) stall.Config {
	cfg := base
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.AbsTol, s.Config.AbsTol)
	set(&cfg.RelTol, s.Config.RelTol)
	set(&cfg.MinTime, s.Config.MinTime)
	set(&cfg.MaxTime, s.Config.MaxTime)
	set(&cfg.FracTime, s.Config.FracTime)
	return cfg
}

// LoadScript reads and validates a YAML script file
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses and validates a YAML script. Unknown fields are errors.
func ParseScript(data []byte) (*Script, error) {
	var script Script
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&script); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: empty script")
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := decoder.Decode(new(yaml.Node)); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse yaml: multiple documents are not supported")
		}
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := script.normalize(); err != nil {
		return nil, err
	}
	return &script, nil
}

// FromTrace turns a recorded run trace into a script with no overrides
func FromTrace(entries []store.TraceEntry, sense stall.Sense) (*Script, error) {
	script := &Script{
		SenseName: sense.String(),
		Events:    make([]Event, 0, len(entries)),
	}
	for _, e := range entries {
		ev := Event{Kind: e.Kind, Time: e.Time}
		if e.Value != nil {
			v := *e.Value
			ev.Value = &v
		}
		script.Events = append(script.Events, ev)
	}
	if err := script.normalize(); err != nil {
		return nil, err
	}
	return script, nil
}

func (s *Script) normalize() error {
	if s.SenseName == "" {
		s.SenseName = stall.Minimize.String()
	}
	sense, err := stall.ParseSense(s.SenseName)
	if err != nil {
		return err
	}
	s.sense = sense

	last := 0.0
	for i, ev := range s.Events {
		switch ev.Kind {
		case store.KindImprovement:
			if ev.Value == nil {
				return fmt.Errorf("event %d: improvement without value", i)
			}
			if math.IsNaN(*ev.Value) {
				return fmt.Errorf("event %d: value must be a number", i)
			}
		case store.KindTick:
			if ev.Value != nil {
				return fmt.Errorf("event %d: tick must not have a value", i)
			}
		default:
			return fmt.Errorf("event %d: unknown kind %q", i, ev.Kind)
		}
		if math.IsNaN(ev.Time) || ev.Time < 0 {
			return fmt.Errorf("event %d: time must be >= 0, got %g", i, ev.Time)
		}
		if ev.Time < last {
			return fmt.Errorf("event %d: time %g goes backwards (previous %g)", i, ev.Time, last)
		}
		last = ev.Time
	}
	return nil
}
