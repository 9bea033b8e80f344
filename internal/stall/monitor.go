package stall

import (
	"encoding/json"
	"log/slog"
	"math"
)

// Incumbent is the last significantly improving objective value and the
// solving time (seconds) at which it was recorded
type Incumbent struct {
	Value float64
	Time  float64
}

// MarshalJSON keeps infinite values encodable
func (in Incumbent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value JSONFloat `json:"value"`
		Time  JSONFloat `json:"time"`
	}{JSONFloat(in.Value), JSONFloat(in.Time)})
}

func (in *Incumbent) UnmarshalJSON(data []byte) error {
	var aux struct {
		Value JSONFloat `json:"value"`
		Time  JSONFloat `json:"time"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	in.Value, in.Time = float64(aux.Value), float64(aux.Time)
	return nil
}

// Monitor tracks the incumbent of a single search and decides, on every
// progress tick, whether the search has stalled.
//
// Monitor holds no lock: improvement events and ticks must be delivered one at
// a time by the owner (the host's event loop or a caller-held mutex).
type Monitor struct {
	config Config

	hasBest bool
	best    Incumbent
}

// NewMonitor creates a monitor with no incumbent and an improvement time of 0
func NewMonitor(config Config) *Monitor {
	return &Monitor{config: config}
}

// Config returns the monitor's configuration
func (m *Monitor) Config() Config {
	return m.config
}

// OnImprovementCandidate records value as the new incumbent at time now if it
// is the first candidate or a significant improvement over the current
// incumbent. It returns whether the incumbent was replaced.
func (m *Monitor) OnImprovementCandidate(value float64, sense Sense, now float64) bool {
	if m.comparable() && !IsSignificant(m.best.Value, value, m.config.AbsTol, m.config.RelTol, sense) {
		slog.Debug("No significant improvement",
			"value", value,
			"incumbent", m.best.Value,
			"sense", sense.String(),
		)
		return false
	}

	m.best = Incumbent{Value: value, Time: now}
	m.hasBest = true

	slog.Debug("Significant improvement recorded", "value", value, "time", now)
	return true
}

// comparable reports whether candidates must beat the incumbent. An incumbent
// of +inf carries no information and is replaced like an empty one.
func (m *Monitor) comparable() bool {
	return m.hasBest && !math.IsInf(m.best.Value, 1)
}

// OnProgressTick reports whether the search should be interrupted at time now.
// It never mutates the monitor.
func (m *Monitor) OnProgressTick(now float64) bool {
	return m.Check(now) != ReasonNone
}

// Check is OnProgressTick that also names the bound that fired
func (m *Monitor) Check(now float64) Reason {
	return StallReason(m.config.MinTime, m.config.MaxTime, m.config.FracTime, m.best.Time, now)
}

// Best returns the current incumbent, or false if none was recorded yet
func (m *Monitor) Best() (Incumbent, bool) {
	return m.best, m.hasBest
}

// LastImprovement returns the time of the last recorded improvement (0 if none)
func (m *Monitor) LastImprovement() float64 {
	return m.best.Time
}

// Reset drops the incumbent
func (m *Monitor) Reset() {
	m.hasBest = false
	m.best = Incumbent{}
}
