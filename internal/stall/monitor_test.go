package stall

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestMonitorFirstCandidateAlwaysAccepted(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	if _, ok := m.Best(); ok {
		t.Fatal("New monitor should have no incumbent")
	}
	if m.LastImprovement() != 0 {
		t.Errorf("Expected improvement time 0, got %g", m.LastImprovement())
	}

	if !m.OnImprovementCandidate(5.0, Minimize, 0.0) {
		t.Error("First candidate should be accepted")
	}

	best, ok := m.Best()
	if !ok || best.Value != 5.0 || best.Time != 0.0 {
		t.Errorf("Expected incumbent (5, 0), got (%g, %g) ok=%v", best.Value, best.Time, ok)
	}

	// maxtime is infinite by default
	if m.OnProgressTick(100.0) {
		t.Error("Default monitor should not interrupt")
	}
}

func TestMonitorFirstCandidateEvenIfInfinite(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	if !m.OnImprovementCandidate(math.Inf(1), Minimize, 1) {
		t.Error("First candidate should be accepted regardless of value")
	}
	if !m.OnImprovementCandidate(10, Minimize, 2) {
		t.Error("An incumbent of +inf is replaced like an empty one")
	}
}

func TestMonitorNegativeInfiniteIncumbent(t *testing.T) {
	m := NewMonitor(Config{AbsTol: math.Inf(1), RelTol: 0.01, MaxTime: math.Inf(1), FracTime: 1})

	if !m.OnImprovementCandidate(math.Inf(-1), Maximize, 1) {
		t.Fatal("First candidate should be accepted")
	}
	// Inf/Inf is NaN, which never exceeds reltol
	if m.OnImprovementCandidate(5, Maximize, 2) {
		t.Error("A -inf incumbent is compared, not treated as empty")
	}
	if got, ok := m.Best(); !ok || !math.IsInf(got.Value, -1) || got.Time != 1 {
		t.Errorf("Incumbent changed: %+v", got)
	}
}

func TestMonitorTimeBounds(t *testing.T) {
	m := NewMonitor(Config{
		AbsTol:   math.Inf(1),
		RelTol:   0.01,
		MinTime:  2,
		MaxTime:  10,
		FracTime: 1.0,
	})

	m.OnImprovementCandidate(3.0, Minimize, 0)

	if m.OnProgressTick(1.0) {
		t.Error("t=1 is within mintime")
	}
	if m.OnProgressTick(3.0) {
		t.Error("t=3: 3 <= 1.0*3, fraction not exceeded")
	}
	if !m.OnProgressTick(11.0) {
		t.Error("t=11 exceeds maxtime")
	}
	if got := m.Check(11.0); got != ReasonMaxTime {
		t.Errorf("Expected %s, got %s", ReasonMaxTime, got)
	}
}

func TestMonitorInsignificantCandidateKeepsState(t *testing.T) {
	m := NewMonitor(DefaultConfig())

	m.OnImprovementCandidate(100, Minimize, 1)

	// 0.5% better, below the default 1% relative tolerance
	if m.OnImprovementCandidate(99.5, Minimize, 5) {
		t.Error("0.5% improvement should not be accepted")
	}
	best, _ := m.Best()
	if best.Value != 100 || best.Time != 1 {
		t.Errorf("State should be unchanged, got (%g, %g)", best.Value, best.Time)
	}

	if !m.OnImprovementCandidate(90, Minimize, 6) {
		t.Error("10% improvement should be accepted")
	}
	best, _ = m.Best()
	if best.Value != 90 || best.Time != 6 {
		t.Errorf("Expected (90, 6), got (%g, %g)", best.Value, best.Time)
	}
}

func TestMonitorRegressionRejected(t *testing.T) {
	m := NewMonitor(Config{AbsTol: 0, RelTol: 0, FracTime: 1, MaxTime: math.Inf(1)})

	m.OnImprovementCandidate(10, Maximize, 0)
	if m.OnImprovementCandidate(-1000, Maximize, 1) {
		t.Error("Large regression must not be accepted")
	}
	if !m.OnImprovementCandidate(10.5, Maximize, 2) {
		t.Error("Any improvement clears zero tolerances")
	}
}

func TestMonitorTickDoesNotMutate(t *testing.T) {
	m := NewMonitor(Config{AbsTol: math.Inf(1), RelTol: 0.01, MaxTime: 1, FracTime: 1})
	m.OnImprovementCandidate(1, Minimize, 0)

	before, _ := m.Best()
	m.OnProgressTick(50)
	m.OnProgressTick(0.5)
	after, _ := m.Best()

	if before != after {
		t.Errorf("Tick changed state: %+v -> %+v", before, after)
	}
}

func TestMonitorTicksBeforeAnyCandidate(t *testing.T) {
	m := NewMonitor(Config{AbsTol: math.Inf(1), RelTol: 0.01, MaxTime: 5, FracTime: 1})

	// no incumbent: the stall clock runs from solve start
	if m.OnProgressTick(5) {
		t.Error("t=5 equals maxtime, should not interrupt")
	}
	if !m.OnProgressTick(6) {
		t.Error("t=6 exceeds maxtime measured from 0")
	}
}

func TestMonitorReset(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	m.OnImprovementCandidate(1, Minimize, 3)
	m.Reset()

	if _, ok := m.Best(); ok {
		t.Error("Reset should drop the incumbent")
	}
	if m.LastImprovement() != 0 {
		t.Error("Reset should zero the improvement time")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Defaults should validate: %v", err)
	}

	bad := []Config{
		{AbsTol: -1, FracTime: 1},
		{RelTol: math.NaN(), FracTime: 1},
		{MinTime: -0.1, FracTime: 1},
		{MaxTime: -5, FracTime: 1},
		{FracTime: 1.5},
		{FracTime: -0.5},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, c)
		}
	}
}

func TestConfigJSONInfinity(t *testing.T) {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"maxtime":"inf"`) {
		t.Errorf("Expected maxtime encoded as inf, got %s", data)
	}

	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != DefaultConfig() {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}

	var partial Config
	if err := json.Unmarshal([]byte(`{"maxtime": 30, "fractime": "0.5"}`), &partial); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if partial.MaxTime != 30 || partial.FracTime != 0.5 || partial.RelTol != 0.01 || !math.IsInf(partial.AbsTol, 1) {
		t.Errorf("Partial decode should keep defaults, got %+v", partial)
	}
}
