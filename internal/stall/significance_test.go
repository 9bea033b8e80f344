package stall

import (
	"math"
	"math/rand"
	"testing"
)

var inf = math.Inf(1)

func TestIsSignificant(t *testing.T) {
	tests := []struct {
		name     string
		old, new float64
		abs, rel float64
		sense    Sense
		want     bool
	}{
		// minimize: no improvement
		{"min worse (+,+)", 2, 3, 0, 0, Minimize, false},
		{"min worse (0,+)", 0, 2, 0, 0, Minimize, false},
		{"min worse (-,+)", -1, 1, 0, 0, Minimize, false},
		{"min worse (-,0)", -2, 0, 0, 0, Minimize, false},
		{"min worse (-,-)", -3, -2, 0, 0, Minimize, false},
		{"min same (+,+)", 2, 2, 0, 0, Minimize, false},
		{"min same (0,0)", 0, 0, 0, 0, Minimize, false},
		{"min same (-,-)", -2, -2, 0, 0, Minimize, false},

		// minimize: relative
		{"min big rel (+,+)", 10, 1, inf, 0.5, Minimize, true},
		{"min big rel (+,0)", 1, 0, inf, 0.5, Minimize, true},
		{"min big rel (+,-)", 1, -1, inf, 0.5, Minimize, true},
		{"min big rel (0,-)", 0, -1, inf, 0.5, Minimize, true},
		{"min big rel (-,-)", -1, -10, inf, 0.5, Minimize, true},
		{"min small rel (+,+) clears", 1.003, 1.001, inf, 0.001, Minimize, true},
		{"min small rel (+,+) misses", 1.003, 1.001, inf, 0.01, Minimize, false},
		{"min small rel (-,-) clears", -1.001, -1.003, inf, 0.001, Minimize, true},
		{"min small rel (-,-) misses", -1.001, -1.003, inf, 0.01, Minimize, false},

		// minimize: absolute
		{"min big abs (+,+)", 10, 1, 1, inf, Minimize, true},
		{"min big abs (+,0)", 2, 0, 1, inf, Minimize, true},
		{"min big abs (+,-)", 1, -1, 1, inf, Minimize, true},
		{"min big abs (0,-)", 0, -2, 1, inf, Minimize, true},
		{"min big abs (-,-)", -1, -10, 1, inf, Minimize, true},
		{"min small abs (+,+) clears", 1.003, 1.001, 0.001, inf, Minimize, true},
		{"min small abs (+,+) misses", 1.003, 1.001, 0.01, inf, Minimize, false},
		{"min small abs (-,-) clears", -1.001, -1.003, 0.001, inf, Minimize, true},
		{"min small abs (-,-) misses", -1.001, -1.003, 0.01, inf, Minimize, false},

		// maximize: no improvement
		{"max worse (+,+)", 3, 2, 0, 0, Maximize, false},
		{"max worse (+,0)", 2, 0, 0, 0, Maximize, false},
		{"max worse (+,-)", 1, -1, 0, 0, Maximize, false},
		{"max worse (0,-)", 0, -2, 0, 0, Maximize, false},
		{"max worse (-,-)", -2, -3, 0, 0, Maximize, false},
		{"max same (+,+)", 2, 2, 0, 0, Maximize, false},
		{"max same (0,0)", 0, 0, 0, 0, Maximize, false},
		{"max same (-,-)", -2, -2, 0, 0, Maximize, false},

		// maximize: relative
		{"max big rel (+,+)", 1, 10, inf, 0.5, Maximize, true},
		{"max big rel (0,+)", 0, 1, inf, 0.5, Maximize, true},
		{"max big rel (-,+)", -1, 1, inf, 0.5, Maximize, true},
		{"max big rel (-,0)", -1, 0, inf, 0.5, Maximize, true},
		{"max big rel (-,-)", -10, -1, inf, 0.5, Maximize, true},
		{"max small rel (+,+) clears", 1.001, 1.003, inf, 0.001, Maximize, true},
		{"max small rel (+,+) misses", 1.001, 1.003, inf, 0.01, Maximize, false},
		{"max small rel (-,-) clears", -1.003, -1.001, inf, 0.001, Maximize, true},
		{"max small rel (-,-) misses", -1.003, -1.001, inf, 0.01, Maximize, false},

		// maximize: absolute
		{"max big abs (+,+)", 1, 10, 1, inf, Maximize, true},
		{"max big abs (0,+)", 0, 2, 1, inf, Maximize, true},
		{"max big abs (-,+)", -1, 1, 1, inf, Maximize, true},
		{"max big abs (-,0)", -2, 0, 1, inf, Maximize, true},
		{"max big abs (-,-)", -10, -1, 1, inf, Maximize, true},
		{"max small abs (+,+) clears", 1.001, 1.003, 0.001, inf, Maximize, true},
		{"max small abs (+,+) misses", 1.001, 1.003, 0.01, inf, Maximize, false},
		{"max small abs (-,-) clears", -1.003, -1.001, 0.001, inf, Maximize, true},
		{"max small abs (-,-) misses", -1.003, -1.001, 0.01, inf, Maximize, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSignificant(tt.old, tt.new, tt.abs, tt.rel, tt.sense)
			if got != tt.want {
				t.Errorf("IsSignificant(%g, %g, %g, %g, %s) = %v, want %v",
					tt.old, tt.new, tt.abs, tt.rel, tt.sense, got, tt.want)
			}
		})
	}
}

func TestIsSignificantZeroOldUsesNewAsDenominator(t *testing.T) {
	// From zero, improvement == |new| so the ratio is exactly 1
	if !IsSignificant(0, -0.5, inf, 0.99, Minimize) {
		t.Error("Expected ratio 1.0 against |new| to clear reltol 0.99")
	}
	if !IsSignificant(0, 2.5, inf, 0.99, Maximize) {
		t.Error("Expected ratio 1.0 against |new| to clear reltol 0.99")
	}
	if IsSignificant(0, 2.5, inf, 1.0, Maximize) {
		t.Error("Expected ratio 1.0 to miss reltol 1.0 (bound is exclusive)")
	}
	if IsSignificant(0, 0, inf, 0, Maximize) {
		t.Error("Zero to zero is not an improvement")
	}
}

func TestIsSignificantRegressionNeverSignificant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		old := (rng.Float64() - 0.5) * 200
		worse := old + rng.Float64()*100

		if IsSignificant(old, worse, 0, 0, Minimize) {
			t.Fatalf("minimize: %g -> %g should not be significant", old, worse)
		}
		if IsSignificant(worse, old, 0, 0, Maximize) {
			t.Fatalf("maximize: %g -> %g should not be significant", worse, old)
		}
	}
}

func TestIsSignificantSenseSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		old := (rng.Float64() - 0.5) * 20
		nv := (rng.Float64() - 0.5) * 20
		abs := rng.Float64() * 5
		rel := rng.Float64()

		minimize := IsSignificant(old, nv, abs, rel, Minimize)
		maximize := IsSignificant(-old, -nv, abs, rel, Maximize)
		if minimize != maximize {
			t.Fatalf("asymmetric for old=%g new=%g abs=%g rel=%g: min=%v max=%v",
				old, nv, abs, rel, minimize, maximize)
		}
	}
}
