package opt

import (
	"math"
	"testing"
)

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42) // maxIters, popSize, seed

	dim := 3
	lower, upper := benchmarks["sphere"].Bounds(dim)

	best, cost := optimizer.Run(Sphere, lower, upper, dim)

	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}

	// Should converge close to zero
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}

	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	dim := 2
	lower := []float64{-5, -5}
	upper := []float64{5, 5}

	// Run twice with same seed
	optimizer1 := NewMayfly(50, 20, 123)
	_, cost1 := optimizer1.Run(Sphere, lower, upper, dim)

	optimizer2 := NewMayfly(50, 20, 123)
	_, cost2 := optimizer2.Run(Sphere, lower, upper, dim)

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapterSmallPopulation(t *testing.T) {
	lower, upper := benchmarks["sphere"].Bounds(2)

	for _, pop := range []int{1, 2, 5, 10, 19} {
		best, cost := NewMayfly(5, pop, 7).Run(Sphere, lower, upper, 2)
		if len(best) != 2 {
			t.Errorf("pop %d: expected 2 parameters, got %d", pop, len(best))
		}
		if math.IsNaN(cost) || math.IsInf(cost, 0) {
			t.Errorf("pop %d: expected a finite cost, got %f", pop, cost)
		}
	}
}
