package opt

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/primalstall/internal/stall"
)

// Benchmark is a test objective with box bounds and a direction
type Benchmark struct {
	Name  string
	Sense stall.Sense
	Eval  func([]float64) float64
	Lower float64
	Upper float64
}

// Bounds expands the scalar box to dim dimensions
func (b Benchmark) Bounds(dim int) ([]float64, []float64) {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = b.Lower
		upper[i] = b.Upper
	}
	return lower, upper
}

var benchmarks = map[string]Benchmark{
	"sphere":     {Name: "sphere", Sense: stall.Minimize, Eval: Sphere, Lower: -10, Upper: 10},
	"rastrigin":  {Name: "rastrigin", Sense: stall.Minimize, Eval: Rastrigin, Lower: -5.12, Upper: 5.12},
	"rosenbrock": {Name: "rosenbrock", Sense: stall.Minimize, Eval: Rosenbrock, Lower: -5, Upper: 10},
	"ackley":     {Name: "ackley", Sense: stall.Minimize, Eval: Ackley, Lower: -32.768, Upper: 32.768},
	"peak":       {Name: "peak", Sense: stall.Maximize, Eval: GaussianPeak, Lower: -5, Upper: 5},
}

// LookupBenchmark returns the benchmark with the given name
func LookupBenchmark(name string) (Benchmark, error) {
	b, ok := benchmarks[name]
	if !ok {
		return Benchmark{}, fmt.Errorf("unknown benchmark: %s (available: %v)", name, BenchmarkNames())
	}
	return b, nil
}

// BenchmarkNames lists the registered benchmarks in sorted order
func BenchmarkNames() []string {
	names := make([]string, 0, len(benchmarks))
	for name := range benchmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sphere function: f(x) = sum(x_i^2), minimum 0 at origin
func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rastrigin function, highly multimodal, minimum 0 at origin
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// Rosenbrock function, minimum 0 at (1, ..., 1)
func Rosenbrock(x []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(x); i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// Ackley function, minimum 0 at origin
func Ackley(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	n := float64(len(x))
	var sumSq, sumCos float64
	for _, v := range x {
		sumSq += v * v
		sumCos += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sumSq/n)) - math.Exp(sumCos/n) + 20 + math.E
}

// GaussianPeak is maximized: maximum 1 at origin
func GaussianPeak(x []float64) float64 {
	return math.Exp(-Sphere(x))
}
