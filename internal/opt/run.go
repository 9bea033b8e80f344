package opt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/primalstall/internal/stall"
)

// RunSpec describes a benchmark optimization under a stall watchdog
type RunSpec struct {
	Benchmark string `json:"benchmark"`
	Dim       int    `json:"dim"`
	Iters     int    `json:"iters"`
	PopSize   int    `json:"popSize"`
	Seed      int64  `json:"seed"`

	// TickEvery is the number of evaluations per progress tick (0 = PopSize)
	TickEvery int `json:"tickEvery"`

	// VirtualTime, when > 0, measures solving time as evaluations * VirtualTime
	// seconds instead of wall-clock time
	VirtualTime float64 `json:"virtualTime,omitempty"`

	Stall stall.Config `json:"stall"`
}

// RunResult is the outcome of RunWatched
type RunResult struct {
	Sense           stall.Sense
	BestParams      []float64
	BestValue       float64
	HasBest         bool
	LastImprovement float64
	Evaluations     int
	Interrupted     bool
	Reason          stall.Reason
	Elapsed         float64
}

type runOptions struct {
	optimizer Optimizer
	clock     stall.Clock
	watchdog  []stall.WatchdogOption
}

// RunOption customizes RunWatched
type RunOption func(*runOptions)

// WithOptimizer replaces the default Mayfly optimizer
func WithOptimizer(o Optimizer) RunOption {
	return func(ro *runOptions) {
		ro.optimizer = o
	}
}

// WithClock replaces the clock chosen from RunSpec.VirtualTime
func WithClock(c stall.Clock) RunOption {
	return func(ro *runOptions) {
		ro.clock = c
	}
}

// WithObserver attaches an observer (metrics, trace) to the run's watchdog
func WithObserver(obs stall.Observer) RunOption {
	return func(ro *runOptions) {
		ro.watchdog = append(ro.watchdog, stall.WithObserver(obs))
	}
}

// Validate checks the solver settings of a spec
func (s RunSpec) Validate() error {
	if _, err := LookupBenchmark(s.Benchmark); err != nil {
		return err
	}
	if s.Dim < 1 {
		return fmt.Errorf("dim must be >= 1, got %d", s.Dim)
	}
	if s.Iters < 1 {
		return fmt.Errorf("iters must be >= 1, got %d", s.Iters)
	}
	if s.PopSize < 1 {
		return fmt.Errorf("pop must be >= 1, got %d", s.PopSize)
	}
	if s.TickEvery < 0 {
		return fmt.Errorf("tick-every must be >= 0, got %d", s.TickEvery)
	}
	if s.VirtualTime < 0 {
		return fmt.Errorf("virtual time must be >= 0, got %g", s.VirtualTime)
	}
	return s.Stall.Validate()
}

// RunWatched optimizes a benchmark and lets a stall watchdog end the search
// early. A cancelled ctx stops evaluation too; the partial result is returned
// together with ctx.Err().
func RunWatched(ctx context.Context, spec RunSpec, opts ...RunOption) (*RunResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	bench, _ := LookupBenchmark(spec.Benchmark)

	ro := &runOptions{}
	for _, opt := range opts {
		opt(ro)
	}

	tickEvery := spec.TickEvery
	if tickEvery == 0 {
		tickEvery = spec.PopSize
	}

	var evalClock *EvalClock
	clock := ro.clock
	if clock == nil {
		if spec.VirtualTime > 0 {
			evalClock = NewEvalClock(spec.VirtualTime)
			clock = evalClock
		} else {
			clock = stall.NewWallClock()
		}
	}

	optimizer := ro.optimizer
	if optimizer == nil {
		optimizer = NewMayfly(spec.Iters, spec.PopSize, spec.Seed)
	}

	monitor := stall.NewMonitor(spec.Stall)
	objective := NewWatchedObjective(ctx, bench.Eval, bench.Sense, monitor, clock, tickEvery, ro.watchdog...)
	if evalClock != nil {
		objective.onEval = evalClock.count
	}

	slog.Info("Starting watched optimization",
		"benchmark", bench.Name,
		"sense", bench.Sense.String(),
		"dim", spec.Dim,
		"iters", spec.Iters,
		"pop", spec.PopSize,
		"tick_every", tickEvery,
	)

	start := time.Now()
	lower, upper := bench.Bounds(spec.Dim)
	optimizer.Run(objective.Evaluate, lower, upper, spec.Dim)

	params, best, hasBest := objective.Best()
	interrupted, reason := objective.Interrupted()
	result := &RunResult{
		Sense:           bench.Sense,
		BestParams:      params,
		BestValue:       best,
		HasBest:         hasBest,
		LastImprovement: monitor.LastImprovement(),
		Evaluations:     objective.Evaluations(),
		Interrupted:     interrupted,
		Reason:          reason,
		Elapsed:         clock.Elapsed(),
	}

	slog.Info("Watched optimization finished",
		"benchmark", bench.Name,
		"best_value", result.BestValue,
		"evaluations", result.Evaluations,
		"interrupted", result.Interrupted,
		"reason", result.Reason.String(),
		"wall_time", time.Since(start),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}
