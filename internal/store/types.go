package store

import (
	"time"

	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/stall"
)

// RunRecord is the persisted outcome of one watched optimization run.
type RunRecord struct {
	// ID is the unique identifier of the run
	ID string `json:"id"`

	// Benchmark is the name of the objective function that was optimized
	Benchmark string `json:"benchmark"`

	// Sense is the optimization direction of the benchmark
	Sense stall.Sense `json:"sense"`

	// Dim, Iters, PopSize and Seed are the solver settings
	Dim     int   `json:"dim"`
	Iters   int   `json:"iters"`
	PopSize int   `json:"popSize"`
	Seed    int64 `json:"seed"`

	// TickEvery is the number of objective evaluations per progress tick
	TickEvery int `json:"tickEvery"`

	// Stall holds the watchdog parameters the run was started with
	Stall stall.Config `json:"stall"`

	// BestValue is the best objective value found (nil if none)
	BestValue *float64 `json:"bestValue,omitempty"`

	// BestParams is the position that achieved BestValue
	BestParams []float64 `json:"bestParams,omitempty"`

	// LastImprovement is the solving time (seconds) of the last significant improvement
	LastImprovement float64 `json:"lastImprovement"`

	// Interrupted is true when the watchdog stopped the run early
	Interrupted bool `json:"interrupted"`

	// Reason names the bound that fired when Interrupted
	Reason stall.Reason `json:"reason,omitempty"`

	// Evaluations is the number of objective evaluations actually performed
	Evaluations int `json:"evaluations"`

	// Elapsed is the total solving time in seconds
	Elapsed float64 `json:"elapsed"`

	// Error is set when the run failed or was cancelled
	Error string `json:"error,omitempty"`

	// Timestamp records when the run finished
	Timestamp time.Time `json:"timestamp"`
}

// RunInfo summarizes a run without its parameter vector.
type RunInfo struct {
	ID          string       `json:"id"`
	Benchmark   string       `json:"benchmark"`
	BestValue   *float64     `json:"bestValue,omitempty"`
	Interrupted bool         `json:"interrupted"`
	Reason      stall.Reason `json:"reason,omitempty"`
	Evaluations int          `json:"evaluations"`
	Elapsed     float64      `json:"elapsed"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ToInfo extracts the summary of a run record.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Benchmark:   r.Benchmark,
		BestValue:   r.BestValue,
		Interrupted: r.Interrupted,
		Reason:      r.Reason,
		Evaluations: r.Evaluations,
		Elapsed:     r.Elapsed,
		Timestamp:   r.Timestamp,
	}
}

// NewRunRecord creates the record of a finished run. result may be nil if
// the run failed before evaluating anything; runErr, if not nil, is kept as
// the record's error message.
func NewRunRecord(id string, spec opt.RunSpec, result *opt.RunResult, runErr error) *RunRecord {
	record := &RunRecord{
		ID:        id,
		Benchmark: spec.Benchmark,
		Dim:       spec.Dim,
		Iters:     spec.Iters,
		PopSize:   spec.PopSize,
		Seed:      spec.Seed,
		TickEvery: spec.TickEvery,
		Stall:     spec.Stall,
		Timestamp: time.Now(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	if result == nil {
		return record
	}

	record.Sense = result.Sense
	if result.HasBest {
		best := result.BestValue
		record.BestValue = &best
		record.BestParams = result.BestParams
	}
	record.LastImprovement = result.LastImprovement
	record.Interrupted = result.Interrupted
	record.Reason = result.Reason
	record.Evaluations = result.Evaluations
	record.Elapsed = result.Elapsed
	return record
}
