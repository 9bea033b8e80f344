package opt

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/primalstall/internal/stall"
)

// WatchedObjective wraps an objective so that a solver driving it reports to a
// stall watchdog: every new best value is an improvement event and every
// tickEvery evaluations is a progress tick. Once the watchdog interrupts (or
// ctx is cancelled) evaluations short-circuit to the worst value so the solver
// drains without doing real work.
//
// Evaluate is safe for concurrent use; calls into the watchdog are serialized.
type WatchedObjective struct {
	ctx       context.Context
	eval      func([]float64) float64
	sense     stall.Sense
	tickEvery int
	watchdog  *stall.Watchdog
	onEval    func()

	mu         sync.Mutex
	evals      int
	hasBest    bool
	best       float64
	bestParams []float64

	halted atomic.Bool
	reason atomic.Value // stall.Reason
}

// NewWatchedObjective creates the objective together with its watchdog.
// The objective itself is the watchdog's Interrupter.
func NewWatchedObjective(ctx context.Context, eval func([]float64) float64, sense stall.Sense,
	monitor *stall.Monitor, clock stall.Clock, tickEvery int, opts ...stall.WatchdogOption) *WatchedObjective {
	if tickEvery < 1 {
		tickEvery = 1
	}
	o := &WatchedObjective{
		ctx:       ctx,
		eval:      eval,
		sense:     sense,
		tickEvery: tickEvery,
	}
	o.watchdog = stall.NewWatchdog(monitor, sense, clock, o, opts...)
	return o
}

// RequestInterrupt implements stall.Interrupter
func (o *WatchedObjective) RequestInterrupt(reason stall.Reason) {
	o.reason.Store(reason)
	o.halted.Store(true)
}

// Evaluate computes the objective at x and returns it in minimization form
// (negated for maximization), which is what the solvers expect.
func (o *WatchedObjective) Evaluate(x []float64) float64 {
	if o.halted.Load() || o.ctx.Err() != nil {
		return math.Inf(1)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.evals++
	if o.onEval != nil {
		o.onEval()
	}

	v := o.eval(x)
	if !o.hasBest || o.sense.Better(v, o.best) {
		o.hasBest = true
		o.best = v
		o.bestParams = append(o.bestParams[:0], x...)
		o.watchdog.OnSolutionImproved(v)
	}

	if o.evals%o.tickEvery == 0 {
		o.watchdog.OnTick()
	}

	if o.sense == stall.Maximize {
		return -v
	}
	return v
}

// Best returns a copy of the best position, its value, and false if nothing was evaluated
func (o *WatchedObjective) Best() ([]float64, float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]float64(nil), o.bestParams...), o.best, o.hasBest
}

// Evaluations returns the number of real objective evaluations
func (o *WatchedObjective) Evaluations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evals
}

// Interrupted reports whether the watchdog stopped the search and why
func (o *WatchedObjective) Interrupted() (bool, stall.Reason) {
	if !o.halted.Load() {
		return false, stall.ReasonNone
	}
	reason, _ := o.reason.Load().(stall.Reason)
	return true, reason
}

// Watchdog returns the watchdog driven by this objective
func (o *WatchedObjective) Watchdog() *stall.Watchdog {
	return o.watchdog
}

// EvalClock is a virtual clock where every objective evaluation takes a fixed
// number of seconds, which makes watched runs reproducible
type EvalClock struct {
	perEval float64
	evals   atomic.Int64
}

// NewEvalClock creates a clock advancing perEval seconds per evaluation
func NewEvalClock(perEval float64) *EvalClock {
	return &EvalClock{perEval: perEval}
}

// Elapsed implements stall.Clock
func (c *EvalClock) Elapsed() float64 {
	return float64(c.evals.Load()) * c.perEval
}

func (c *EvalClock) count() {
	c.evals.Add(1)
}
