package stall

import (
	"log/slog"
	"sync"
	"time"
)

// Interrupter is the single action a watchdog may request from its host
type Interrupter interface {
	RequestInterrupt(reason Reason)
}

// InterrupterFunc adapts a function to the Interrupter interface
type InterrupterFunc func(reason Reason)

// RequestInterrupt calls f(reason)
func (f InterrupterFunc) RequestInterrupt(reason Reason) {
	f(reason)
}

// Clock reports the total elapsed solving time in seconds
type Clock interface {
	Elapsed() float64
}

// WallClock measures elapsed time from its creation using the monotonic clock
type WallClock struct {
	start time.Time
}

// NewWallClock starts a wall clock now
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Elapsed returns seconds since the clock was started
func (c *WallClock) Elapsed() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock is a clock that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// Elapsed returns the current manual time
func (c *ManualClock) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d seconds
func (c *ManualClock) Advance(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Observer receives every decision a watchdog makes (metrics, traces)
type Observer interface {
	ObserveImprovement(value, now float64, accepted bool)
	ObserveTick(now float64, reason Reason)
}

// WatchdogOption configures a Watchdog
type WatchdogOption func(*Watchdog)

// WithObserver adds an observer; may be given more than once
func WithObserver(o Observer) WatchdogOption {
	return func(w *Watchdog) {
		w.observers = append(w.observers, o)
	}
}

// WithLogger replaces the default slog logger
func WithLogger(logger *slog.Logger) WatchdogOption {
	return func(w *Watchdog) {
		w.logger = logger
	}
}

// Watchdog binds a Monitor to a host: it stamps events with the host clock
// and asks the host to interrupt the first time a tick says the search has
// stalled. Like Monitor, it expects serialized calls.
type Watchdog struct {
	monitor   *Monitor
	sense     Sense
	clock     Clock
	host      Interrupter
	observers []Observer
	logger    *slog.Logger

	interrupted bool
	reason      Reason
}

// NewWatchdog creates a watchdog for a search with the given objective sense
func NewWatchdog(monitor *Monitor, sense Sense, clock Clock, host Interrupter, opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		monitor: monitor,
		sense:   sense,
		clock:   clock,
		host:    host,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnSolutionImproved handles a new best solution reported by the host
func (w *Watchdog) OnSolutionImproved(value float64) bool {
	now := w.clock.Elapsed()
	accepted := w.monitor.OnImprovementCandidate(value, w.sense, now)
	for _, o := range w.observers {
		o.ObserveImprovement(value, now, accepted)
	}
	return accepted
}

// OnTick handles a progress tick. It returns true once the search should
// stop; the host is asked to interrupt only on the first such tick.
func (w *Watchdog) OnTick() bool {
	now := w.clock.Elapsed()
	reason := w.monitor.Check(now)
	for _, o := range w.observers {
		o.ObserveTick(now, reason)
	}

	if reason == ReasonNone {
		return w.interrupted
	}
	if w.interrupted {
		return true
	}

	w.interrupted = true
	w.reason = reason
	w.logger.Info("Interrupting solving",
		"reason", reason.String(),
		"since_improvement", now-w.monitor.LastImprovement(),
		"elapsed", now,
	)
	if w.host != nil {
		w.host.RequestInterrupt(reason)
	}
	return true
}

// Interrupted reports whether an interrupt was requested and why
func (w *Watchdog) Interrupted() (bool, Reason) {
	return w.interrupted, w.reason
}

// Monitor returns the underlying monitor
func (w *Watchdog) Monitor() *Monitor {
	return w.monitor
}

// Sense returns the objective sense the watchdog was created with
func (w *Watchdog) Sense() Sense {
	return w.sense
}
