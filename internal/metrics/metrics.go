package metrics

import (
	"strconv"
	"sync"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry returns a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Metrics holds the Prometheus collectors shared by all watchdogs of a process.
// Per-watchdog observers are created with Observer.
type Metrics struct {
	// Improvement candidates seen, labelled by whether they reset the stall clock.
	candidates *prometheus.CounterVec
	// Progress ticks evaluated.
	ticks prometheus.Counter
	// Ticks that decided to interrupt, labelled by the bound that fired.
	interrupts *prometheus.CounterVec
	// Value of the last accepted incumbent of each watch.
	incumbent *prometheus.GaugeVec
	// Seconds since the last accepted incumbent of each watch, as of its last tick.
	sinceImprovement *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primalstall_improvement_candidates_total",
			Help: "Improvement candidates seen by the stall watchdog",
		}, []string{"accepted"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primalstall_ticks_total",
			Help: "Progress ticks evaluated by the stall watchdog",
		}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primalstall_interrupts_total",
			Help: "Ticks on which the stall watchdog decided to interrupt",
		}, []string{"reason"}),
		incumbent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "primalstall_incumbent_value",
			Help: "Objective value of the last significant improvement",
		}, []string{"watch"}),
		sinceImprovement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "primalstall_seconds_since_improvement",
			Help: "Solving time since the last significant improvement",
		}, []string{"watch"}),
	}

	reg.MustRegister(
		m.candidates,
		m.ticks,
		m.interrupts,
		m.incumbent,
		m.sinceImprovement,
	)
	return m
}

// Observer returns a stall.Observer that reports under the given watch label
func (m *Metrics) Observer(watch string) *Observer {
	return &Observer{metrics: m, watch: watch}
}

// Forget drops the per-watch gauges of a finished watch
func (m *Metrics) Forget(watch string) {
	m.incumbent.DeleteLabelValues(watch)
	m.sinceImprovement.DeleteLabelValues(watch)
}

// Observer feeds one watchdog's decisions into Metrics
type Observer struct {
	metrics *Metrics
	watch   string

	mu              sync.Mutex
	lastImprovement float64
}

// ObserveImprovement implements stall.Observer
func (o *Observer) ObserveImprovement(value, now float64, accepted bool) {
	o.metrics.candidates.WithLabelValues(strconv.FormatBool(accepted)).Inc()
	if !accepted {
		return
	}

	o.mu.Lock()
	o.lastImprovement = now
	o.mu.Unlock()

	o.metrics.incumbent.WithLabelValues(o.watch).Set(value)
	o.metrics.sinceImprovement.WithLabelValues(o.watch).Set(0)
}

// ObserveTick implements stall.Observer
func (o *Observer) ObserveTick(now float64, reason stall.Reason) {
	o.metrics.ticks.Inc()

	o.mu.Lock()
	since := now - o.lastImprovement
	o.mu.Unlock()

	o.metrics.sinceImprovement.WithLabelValues(o.watch).Set(since)
	if reason != stall.ReasonNone {
		o.metrics.interrupts.WithLabelValues(string(reason)).Inc()
	}
}
