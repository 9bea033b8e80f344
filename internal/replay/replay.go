package replay

import (
	"log/slog"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/cwbudde/primalstall/internal/store"
)

// Decision is the monitor's answer to one event
type Decision struct {
	Event Event

	// Accepted is set for improvements that reset the stall clock
	Accepted bool

	// Reason is set for ticks that would interrupt
	Reason stall.Reason

	// AfterStop marks events that a real host would never have delivered
	// because the search was already interrupted
	AfterStop bool
}

// Outcome summarizes a replay
type Outcome struct {
	Config    stall.Config
	Sense     stall.Sense
	Decisions []Decision

	Stopped    bool
	StopIndex  int
	StopTime   float64
	StopReason stall.Reason

	Best    stall.Incumbent
	HasBest bool

	Accepted int
	Rejected int
	Ticks    int
}

// Run feeds the script's events, in order, to a fresh Monitor built from cfg.
// Events after the first interrupt are still evaluated so the whole script
// can be inspected; they are flagged AfterStop. Best is the incumbent after
// all events, BestAtStop the one at the interrupt.
func Run(script *Script, cfg stall.Config) *Outcome {
	monitor := stall.NewMonitor(cfg)
	sense := script.Sense()

	out := &Outcome{
		Config:    cfg,
		Sense:     sense,
		Decisions: make([]Decision, 0, len(script.Events)),
		StopIndex: -1,
	}

	for i, ev := range script.Events {
		d := Decision{Event: ev, AfterStop: out.Stopped}

		switch ev.Kind {
		case store.KindImprovement:
			d.Accepted = monitor.OnImprovementCandidate(*ev.Value, sense, ev.Time)
			if d.Accepted {
				out.Accepted++
			} else {
				out.Rejected++
			}
		case store.KindTick:
			out.Ticks++
			d.Reason = monitor.Check(ev.Time)
			if d.Reason != stall.ReasonNone && !out.Stopped {
				out.Stopped = true
				out.StopIndex = i
				out.StopTime = ev.Time
				out.StopReason = d.Reason
				slog.Debug("Replay would interrupt",
					"event", i,
					"time", ev.Time,
					"reason", d.Reason.String(),
				)
			}
		}

		out.Decisions = append(out.Decisions, d)
	}

	out.Best, out.HasBest = monitor.Best()
	return out
}

// BestAtStop returns the incumbent the host would have finished with: the
// last accepted improvement before the interrupt, or the final one if the
// script never stopped
func (o *Outcome) BestAtStop() (stall.Incumbent, bool) {
	if !o.Stopped {
		return o.Best, o.HasBest
	}
	var best stall.Incumbent
	found := false
	for _, d := range o.Decisions[:o.StopIndex] {
		if d.Event.Kind == store.KindImprovement && d.Accepted {
			best = stall.Incumbent{Value: *d.Event.Value, Time: d.Event.Time}
			found = true
		}
	}
	return best, found
}
