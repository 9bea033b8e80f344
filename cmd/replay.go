package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/cwbudde/primalstall/internal/config"
	"github.com/cwbudde/primalstall/internal/replay"
	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/cwbudde/primalstall/internal/store"
	"github.com/spf13/cobra"
)

var (
	replayRunID   string
	replayDataDir string
	summaryOnly   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [script.yaml]",
	Short: "Replay an improvement trace through the stall monitor",
	Long: `Feeds a sequence of improvement and tick events to a fresh stall monitor
and reports each decision and where a search would have been interrupted.

Events come either from a YAML script or, with --run, from the trace of a
stored run. Parameters are resolved from defaults, the config file,
environment, the script's config section (or the stored run's parameters),
and finally explicitly set flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayRunID, "run", "", "Replay the trace of a stored run instead of a script")
	replayCmd.Flags().StringVar(&replayDataDir, "data-dir", "./data", "Base directory of stored runs")
	replayCmd.Flags().BoolVar(&summaryOnly, "summary", false, "Print only the summary, not every decision")
	config.RegisterFlags(replayCmd.Flags())

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (replayRunID != "") {
		return fmt.Errorf("specify either a script file or --run")
	}

	base, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	var script *replay.Script
	if replayRunID != "" {
		script, base, err = loadRunScript(replayDataDir, replayRunID)
	} else {
		script, err = replay.LoadScript(args[0])
		if err == nil {
			base = script.Apply(base)
		}
	}
	if err != nil {
		return err
	}

	cfg, err := config.ApplyChangedFlags(base, cmd.Flags())
	if err != nil {
		return err
	}

	outcome := replay.Run(script, cfg)
	out := cmd.OutOrStdout()
	if !summaryOnly {
		printDecisions(out, outcome)
		fmt.Fprintln(out)
	}
	printReplaySummary(out, outcome)
	return nil
}

// loadRunScript turns a stored run's trace into a script. The run's own
// parameters become the base configuration.
func loadRunScript(dataDir, runID string) (*replay.Script, stall.Config, error) {
	st, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, stall.Config{}, fmt.Errorf("failed to create run store: %w", err)
	}
	record, err := st.LoadRun(runID)
	if err != nil {
		return nil, stall.Config{}, err
	}

	reader, err := store.NewTraceReader(st.BaseDir(), runID)
	if err != nil {
		return nil, stall.Config{}, err
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return nil, stall.Config{}, err
	}
	script, err := replay.FromTrace(entries, record.Sense)
	if err != nil {
		return nil, stall.Config{}, err
	}
	return script, record.Stall, nil
}

func printDecisions(out io.Writer, outcome *replay.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTIME\tKIND\tVALUE\tDECISION")
	fmt.Fprintln(w, "-\t----\t----\t-----\t--------")

	for i, d := range outcome.Decisions {
		value := "-"
		if d.Event.Value != nil {
			value = strconv.FormatFloat(*d.Event.Value, 'g', -1, 64)
		}
		fmt.Fprintf(w, "%d\t%g\t%s\t%s\t%s\n", i, d.Event.Time, d.Event.Kind, value, describeDecision(d))
	}
	w.Flush()
}

func describeDecision(d replay.Decision) string {
	var s string
	switch {
	case d.Event.Kind == store.KindImprovement && d.Accepted:
		s = "accepted"
	case d.Event.Kind == store.KindImprovement:
		s = "rejected"
	case d.Reason != stall.ReasonNone:
		s = "interrupt (" + d.Reason.String() + ")"
	default:
		s = "continue"
	}
	if d.AfterStop {
		s += " [after stop]"
	}
	return s
}

func printReplaySummary(out io.Writer, outcome *replay.Outcome) {
	cfg := outcome.Config
	fmt.Fprintf(out, "Sense: %s\n", outcome.Sense)
	fmt.Fprintf(out, "Config: abstol=%g reltol=%g mintime=%g maxtime=%g fractime=%g\n",
		cfg.AbsTol, cfg.RelTol, cfg.MinTime, cfg.MaxTime, cfg.FracTime)
	fmt.Fprintf(out, "Improvements: %d accepted, %d rejected\n", outcome.Accepted, outcome.Rejected)
	fmt.Fprintf(out, "Ticks: %d\n", outcome.Ticks)

	if !outcome.Stopped {
		fmt.Fprintln(out, "Result: no interrupt")
	} else {
		fmt.Fprintf(out, "Result: interrupt at event %d (t=%g, %s)\n",
			outcome.StopIndex, outcome.StopTime, outcome.StopReason)
	}
	if best, ok := outcome.BestAtStop(); ok {
		fmt.Fprintf(out, "Incumbent: %g (t=%g)\n", best.Value, best.Time)
	} else {
		fmt.Fprintln(out, "Incumbent: none")
	}
}
