package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cwbudde/primalstall/internal/config"
	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	benchmark   string
	dim         int
	iters       int
	popSize     int
	seed        int64
	tickEvery   int
	virtualTime float64
	runDataDir  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark optimization under the stall watchdog",
	Long: `Runs the Mayfly optimizer on a benchmark function. The stall watchdog
interrupts the search when the incumbent stops improving significantly.
With --data-dir the run record and its event trace are stored for later
inspection with "runs" and "replay".`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&benchmark, "benchmark", "sphere", "Benchmark function: "+strings.Join(opt.BenchmarkNames(), ", "))
	runCmd.Flags().IntVar(&dim, "dim", 2, "Problem dimension")
	runCmd.Flags().IntVar(&iters, "iters", 100, "Max iterations")
	runCmd.Flags().IntVar(&popSize, "pop", 20, "Population size")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	runCmd.Flags().IntVar(&tickEvery, "tick-every", 0, "Evaluations per progress tick (0 = population size)")
	runCmd.Flags().Float64Var(&virtualTime, "virtual-time", 0, "Seconds charged per evaluation instead of wall-clock time (0 = wall clock)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Store the run record and trace under this directory")
	config.RegisterFlags(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	stallCfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	spec := opt.RunSpec{
		Benchmark:   benchmark,
		Dim:         dim,
		Iters:       iters,
		PopSize:     popSize,
		Seed:        seed,
		TickEvery:   tickEvery,
		VirtualTime: virtualTime,
		Stall:       stallCfg,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		runID  = uuid.New().String()
		st     *store.FSStore
		runOpt []opt.RunOption
	)
	if runDataDir != "" {
		st, err = store.NewFSStore(runDataDir)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
		trace, err := store.NewTraceWriter(st.BaseDir(), runID)
		if err != nil {
			return err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("Failed to close trace", "run_id", runID, "error", err)
			}
		}()
		runOpt = append(runOpt, opt.WithObserver(trace))
	}

	slog.Debug("Run ID assigned", "run_id", runID)

	result, runErr := opt.RunWatched(ctx, spec, runOpt...)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if st != nil {
		if err := st.SaveRun(store.NewRunRecord(runID, spec, result, runErr)); err != nil {
			return err
		}
		slog.Info("Run stored", "run_id", runID, "dir", st.RunDir(runID))
	}

	printRunResult(cmd.OutOrStdout(), runID, result)
	if runErr != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Run was cancelled.")
	}
	return nil
}

func printRunResult(w io.Writer, runID string, result *opt.RunResult) {
	fmt.Fprintf(w, "Run: %s\n", runID)
	if result.HasBest {
		fmt.Fprintf(w, "Best value: %g (%s)\n", result.BestValue, result.Sense)
		fmt.Fprintf(w, "Best params: %v\n", result.BestParams)
	} else {
		fmt.Fprintln(w, "Best value: none")
	}
	fmt.Fprintf(w, "Evaluations: %d\n", result.Evaluations)
	fmt.Fprintf(w, "Elapsed: %.3fs\n", result.Elapsed)
	fmt.Fprintf(w, "Last improvement: %.3fs\n", result.LastImprovement)
	if result.Interrupted {
		fmt.Fprintf(w, "Interrupted: %s\n", result.Reason)
	} else {
		fmt.Fprintln(w, "Interrupted: no")
	}
}
