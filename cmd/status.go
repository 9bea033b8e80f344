package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/primalstall/internal/server"
	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Query server watches and runs",
	Long: `Queries a running server.
If no id is provided, lists all watches and runs.
If an id is provided, shows the watch or run with that id.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(serverURL, "/") + "/api/v1"
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		return listStatus(out, base)
	}

	id := args[0]
	var watch server.WatchStatus
	found, err := getJSON(base+"/watches/"+id, &watch)
	if err != nil {
		return err
	}
	if found {
		printWatch(out, watch)
		return nil
	}

	var job server.Job
	found, err = getJSON(base+"/runs/"+id, &job)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no watch or run with id %s", id)
	}
	printJob(out, job)
	return nil
}

// getJSON decodes the response into dst. A 404 is reported as not found
// rather than as an error.
func getJSON(url string, dst any) (bool, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return false, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

func listStatus(out io.Writer, base string) error {
	var watches []server.WatchStatus
	if _, err := getJSON(base+"/watches", &watches); err != nil {
		return err
	}
	var jobs []server.Job
	if _, err := getJSON(base+"/runs", &jobs); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if len(watches) == 0 {
		fmt.Fprintln(out, "No watches.")
	} else {
		fmt.Fprintln(w, "WATCH ID\tSENSE\tBEST\tLAST IMPROVEMENT\tTICKS\tINTERRUPT")
		for _, s := range watches {
			best, at := "-", "-"
			if s.Best != nil {
				best = fmt.Sprintf("%g", s.Best.Value)
				at = fmt.Sprintf("%.3fs", s.Best.Time)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.ID, s.Sense, best, at, s.Ticks, interruptLabel(s.Interrupted, s.Reason.String()))
		}
		w.Flush()
	}
	fmt.Fprintln(out)

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	fmt.Fprintln(w, "RUN ID\tSTATE\tBENCHMARK\tBEST\tEVALS\tINTERRUPT")
	for _, j := range jobs {
		best := "-"
		if j.BestValue != nil {
			best = fmt.Sprintf("%g", *j.BestValue)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", j.ID, j.State, j.Spec.Benchmark, best, j.Evaluations, interruptLabel(j.Interrupted, j.Reason.String()))
	}
	return w.Flush()
}

func interruptLabel(interrupted bool, reason string) string {
	if !interrupted {
		return "no"
	}
	return reason
}

func printWatch(out io.Writer, s server.WatchStatus) {
	fmt.Fprintf(out, "Watch: %s\n", s.ID)
	fmt.Fprintf(out, "Sense: %s\n", s.Sense)
	fmt.Fprintf(out, "Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Config: abstol=%g reltol=%g mintime=%g maxtime=%g fractime=%g\n",
		s.Config.AbsTol, s.Config.RelTol, s.Config.MinTime, s.Config.MaxTime, s.Config.FracTime)
	if s.Best != nil {
		fmt.Fprintf(out, "Incumbent: %g (t=%.3fs)\n", s.Best.Value, s.Best.Time)
	} else {
		fmt.Fprintln(out, "Incumbent: none")
	}
	fmt.Fprintf(out, "Improvements: %d\n", s.Improvements)
	fmt.Fprintf(out, "Ticks: %d\n", s.Ticks)
	fmt.Fprintf(out, "Elapsed: %.3fs\n", s.Elapsed)
	fmt.Fprintf(out, "Interrupt: %s\n", interruptLabel(s.Interrupted, s.Reason.String()))
}

func printJob(out io.Writer, j server.Job) {
	fmt.Fprintf(out, "Run: %s\n", j.ID)
	if j.State != "" {
		fmt.Fprintf(out, "State: %s\n", j.State)
	}
	if j.Spec.Benchmark != "" {
		fmt.Fprintf(out, "Benchmark: %s (dim %d, iters %d, pop %d, seed %d)\n",
			j.Spec.Benchmark, j.Spec.Dim, j.Spec.Iters, j.Spec.PopSize, j.Spec.Seed)
	}
	if j.BestValue != nil {
		fmt.Fprintf(out, "Best value: %g\n", *j.BestValue)
	}
	fmt.Fprintf(out, "Evaluations: %d\n", j.Evaluations)
	fmt.Fprintf(out, "Last improvement: %.3fs\n", j.LastImprovement)
	fmt.Fprintf(out, "Elapsed: %.3fs\n", j.Elapsed)
	fmt.Fprintf(out, "Interrupt: %s\n", interruptLabel(j.Interrupted, j.Reason.String()))
	if j.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", j.Error)
	}
}
