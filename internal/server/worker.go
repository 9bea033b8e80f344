package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/primalstall/internal/metrics"
	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/store"
)

// runEnv carries what a background run reports to. Every field is optional.
type runEnv struct {
	store       *store.FSStore
	metrics     *metrics.Metrics
	broadcaster *EventBroadcaster
	runOptions  []opt.RunOption
}

// runJob executes a watched optimization job in the background.
// If env.store is set, the run record and its event trace are persisted.
func runJob(ctx context.Context, jm *JobManager, env runEnv, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	env.broadcastState(jobID, StateRunning)

	slog.Info("Starting job", "job_id", jobID, "benchmark", job.Spec.Benchmark)

	opts := append([]opt.RunOption(nil), env.runOptions...)
	if env.broadcaster != nil {
		opts = append(opts, opt.WithObserver(env.broadcaster.Observer(jobID)))
	}
	if env.metrics != nil {
		opts = append(opts, opt.WithObserver(env.metrics.Observer(jobID)))
		defer env.metrics.Forget(jobID)
	}

	if env.store != nil {
		trace, err := store.NewTraceWriter(env.store.BaseDir(), jobID)
		if err != nil {
			markJobFailed(jm, env, jobID, err)
			return err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
			}
		}()
		opts = append(opts, opt.WithObserver(trace))
	}

	result, runErr := opt.RunWatched(ctx, job.Spec, opts...)

	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		markJobCancelled(jm, env, jobID, result)
	case runErr != nil:
		markJobFailed(jm, env, jobID, runErr)
	default:
		endTime := time.Now()
		err = jm.UpdateJob(jobID, func(j *Job) {
			j.State = StateCompleted
			applyResult(j, result)
			j.EndTime = &endTime
		})
		if err != nil {
			return err
		}

		slog.Info("Job completed",
			"job_id", jobID,
			"best_value", result.BestValue,
			"evaluations", result.Evaluations,
			"interrupted", result.Interrupted,
			"reason", result.Reason.String(),
		)
		env.broadcastState(jobID, StateCompleted)
	}

	if env.store != nil {
		record := store.NewRunRecord(jobID, job.Spec, result, runErr)
		if err := env.store.SaveRun(record); err != nil {
			slog.Error("Failed to save run record", "job_id", jobID, "error", err)
			return err
		}
	}

	return runErr
}

func applyResult(j *Job, result *opt.RunResult) {
	if result == nil {
		return
	}
	if result.HasBest {
		best := result.BestValue
		j.BestValue = &best
		j.BestParams = result.BestParams
	}
	j.LastImprovement = result.LastImprovement
	j.Evaluations = result.Evaluations
	j.Interrupted = result.Interrupted
	j.Reason = result.Reason
	j.Elapsed = result.Elapsed
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, env runEnv, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	env.broadcastState(jobID, StateFailed)
}

// markJobCancelled marks a job as cancelled, keeping its partial result
func markJobCancelled(jm *JobManager, env runEnv, jobID string, result *opt.RunResult) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		applyResult(j, result)
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	env.broadcastState(jobID, StateCancelled)
}

func (env runEnv) broadcastState(jobID string, state JobState) {
	if env.broadcaster == nil {
		return
	}
	env.broadcaster.Broadcast(Event{
		Topic:     jobID,
		Kind:      EventStatus,
		State:     string(state),
		Timestamp: time.Now(),
	})
}
