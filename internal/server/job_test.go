package server

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/stall"
)

func testSpec() opt.RunSpec {
	return opt.RunSpec{Benchmark: "sphere", Dim: 2, Iters: 10, PopSize: 20, Seed: 42, Stall: stall.DefaultConfig()}
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testSpec())

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Spec.Benchmark != "sphere" {
		t.Errorf("Spec not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testSpec())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	if _, exists = jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(testSpec())
	time.Sleep(time.Millisecond)
	jm.CreateJob(testSpec())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testSpec())

	best := 123.45
	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Evaluations = 10
		j.BestValue = &best
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Evaluations != 10 {
		t.Error("Evaluations should be updated")
	}
	if updated.BestValue == nil || *updated.BestValue != 123.45 {
		t.Error("BestValue should be updated")
	}

	// snapshots are copies
	if job.State != StatePending {
		t.Error("Earlier snapshot should not change")
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testSpec())

	if jm.CancelJob(job.ID) {
		t.Error("Job without cancel func should not be cancellable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.SetCancel(job.ID, cancel)

	if !jm.CancelJob(job.ID) {
		t.Error("CancelJob should succeed")
	}
	if ctx.Err() == nil {
		t.Error("Context should be cancelled")
	}
	if jm.CancelJob(job.ID) {
		t.Error("Second CancelJob should report false")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testSpec())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(evals int) {
			defer wg.Done()
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Evaluations = evals
			})
			jm.GetJob(job.ID)
			jm.ListJobs()
		}(i)
	}
	wg.Wait()

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}

func TestRunRequest_Spec(t *testing.T) {
	defaults := stall.DefaultConfig()
	defaults.MaxTime = 30

	spec := RunRequest{}.Spec(defaults)
	if spec.Benchmark != "sphere" || spec.Dim != 2 || spec.Iters != 100 || spec.PopSize != 20 {
		t.Errorf("Unexpected defaults: %+v", spec)
	}
	if spec.Stall.MaxTime != 30 {
		t.Errorf("Expected server default maxtime 30, got %g", spec.Stall.MaxTime)
	}

	own := stall.DefaultConfig()
	spec = RunRequest{Benchmark: "peak", Dim: 4, Stall: &own}.Spec(defaults)
	if spec.Benchmark != "peak" || spec.Dim != 4 || !math.IsInf(spec.Stall.MaxTime, 1) {
		t.Errorf("Request values should win: %+v", spec)
	}
}
