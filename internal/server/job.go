package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/primalstall/internal/opt"
	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/google/uuid"
)

// JobState represents the current state of a background run
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Finished reports whether the state is terminal
func (s JobState) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RunRequest is the body of POST /api/v1/runs
type RunRequest struct {
	Benchmark   string        `json:"benchmark"`
	Dim         int           `json:"dim"`
	Iters       int           `json:"iters"`
	PopSize     int           `json:"popSize"`
	Seed        int64         `json:"seed"`
	TickEvery   int           `json:"tickEvery,omitempty"`
	VirtualTime float64       `json:"virtualTime,omitempty"`
	Stall       *stall.Config `json:"stall,omitempty"`
}

// Spec fills in defaults and converts the request to a run spec
func (r RunRequest) Spec(defaults stall.Config) opt.RunSpec {
	spec := opt.RunSpec{
		Benchmark:   r.Benchmark,
		Dim:         r.Dim,
		Iters:       r.Iters,
		PopSize:     r.PopSize,
		Seed:        r.Seed,
		TickEvery:   r.TickEvery,
		VirtualTime: r.VirtualTime,
		Stall:       defaults,
	}
	if spec.Benchmark == "" {
		spec.Benchmark = "sphere"
	}
	if spec.Dim <= 0 {
		spec.Dim = 2
	}
	if spec.Iters <= 0 {
		spec.Iters = 100
	}
	if spec.PopSize <= 0 {
		spec.PopSize = 20
	}
	if r.Stall != nil {
		spec.Stall = *r.Stall
	}
	return spec
}

// Job is a watched optimization run executing in the background
type Job struct {
	ID              string       `json:"id"`
	State           JobState     `json:"state"`
	Spec            opt.RunSpec  `json:"spec"`
	BestParams      []float64    `json:"bestParams,omitempty"`
	BestValue       *float64     `json:"bestValue,omitempty"`
	LastImprovement float64      `json:"lastImprovement"`
	Evaluations     int          `json:"evaluations"`
	Interrupted     bool         `json:"interrupted"`
	Reason          stall.Reason `json:"reason,omitempty"`
	Elapsed         float64      `json:"elapsed"`
	StartTime       time.Time    `json:"startTime"`
	EndTime         *time.Time   `json:"endTime,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
}

// CreateJob registers a pending job for the given spec
func (jm *JobManager) CreateJob(spec opt.RunSpec) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Spec:      spec,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return *job
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// SetCancel records how to stop a running job
func (jm *JobManager) SetCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// CancelJob stops a running job. It reports false if the job is unknown or
// has no cancel function (already finished).
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, *job)
		}
	}
	return running
}
