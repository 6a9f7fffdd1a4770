package server

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/curvesearch/internal/catalog"
	"github.com/cwbudde/curvesearch/internal/config"
	"github.com/cwbudde/curvesearch/internal/search"
	"github.com/cwbudde/curvesearch/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has stopped.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is the body of a job submission. Data comes either inline
// (X, Y and optional Sigma) or from a CSV file on the server.
type JobConfig struct {
	DatasetPath string    `json:"datasetPath,omitempty"`
	XColumn     string    `json:"xColumn,omitempty"`
	YColumn     string    `json:"yColumn,omitempty"`
	SigmaColumn string    `json:"sigmaColumn,omitempty"`
	X           []float64 `json:"x,omitempty"`
	Y           []float64 `json:"y,omitempty"`
	Sigma       []float64 `json:"sigma,omitempty"`

	Functions        []string `json:"functions,omitempty"`
	Operator         string   `json:"operator,omitempty"`
	Piecewise        bool     `json:"piecewise,omitempty"`
	MaxCombination   *int     `json:"maxCombination,omitempty"`
	Method           string   `json:"method,omitempty"`
	MaxFunctionEvals int      `json:"maxFunctionEvals,omitempty"`
	Workers          int      `json:"workers,omitempty"`
}

// SearchConfig validates the submission and converts it into an engine
// configuration, starting from the same defaults as the config file.
func (c JobConfig) SearchConfig() (search.Config, error) {
	if c.DatasetPath == "" && len(c.X) == 0 {
		return search.Config{}, fmt.Errorf("either datasetPath or x/y data is required")
	}
	if c.DatasetPath != "" && len(c.X) > 0 {
		return search.Config{}, fmt.Errorf("datasetPath and inline data are mutually exclusive")
	}

	f := config.Default()
	f.Functions = c.Functions
	if c.Operator != "" {
		f.Operator = c.Operator
	}
	f.Piecewise = c.Piecewise
	if c.MaxCombination != nil {
		f.MaxCombination = *c.MaxCombination
	}
	f.Method = c.Method
	f.MaxFunctionEvals = c.MaxFunctionEvals
	f.Workers = c.Workers

	cfg, err := f.Search()
	if err != nil {
		return search.Config{}, err
	}
	cfg.Sigma = c.Sigma
	return cfg, nil
}

// Job represents one search job.
type Job struct {
	ID        string      `json:"id"`
	State     JobState    `json:"state"`
	Config    JobConfig   `json:"config"`
	Samples   int         `json:"samples"`
	Total     int         `json:"total"`
	Done      int         `json:"done"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	BestModel string      `json:"bestModel,omitempty"`
	BestCost  store.Float `json:"bestCost"`
	StartTime time.Time   `json:"startTime"`
	EndTime   *time.Time  `json:"endTime,omitempty"`
	Error     string      `json:"error,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`

	// Set by the worker; never serialized with the job.
	x, y   []float64
	report *search.Report
	cancel context.CancelFunc
}

// Report returns the ranked search report once the job has one.
func (j *Job) Report() *search.Report {
	return j.report
}

// Data returns the samples the job ran on.
func (j *Job) Data() (x, y []float64) {
	return j.x, j.y
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
	engine      *search.Engine
	store       store.Store
	wg          sync.WaitGroup
}

// NewJobManager creates a job manager that searches reg. Finished reports
// are saved to st when it is not nil.
func NewJobManager(reg *catalog.Registry, st store.Store) *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
		engine:      search.NewEngine(reg),
		store:       st,
	}
}

// Registry returns the catalog jobs are searched over.
func (jm *JobManager) Registry() *catalog.Registry {
	return jm.engine.Compiler().Registry()
}

// CreateJob registers a pending job with the given configuration.
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		BestCost:  store.Float(math.Inf(1)),
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// Start creates a job and runs it in the background. The job is cancelled
// when ctx is done or CancelJob is called.
func (jm *JobManager) Start(ctx context.Context, config JobConfig) Job {
	job := jm.CreateJob(config)

	runCtx, cancel := context.WithCancel(ctx)
	jm.UpdateJob(job.ID, func(j *Job) { j.cancel = cancel })

	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer cancel()
		runJob(runCtx, jm, job.ID)
	}()

	snapshot, _ := jm.GetJob(job.ID)
	return snapshot
}

// Wait blocks until every started job has returned.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

// CancelJob stops a running job. It returns false for unknown jobs.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	var cancel context.CancelFunc
	if exists {
		cancel = job.cancel
	}
	jm.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	return exists
}

// GetJob returns a snapshot of a job by ID.
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].StartTime.Equal(jobs[b].StartTime) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].StartTime.Before(jobs[b].StartTime)
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

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, *job)
		}
	}
	return runningJobs
}
