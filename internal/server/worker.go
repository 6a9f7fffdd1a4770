package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/curvesearch/internal/dataset"
	"github.com/cwbudde/curvesearch/internal/search"
	"github.com/cwbudde/curvesearch/internal/store"
)

// runJob executes a search job in the background. A finished report is
// saved to the manager's store when one is configured.
func runJob(ctx context.Context, jm *JobManager, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	cfg, err := job.Config.SearchConfig()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	x, y, sigma, path, err := loadJobData(job.Config)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	if sigma != nil {
		cfg.Sigma = sigma
	}

	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Samples = len(x)
		j.x, j.y = x, y
	})
	if err != nil {
		return err
	}
	jm.broadcast(jobID)

	slog.Info("Starting job", "job_id", jobID, "samples", len(x), "dataset", path)

	cfg.Observer = func(ev search.Event) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Total = ev.Total
			j.Done++
			if ev.State == search.Succeeded {
				j.Succeeded++
				if store.Float(ev.Cost) < j.BestCost {
					j.BestCost = store.Float(ev.Cost)
					j.BestModel = ev.ModelName
				}
			} else {
				j.Failed++
			}
		})
		jm.broadcast(jobID)
	}

	report, err := jm.engine.Run(ctx, x, y, cfg)
	if report != nil {
		jm.UpdateJob(jobID, func(j *Job) {
			j.report = report
			j.Total = report.Candidates
			j.Warnings = report.Warnings
			if best := report.Best(); best != nil {
				j.BestModel = best.ModelName
				j.BestCost = store.Float(best.Cost)
			}
		})
	}

	switch {
	case ctx.Err() != nil:
		markJobCancelled(jm, jobID)
		return ctx.Err()
	case err != nil:
		markJobFailed(jm, jobID, err)
		return err
	}

	if jm.store != nil {
		saved := store.NewReport(jobID, report, store.NewRunConfig(cfg), store.DatasetInfo{
			Path:        path,
			Samples:     len(x),
			Fingerprint: dataset.Fingerprint(x, y),
		})
		if err := jm.store.SaveReport(jobID, saved); err != nil {
			// The report is still served from memory.
			slog.Error("Failed to save report", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	attrs := []any{
		"job_id", jobID,
		"elapsed", report.Elapsed,
		"succeeded", len(report.Results),
		"failed", len(report.Failures),
	}
	if best := report.Best(); best != nil {
		attrs = append(attrs, "best", best.ModelName, "cost", best.Cost)
	}
	slog.Info("Job completed", attrs...)

	jm.broadcast(jobID)
	return nil
}

// loadJobData returns the samples of a submission, reading the dataset
// file when one is named.
func loadJobData(c JobConfig) (x, y, sigma []float64, path string, err error) {
	if c.DatasetPath == "" {
		if len(c.X) != len(c.Y) {
			return nil, nil, nil, "", fmt.Errorf("x and y lengths differ (%d, %d)", len(c.X), len(c.Y))
		}
		return c.X, c.Y, nil, "", nil
	}

	ds, err := dataset.Load(c.DatasetPath, dataset.Options{
		X:     c.XColumn,
		Y:     c.YColumn,
		Sigma: c.SigmaColumn,
	})
	if err != nil {
		return nil, nil, nil, "", err
	}
	return ds.X, ds.Y, ds.Sigma, ds.Path, nil
}

// broadcast publishes the current state of a job to stream subscribers.
func (jm *JobManager) broadcast(jobID string) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(newProgressEvent(job))
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.broadcast(jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	jm.broadcast(jobID)
}
