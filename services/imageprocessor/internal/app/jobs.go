package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"streetviewai/internal/util"
	"streetviewai/pkg/queue"
)

// EnqueueAnalysis queues req for a background worker.
func (a *App) EnqueueAnalysis(ctx context.Context, req AnalyzeRequest) (queue.AnalysisJob, error) {
	if a.queue == nil {
		return queue.AnalysisJob{}, newError(ErrQueueDisabled, nil, "async analysis is not configured")
	}
	if !filepath.IsLocal(req.Filename) {
		return queue.AnalysisJob{}, newError(ErrInvalidRequest, nil, "invalid filename: %q", req.Filename)
	}
	analyses := req.Analyses
	if len(analyses) == 0 {
		analyses = defaultAnalyses
	}
	job, err := a.queue.Enqueue(ctx, queue.AnalysisJob{
		Filename:     req.Filename,
		Analyses:     analyses,
		Model:        req.Model,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		return queue.AnalysisJob{}, fmt.Errorf("enqueue analysis: %w", err)
	}
	return job, nil
}

// GetJob returns the state of a queued analysis.
func (a *App) GetJob(ctx context.Context, jobID string) (queue.AnalysisJob, error) {
	if a.queue == nil {
		return queue.AnalysisJob{}, newError(ErrQueueDisabled, nil, "async analysis is not configured")
	}
	job, ok, err := a.queue.GetJob(ctx, jobID)
	if err != nil {
		return queue.AnalysisJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if !ok {
		return queue.AnalysisJob{}, newError(ErrNotFound, nil, "job not found")
	}
	return job, nil
}

// RunJob executes a queued analysis. Missing images and storage failures fail
// the job; per-kind failures are part of a completed job's result.
func (a *App) RunJob(ctx context.Context, job queue.AnalysisJob) (queue.JobOutcome, error) {
	ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("job_id", job.ID))
	resp, err := a.Analyze(ctx, AnalyzeRequest{
		Filename:     job.Filename,
		Analyses:     job.Analyses,
		Model:        job.Model,
		CustomPrompt: job.CustomPrompt,
	})
	if err != nil {
		return queue.JobOutcome{}, err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return queue.JobOutcome{}, fmt.Errorf("encode job result: %w", err)
	}
	return queue.JobOutcome{ImageID: resp.ImageID, Result: raw}, nil
}
