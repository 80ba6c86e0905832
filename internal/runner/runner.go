// Package runner executes a single job: its steps run strictly in
// declaration order, the first failure halts the job, and stdout/stderr
// of every step is captured for the run report.
package runner

import (
	"context"
	"time"

	"github.com/gantryci/gantry/internal/errors"
	"github.com/gantryci/gantry/internal/graph"
	"github.com/gantryci/gantry/internal/log"
	"github.com/gantryci/gantry/internal/pipeline"
)

// Runner executes jobs
type Runner struct {
	log *log.Logger
}

// New creates a Runner logging through the given logger.
func New(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Runner{log: logger}
}

// Run executes the job's steps sequentially. Cancellation is checked
// between steps; a cancelled job reports Cancelled, not Failed. Outputs
// declared by successful steps accumulate into the job's outputs map.
func (r *Runner) Run(ctx context.Context, jobID string, job *pipeline.Job, env *Env) *JobResult {
	result := &JobResult{
		JobID:     jobID,
		Status:    graph.StatusRunning,
		Outputs:   make(map[string]string),
		StartedAt: time.Now(),
	}
	logger := r.log.With("job", jobID)

	// The parent context carries run-level cancellation; the job context
	// additionally enforces the job's own timeout. A timed-out job is a
	// failure, a cancelled run is not.
	parent := ctx
	if job.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	for i, step := range job.Steps {
		if err := ctx.Err(); err != nil {
			if parent.Err() == nil {
				logger.Error("job timed out before step", "step", step.Label(), "timeout_minutes", job.TimeoutMinutes)
				result.Status = graph.StatusFailed
				result.Err = errors.Newf(errors.ErrCodeStepTimeout,
					"job %s exceeded its %d minute timeout", jobID, job.TimeoutMinutes)
			} else {
				logger.Warn("job cancelled before step", "step", step.Label())
				result.Status = graph.StatusCancelled
				result.Err = errors.NewCancelledError(env.RunID)
			}
			result.FinishedAt = time.Now()
			return result
		}

		logger.Debug("executing step", "step", step.Label(), "index", i+1)
		stepResult, outputs := r.executeStep(ctx, step, job.Env, env)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Err != nil || stepResult.ExitCode != 0 {
			// Distinguish a step killed by run cancellation from a step
			// that failed on its own or ran into the job timeout.
			if ctx.Err() != nil && parent.Err() == nil {
				logger.Error("step hit the job timeout", "step", step.Label(), "timeout_minutes", job.TimeoutMinutes)
				result.Status = graph.StatusFailed
				result.Err = errors.Newf(errors.ErrCodeStepTimeout,
					"job %s exceeded its %d minute timeout", jobID, job.TimeoutMinutes)
			} else if ctx.Err() != nil {
				logger.Warn("step interrupted by cancellation", "step", step.Label())
				result.Status = graph.StatusCancelled
				result.Err = errors.NewCancelledError(env.RunID)
			} else {
				logger.Error("step failed", "step", step.Label(), "exit_code", stepResult.ExitCode)
				result.Status = graph.StatusFailed
				result.Err = errors.Wrap(errors.ErrCodeStepFailed,
					"step "+step.Label()+" failed", stepResult.Err)
			}
			result.FinishedAt = time.Now()
			return result
		}

		// Step outputs land on the job; later steps win on key collision.
		for k, v := range outputs {
			result.Outputs[k] = v
		}
	}

	logger.Debug("job succeeded", "steps", len(job.Steps))
	result.Status = graph.StatusSucceeded
	result.FinishedAt = time.Now()
	return result
}
