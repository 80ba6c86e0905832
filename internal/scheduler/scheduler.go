// Package scheduler drives a pipeline run to completion: it dispatches
// ready jobs onto a bounded worker set, evaluates guard conditions at
// dispatch time, propagates the skip cascade, and aggregates the
// terminal result. The dispatch loop itself never blocks on a job;
// completions arrive over a channel sized for the whole graph.
package scheduler

import (
	"context"
	"time"

	"github.com/gantryci/gantry/internal/expr"
	"github.com/gantryci/gantry/internal/graph"
	"github.com/gantryci/gantry/internal/journal"
	"github.com/gantryci/gantry/internal/log"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/runner"
)

// DefaultConcurrency bounds parallel jobs when the caller does not.
const DefaultConcurrency = 4

// DefaultGracePeriod is how long running jobs get to wind down after
// cancellation before they are force-marked Cancelled.
const DefaultGracePeriod = 10 * time.Second

// Conclusion is the overall result of a run
type Conclusion int

const (
	// ConclusionSuccess means every non-skipped job succeeded
	ConclusionSuccess Conclusion = iota
	// ConclusionFailure means at least one job failed
	ConclusionFailure
	// ConclusionCancelled means the run was cancelled before completion
	ConclusionCancelled
)

// String returns the lowercase conclusion name
func (c Conclusion) String() string {
	switch c {
	case ConclusionSuccess:
		return "success"
	case ConclusionFailure:
		return "failure"
	case ConclusionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options configures a run
type Options struct {
	Concurrency int
	GracePeriod time.Duration
	Journal     *journal.Writer
	Logger      *log.Logger
}

// Result is the aggregated outcome of one pipeline run
type Result struct {
	RunID      string
	Conclusion Conclusion
	Status     map[string]graph.Status
	Jobs       map[string]*runner.JobResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Scheduler owns all job status transitions for a run
type Scheduler struct {
	pipeline *pipeline.Pipeline
	graph    *graph.Graph
	runner   *runner.Runner
	opts     Options
	log      *log.Logger
}

// New validates the pipeline's graph and returns a scheduler. A cycle
// or dangling needs reference fails here, before any job runs.
func New(p *pipeline.Pipeline, r *runner.Runner, opts Options) (*Scheduler, error) {
	g, err := p.BuildGraph()
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}
	return &Scheduler{
		pipeline: p,
		graph:    g,
		runner:   r,
		opts:     opts,
		log:      logger,
	}, nil
}

type completion struct {
	id     string
	result *runner.JobResult
}

// Run drives the graph until every job is terminal or the context is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, env *runner.Env) *Result {
	res := &Result{
		RunID:     env.RunID,
		Status:    make(map[string]graph.Status, len(s.graph.Jobs())),
		Jobs:      make(map[string]*runner.JobResult),
		StartedAt: time.Now(),
	}
	for _, id := range s.graph.Jobs() {
		res.Status[id] = graph.StatusPending
	}

	s.journalHeader(env)

	completions := make(chan completion, len(s.graph.Jobs()))
	running := 0
	cancelled := false

	for {
		s.cascadeSkips(res)

		if !cancelled {
			running += s.dispatch(ctx, env, res, running, completions)
		}

		if running == 0 {
			if len(s.graph.Ready(res.Status)) == 0 && len(s.graph.DueSkip(res.Status)) == 0 {
				break
			}
			continue
		}

		select {
		case c := <-completions:
			running--
			s.record(res, c)

		case <-ctx.Done():
			if cancelled {
				continue
			}
			cancelled = true
			s.log.Warn("cancellation requested, waiting for running jobs", "running", running)
			s.cancelPending(res)
			running = s.drainWithGrace(res, completions, running)
		}
	}

	res.Conclusion = s.conclude(res, cancelled)
	res.FinishedAt = time.Now()
	s.journalFooter(res)

	s.log.Info("run finished",
		"run_id", res.RunID,
		"conclusion", res.Conclusion.String(),
		"duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	return res
}

// cascadeSkips propagates Skipped to dependents of failed, skipped or
// cancelled jobs until the cascade converges.
func (s *Scheduler) cascadeSkips(res *Result) {
	for {
		due := s.graph.DueSkip(res.Status)
		if len(due) == 0 {
			return
		}
		for _, id := range due {
			s.log.Info("skipping job, upstream did not succeed", "job", id)
			res.Status[id] = graph.StatusSkipped
			s.journalJob(res.RunID, id, graph.StatusSkipped, nil)
		}
	}
}

// dispatch launches ready jobs up to the concurrency limit, evaluating
// guards at dispatch time. Returns the number of jobs launched.
func (s *Scheduler) dispatch(ctx context.Context, env *runner.Env, res *Result, running int, completions chan<- completion) int {
	launched := 0
	for _, id := range s.graph.Ready(res.Status) {
		if running+launched >= s.opts.Concurrency {
			break
		}
		job := s.pipeline.Jobs.Jobs[id]

		if job.Guard != nil && !expr.Eval(job.Guard, s.guardContext(env, res)) {
			s.log.Info("skipping job, guard condition is false", "job", id, "if", job.If)
			res.Status[id] = graph.StatusSkipped
			s.journalJob(res.RunID, id, graph.StatusSkipped, nil)
			continue
		}

		s.log.Info("dispatching job", "job", id)
		res.Status[id] = graph.StatusRunning
		launched++
		go func(id string, job *pipeline.Job) {
			completions <- completion{id: id, result: s.runner.Run(ctx, id, job, env)}
		}(id, job)
	}
	return launched
}

// guardContext exposes branch, event and upstream outputs to guard
// expressions. Visibility follows the effective status, so a
// continue-on-error job that failed still exposes the outputs its
// successful steps declared.
func (s *Scheduler) guardContext(env *runner.Env, res *Result) *expr.Context {
	outputs := make(map[string]map[string]string, len(res.Jobs))
	for id, jr := range res.Jobs {
		if res.Status[id] == graph.StatusSucceeded && len(jr.Outputs) > 0 {
			outputs[id] = jr.Outputs
		}
	}
	return &expr.Context{
		Branch:  env.Branch,
		Event:   env.Event,
		Outputs: outputs,
	}
}

// record folds one job completion into the run state.
func (s *Scheduler) record(res *Result, c completion) {
	res.Jobs[c.id] = c.result

	status := c.result.Status
	if status == graph.StatusFailed && s.pipeline.Jobs.Jobs[c.id].ContinueOnError {
		// The job failed but must not gate its dependents nor the run.
		s.log.Warn("job failed but continues on error", "job", c.id)
		status = graph.StatusSucceeded
	}
	res.Status[c.id] = status

	switch status {
	case graph.StatusSucceeded:
		s.log.Info("job succeeded", "job", c.id,
			"duration", c.result.FinishedAt.Sub(c.result.StartedAt).Round(time.Millisecond))
	case graph.StatusFailed:
		s.log.Error("job failed", "job", c.id, "error", c.result.Err)
	case graph.StatusCancelled:
		s.log.Warn("job cancelled", "job", c.id)
	}
	s.journalJob(res.RunID, c.id, status, c.result)
}

// cancelPending marks every not-yet-dispatched job Cancelled.
func (s *Scheduler) cancelPending(res *Result) {
	for _, id := range s.graph.Jobs() {
		st := res.Status[id]
		if !st.Terminal() && st != graph.StatusRunning {
			res.Status[id] = graph.StatusCancelled
			s.journalJob(res.RunID, id, graph.StatusCancelled, nil)
		}
	}
}

// drainWithGrace waits for running jobs to wind down cooperatively.
// Jobs that outlive the grace period are force-marked Cancelled; their
// eventual completions land in the buffered channel and are dropped.
func (s *Scheduler) drainWithGrace(res *Result, completions <-chan completion, running int) int {
	timer := time.NewTimer(s.opts.GracePeriod)
	defer timer.Stop()

	for running > 0 {
		select {
		case c := <-completions:
			running--
			s.record(res, c)
		case <-timer.C:
			for _, id := range s.graph.Jobs() {
				if res.Status[id] == graph.StatusRunning {
					s.log.Warn("job did not cancel within grace period", "job", id)
					res.Status[id] = graph.StatusCancelled
					s.journalJob(res.RunID, id, graph.StatusCancelled, nil)
				}
			}
			return 0
		}
	}
	return 0
}

// conclude derives the overall run result.
func (s *Scheduler) conclude(res *Result, cancelled bool) Conclusion {
	if cancelled {
		return ConclusionCancelled
	}
	for _, id := range s.graph.Jobs() {
		if res.Status[id] == graph.StatusFailed {
			return ConclusionFailure
		}
		if res.Status[id] == graph.StatusCancelled {
			return ConclusionCancelled
		}
	}
	return ConclusionSuccess
}

func (s *Scheduler) journalHeader(env *runner.Env) {
	if s.opts.Journal == nil {
		return
	}
	rec := journal.Record{
		RunID:    env.RunID,
		Pipeline: s.pipeline.Name,
		Event:    env.Event,
		Branch:   env.Branch,
		Status:   "running",
	}
	if err := s.opts.Journal.Append(rec); err != nil {
		s.log.Warn("journal write failed", "error", err)
	}
}

func (s *Scheduler) journalJob(runID, id string, status graph.Status, jr *runner.JobResult) {
	if s.opts.Journal == nil {
		return
	}
	rec := journal.Record{
		RunID:  runID,
		Job:    id,
		Status: status.String(),
	}
	if jr != nil {
		rec.StartedAt = &jr.StartedAt
		rec.FinishedAt = &jr.FinishedAt
		rec.Outputs = jr.Outputs
		if n := len(jr.Steps); n > 0 {
			rec.ExitStatus = jr.Steps[n-1].ExitCode
		}
	}
	if err := s.opts.Journal.Append(rec); err != nil {
		s.log.Warn("journal write failed", "error", err)
	}
}

func (s *Scheduler) journalFooter(res *Result) {
	if s.opts.Journal == nil {
		return
	}
	rec := journal.Record{
		RunID:  res.RunID,
		Status: "finished",
		Result: res.Conclusion.String(),
	}
	if err := s.opts.Journal.Append(rec); err != nil {
		s.log.Warn("journal write failed", "error", err)
	}
}
