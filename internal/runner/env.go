package runner

import (
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/artifact"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/graph"
	"github.com/gantryci/gantry/internal/image"
)

// Env is the immutable run context handed to every step invocation.
// Steps never read ambient process state for run data; everything they
// may see is here.
type Env struct {
	RunID   string
	Event   string
	Branch  string
	Workdir string

	// Vars is the pipeline-level environment
	Vars map[string]string

	// Secrets is the opaque injection map supplied at invocation. The
	// engine never inspects or logs secret values.
	Secrets map[string]string

	Cache     *cache.Store
	Artifacts *artifact.Registry
	Images    *image.Tracker

	DryRun bool
}

// merged flattens the environment layers for one step: run vars,
// then job env, then step env, later layers winning. Secrets are
// appended last under their own names.
func (e *Env) merged(jobEnv, stepEnv map[string]string) map[string]string {
	out := make(map[string]string, len(e.Vars)+len(jobEnv)+len(stepEnv)+len(e.Secrets))
	for k, v := range e.Vars {
		out[k] = v
	}
	for k, v := range jobEnv {
		out[k] = v
	}
	for k, v := range stepEnv {
		out[k] = v
	}
	for k, v := range e.Secrets {
		out[k] = v
	}
	return out
}

// redact masks every secret value occurring in captured output, so
// step logs can be persisted without leaking the injection map.
func (e *Env) redact(s string) string {
	for _, v := range e.Secrets {
		if v == "" {
			continue
		}
		s = strings.ReplaceAll(s, v, "***")
	}
	return s
}

// StepResult is the captured outcome of a single step
type StepResult struct {
	Label    string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// JobResult aggregates a job's step results and declared outputs
type JobResult struct {
	JobID      string
	Status     graph.Status
	Steps      []StepResult
	Outputs    map[string]string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}
