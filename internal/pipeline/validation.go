package pipeline

import (
	"path"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/gantryci/gantry/internal/errors"
	"github.com/gantryci/gantry/internal/expr"
	"github.com/gantryci/gantry/internal/graph"
)

// cronParser accepts the standard five-field cron syntax used by CI
// schedule triggers.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate runs every static check on a decoded pipeline: job and step
// shape, guard syntax, cron syntax, and graph construction (duplicate
// ids, dangling needs, cycles). It compiles guards into Job.Guard as a
// side effect so dispatch never parses strings.
func Validate(p *Pipeline) error {
	if len(p.Jobs.Order) == 0 {
		return errors.New(errors.ErrCodeDefNoJobs, "pipeline declares no jobs")
	}

	if p.On.Push == nil && p.On.PullRequest == nil && len(p.On.Schedule) == 0 {
		return errors.New(errors.ErrCodeDefNoTriggers, "pipeline declares no triggers").
			WithSuggestion("Declare at least one of on.push, on.pull_request, on.schedule")
	}

	for _, s := range p.On.Schedule {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return errors.Wrap(errors.ErrCodeDefBadCron, "invalid schedule trigger", err).
				WithSuggestion("Use standard five-field cron syntax, e.g. '0 4 * * 1'")
		}
	}

	for _, id := range p.Jobs.Order {
		job := p.Jobs.Jobs[id]

		if len(job.Steps) == 0 {
			return errors.Newf(errors.ErrCodeDefBadStep, "job %q has no steps", id)
		}
		for i, step := range job.Steps {
			if (step.Uses == "") == (step.Run == "") {
				return errors.Newf(errors.ErrCodeDefBadStep,
					"job %q step %d must set exactly one of uses or run", id, i+1)
			}
		}

		if job.If != "" {
			node, err := expr.Parse(job.If)
			if err != nil {
				return errors.NewBadGuardError(id, err)
			}
			job.Guard = node
		}
	}

	needs := make(map[string][]string, len(p.Jobs.Order))
	for _, id := range p.Jobs.Order {
		needs[id] = p.Jobs.Jobs[id].Needs
	}
	if _, err := graph.Build(p.Jobs.Order, needs); err != nil {
		return err
	}

	return nil
}

// BuildGraph constructs the dependency graph for a validated pipeline.
func (p *Pipeline) BuildGraph() (*graph.Graph, error) {
	needs := make(map[string][]string, len(p.Jobs.Order))
	for _, id := range p.Jobs.Order {
		needs[id] = p.Jobs.Jobs[id].Needs
	}
	return graph.Build(p.Jobs.Order, needs)
}

// Matches reports whether the pipeline's triggers accept the given
// event and branch. A pipeline without any trigger for the event does
// not run. When the caller supplies the event's changed paths and the
// filter has paths-ignore patterns covering every one of them, the
// trigger does not fire; without path information the filter is inert.
func (t Triggers) Matches(event, branch string, changed ...string) bool {
	var filter *EventFilter
	switch event {
	case "push":
		filter = t.Push
	case "pull_request":
		filter = t.PullRequest
	case "schedule":
		return len(t.Schedule) > 0
	default:
		return false
	}

	if filter == nil {
		return false
	}
	if len(filter.Branches) > 0 && !matchesAny(filter.Branches, branch) {
		return false
	}
	if len(filter.PathsIgnore) > 0 && len(changed) > 0 && allIgnored(filter.PathsIgnore, changed) {
		return false
	}
	return true
}

func matchesAny(patterns []string, s string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, s); err == nil && ok {
			return true
		}
	}
	return false
}

// allIgnored reports whether every changed path falls under an ignore
// pattern. A pattern ending in /** covers the whole subtree; other
// patterns match a single path segment-wise.
func allIgnored(patterns []string, changed []string) bool {
	for _, p := range changed {
		ignored := false
		for _, pattern := range patterns {
			if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
				if p == prefix || strings.HasPrefix(p, prefix+"/") {
					ignored = true
					break
				}
				continue
			}
			if ok, err := path.Match(pattern, p); err == nil && ok {
				ignored = true
				break
			}
		}
		if !ignored {
			return false
		}
	}
	return true
}
