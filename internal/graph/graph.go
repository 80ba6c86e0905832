// Package graph holds the job dependency DAG: construction, cycle
// rejection, readiness computation and the skip cascade. The graph is
// immutable after Build; all per-run state lives with the caller.
package graph

import (
	"github.com/gantryci/gantry/internal/errors"
)

type node struct {
	id         string
	order      int
	needs      []string
	dependents []string
}

// Graph is a validated, acyclic job dependency graph.
type Graph struct {
	nodes map[string]*node
	order []string // declaration order
}

// Build constructs a graph from job ids in declaration order and their
// needs edges. It fails with a definition error on a duplicate id, an
// unknown needs reference, or a cycle; a rejected graph executes zero
// jobs.
func Build(ids []string, needs map[string][]string) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node, len(ids))}

	for i, id := range ids {
		if _, ok := g.nodes[id]; ok {
			return nil, errors.Newf(errors.ErrCodeDefDuplicateJob, "duplicate job id %q", id)
		}
		g.nodes[id] = &node{id: id, order: i}
		g.order = append(g.order, id)
	}

	for _, id := range g.order {
		n := g.nodes[id]
		for _, dep := range needs[id] {
			target, ok := g.nodes[dep]
			if !ok {
				return nil, errors.NewUnknownNeedsError(id, dep)
			}
			if dep == id {
				return nil, errors.NewCycleError([]string{id, id})
			}
			n.needs = append(n.needs, dep)
			target.dependents = append(target.dependents, id)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, errors.NewCycleError(path)
	}

	return g, nil
}

// findCycle runs a three-color depth-first search and returns the
// cycle path when one exists.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current recursion stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.nodes[id].needs {
			switch color[dep] {
			case grey:
				// Found it: slice the stack from the first occurrence.
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// Jobs returns all job ids in declaration order.
func (g *Graph) Jobs() []string {
	return append([]string{}, g.order...)
}

// Needs returns the direct dependencies of a job.
func (g *Graph) Needs(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return append([]string{}, n.needs...)
	}
	return nil
}

// Dependents returns the jobs that directly depend on the given job.
func (g *Graph) Dependents(id string) []string {
	if n, ok := g.nodes[id]; ok {
		return append([]string{}, n.dependents...)
	}
	return nil
}

// Ready returns the jobs whose dependencies all succeeded and whose own
// status is still Pending or Blocked. Ties between simultaneously ready
// jobs break by declaration order.
func (g *Graph) Ready(status map[string]Status) []string {
	var ready []string
	for _, id := range g.order {
		s := status[id]
		if s != StatusPending && s != StatusBlocked {
			continue
		}
		ok := true
		for _, dep := range g.nodes[id].needs {
			if status[dep] != StatusSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// DueSkip returns the not-yet-terminal jobs that must cascade to
// Skipped because some dependency failed, was skipped, or was
// cancelled. The cascade is transitive: callers mark these Skipped and
// call again until the result is empty, which converges because each
// pass only turns non-terminal jobs terminal.
func (g *Graph) DueSkip(status map[string]Status) []string {
	var due []string
	for _, id := range g.order {
		s := status[id]
		if s.Terminal() || s == StatusRunning {
			continue
		}
		for _, dep := range g.nodes[id].needs {
			switch status[dep] {
			case StatusFailed, StatusSkipped, StatusCancelled:
				due = append(due, id)
			default:
				continue
			}
			break
		}
	}
	return due
}

// Levels groups jobs into topological levels: level 0 has no
// dependencies, level n depends only on earlier levels. Used by the
// graph inspection command.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.nodes))
	var compute func(id string) int
	compute = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range g.nodes[id].needs {
			if dd := compute(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for _, id := range g.order {
		if d := compute(id); d > maxDepth {
			maxDepth = d
		}
	}

	// Appending in declaration order keeps each level stably ordered.
	levels := make([][]string, maxDepth+1)
	for _, id := range g.order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}
