package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gantryci/gantry/internal/expr"
)

// Pipeline represents a complete pipeline definition
type Pipeline struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs JobMap            `yaml:"jobs"`
}

// Triggers declares the events a pipeline responds to
type Triggers struct {
	Push        *EventFilter `yaml:"push"`
	PullRequest *EventFilter `yaml:"pull_request"`
	Schedule    []Schedule   `yaml:"schedule"`
}

// EventFilter narrows an event trigger by branch and path
type EventFilter struct {
	Branches    []string `yaml:"branches"`
	PathsIgnore []string `yaml:"paths-ignore"`
}

// Schedule is a cron trigger entry
type Schedule struct {
	Cron string `yaml:"cron"`
}

// Job represents one unit of the dependency graph
type Job struct {
	Name            string            `yaml:"name"`
	RunsOn          string            `yaml:"runs-on"`
	Needs           StringList        `yaml:"needs"`
	If              string            `yaml:"if"`
	ContinueOnError bool              `yaml:"continue-on-error"`
	TimeoutMinutes  int               `yaml:"timeout-minutes"`
	Env             map[string]string `yaml:"env"`
	Steps           []Step            `yaml:"steps"`

	// Guard is the compiled form of If, populated during validation.
	Guard expr.Node `yaml:"-"`
}

// Step is a single invocation within a job. Exactly one of Uses
// (a packaged action reference) or Run (a shell command line) is set.
// A run step exports its declared outputs only when it carries an ID.
type Step struct {
	ID   string            `yaml:"id"`
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses"`
	Run  string            `yaml:"run"`
	With map[string]string `yaml:"with"`
	Env  map[string]string `yaml:"env"`
}

// Label returns the step's display name, falling back to its command.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Run
}

// JobMap preserves the declaration order of the jobs mapping, which is
// the scheduling tie-break for simultaneously ready jobs.
type JobMap struct {
	Order []string
	Jobs  map[string]*Job
}

// UnmarshalYAML decodes the jobs mapping keeping key order.
func (m *JobMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs must be a mapping")
	}
	m.Jobs = make(map[string]*Job, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var job Job
		if err := node.Content[i+1].Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", key, err)
		}
		if _, ok := m.Jobs[key]; ok {
			return fmt.Errorf("duplicate job id %q", key)
		}
		m.Order = append(m.Order, key)
		m.Jobs[key] = &job
	}
	return nil
}

// MarshalYAML re-emits the mapping in declaration order.
func (m JobMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range m.Order {
		var key, val yaml.Node
		key.SetString(id)
		if err := val.Encode(m.Jobs[id]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &val)
	}
	return node, nil
}

// StringList accepts both a YAML scalar and a sequence, so that
// `needs: build` and `needs: [test, lint]` both parse.
type StringList []string

// UnmarshalYAML implements flexible decoding for StringList.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("expected string or list of strings")
	}
}
