package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	gerrors "github.com/gantryci/gantry/internal/errors"
)

const validPipeline = `
name: ci
on:
  push:
    branches: [main, "release/*"]
    paths-ignore: ["docs/**"]
  pull_request:
    branches: [main]
  schedule:
    - cron: "0 4 * * 1"
env:
  NODE_ENV: production
jobs:
  setup:
    name: Setup
    runs-on: ubuntu-latest
    steps:
      - name: Checkout
        uses: checkout@v4
      - name: Install
        run: npm ci
  security:
    needs: setup
    steps:
      - run: npm audit
  test:
    needs: [security]
    steps:
      - run: npm test
  lint:
    needs: [security]
    steps:
      - run: npm run lint
  build:
    needs: [test, lint]
    steps:
      - id: dist
        run: npm run build
  docker:
    needs: build
    steps:
      - uses: image/build@v1
        with:
          context: .
  update-k8s:
    needs: docker
    if: branch == 'main' && event == 'push'
    steps:
      - run: ./scripts/update-manifests.sh
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	return path
}

func TestLoadValidPipeline(t *testing.T) {
	p, err := Load(writePipeline(t, validPipeline))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if p.Name != "ci" {
		t.Errorf("name: got %q, want ci", p.Name)
	}

	wantOrder := []string{"setup", "security", "test", "lint", "build", "docker", "update-k8s"}
	if len(p.Jobs.Order) != len(wantOrder) {
		t.Fatalf("job count: got %d, want %d", len(p.Jobs.Order), len(wantOrder))
	}
	for i, id := range wantOrder {
		if p.Jobs.Order[i] != id {
			t.Errorf("declaration order[%d]: got %q, want %q", i, p.Jobs.Order[i], id)
		}
	}

	// Scalar and sequence needs both decode.
	if got := p.Jobs.Jobs["security"].Needs; len(got) != 1 || got[0] != "setup" {
		t.Errorf("scalar needs: got %v", got)
	}
	if got := p.Jobs.Jobs["build"].Needs; len(got) != 2 {
		t.Errorf("sequence needs: got %v", got)
	}

	// The guard is compiled at load time.
	if p.Jobs.Jobs["update-k8s"].Guard == nil {
		t.Error("expected compiled guard on update-k8s")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assertCode(t, err, gerrors.ErrCodeDefNotFound)
}

func assertCode(t *testing.T, err error, code gerrors.ErrorCode) {
	t.Helper()
	var gerr *gerrors.GantryError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GantryError, got %v", err)
	}
	if gerr.Code != code {
		t.Fatalf("expected %s, got %s (%v)", code, gerr.Code, err)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code gerrors.ErrorCode
	}{
		{
			name: "no jobs",
			yaml: "name: empty\non: {push: {}}\njobs: {}\n",
			code: gerrors.ErrCodeDefNoJobs,
		},
		{
			name: "no triggers",
			yaml: "name: untriggered\njobs:\n  a:\n    steps:\n      - run: true\n",
			code: gerrors.ErrCodeDefNoTriggers,
		},
		{
			name: "dangling needs",
			yaml: "on: {push: {}}\njobs:\n  a:\n    needs: ghost\n    steps:\n      - run: true\n",
			code: gerrors.ErrCodeDefUnknownNeeds,
		},
		{
			name: "cycle",
			yaml: "on: {push: {}}\njobs:\n  a:\n    needs: b\n    steps:\n      - run: true\n  b:\n    needs: a\n    steps:\n      - run: true\n",
			code: gerrors.ErrCodeDefCycle,
		},
		{
			name: "step with uses and run",
			yaml: "on: {push: {}}\njobs:\n  a:\n    steps:\n      - uses: checkout@v4\n        run: echo hi\n",
			code: gerrors.ErrCodeDefBadStep,
		},
		{
			name: "step with neither uses nor run",
			yaml: "on: {push: {}}\njobs:\n  a:\n    steps:\n      - name: nothing\n",
			code: gerrors.ErrCodeDefBadStep,
		},
		{
			name: "job without steps",
			yaml: "on: {push: {}}\njobs:\n  a: {}\n",
			code: gerrors.ErrCodeDefBadStep,
		},
		{
			name: "malformed guard",
			yaml: "on: {push: {}}\njobs:\n  a:\n    if: \"branch = 'main'\"\n    steps:\n      - run: true\n",
			code: gerrors.ErrCodeDefBadGuard,
		},
		{
			name: "malformed cron",
			yaml: "on:\n  schedule:\n    - cron: \"not cron\"\njobs:\n  a:\n    steps:\n      - run: true\n",
			code: gerrors.ErrCodeDefBadCron,
		},
		{
			name: "not yaml",
			yaml: "jobs: [unclosed",
			code: gerrors.ErrCodeDefUnmarshal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assertCode(t, err, tt.code)
		})
	}
}

func TestTriggerMatching(t *testing.T) {
	p, err := Parse([]byte(validPipeline))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		event  string
		branch string
		want   bool
	}{
		{"push", "main", true},
		{"push", "release/1.2", true},
		{"push", "feature/x", false},
		{"pull_request", "main", true},
		{"pull_request", "develop", false},
		{"schedule", "", true},
		{"workflow_dispatch", "main", false},
	}

	for _, tt := range tests {
		if got := p.On.Matches(tt.event, tt.branch); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.event, tt.branch, got, tt.want)
		}
	}
}

func TestPathsIgnoreFilter(t *testing.T) {
	p, err := Parse([]byte(validPipeline))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		name    string
		changed []string
		want    bool
	}{
		{"all changes ignored", []string{"docs/readme.md", "docs/guide/setup.md"}, false},
		{"one change outside ignore", []string{"docs/readme.md", "main.go"}, true},
		{"no path information", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.On.Matches("push", "main", tt.changed...); got != tt.want {
				t.Errorf("Matches with changed %v = %v, want %v", tt.changed, got, tt.want)
			}
		})
	}
}

func TestTriggerWithoutBranchFilterMatchesAll(t *testing.T) {
	p, err := Parse([]byte("on: {push: {}}\njobs:\n  a:\n    steps:\n      - run: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.On.Matches("push", "anything") {
		t.Error("push trigger without branch filter should match any branch")
	}
}
