package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/internal/artifact"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/graph"
	"github.com/gantryci/gantry/internal/image"
	"github.com/gantryci/gantry/internal/pipeline"
)

func testEnv(t *testing.T) *Env {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	registry, err := artifact.NewRegistry(t.TempDir())
	require.NoError(t, err)

	return &Env{
		RunID:     "run-test",
		Event:     "push",
		Branch:    "main",
		Workdir:   t.TempDir(),
		Vars:      map[string]string{"NODE_ENV": "test"},
		Secrets:   map[string]string{"NPM_TOKEN": "s3cr3t-value"},
		Cache:     store,
		Artifacts: registry,
		Images:    image.NewTracker(),
	}
}

func run(t *testing.T, job *pipeline.Job, env *Env) *JobResult {
	t.Helper()
	return New(nil).Run(context.Background(), "job", job, env)
}

func TestStepsRunInOrder(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: "echo first > order.txt"},
		{Run: "echo second >> order.txt"},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)

	data, err := os.ReadFile(filepath.Join(env.Workdir, "order.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestFirstFailureHaltsJob(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: "true"},
		{Run: "exit 3"},
		{Run: "touch should-not-exist"},
	}}

	result := run(t, job, env)
	assert.Equal(t, graph.StatusFailed, result.Status)
	require.Len(t, result.Steps, 2, "third step must not run")
	assert.Equal(t, 3, result.Steps[1].ExitCode)

	_, err := os.Stat(filepath.Join(env.Workdir, "should-not-exist"))
	assert.True(t, os.IsNotExist(err))
}

func TestOutputCapture(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: "echo to stdout; echo to stderr >&2"},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "to stdout\n", result.Steps[0].Stdout)
	assert.Equal(t, "to stderr\n", result.Steps[0].Stderr)
}

func TestSecretsInjectedButRedacted(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: `echo "token is $NPM_TOKEN"`},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.NotContains(t, result.Steps[0].Stdout, "s3cr3t-value")
	assert.Contains(t, result.Steps[0].Stdout, "***")
}

func TestStepOutputs(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{ID: "tag", Run: `echo "image_tag=v1.2.3" >> "$GANTRY_OUTPUT"`},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "v1.2.3", result.Outputs["image_tag"])
}

func TestStepWithoutIDExportsNoOutputs(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: `echo "image_tag=v1.2.3" >> "$GANTRY_OUTPUT"`},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Empty(t, result.Outputs)
}

func TestEnvLayering(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{
		Env: map[string]string{"NODE_ENV": "job-level"},
		Steps: []pipeline.Step{
			{Run: `echo "$NODE_ENV"`, Env: map[string]string{"NODE_ENV": "step-level"}},
			{Run: `echo "$NODE_ENV"`},
		},
	}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "step-level\n", result.Steps[0].Stdout)
	assert.Equal(t, "job-level\n", result.Steps[1].Stdout)
}

func TestCancellationBetweenSteps(t *testing.T) {
	env := testEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &pipeline.Job{Steps: []pipeline.Step{{Run: "true"}}}
	result := New(nil).Run(ctx, "job", job, env)
	assert.Equal(t, graph.StatusCancelled, result.Status)
	assert.Empty(t, result.Steps)
}

func TestGenerousTimeoutPassesUntouched(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{
		TimeoutMinutes: 1,
		Steps:          []pipeline.Step{{Run: "true"}},
	}
	// A generous timeout passes untouched.
	result := run(t, job, env)
	assert.Equal(t, graph.StatusSucceeded, result.Status)
}

func TestUnknownActionFailsJob(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "mystery/action@v9"},
	}}

	result := run(t, job, env)
	assert.Equal(t, graph.StatusFailed, result.Status)
}

func TestCacheRoundTripThroughActions(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.Workdir, "deps.tar"), []byte("modules"), 0644))

	save := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "cache/save@v1", With: map[string]string{"key": "npm-hashA", "path": "deps.tar"}},
	}}
	require.Equal(t, graph.StatusSucceeded, run(t, save, env).Status)

	restore := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "cache/restore@v1", With: map[string]string{"key": "npm-hashA", "path": "restored.tar"}},
	}}
	result := run(t, restore, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "true", result.Outputs["cache-hit"])

	data, err := os.ReadFile(filepath.Join(env.Workdir, "restored.tar"))
	require.NoError(t, err)
	assert.Equal(t, []byte("modules"), data)
}

func TestCacheRestoreFallback(t *testing.T) {
	env := testEnv(t)
	_, err := env.Cache.Put("npm-hashB", []byte("older modules"))
	require.NoError(t, err)

	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "cache/restore@v1", With: map[string]string{
			"key":          "npm-hashA",
			"restore-keys": "npm-",
			"path":         "deps.tar",
		}},
	}}

	// The job proceeds on the fallback hit without failing.
	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "false", result.Outputs["cache-hit"])
	assert.Equal(t, "npm-hashB", result.Outputs["matched-key"])
}

func TestCacheMissIsNotAFailure(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "cache/restore@v1", With: map[string]string{"key": "npm-hashA", "path": "deps.tar"}},
		{Run: "echo fallback install"},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.Equal(t, "false", result.Outputs["cache-hit"])
	require.Len(t, result.Steps, 2)
}

func TestArtifactHandoffThroughActions(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.Workdir, "dist.tar"), []byte("bundle"), 0644))

	upload := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "artifact/upload@v1", With: map[string]string{"name": "dist", "path": "dist.tar"}},
	}}
	require.Equal(t, graph.StatusSucceeded, run(t, upload, env).Status)

	download := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "artifact/download@v1", With: map[string]string{"name": "dist", "path": "fetched.tar"}},
	}}
	require.Equal(t, graph.StatusSucceeded, run(t, download, env).Status)

	data, err := os.ReadFile(filepath.Join(env.Workdir, "fetched.tar"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle"), data)
}

func TestMissingArtifactIsFatal(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "artifact/download@v1", With: map[string]string{"name": "ghost", "path": "out"}},
	}}

	result := run(t, job, env)
	assert.Equal(t, graph.StatusFailed, result.Status)
}

func TestImageBuildScanPushSequence(t *testing.T) {
	env := testEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.Workdir, "Dockerfile"), []byte("FROM scratch"), 0644))

	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "image/build@v1", With: map[string]string{"ref": "ghcr.io/acme/app:v1", "context": "."}},
		{Uses: "image/scan@v1", With: map[string]string{"ref": "ghcr.io/acme/app:v1"}},
		{Uses: "image/push@v1", With: map[string]string{"ref": "ghcr.io/acme/app:v1"}},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.NotEmpty(t, result.Outputs["digest"])
}

func TestImagePushWithoutScanFails(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{
		{Uses: "image/build@v1", With: map[string]string{"ref": "ghcr.io/acme/app:v1", "digest": "sha256:abc"}},
		{Uses: "image/push@v1", With: map[string]string{"ref": "ghcr.io/acme/app:v1"}},
	}}

	result := run(t, job, env)
	assert.Equal(t, graph.StatusFailed, result.Status)
}

func TestDryRunExecutesNothing(t *testing.T) {
	env := testEnv(t)
	env.DryRun = true

	job := &pipeline.Job{Steps: []pipeline.Step{
		{Run: "touch real-side-effect"},
		{Uses: "artifact/upload@v1", With: map[string]string{"name": "dist", "path": "missing"}},
	}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)

	_, err := os.Stat(filepath.Join(env.Workdir, "real-side-effect"))
	assert.True(t, os.IsNotExist(err))
}

func TestStepDurationRecorded(t *testing.T) {
	env := testEnv(t)
	job := &pipeline.Job{Steps: []pipeline.Step{{Run: "sleep 0.05"}}}

	result := run(t, job, env)
	require.Equal(t, graph.StatusSucceeded, result.Status)
	assert.GreaterOrEqual(t, result.Steps[0].Duration, 50*time.Millisecond)
}
