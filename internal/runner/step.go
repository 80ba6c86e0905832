package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/pipeline"
)

// outputFileEnv names the file a command step writes key=value lines
// to for declaring outputs, in the spirit of GITHUB_OUTPUT.
const outputFileEnv = "GANTRY_OUTPUT"

// executeStep runs one step and returns its captured result plus any
// outputs it declared. Cache and artifact writes inside actions happen
// only when the action succeeds, so a failed step leaves the stores
// untouched.
func (r *Runner) executeStep(ctx context.Context, step pipeline.Step, jobEnv map[string]string, env *Env) (StepResult, map[string]string) {
	if step.Uses != "" {
		return r.executeAction(ctx, step, env)
	}
	return r.executeCommand(ctx, step, jobEnv, env)
}

// executeCommand runs a shell command step with captured output.
func (r *Runner) executeCommand(ctx context.Context, step pipeline.Step, jobEnv map[string]string, env *Env) (StepResult, map[string]string) {
	start := time.Now()
	result := StepResult{Label: step.Label()}

	if env.DryRun {
		r.log.Info("dry-run: would execute command", "step", step.Label(), "run", step.Run)
		result.Duration = time.Since(start)
		return result, nil
	}

	outputFile, err := os.CreateTemp("", "gantry-output-*")
	if err != nil {
		result.ExitCode = 1
		result.Err = fmt.Errorf("create output file: %w", err)
		return result, nil
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Run)
	cmd.Dir = env.Workdir

	cmd.Env = os.Environ()
	for k, v := range env.merged(jobEnv, step.Env) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%s", outputFileEnv, outputPath),
		fmt.Sprintf("GANTRY_RUN_ID=%s", env.RunID),
		fmt.Sprintf("GANTRY_EVENT=%s", env.Event),
		fmt.Sprintf("GANTRY_BRANCH=%s", env.Branch),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = env.redact(stdout.String())
	result.Stderr = env.redact(stderr.String())

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
		result.Err = err
		return result, nil
	}

	outputs := parseOutputFile(outputPath)
	if len(outputs) > 0 && step.ID == "" {
		// Only steps with an id export outputs; anonymous steps cannot
		// be addressed from downstream guards.
		r.log.Debug("dropping outputs of step without id", "step", step.Label())
		outputs = nil
	}
	return result, outputs
}

// parseOutputFile reads key=value lines a step declared as outputs.
// Malformed lines are ignored.
func parseOutputFile(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}

	outputs := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		outputs[key] = value
	}
	if len(outputs) == 0 {
		return nil
	}
	return outputs
}

// resolvePath anchors a step-relative path inside the run workdir.
func resolvePath(workdir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workdir, path)
}
