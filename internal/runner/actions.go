package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/errors"
	"github.com/gantryci/gantry/internal/pipeline"
)

// Builtin action names, matched on the part before the @ version tag.
const (
	actionCheckout         = "checkout"
	actionCacheRestore     = "cache/restore"
	actionCacheSave        = "cache/save"
	actionArtifactUpload   = "artifact/upload"
	actionArtifactDownload = "artifact/download"
	actionImageBuild       = "image/build"
	actionImageScan        = "image/scan"
	actionImagePush        = "image/push"
)

// executeAction dispatches a uses: step to its builtin implementation.
// Unknown action names fail the step, and with it the job.
func (r *Runner) executeAction(ctx context.Context, step pipeline.Step, env *Env) (StepResult, map[string]string) {
	start := time.Now()
	result := StepResult{Label: step.Label()}

	name, _, _ := strings.Cut(step.Uses, "@")

	if env.DryRun {
		r.log.Info("dry-run: would invoke action", "step", step.Label(), "action", name)
		result.Duration = time.Since(start)
		return result, nil
	}

	var outputs map[string]string
	var err error
	switch name {
	case actionCheckout:
		// Git plumbing is an external tool responsibility; the builtin
		// only asserts the workspace exists.
		if _, statErr := os.Stat(env.Workdir); statErr != nil {
			err = fmt.Errorf("workspace %s not available: %w", env.Workdir, statErr)
		}
	case actionCacheRestore:
		outputs, err = r.cacheRestore(step.With, env)
	case actionCacheSave:
		err = r.cacheSave(step.With, env)
	case actionArtifactUpload:
		err = r.artifactUpload(step.With, env)
	case actionArtifactDownload:
		err = r.artifactDownload(step.With, env)
	case actionImageBuild:
		outputs, err = r.imageBuild(step.With, env)
	case actionImageScan:
		err = r.imageScan(step.With, env)
	case actionImagePush:
		outputs, err = r.imagePush(step.With, env)
	default:
		err = errors.Newf(errors.ErrCodeStepUnknownAction, "unknown action %q", step.Uses).
			WithSuggestion("Builtin actions: checkout, cache/restore, cache/save, artifact/upload, artifact/download, image/build, image/scan, image/push")
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.ExitCode = 1
		result.Err = err
		result.Stderr = env.redact(err.Error())
		return result, nil
	}
	return result, outputs
}

// cacheRestore implements the restore-then-fallback pattern. A miss is
// not a failure; the step reports cache-hit=false and the job is
// expected to regenerate the payload.
func (r *Runner) cacheRestore(with map[string]string, env *Env) (map[string]string, error) {
	key := with["key"]
	if key == "" {
		return nil, fmt.Errorf("cache/restore requires a key")
	}
	path := with["path"]
	if path == "" {
		return nil, fmt.Errorf("cache/restore requires a path")
	}

	var restoreKeys []string
	for _, line := range strings.Split(with["restore-keys"], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			restoreKeys = append(restoreKeys, line)
		}
	}

	entry, ok := env.Cache.Restore(key, restoreKeys)
	if !ok {
		r.log.Debug("cache miss", "key", key)
		return map[string]string{"cache-hit": "false"}, nil
	}

	payload, err := env.Cache.Read(entry)
	if err != nil {
		return nil, err
	}
	target := resolvePath(env.Workdir, path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, payload, 0644); err != nil {
		return nil, err
	}

	r.log.Debug("cache restored", "key", key, "matched", entry.Key)
	return map[string]string{
		"cache-hit":   fmt.Sprintf("%t", entry.Key == key),
		"matched-key": entry.Key,
	}, nil
}

func (r *Runner) cacheSave(with map[string]string, env *Env) error {
	key := with["key"]
	if key == "" {
		return fmt.Errorf("cache/save requires a key")
	}
	path := with["path"]
	if path == "" {
		return fmt.Errorf("cache/save requires a path")
	}

	payload, err := os.ReadFile(resolvePath(env.Workdir, path))
	if err != nil {
		return fmt.Errorf("read cache payload: %w", err)
	}
	_, err = env.Cache.Put(key, payload)
	return err
}

func (r *Runner) artifactUpload(with map[string]string, env *Env) error {
	name := with["name"]
	if name == "" {
		return fmt.Errorf("artifact/upload requires a name")
	}
	path := with["path"]
	if path == "" {
		return fmt.Errorf("artifact/upload requires a path")
	}

	payload, err := os.ReadFile(resolvePath(env.Workdir, path))
	if err != nil {
		return fmt.Errorf("read artifact payload: %w", err)
	}
	_, err = env.Artifacts.Publish(name, env.RunID, with["job"], payload)
	return err
}

func (r *Runner) artifactDownload(with map[string]string, env *Env) error {
	name := with["name"]
	if name == "" {
		return fmt.Errorf("artifact/download requires a name")
	}
	path := with["path"]
	if path == "" {
		return fmt.Errorf("artifact/download requires a path")
	}

	payload, err := env.Artifacts.Fetch(name, env.RunID)
	if err != nil {
		return err
	}
	target := resolvePath(env.Workdir, path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return os.WriteFile(target, payload, 0644)
}

// imageBuild derives the image digest from the build context contents,
// so the same context always builds the same digest.
func (r *Runner) imageBuild(with map[string]string, env *Env) (map[string]string, error) {
	ref := with["ref"]
	if ref == "" {
		return nil, fmt.Errorf("image/build requires a ref")
	}

	lc, err := env.Images.Get(ref)
	if err != nil {
		return nil, err
	}

	digest := with["digest"]
	if digest == "" {
		contextDir := resolvePath(env.Workdir, with["context"])
		digest, err = digestContext(contextDir)
		if err != nil {
			return nil, err
		}
	}

	if err := lc.Build(digest); err != nil {
		return nil, err
	}
	return map[string]string{"digest": digest}, nil
}

func (r *Runner) imageScan(with map[string]string, env *Env) error {
	ref := with["ref"]
	if ref == "" {
		return fmt.Errorf("image/scan requires a ref")
	}
	lc, err := env.Images.Get(ref)
	if err != nil {
		return err
	}
	return lc.Scan()
}

func (r *Runner) imagePush(with map[string]string, env *Env) (map[string]string, error) {
	ref := with["ref"]
	if ref == "" {
		return nil, fmt.Errorf("image/push requires a ref")
	}
	lc, err := env.Images.Get(ref)
	if err != nil {
		return nil, err
	}
	digest, err := lc.Push()
	if err != nil {
		return nil, err
	}
	return map[string]string{"digest": digest}, nil
}

// digestContext hashes every regular file under dir into a stable
// pseudo-digest for the built image.
func digestContext(dir string) (string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk build context: %w", err)
	}
	sort.Strings(files)

	hash, err := cache.HashFiles(files...)
	if err != nil {
		return "", err
	}
	return "sha256:" + hash[:64], nil
}
