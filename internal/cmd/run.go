package cmd

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gantryci/gantry/internal/artifact"
	"github.com/gantryci/gantry/internal/cache"
	"github.com/gantryci/gantry/internal/errors"
	"github.com/gantryci/gantry/internal/image"
	"github.com/gantryci/gantry/internal/journal"
	"github.com/gantryci/gantry/internal/pipeline"
	"github.com/gantryci/gantry/internal/report"
	"github.com/gantryci/gantry/internal/runner"
	"github.com/gantryci/gantry/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline",
	Long: `Run executes the pipeline for a given event and branch. Jobs whose
dependencies all succeeded are dispatched in parallel up to the
concurrency limit; guard conditions are evaluated just before
dispatch. The run's state transitions are appended to a journal file
under the state directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runFile        string
	runEvent       string
	runBranch      string
	runConcurrency int
	runDryRun      bool
	runWorkdir     string
	runStateDir    string
	runSecretsFile string
	runChanged     []string
)

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", ".gantry.yml", "pipeline definition file")
	runCmd.Flags().StringVar(&runEvent, "event", "push", "triggering event (push, pull_request, schedule)")
	runCmd.Flags().StringVar(&runBranch, "branch", "main", "branch the event refers to")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", scheduler.DefaultConcurrency, "maximum jobs running in parallel")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "resolve the schedule without executing steps")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "working directory for steps (default: current directory)")
	runCmd.Flags().StringVar(&runStateDir, "state-dir", "", "directory for cache, artifacts and journal (default: <workdir>/.gantry)")
	runCmd.Flags().StringVar(&runSecretsFile, "secrets-file", "", "YAML file of secrets to inject (values are redacted from logs)")
	runCmd.Flags().StringSliceVar(&runChanged, "changed-paths", nil, "paths changed by the event, consulted by paths-ignore filters")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	file := runFile
	if len(args) == 1 {
		file = args[0]
	}
	p, err := pipeline.Load(file)
	if err != nil {
		return err
	}

	if !p.On.Matches(runEvent, runBranch, runChanged...) {
		logger.Info("pipeline does not trigger for this event",
			"pipeline", p.Name, "event", runEvent, "branch", runBranch)
		return nil
	}

	workdir := runWorkdir
	if workdir == "" {
		if workdir, err = os.Getwd(); err != nil {
			return err
		}
	}
	stateDir := runStateDir
	if stateDir == "" {
		stateDir = filepath.Join(workdir, ".gantry")
	}

	cacheStore, err := cache.NewStore(filepath.Join(stateDir, "cache"))
	if err != nil {
		return err
	}
	registry, err := artifact.NewRegistry(filepath.Join(stateDir, "artifacts"))
	if err != nil {
		return err
	}
	secrets, err := loadSecrets(runSecretsFile)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	jw, err := journal.Open(filepath.Join(stateDir, "journal"), runID)
	if err != nil {
		return err
	}
	defer jw.Close()

	env := &runner.Env{
		RunID:     runID,
		Event:     runEvent,
		Branch:    runBranch,
		Workdir:   workdir,
		Vars:      p.Env,
		Secrets:   secrets,
		Cache:     cacheStore,
		Artifacts: registry,
		Images:    image.NewTracker(),
		DryRun:    runDryRun,
	}

	sched, err := scheduler.New(p, runner.New(logger), scheduler.Options{
		Concurrency: runConcurrency,
		Journal:     jw,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting run", "run_id", runID, "pipeline", p.Name,
		"event", runEvent, "branch", runBranch)
	res := sched.Run(cmd.Context(), env)

	report.PrintSummary(os.Stdout, p, res)

	switch res.Conclusion {
	case scheduler.ConclusionFailure:
		return errors.Newf(errors.ErrCodeRunFailed, "run %s failed", runID)
	case scheduler.ConclusionCancelled:
		return errors.NewCancelledError(runID)
	}
	return nil
}

func loadSecrets(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, err
	}
	return secrets, nil
}
