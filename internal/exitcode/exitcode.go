package exitcode

import (
	stderrors "errors"
	"os"

	"github.com/gantryci/gantry/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates all non-skipped jobs succeeded
	Success = 0

	// RunFailure indicates at least one job failed
	RunFailure = 1

	// DefinitionError indicates the pipeline file was rejected before
	// any job ran (cycle, dangling needs reference, malformed guard)
	DefinitionError = 2

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var gerr *errors.GantryError
	if stderrors.As(err, &gerr) {
		if gerr.Code.IsDefinition() {
			return DefinitionError
		}
		if gerr.Code == errors.ErrCodeRunCancelled {
			return Interrupted
		}
	}

	return RunFailure
}
