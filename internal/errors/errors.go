package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Definition errors (DEF-001 to DEF-099): the pipeline file was
	// rejected before any job ran.
	ErrCodeDefNotFound      ErrorCode = "DEF-001"
	ErrCodeDefUnmarshal     ErrorCode = "DEF-002"
	ErrCodeDefCycle         ErrorCode = "DEF-003"
	ErrCodeDefUnknownNeeds  ErrorCode = "DEF-004"
	ErrCodeDefDuplicateJob  ErrorCode = "DEF-005"
	ErrCodeDefBadStep       ErrorCode = "DEF-006"
	ErrCodeDefBadGuard      ErrorCode = "DEF-007"
	ErrCodeDefBadCron       ErrorCode = "DEF-008"
	ErrCodeDefNoJobs        ErrorCode = "DEF-009"
	ErrCodeDefNoTriggers    ErrorCode = "DEF-010"

	// Step errors (STEP-001 to STEP-099)
	ErrCodeStepFailed        ErrorCode = "STEP-001"
	ErrCodeStepUnknownAction ErrorCode = "STEP-002"
	ErrCodeStepTimeout       ErrorCode = "STEP-003"

	// Cache errors (CACHE-001 to CACHE-099). A plain lookup miss is
	// control flow, not an error, and has no code here.
	ErrCodeCacheCorrupt ErrorCode = "CACHE-001"
	ErrCodeCacheIO      ErrorCode = "CACHE-002"

	// Artifact errors (ART-001 to ART-099)
	ErrCodeArtifactNotFound  ErrorCode = "ART-001"
	ErrCodeArtifactDuplicate ErrorCode = "ART-002"
	ErrCodeArtifactChecksum  ErrorCode = "ART-003"
	ErrCodeArtifactIO        ErrorCode = "ART-004"

	// Image lifecycle errors (IMG-001 to IMG-099)
	ErrCodeImageBadRef        ErrorCode = "IMG-001"
	ErrCodeImageBadTransition ErrorCode = "IMG-002"

	// Run lifecycle errors (RUN-001 to RUN-099)
	ErrCodeRunCancelled ErrorCode = "RUN-001"
	ErrCodeRunJournal   ErrorCode = "RUN-002"
	ErrCodeRunFailed    ErrorCode = "RUN-003"
)

// IsDefinition reports whether the code belongs to the definition-error
// family, which is surfaced before any job state exists.
func (c ErrorCode) IsDefinition() bool {
	return strings.HasPrefix(string(c), "DEF-")
}

// GantryError represents an enhanced error with code, suggestions, and
// documentation pointer
type GantryError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *GantryError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *GantryError) Unwrap() error {
	return e.Cause
}

// New creates a new GantryError
func New(code ErrorCode, message string) *GantryError {
	return &GantryError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new GantryError with a formatted message
func Newf(code ErrorCode, format string, args ...any) *GantryError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new GantryError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *GantryError {
	return &GantryError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *GantryError) WithSuggestion(suggestion string) *GantryError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// Common error constructors

// NewCycleError reports a dependency cycle through the named job.
func NewCycleError(path []string) *GantryError {
	return Newf(ErrCodeDefCycle, "dependency cycle detected: %s", strings.Join(path, " -> ")).
		WithSuggestion("Remove one of the needs entries participating in the cycle")
}

// NewUnknownNeedsError reports a needs reference to a job that does not exist.
func NewUnknownNeedsError(job, needs string) *GantryError {
	return Newf(ErrCodeDefUnknownNeeds, "job %q needs unknown job %q", job, needs).
		WithSuggestion("Check the job id spelling in the needs list")
}

// NewBadGuardError reports a guard expression that failed to parse.
func NewBadGuardError(job string, cause error) *GantryError {
	return Wrap(ErrCodeDefBadGuard, fmt.Sprintf("job %q has a malformed if expression", job), cause).
		WithSuggestion("Guard expressions support ==, !=, !, && and || over context references")
}

// NewArtifactNotFoundError reports a fetch of an artifact that was never published.
func NewArtifactNotFoundError(name, runID string) *GantryError {
	return Newf(ErrCodeArtifactNotFound, "artifact %q not found for run %s", name, runID).
		WithSuggestion("Make sure the producing job ran before this one via a needs edge")
}

// NewDuplicatePublishError reports a second publish of the same artifact in one run.
func NewDuplicatePublishError(name, runID string) *GantryError {
	return Newf(ErrCodeArtifactDuplicate, "artifact %q already published for run %s", name, runID).
		WithSuggestion("Artifacts are immutable once published; use a different artifact name")
}

// NewCancelledError reports cooperative run cancellation.
func NewCancelledError(runID string) *GantryError {
	return Newf(ErrCodeRunCancelled, "run %s cancelled", runID)
}
