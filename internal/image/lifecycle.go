// Package image models the container image lifecycle of a pipeline's
// containerize phase as an explicit Built -> Scanned -> Pushed state
// machine. Keeping scan as a mandatory intermediate state guarantees
// the image that gets pushed is exactly the image that was scanned;
// the push phase reuses the built digest and never rebuilds.
package image

import (
	"sync"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/gantryci/gantry/internal/errors"
)

// Phase is the lifecycle state of an image within a run
type Phase int

const (
	// PhasePending means nothing has been built yet
	PhasePending Phase = iota
	// PhaseBuilt means the image exists locally with a known digest
	PhaseBuilt
	// PhaseScanned means the built digest passed the vulnerability scan
	PhaseScanned
	// PhasePushed means the scanned digest was pushed to the registry
	PhasePushed
)

// String returns the lowercase phase name
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseBuilt:
		return "built"
	case PhaseScanned:
		return "scanned"
	case PhasePushed:
		return "pushed"
	default:
		return "unknown"
	}
}

// Lifecycle tracks one image through build, scan and push
type Lifecycle struct {
	mu     sync.Mutex
	ref    name.Reference
	digest string
	phase  Phase
}

// NewLifecycle validates the image reference and returns a lifecycle in
// the pending phase. An unparseable reference is a hard failure.
func NewLifecycle(ref string) (*Lifecycle, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeImageBadRef, "invalid image reference", err).
			WithSuggestion("Use the registry/repository:tag form, e.g. ghcr.io/acme/app:v1")
	}
	return &Lifecycle{ref: parsed}, nil
}

// Ref returns the validated image reference
func (l *Lifecycle) Ref() string {
	return l.ref.Name()
}

// Phase returns the current lifecycle phase
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Digest returns the built image digest, empty until Build succeeds
func (l *Lifecycle) Digest() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.digest
}

// Build records a completed build with its digest
func (l *Lifecycle) Build(digest string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhasePending {
		return l.badTransition("build")
	}
	l.digest = digest
	l.phase = PhaseBuilt
	return nil
}

// Scan marks the built digest as scanned. Scanning is only valid
// directly after build so no unscanned rebuild can sneak in between.
func (l *Lifecycle) Scan() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseBuilt {
		return l.badTransition("scan")
	}
	l.phase = PhaseScanned
	return nil
}

// Push completes the lifecycle and returns the digest that was pushed,
// which is by construction the digest that was scanned.
func (l *Lifecycle) Push() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseScanned {
		return "", l.badTransition("push")
	}
	l.phase = PhasePushed
	return l.digest, nil
}

// badTransition builds the error for an operation invalid in the
// current phase. Callers hold the lock.
func (l *Lifecycle) badTransition(op string) error {
	return errors.Newf(errors.ErrCodeImageBadTransition,
		"cannot %s image %s in phase %s", op, l.ref.Name(), l.phase)
}
