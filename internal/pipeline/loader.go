package pipeline

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gantryci/gantry/internal/errors"
)

// Repository defines the interface for loading pipeline definitions.
// This interface enables dependency injection and makes testing easier.
type Repository interface {
	// Load reads and validates a pipeline definition from a file
	Load(path string) (*Pipeline, error)
}

// FileRepository implements Repository for file-based definitions
type FileRepository struct{}

// NewFileRepository creates a new file-based pipeline repository
func NewFileRepository() *FileRepository {
	return &FileRepository{}
}

// Load reads a pipeline from a YAML file and runs static validation.
// Any failure here is a definition error: the pipeline is rejected
// before a single job runs.
func (r *FileRepository) Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDefNotFound, "read pipeline file", err).
			WithSuggestion("Check that the pipeline path is correct")
	}

	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Parse decodes and validates a pipeline definition from raw YAML.
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDefUnmarshal, "unmarshal pipeline", err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Default instance for package-level functions
var defaultRepository = NewFileRepository()

// Load reads a pipeline definition using the default repository.
func Load(path string) (*Pipeline, error) {
	return defaultRepository.Load(path)
}

// Compile-time verification that FileRepository implements Repository
var _ Repository = (*FileRepository)(nil)
