package driven

import (
	"context"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// ConfigStore provides access to runtime configuration.
// Implementations handle persistence (e.g., TOML files) and decoding.
type ConfigStore interface {
	// Load reads and validates the configuration, including field mappings
	// from the mappings file when one is configured.
	Load() (*domain.Config, error)

	// Path returns the configuration file path.
	Path() string
}

// MappingSource supplies the field mapping set and reports when it changes.
type MappingSource interface {
	// LoadMappings reads the current mapping set.
	LoadMappings() ([]domain.FieldMapping, error)

	// Watch signals on the returned channel whenever the mapping source
	// changes. The channel closes when ctx ends.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
