package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// ConfigFile is the configuration file name inside the config directory.
const ConfigFile = "bisync.toml"

// Environment variables that supply store secrets.
const (
	EnvShopifyToken = "BISYNC_SHOPIFY_TOKEN"
	EnvGristAPIKey  = "BISYNC_GRIST_API_KEY"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore is a file-based implementation of driven.ConfigStore using TOML.
type ConfigStore struct {
	mu       sync.RWMutex
	filePath string
	getenv   func(string) string

	// set by Load
	inline       []domain.FieldMapping
	mappingsFile string
	loaded       bool
}

// NewConfigStore creates a TOML config store reading path.
// If path is empty, defaults to ~/.bisync/bisync.toml.
func NewConfigStore(path string) (*ConfigStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".bisync", ConfigFile)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	return &ConfigStore{filePath: abs, getenv: os.Getenv}, nil
}

// Load reads the TOML file over the defaults, fills secrets from the
// environment, merges the mappings file and validates the result.
func (s *ConfigStore) Load() (*domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file %s", domain.ErrNotFound, s.filePath)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := domain.DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing %s at line %d column %d: %w", s.filePath, row, col, err)
		}
		return nil, fmt.Errorf("parsing %s: %w", s.filePath, err)
	}

	s.applyEnv(&cfg)
	cfg.State.Dir = s.resolve(cfg.State.Dir)
	if cfg.State.Dir == "" {
		cfg.State.Dir = filepath.Dir(s.filePath)
	}

	inline := append([]domain.FieldMapping(nil), cfg.FieldMappings...)
	if cfg.Sync.MappingsFile != "" {
		cfg.Sync.MappingsFile = s.resolve(cfg.Sync.MappingsFile)
		fileMappings, err := ReadMappings(cfg.Sync.MappingsFile)
		if err != nil {
			return nil, err
		}
		cfg.FieldMappings = append(cfg.FieldMappings, fileMappings...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", s.filePath, err)
	}

	s.inline = inline
	s.mappingsFile = cfg.Sync.MappingsFile
	s.loaded = true
	return &cfg, nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// MappingSource returns a source for the mappings of the last loaded
// configuration. Inline mappings stay fixed; the mappings file is re-read
// on every call and watched for changes.
func (s *ConfigStore) MappingSource() (*MappingFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, fmt.Errorf("%w: configuration not loaded", domain.ErrInvalidInput)
	}
	return NewMappingFile(s.mappingsFile, s.inline), nil
}

// applyEnv fills missing store secrets from the environment.
func (s *ConfigStore) applyEnv(cfg *domain.Config) {
	for _, sc := range []*domain.StoreConfig{&cfg.Stores.Source, &cfg.Stores.Target} {
		var key, env string
		switch sc.Type {
		case "shopify":
			key, env = "token", EnvShopifyToken
		case "grist":
			key, env = "api_key", EnvGristAPIKey
		default:
			continue
		}
		v := s.getenv(env)
		if v == "" {
			continue
		}
		if sc.Settings == nil {
			sc.Settings = make(map[string]string)
		}
		if sc.Settings[key] == "" {
			sc.Settings[key] = v
		}
	}
}

// resolve makes p relative to the config file's directory.
func (s *ConfigStore) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(s.filePath), p)
}
