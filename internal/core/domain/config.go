package domain

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects single-pass or looping operation.
type Mode string

const (
	ModeOnce       Mode = "once"
	ModeContinuous Mode = "continuous"
)

// Priority is the conflict resolution policy for fields changed on both sides.
type Priority string

const (
	PrioritySourceWins     Priority = "source_wins"
	PriorityTargetWins     Priority = "target_wins"
	PriorityMostRecentWins Priority = "most_recent_wins"
	PriorityManual         Priority = "manual"
)

// ParsePriority accepts both the short ("source") and long ("source_wins") forms.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "source", string(PrioritySourceWins):
		return PrioritySourceWins, nil
	case "target", string(PriorityTargetWins):
		return PriorityTargetWins, nil
	case "most_recent", string(PriorityMostRecentWins):
		return PriorityMostRecentWins, nil
	case string(PriorityManual):
		return PriorityManual, nil
	}
	return "", fmt.Errorf("%w: conflict priority %q", ErrInvalidInput, s)
}

// IsStatic reports whether the priority picks a side without extra information.
func (p Priority) IsStatic() bool {
	return p == PrioritySourceWins || p == PriorityTargetWins
}

// DeletePropagation decides what happens to the survivor of a vanished link.
type DeletePropagation string

const (
	DeleteIgnore  DeletePropagation = "ignore"
	DeleteMirror  DeletePropagation = "mirror"
	DeleteArchive DeletePropagation = "archive"
)

// Duration is a time.Duration that decodes from strings like "750ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SyncConfig holds pass and scheduling settings.
type SyncConfig struct {
	Mode              Mode              `toml:"mode"`
	IntervalMinutes   int               `toml:"interval_minutes"`
	ConflictPriority  string            `toml:"conflict_priority"`
	ConflictFallback  string            `toml:"conflict_fallback"`
	Resources         []string          `toml:"resources"`
	DeletePropagation DeletePropagation `toml:"delete_propagation"`
	BatchSize         int               `toml:"batch_size"`
	Workers           int               `toml:"workers"`
	MaxRetries        int               `toml:"max_retries"`
	BaseBackoff       Duration          `toml:"base_backoff"`
	MaxBackoff        Duration          `toml:"max_backoff"`
	CallTimeout       Duration          `toml:"call_timeout"`
	LockWait          Duration          `toml:"lock_wait"`
	PruneOrphans      bool              `toml:"prune_orphans"`
	MappingsFile      string            `toml:"mappings_file"`

	// Fields restricts the canonical fields synced this run; empty means all.
	Fields []string `toml:"fields"`
}

// StoreConfig selects and configures one store adapter.
type StoreConfig struct {
	Type     string            `toml:"type"`
	Name     string            `toml:"name"`
	Settings map[string]string `toml:"settings"`
}

// StoresConfig holds both sides.
type StoresConfig struct {
	Source StoreConfig `toml:"source"`
	Target StoreConfig `toml:"target"`
}

// Store returns the configuration for a side.
func (s StoresConfig) Store(side Side) StoreConfig {
	if side == SideSource {
		return s.Source
	}
	return s.Target
}

// StateConfig locates durable state.
type StateConfig struct {
	// Dir holds the state database and lock file.
	Dir string `toml:"dir"`
}

// Config is the full runtime configuration.
type Config struct {
	Sync          SyncConfig        `toml:"sync"`
	LinkKeys      map[string]string `toml:"link_keys"`
	RateLimits    map[string]int    `toml:"rate_limits"`
	Stores        StoresConfig      `toml:"stores"`
	State         StateConfig       `toml:"state"`
	FieldMappings []FieldMapping    `toml:"field_mappings"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Sync: SyncConfig{
			Mode:              ModeOnce,
			IntervalMinutes:   15,
			ConflictPriority:  "source",
			ConflictFallback:  "source",
			Resources:         []string{string(EntityProduct)},
			DeletePropagation: DeleteIgnore,
			BatchSize:         50,
			Workers:           2,
			MaxRetries:        5,
			BaseBackoff:       Duration(500 * time.Millisecond),
			MaxBackoff:        Duration(30 * time.Second),
			CallTimeout:       Duration(30 * time.Second),
			LockWait:          Duration(0),
		},
		LinkKeys:   map[string]string{string(EntityProduct): "sku"},
		RateLimits: map[string]int{},
	}
}

// Priority returns the parsed conflict priority.
func (c *Config) Priority() Priority {
	p, err := ParsePriority(c.Sync.ConflictPriority)
	if err != nil {
		return PrioritySourceWins
	}
	return p
}

// Fallback returns the static priority used when the primary policy cannot decide.
func (c *Config) Fallback() Priority {
	p, err := ParsePriority(c.Sync.ConflictFallback)
	if err != nil || !p.IsStatic() {
		return PrioritySourceWins
	}
	return p
}

// Entities returns the parsed resource set.
func (c *Config) Entities() []EntityType {
	out := make([]EntityType, 0, len(c.Sync.Resources))
	for _, r := range c.Sync.Resources {
		if e, err := ParseEntityType(r); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Interval returns the pause between continuous passes.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Sync.Mode {
	case ModeOnce, ModeContinuous:
	default:
		errs = append(errs, fmt.Errorf("sync.mode must be once or continuous, got %q", c.Sync.Mode))
	}
	if c.Sync.Mode == ModeContinuous && c.Sync.IntervalMinutes <= 0 {
		errs = append(errs, errors.New("sync.interval_minutes must be positive in continuous mode"))
	}
	if _, err := ParsePriority(c.Sync.ConflictPriority); err != nil {
		errs = append(errs, err)
	}
	if p, err := ParsePriority(c.Sync.ConflictFallback); err != nil || !p.IsStatic() {
		errs = append(errs, fmt.Errorf("sync.conflict_fallback must be source or target, got %q", c.Sync.ConflictFallback))
	}
	switch c.Sync.DeletePropagation {
	case DeleteIgnore, DeleteMirror, DeleteArchive:
	default:
		errs = append(errs, fmt.Errorf("sync.delete_propagation must be ignore, mirror or archive, got %q", c.Sync.DeletePropagation))
	}
	if len(c.Sync.Resources) == 0 {
		errs = append(errs, errors.New("sync.resources must list at least one entity"))
	}
	for _, r := range c.Sync.Resources {
		if _, err := ParseEntityType(r); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, errors.New("sync.workers must be positive"))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.max_retries must not be negative"))
	}
	for store, cpm := range c.RateLimits {
		if cpm <= 0 {
			errs = append(errs, fmt.Errorf("rate_limits.%s must be positive", store))
		}
	}
	for _, side := range Sides() {
		if c.Stores.Store(side).Type == "" {
			errs = append(errs, fmt.Errorf("stores.%s.type is required", side))
		}
	}

	return errors.Join(errs...)
}
