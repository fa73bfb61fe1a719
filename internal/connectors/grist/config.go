package grist

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// DefaultBaseURL is the hosted Grist service.
	DefaultBaseURL = "https://docs.getgrist.com"

	// DefaultBatchSize is the number of records written per call.
	DefaultBatchSize = 100

	// MaxBatchSize bounds batch_size.
	MaxBatchSize = 500

	// DefaultCallsPerMinute keeps well under the per-document API limits.
	DefaultCallsPerMinute = 300
)

// defaultTables names the table holding each entity.
var defaultTables = map[domain.EntityType]string{
	domain.EntityProduct:    "Products",
	domain.EntityVariant:    "Variants",
	domain.EntityOrder:      "Orders",
	domain.EntityCustomer:   "Customers",
	domain.EntityCollection: "Collections",
}

// Config holds the parsed configuration for a Grist document.
type Config struct {
	Name    string
	BaseURL string
	DocID   string
	APIKey  string

	// Tables maps entities to table IDs.
	Tables map[domain.EntityType]string

	// ArchiveColumn is a boolean column set to true on archive.
	// Archiving is unsupported when empty.
	ArchiveColumn string

	// ModifiedColumn is a timestamp column (e.g. a trigger formula on
	// update) read as the record's modification time.
	ModifiedColumn string

	BatchSize      int
	CallsPerMinute int
}

// ParseConfig parses a store's settings map into a Config.
//
// Recognised settings: base_url, doc_id, api_key, table_<entity>,
// archive_column, modified_column, batch_size, calls_per_minute.
func ParseConfig(sc domain.StoreConfig) (*Config, error) {
	s := sc.Settings
	cfg := &Config{
		Name:           sc.Name,
		BaseURL:        strings.TrimRight(s["base_url"], "/"),
		DocID:          strings.TrimSpace(s["doc_id"]),
		APIKey:         s["api_key"],
		Tables:         make(map[domain.EntityType]string, len(defaultTables)),
		ArchiveColumn:  s["archive_column"],
		ModifiedColumn: s["modified_column"],
		BatchSize:      DefaultBatchSize,
		CallsPerMinute: DefaultCallsPerMinute,
	}
	if cfg.Name == "" {
		cfg.Name = "grist"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DocID == "" {
		return nil, fmt.Errorf("%w: grist doc_id is required", domain.ErrInvalidInput)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: grist api_key is required (settings.api_key or BISYNC_GRIST_API_KEY)", domain.ErrInvalidInput)
	}

	for entity, table := range defaultTables {
		if v := strings.TrimSpace(s["table_"+string(entity)]); v != "" {
			table = v
		}
		cfg.Tables[entity] = table
	}

	if v := s["batch_size"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxBatchSize {
			return nil, fmt.Errorf("%w: grist batch_size must be 1-%d, got %q", domain.ErrInvalidInput, MaxBatchSize, v)
		}
		cfg.BatchSize = n
	}
	if v := s["calls_per_minute"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: grist calls_per_minute must be positive, got %q", domain.ErrInvalidInput, v)
		}
		cfg.CallsPerMinute = n
	}

	return cfg, nil
}

// table returns the table ID for an entity.
func (c *Config) table(entity domain.EntityType) (string, error) {
	t, ok := c.Tables[entity]
	if !ok {
		return "", domain.ErrUnsupportedType
	}
	return t, nil
}
