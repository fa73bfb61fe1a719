package sheets

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// DefaultIDColumn is the header of the column holding row IDs.
	DefaultIDColumn = "id"

	// DefaultBatchSize is the number of rows written per call.
	DefaultBatchSize = 100

	// DefaultCallsPerMinute matches the per-user read quota.
	DefaultCallsPerMinute = 60
)

var defaultSheets = map[domain.EntityType]string{
	domain.EntityProduct:    "Products",
	domain.EntityVariant:    "Variants",
	domain.EntityOrder:      "Orders",
	domain.EntityCustomer:   "Customers",
	domain.EntityCollection: "Collections",
}

// Config holds the parsed configuration for a spreadsheet.
type Config struct {
	Name          string
	SpreadsheetID string

	// CredentialsFile is a service account or authorized user JSON key.
	// Application default credentials are used when empty.
	CredentialsFile string

	// Endpoint overrides the API root, mainly for tests.
	Endpoint string

	// Sheets maps entities to sheet (tab) titles.
	Sheets map[domain.EntityType]string

	IDColumn      string
	ArchiveColumn string

	BatchSize      int
	CallsPerMinute int
}

// ParseConfig parses a store's settings map into a Config.
//
// Recognised settings: spreadsheet_id, credentials_file, endpoint,
// sheet_<entity>, id_column, archive_column, batch_size, calls_per_minute.
func ParseConfig(sc domain.StoreConfig) (*Config, error) {
	s := sc.Settings
	cfg := &Config{
		Name:            sc.Name,
		SpreadsheetID:   strings.TrimSpace(s["spreadsheet_id"]),
		CredentialsFile: s["credentials_file"],
		Endpoint:        s["endpoint"],
		Sheets:          make(map[domain.EntityType]string, len(defaultSheets)),
		IDColumn:        s["id_column"],
		ArchiveColumn:   s["archive_column"],
		BatchSize:       DefaultBatchSize,
		CallsPerMinute:  DefaultCallsPerMinute,
	}
	if cfg.Name == "" {
		cfg.Name = "sheets"
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = DefaultIDColumn
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: sheets spreadsheet_id is required", domain.ErrInvalidInput)
	}

	for entity, title := range defaultSheets {
		if v := strings.TrimSpace(s["sheet_"+string(entity)]); v != "" {
			title = v
		}
		cfg.Sheets[entity] = title
	}

	if v := s["batch_size"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: sheets batch_size must be positive, got %q", domain.ErrInvalidInput, v)
		}
		cfg.BatchSize = n
	}
	if v := s["calls_per_minute"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: sheets calls_per_minute must be positive, got %q", domain.ErrInvalidInput, v)
		}
		cfg.CallsPerMinute = n
	}

	return cfg, nil
}
