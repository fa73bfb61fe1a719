package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// StoreAdapter reads and writes records in one remote store.
// Each platform (shopify, grist, sheets) implements this interface.
type StoreAdapter interface {
	// Name returns the configured store name, used for rate limits and reports.
	Name() string

	// Capabilities returns what this adapter supports.
	Capabilities() StoreCapabilities

	// List streams every record of an entity to fn, page by page.
	// When since is non-nil and SupportsModifiedSince is true, only records
	// modified at or after since are returned. Returning an error from fn stops
	// the listing and is returned unchanged.
	List(ctx context.Context, entity domain.EntityType, since *time.Time, fn func(domain.NativeRecord) error) error

	// Create inserts a record and returns the stored version.
	// Failures are *domain.RemoteError.
	Create(ctx context.Context, entity domain.EntityType, patch map[string]any) (*domain.NativeRecord, error)

	// Update patches a record and returns the stored version.
	Update(ctx context.Context, entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error)

	// RateLimit describes the adapter's documented call budget.
	RateLimit() RateLimit

	// Close releases resources.
	Close() error
}

// StoreCapabilities describes what a store adapter supports.
type StoreCapabilities struct {
	// SupportsModifiedSince indicates List honours the since filter server side.
	SupportsModifiedSince bool

	// SupportsArchive indicates the adapter implements Archiver.
	SupportsArchive bool

	// SupportsDelete indicates the adapter implements Deleter.
	SupportsDelete bool

	// MaxBatchSize is the documented maximum records per write call.
	// 1 means writes are single-record.
	MaxBatchSize int
}

// RateLimit is a store's call budget.
type RateLimit struct {
	CallsPerMinute int
}

// BatchWriter is implemented by stores with multi-record write endpoints.
// Outcomes are returned in the order of ops. A returned error means the
// whole call failed and no outcome is valid.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entity domain.EntityType, ops []domain.Operation) ([]domain.OperationOutcome, error)
}

// Archiver is implemented by stores with an archived state.
type Archiver interface {
	Archive(ctx context.Context, entity domain.EntityType, id string) (*domain.NativeRecord, error)
}

// Deleter is implemented by stores that allow record deletion.
type Deleter interface {
	Delete(ctx context.Context, entity domain.EntityType, id string) error
}

// SchemaProvider exposes the set of paths a store can resolve for an entity.
type SchemaProvider interface {
	Schema(ctx context.Context, entity domain.EntityType) ([]string, error)
}

// StoreBuilder creates a StoreAdapter from configuration.
type StoreBuilder func(ctx context.Context, cfg domain.StoreConfig) (StoreAdapter, error)

// StoreFactory creates store adapters from configuration.
type StoreFactory interface {
	// Create returns an adapter for the given store configuration.
	// Returns ErrUnsupportedType if the store type is unknown.
	Create(ctx context.Context, cfg domain.StoreConfig) (StoreAdapter, error)

	// Register adds a builder for a store type.
	Register(storeType string, builder StoreBuilder)

	// SupportedTypes returns all registered store types.
	SupportedTypes() []string
}
