package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/bisync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/bisync/internal/connectors/grist"
	"github.com/custodia-labs/bisync/internal/connectors/sheets"
	"github.com/custodia-labs/bisync/internal/connectors/shopify"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.StoreFactory = (*Factory)(nil)

// Factory maps store types to their builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]driven.StoreBuilder
}

// NewFactory creates a factory with the built-in store types registered.
func NewFactory() *Factory {
	f := &Factory{builders: make(map[string]driven.StoreBuilder)}
	f.Register("shopify", shopify.Build)
	f.Register("grist", grist.Build)
	f.Register("sheets", sheets.Build)
	f.Register("memory", buildMemory)
	return f
}

// Register adds a builder for a store type, replacing any existing one.
func (f *Factory) Register(storeType string, builder driven.StoreBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[storeType] = builder
}

// Create builds the adapter for cfg.
func (f *Factory) Create(ctx context.Context, cfg domain.StoreConfig) (driven.StoreAdapter, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedType, cfg.Type)
	}

	store, err := builder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building %s store: %w", cfg.Type, err)
	}
	return store, nil
}

// SupportedTypes returns the registered store types in name order.
func (f *Factory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// buildMemory backs the "memory" type, used for dry runs and local trials.
func buildMemory(_ context.Context, cfg domain.StoreConfig) (driven.StoreAdapter, error) {
	name := cfg.Name
	if name == "" {
		name = "memory"
	}
	return memory.NewRecordStore(name), nil
}
