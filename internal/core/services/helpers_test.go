package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// productMappings is the mapping set shared by service tests: a Shopify-like
// product on the source side and a flat sheet row on the target side.
func productMappings() []domain.FieldMapping {
	return []domain.FieldMapping{
		{Entity: domain.EntityProduct, Field: "sku", SourcePath: "variants.0.sku", TargetPath: "SKU", Direction: domain.DirectionSourceToTarget},
		{Entity: domain.EntityProduct, Field: "title", SourcePath: "title", TargetPath: "Title"},
		{Entity: domain.EntityProduct, Field: "price", SourcePath: "variants.0.price", TargetPath: "Price", Transform: "toNumber(value)", ToSource: "toText(value)"},
		{Entity: domain.EntityProduct, Field: "vendor", SourcePath: "vendor", TargetPath: "Vendor", Direction: domain.DirectionSourceToTarget},
	}
}

func newTestMapper(t *testing.T) *FieldMapper {
	t.Helper()
	m, err := NewFieldMapper(productMappings())
	require.NoError(t, err)
	return m
}

func shopProduct(id, sku, title, price string) domain.NativeRecord {
	return domain.NativeRecord{
		ID: id,
		Fields: map[string]any{
			"title":  title,
			"vendor": "Acme",
			"variants": []any{
				map[string]any{"sku": sku, "price": price},
			},
		},
	}
}

func sheetRow(id, sku, title string, price float64) domain.NativeRecord {
	return domain.NativeRecord{
		ID: id,
		Fields: map[string]any{
			"SKU":    sku,
			"Title":  title,
			"Price":  price,
			"Vendor": "Acme",
		},
	}
}

func canonical(side domain.Side, id string, fields map[string]any) *domain.CanonicalRecord {
	return &domain.CanonicalRecord{
		EntityType:  domain.EntityProduct,
		ExternalIDs: map[domain.Side]string{side: id},
		Fields:      fields,
	}
}

func testConfig() domain.Config {
	cfg := domain.DefaultConfig()
	cfg.Sync.Workers = 1
	cfg.Sync.MaxRetries = 3
	cfg.Sync.BaseBackoff = domain.Duration(time.Millisecond)
	cfg.Sync.MaxBackoff = domain.Duration(5 * time.Millisecond)
	cfg.Sync.CallTimeout = domain.Duration(time.Second)
	cfg.Stores.Source = domain.StoreConfig{Type: "memory", Name: "shop"}
	cfg.Stores.Target = domain.StoreConfig{Type: "memory", Name: "sheet"}
	return cfg
}
