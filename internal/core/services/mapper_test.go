package services

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

func TestNewFieldMapper_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mappings []domain.FieldMapping
		contains string
	}{
		{
			name: "duplicate field",
			mappings: []domain.FieldMapping{
				{Entity: domain.EntityProduct, Field: "title", SourcePath: "title", TargetPath: "Title"},
				{Entity: domain.EntityProduct, Field: "title", SourcePath: "name", TargetPath: "Name"},
			},
			contains: "duplicate canonical field",
		},
		{
			name: "bad transform",
			mappings: []domain.FieldMapping{
				{Entity: domain.EntityProduct, Field: "title", SourcePath: "title", TargetPath: "Title", Transform: "value +"},
			},
			contains: "transform",
		},
		{
			name: "unknown entity",
			mappings: []domain.FieldMapping{
				{Entity: "invoice", Field: "total", SourcePath: "total", TargetPath: "Total"},
			},
			contains: "unknown entity type",
		},
		{
			name: "bad direction",
			mappings: []domain.FieldMapping{
				{Entity: domain.EntityProduct, Field: "title", SourcePath: "title", TargetPath: "Title", Direction: "sideways"},
			},
			contains: "sync direction",
		},
		{
			name: "missing target path",
			mappings: []domain.FieldMapping{
				{Entity: domain.EntityProduct, Field: "title", SourcePath: "title"},
			},
			contains: "need both source_path and target_path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFieldMapper(tt.mappings)
			require.Error(t, err)
			assert.True(t, domain.IsMappingError(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestNewFieldMapper_NeverFieldNeedsOnePath(t *testing.T) {
	m, err := NewFieldMapper([]domain.FieldMapping{
		{Entity: domain.EntityProduct, Field: "handle", SourcePath: "handle", Direction: domain.DirectionNever},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityType{domain.EntityProduct}, m.Entities())
}

func TestFieldMapper_ToCanonical(t *testing.T) {
	m := newTestMapper(t)
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	native := shopProduct("P1", "H-1", "Hat", "19.99")
	native.ModifiedAt = &modified

	rec, err := m.ToCanonical(domain.SideSource, domain.EntityProduct, native)
	require.NoError(t, err)

	assert.Equal(t, "P1", rec.ID(domain.SideSource))
	assert.Equal(t, "H-1", rec.Fields["sku"])
	assert.Equal(t, "Hat", rec.Fields["title"])
	assert.Equal(t, 19.99, rec.Fields["price"])
	assert.NotEmpty(t, rec.Fingerprint)

	at, ok := rec.ModifiedAt(domain.SideSource)
	assert.True(t, ok)
	assert.Equal(t, modified, at)
}

func TestFieldMapper_ToCanonical_TimesAreUTCStrings(t *testing.T) {
	m, err := NewFieldMapper([]domain.FieldMapping{
		{Entity: domain.EntityOrder, Field: "placed", SourcePath: "placed_at", TargetPath: "Placed"},
	})
	require.NoError(t, err)

	zone := time.FixedZone("CEST", 2*60*60)
	placed := time.Date(2026, 3, 1, 14, 0, 0, 5, zone)
	rec, err := m.ToCanonical(domain.SideSource, domain.EntityOrder, domain.NativeRecord{
		ID:     "O1",
		Fields: map[string]any{"placed_at": placed},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00.000000005Z", rec.Fields["placed"])

	// A snapshot reloaded from storage hashes the same as a fresh read.
	stored, err := json.Marshal(rec.Fields)
	require.NoError(t, err)
	var reloaded map[string]any
	require.NoError(t, json.Unmarshal(stored, &reloaded))
	assert.Equal(t, rec.Fingerprint, m.FingerprintFields(domain.EntityOrder, reloaded))
}

func TestFieldMapper_SameValuesSameFingerprintAcrossSides(t *testing.T) {
	m := newTestMapper(t)

	src, err := m.ToCanonical(domain.SideSource, domain.EntityProduct, shopProduct("P1", "H-1", "Hat", "19.99"))
	require.NoError(t, err)
	tgt, err := m.ToCanonical(domain.SideTarget, domain.EntityProduct, sheetRow("R1", "H-1", "Hat", 19.99))
	require.NoError(t, err)

	assert.Equal(t, src.Fingerprint, tgt.Fingerprint)
}

func TestFieldMapper_ToCanonical_MissingPath(t *testing.T) {
	m := newTestMapper(t)
	native := shopProduct("P1", "H-1", "Hat", "19.99")
	delete(native.Fields, "title")

	_, err := m.ToCanonical(domain.SideSource, domain.EntityProduct, native)
	require.Error(t, err)

	var me *domain.MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "title", me.Field)
	assert.Equal(t, "title", me.Path)
}

func TestFieldMapper_ToCanonical_OptionalPath(t *testing.T) {
	m, err := NewFieldMapper([]domain.FieldMapping{
		{Entity: domain.EntityCustomer, Field: "email", SourcePath: "email", TargetPath: "Email"},
		{Entity: domain.EntityCustomer, Field: "zip", SourcePath: "default_address.zip", TargetPath: "Zip", Transform: "zip5(value)", Optional: true},
	})
	require.NoError(t, err)

	rec, err := m.ToCanonical(domain.SideSource, domain.EntityCustomer, domain.NativeRecord{
		ID:     "C1",
		Fields: map[string]any{"email": "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "", rec.Fields["zip"])

	rec, err = m.ToCanonical(domain.SideSource, domain.EntityCustomer, domain.NativeRecord{
		ID: "C2",
		Fields: map[string]any{
			"email":           "b@example.com",
			"default_address": map[string]any{"zip": "12345-6789"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", rec.Fields["zip"])
}

func TestFieldMapper_FingerprintIgnoresNeverFields(t *testing.T) {
	mappings := append(productMappings(), domain.FieldMapping{
		Entity: domain.EntityProduct, Field: "handle", SourcePath: "handle", Direction: domain.DirectionNever,
	})
	m, err := NewFieldMapper(mappings)
	require.NoError(t, err)

	a := shopProduct("P1", "H-1", "Hat", "19.99")
	a.Fields["handle"] = "hat"
	b := shopProduct("P1", "H-1", "Hat", "19.99")
	b.Fields["handle"] = "wool-hat"

	ra, err := m.ToCanonical(domain.SideSource, domain.EntityProduct, a)
	require.NoError(t, err)
	rb, err := m.ToCanonical(domain.SideSource, domain.EntityProduct, b)
	require.NoError(t, err)

	assert.Equal(t, "hat", ra.Fields["handle"])
	assert.Equal(t, ra.Fingerprint, rb.Fingerprint)
}

func TestFieldMapper_FromCanonical(t *testing.T) {
	m := newTestMapper(t)

	patch, err := m.FromCanonical(domain.SideSource, domain.EntityProduct, map[string]any{
		"title": "Wool Hat",
		"price": 24.5,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title": "Wool Hat",
		"variants": []any{
			map[string]any{"price": "24.5"},
		},
	}, patch)

	patch, err = m.FromCanonical(domain.SideTarget, domain.EntityProduct, map[string]any{"price": 24.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Price": 24.5}, patch)
}

func TestFieldMapper_FromCanonical_UnknownField(t *testing.T) {
	m := newTestMapper(t)
	_, err := m.FromCanonical(domain.SideTarget, domain.EntityProduct, map[string]any{"colour": "red"})
	assert.True(t, domain.IsMappingError(err))
}

func TestFieldMapper_ValidateSchema(t *testing.T) {
	m := newTestMapper(t)

	assert.NoError(t, m.ValidateSchema(domain.SideTarget, domain.EntityProduct, []string{"SKU", "Title", "Price", "Vendor"}))
	assert.NoError(t, m.ValidateSchema(domain.SideSource, domain.EntityProduct, []string{"title", "vendor", "variants"}))

	err := m.ValidateSchema(domain.SideTarget, domain.EntityProduct, []string{"SKU", "Title"})
	require.Error(t, err)
	assert.True(t, domain.IsMappingError(err))
	assert.Contains(t, err.Error(), `"Price"`)
	assert.Contains(t, err.Error(), `"Vendor"`)
}

func TestFieldMapper_Restrict(t *testing.T) {
	m := newTestMapper(t)
	r := m.Restrict([]string{"price"})

	title, ok := r.Mapping(domain.EntityProduct, "title")
	require.True(t, ok)
	assert.Equal(t, domain.DirectionNever, title.Direction)

	price, ok := r.Mapping(domain.EntityProduct, "price")
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBidirectional, price.Direction)

	// The original mapper is untouched.
	orig, _ := m.Mapping(domain.EntityProduct, "title")
	assert.Equal(t, domain.DirectionBidirectional, orig.Direction)

	assert.Same(t, m, m.Restrict(nil))
}
