package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

func TestValidateCmd_Valid(t *testing.T) {
	env := setupEnv(t)
	env.source.SetSchema(domain.EntityProduct, []string{"title", "vendor", "variants.0.sku"})
	env.target.SetSchema(domain.EntityProduct, []string{"SKU", "Title", "Vendor"})

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "product: 3 field mappings")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestValidateCmd_UnknownColumn(t *testing.T) {
	env := setupEnv(t)
	env.target.SetSchema(domain.EntityProduct, []string{"SKU", "Title"})

	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "Vendor")
}
