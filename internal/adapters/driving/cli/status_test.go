package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

func TestStatusCmd_Empty(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "shop (memory) <-> sheet (memory)")
	assert.Contains(t, out, "product")
	assert.Contains(t, out, "never")
}

func TestStatusCmd_AfterSync(t *testing.T) {
	env := setupEnv(t)
	env.source.Put(domain.EntityProduct, shopProduct("P1", "H-1", "Hat"))
	env.source.Put(domain.EntityProduct, shopProduct("P2", "H-2", "Cap"))

	_, err := execute(t, "sync")
	require.NoError(t, err)

	out, err := execute(t, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "LINKS")
	assert.Contains(t, out, " 2 ")
	cursor, err := env.state.Cursor(t.Context(), domain.EntityProduct, domain.SideSource)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Contains(t, out, formatTime(cursor.Since))
}
