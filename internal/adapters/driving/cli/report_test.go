package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

func sampleResult() *domain.SyncResult {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := domain.NewSyncResult("3f2a9c1e-7b4d-4e8a-9c2f-1a2b3c4d5e6f", started)
	r.EndedAt = started.Add(1500 * time.Millisecond)
	r.State = domain.StateDone
	r.Add(domain.EntityProduct, func(c *domain.Counts) {
		c.Created = 2
		c.Updated = 1
		c.Skipped = 5
	})
	r.Add(domain.EntityOrder, func(c *domain.Counts) { c.Conflicted = 1 })
	r.Fail(domain.EntityProduct, "P9", "shop: 422 price is invalid")
	r.Note(domain.Note{
		Kind:   domain.NoteLinkAmbiguity,
		Entity: domain.EntityOrder,
		ID:     "1001",
		Detail: "2 target rows share order_number 1001",
	})
	return r
}

func TestWriteReportJSON_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReportJSON(&buf, sampleResult()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleResult(), 0))
	out := buf.String()

	assert.Contains(t, out, "Pass 3f2a9c1e")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "P9: shop: 422 price is invalid")
	assert.Contains(t, out, "link_ambiguity order 1001")
	assert.NotContains(t, out, "Planned")
}

func TestWriteReport_DryRunAndAbort(t *testing.T) {
	r := domain.NewSyncResult("abc", time.Now())
	r.DryRun = true
	r.State = domain.StateFailed
	r.Aborted = errors.New("source unreachable")
	r.AbortReason = "source unreachable"
	r.Planned = []domain.PlannedOperation{
		{Side: domain.SideTarget, Kind: domain.OpCreate, Entity: domain.EntityProduct, Ref: "source:P1", Fields: []string{"sku", "title"}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, r, 0))
	out := buf.String()

	assert.Contains(t, out, "Pass abc (dry run)")
	assert.Contains(t, out, "Aborted: source unreachable")
	assert.Contains(t, out, "Planned")
	assert.Contains(t, out, "sku, title")
	assert.NotContains(t, out, "ENTITY", "no counts table without counts")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a9c1e", shortID("3f2a9c1e-7b4d"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestTermWidth_NotTerminal(t *testing.T) {
	assert.Equal(t, 0, termWidth(&bytes.Buffer{}))
}
