package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

func testExecutor(batch int) *BatchExecutor {
	return NewBatchExecutor(ExecutorConfig{
		BatchSize:   batch,
		Workers:     1,
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		CallTimeout: time.Second,
	}, nil)
}

func creates(n int) []domain.Operation {
	ops := make([]domain.Operation, n)
	for i := range ops {
		ops[i] = domain.Operation{
			Kind:   domain.OpCreate,
			Entity: domain.EntityProduct,
			Patch:  map[string]any{"SKU": fmt.Sprintf("H-%d", i+1)},
			Ref:    fmt.Sprintf("ref-%d", i+1),
		}
	}
	return ops
}

func batchStore(limit int) *memory.RecordStore {
	return memory.NewRecordStore("sheet", memory.WithCapabilities(driven.StoreCapabilities{
		SupportsArchive: true,
		SupportsDelete:  true,
		MaxBatchSize:    limit,
	}))
}

func TestBatchExecutor_SplitsBatchesAndKeepsOrder(t *testing.T) {
	store := batchStore(2)
	ex := testExecutor(10)

	out := ex.Execute(t.Context(), store, creates(5))
	require.Len(t, out, 5)
	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, fmt.Sprintf("ref-%d", i+1), o.Op.Ref)
		require.NotNil(t, o.Record)
		assert.Equal(t, fmt.Sprintf("H-%d", i+1), o.Record.Fields["SKU"])
	}
	assert.Equal(t, 2, store.Batches(), "two full batches, the fifth record goes alone")
	assert.Equal(t, 3, store.Calls())
}

func TestBatchExecutor_ConfiguredBatchSizeCaps(t *testing.T) {
	store := batchStore(100)
	out := testExecutor(2).Execute(t.Context(), store, creates(4))
	for _, o := range out {
		require.NoError(t, o.Err)
	}
	assert.Equal(t, 2, store.Batches())
}

func TestBatchExecutor_RetriesRateLimited(t *testing.T) {
	store := memory.NewRecordStore("sheet")
	store.Throttle(2, 0)

	out := testExecutor(1).Execute(t.Context(), store, creates(1))
	require.Len(t, out, 1)
	require.NoError(t, out[0].Err)
	assert.Equal(t, 3, out[0].Attempts)
	assert.Equal(t, 3, store.Calls())
	assert.Len(t, store.All(domain.EntityProduct), 1)
}

func TestBatchExecutor_HonoursRetryAfter(t *testing.T) {
	store := memory.NewRecordStore("sheet")
	store.Throttle(1, 40*time.Millisecond)

	start := time.Now()
	out := testExecutor(1).Execute(t.Context(), store, creates(1))
	require.NoError(t, out[0].Err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestBatchExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	store := memory.NewRecordStore("sheet")
	store.Throttle(10, 0)

	ex := testExecutor(1)
	ex.cfg.MaxRetries = 1
	out := ex.Execute(t.Context(), store, creates(1))
	require.Error(t, out[0].Err)
	assert.True(t, domain.IsRetryable(out[0].Err))
	assert.Equal(t, 2, out[0].Attempts)
}

func TestBatchExecutor_PermanentErrorsAreNotRetried(t *testing.T) {
	store := memory.NewRecordStore("sheet")
	store.Put(domain.EntityProduct, domain.NativeRecord{ID: "R1", Fields: map[string]any{"SKU": "H-1"}})
	store.FailID("R1", domain.NewRemoteError("sheet", 422, "invalid price"))

	out := testExecutor(1).Execute(t.Context(), store, []domain.Operation{
		{Kind: domain.OpUpdate, Entity: domain.EntityProduct, ID: "R1", Patch: map[string]any{"Price": -1}},
	})
	require.Error(t, out[0].Err)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Equal(t, 1, store.Calls())
}

func TestBatchExecutor_PartialBatchFailure(t *testing.T) {
	store := batchStore(10)
	for _, id := range []string{"R1", "R2", "R3"} {
		store.Put(domain.EntityProduct, domain.NativeRecord{ID: id, Fields: map[string]any{"Title": "old"}})
	}
	store.FailID("R2", domain.NewRemoteError("sheet", 400, "bad row"))

	var ops []domain.Operation
	for _, id := range []string{"R1", "R2", "R3"} {
		ops = append(ops, domain.Operation{Kind: domain.OpUpdate, Entity: domain.EntityProduct, ID: id, Patch: map[string]any{"Title": "new"}})
	}
	out := testExecutor(10).Execute(t.Context(), store, ops)

	assert.NoError(t, out[0].Err)
	assert.Error(t, out[1].Err)
	assert.NoError(t, out[2].Err)
	assert.Equal(t, 1, store.Batches())

	r2, _ := store.Get(domain.EntityProduct, "R2")
	assert.Equal(t, "old", r2.Fields["Title"])
	r3, _ := store.Get(domain.EntityProduct, "R3")
	assert.Equal(t, "new", r3.Fields["Title"])
}

func TestBatchExecutor_FailedBatchFallsBackToSingles(t *testing.T) {
	store := batchStore(10)
	store.FailBatches(domain.NewRemoteError("sheet", 413, "payload too large"))

	out := testExecutor(10).Execute(t.Context(), store, creates(3))
	for _, o := range out {
		assert.NoError(t, o.Err)
	}
	assert.Equal(t, 0, store.Batches())
	assert.Len(t, store.All(domain.EntityProduct), 3)
}

func TestBatchExecutor_ArchiveAndDelete(t *testing.T) {
	store := memory.NewRecordStore("shop")
	store.Put(domain.EntityProduct, domain.NativeRecord{ID: "P1", Fields: map[string]any{"title": "Hat"}})
	store.Put(domain.EntityProduct, domain.NativeRecord{ID: "P2", Fields: map[string]any{"title": "Cap"}})

	out := testExecutor(1).Execute(t.Context(), store, []domain.Operation{
		{Kind: domain.OpArchive, Entity: domain.EntityProduct, ID: "P1"},
		{Kind: domain.OpDelete, Entity: domain.EntityProduct, ID: "P2"},
	})
	require.NoError(t, out[0].Err)
	require.NoError(t, out[1].Err)

	p1, _ := store.Get(domain.EntityProduct, "P1")
	assert.Equal(t, "archived", p1.Fields["status"])
	_, ok := store.Get(domain.EntityProduct, "P2")
	assert.False(t, ok)
}

func TestBatchExecutor_UnsupportedOperation(t *testing.T) {
	store := memory.NewRecordStore("sheet", memory.WithCapabilities(driven.StoreCapabilities{MaxBatchSize: 1}))
	store.Put(domain.EntityProduct, domain.NativeRecord{ID: "R1", Fields: map[string]any{}})

	out := testExecutor(1).Execute(t.Context(), store, []domain.Operation{
		{Kind: domain.OpArchive, Entity: domain.EntityProduct, ID: "R1"},
	})
	assert.ErrorIs(t, out[0].Err, domain.ErrNotSupported)
}

func TestBatchExecutor_CancelledContext(t *testing.T) {
	store := memory.NewRecordStore("sheet")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	out := testExecutor(1).Execute(ctx, store, creates(3))
	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	assert.Equal(t, 0, store.Calls())
}

func TestBatchExecutor_RateLimitOverride(t *testing.T) {
	store := memory.NewRecordStore("sheet", memory.WithRateLimit(60))
	ex := NewBatchExecutor(ExecutorConfig{}, map[string]int{"sheet": 120})
	assert.Equal(t, float64(2), float64(ex.Bucket(store).Limit()))

	other := memory.NewRecordStore("shop", memory.WithRateLimit(60))
	assert.Equal(t, float64(1), float64(ex.Bucket(other).Limit()))
	assert.Same(t, ex.Bucket(other), ex.Bucket(other))
}

func TestBatchExecutor_Backoff(t *testing.T) {
	ex := NewBatchExecutor(ExecutorConfig{BaseBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, nil)
	b := NewTokenBucket(0)
	plain := domain.NewRemoteError("shop", 503, "unavailable")

	assert.Equal(t, 10*time.Millisecond, ex.backoff(0, plain, b))
	assert.Equal(t, 20*time.Millisecond, ex.backoff(1, plain, b))
	assert.Equal(t, 40*time.Millisecond, ex.backoff(2, plain, b))
	assert.Equal(t, 50*time.Millisecond, ex.backoff(6, plain, b))

	slow := domain.NewRemoteError("shop", 429, "slow down")
	slow.RetryAfter = 2 * time.Second
	assert.Equal(t, 2*time.Second, ex.backoff(0, slow, b))
}
