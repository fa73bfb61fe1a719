package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/logger"
)

var execLog = logger.With("executor")

// ExecutorConfig tunes batching, concurrency and retries.
type ExecutorConfig struct {
	BatchSize   int
	Workers     int
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// ExecutorConfigFrom extracts executor settings from the sync configuration.
func ExecutorConfigFrom(cfg domain.SyncConfig) ExecutorConfig {
	return ExecutorConfig{
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.Workers,
		MaxRetries:  cfg.MaxRetries,
		BaseBackoff: cfg.BaseBackoff.Std(),
		MaxBackoff:  cfg.MaxBackoff.Std(),
		CallTimeout: cfg.CallTimeout.Std(),
	}
}

// BatchExecutor submits write operations to stores under each store's rate
// budget, retrying transient failures.
type BatchExecutor struct {
	cfg    ExecutorConfig
	limits map[string]int

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewBatchExecutor creates an executor. limits maps store name to calls per
// minute; stores without an entry use the adapter's documented budget.
func NewBatchExecutor(cfg ExecutorConfig, limits map[string]int) *BatchExecutor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &BatchExecutor{cfg: cfg, limits: limits, buckets: make(map[string]*TokenBucket)}
}

// Bucket returns the token bucket of a store, creating it on first use.
func (e *BatchExecutor) Bucket(store driven.StoreAdapter) *TokenBucket {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := store.Name()
	if b, ok := e.buckets[name]; ok {
		return b
	}
	cpm, ok := e.limits[name]
	if !ok {
		cpm = store.RateLimit().CallsPerMinute
	}
	b := NewTokenBucket(cpm)
	e.buckets[name] = b
	return b
}

// Execute runs ops against store and returns one outcome per op, in order.
// Operations that could not start before ctx ended fail with the context error.
func (e *BatchExecutor) Execute(ctx context.Context, store driven.StoreAdapter, ops []domain.Operation) []domain.OperationOutcome {
	outcomes := make([]domain.OperationOutcome, len(ops))
	for i, op := range ops {
		outcomes[i].Op = op
	}
	if len(ops) == 0 {
		return outcomes
	}

	chunks := e.chunk(store, ops)
	work := make(chan []int)
	var wg sync.WaitGroup

	workers := min(e.cfg.Workers, len(chunks))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				e.runChunk(ctx, store, ops, idx, outcomes)
			}
		}()
	}

	for _, idx := range chunks {
		if ctx.Err() != nil {
			for _, i := range idx {
				outcomes[i].Err = ctx.Err()
			}
			continue
		}
		work <- idx
	}
	close(work)
	wg.Wait()

	return outcomes
}

// chunk groups create and update operations of the same entity into batches
// of at most min(store max batch, configured batch size). Archives and
// deletes always travel alone.
func (e *BatchExecutor) chunk(store driven.StoreAdapter, ops []domain.Operation) [][]int {
	size := e.cfg.BatchSize
	if limit := store.Capabilities().MaxBatchSize; limit > 0 && limit < size {
		size = limit
	}
	if _, ok := store.(driven.BatchWriter); !ok {
		size = 1
	}

	type groupKey struct {
		entity domain.EntityType
		kind   domain.OperationKind
	}
	var chunks [][]int
	open := make(map[groupKey]int)
	for i, op := range ops {
		if size == 1 || (op.Kind != domain.OpCreate && op.Kind != domain.OpUpdate) {
			chunks = append(chunks, []int{i})
			continue
		}
		k := groupKey{op.Entity, op.Kind}
		if c, ok := open[k]; ok && len(chunks[c]) < size {
			chunks[c] = append(chunks[c], i)
			continue
		}
		open[k] = len(chunks)
		chunks = append(chunks, []int{i})
	}
	return chunks
}

func (e *BatchExecutor) runChunk(ctx context.Context, store driven.StoreAdapter, ops []domain.Operation, idx []int, outcomes []domain.OperationOutcome) {
	if len(idx) > 1 {
		if e.runBatch(ctx, store, ops, idx, outcomes) {
			return
		}
		execLog.Warn("%s: batch of %d failed, retrying records one by one", store.Name(), len(idx))
	}
	for _, i := range idx {
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		e.runOne(ctx, store, i, outcomes)
	}
}

// runBatch submits a chunk through the store's BatchWriter. It returns false
// when the whole call failed permanently so the caller can split the chunk.
func (e *BatchExecutor) runBatch(ctx context.Context, store driven.StoreAdapter, ops []domain.Operation, idx []int, outcomes []domain.OperationOutcome) bool {
	bw := store.(driven.BatchWriter)
	batch := make([]domain.Operation, len(idx))
	for j, i := range idx {
		batch[j] = ops[i]
	}

	var results []domain.OperationOutcome
	attempts, err := e.withRetry(ctx, store, func(callCtx context.Context) error {
		var callErr error
		results, callErr = bw.WriteBatch(callCtx, batch[0].Entity, batch)
		return callErr
	})
	if err != nil || len(results) != len(idx) {
		if err == nil {
			execLog.Warn("%s: batch returned %d outcomes for %d operations", store.Name(), len(results), len(idx))
		}
		if ctx.Err() != nil {
			for _, i := range idx {
				outcomes[i].Err = errors.Join(err, ctx.Err())
				outcomes[i].Attempts = attempts
			}
			return true
		}
		return false
	}

	for j, i := range idx {
		res := results[j]
		outcomes[i].Record = res.Record
		outcomes[i].Err = res.Err
		outcomes[i].Attempts = attempts
		if res.Err != nil && domain.IsRetryable(res.Err) && ctx.Err() == nil {
			e.runOne(ctx, store, i, outcomes)
			outcomes[i].Attempts += attempts
		}
	}
	return true
}

func (e *BatchExecutor) runOne(ctx context.Context, store driven.StoreAdapter, i int, outcomes []domain.OperationOutcome) {
	op := outcomes[i].Op
	var rec *domain.NativeRecord
	attempts, err := e.withRetry(ctx, store, func(callCtx context.Context) error {
		var callErr error
		rec, callErr = apply(callCtx, store, op)
		return callErr
	})
	outcomes[i].Record = rec
	outcomes[i].Err = err
	outcomes[i].Attempts = attempts
	if err != nil {
		execLog.Debug("%s: %s %s %s failed after %d attempts: %v", store.Name(), op.Kind, op.Entity, op.ID, attempts, err)
	}
}

func apply(ctx context.Context, store driven.StoreAdapter, op domain.Operation) (*domain.NativeRecord, error) {
	switch op.Kind {
	case domain.OpCreate:
		return store.Create(ctx, op.Entity, op.Patch)
	case domain.OpUpdate:
		return store.Update(ctx, op.Entity, op.ID, op.Patch)
	case domain.OpArchive:
		a, ok := store.(driven.Archiver)
		if !ok || !store.Capabilities().SupportsArchive {
			return nil, fmt.Errorf("%s: archive %s: %w", store.Name(), op.Entity, domain.ErrNotSupported)
		}
		return a.Archive(ctx, op.Entity, op.ID)
	case domain.OpDelete:
		d, ok := store.(driven.Deleter)
		if !ok || !store.Capabilities().SupportsDelete {
			return nil, fmt.Errorf("%s: delete %s: %w", store.Name(), op.Entity, domain.ErrNotSupported)
		}
		return nil, d.Delete(ctx, op.Entity, op.ID)
	}
	return nil, fmt.Errorf("%w: operation kind %q", domain.ErrInvalidInput, op.Kind)
}

// withRetry calls fn after taking a token, retrying retryable failures with
// exponential backoff. Each attempt runs detached from ctx under the call
// timeout so an in-flight request is never abandoned half way; ctx is only
// consulted between attempts.
func (e *BatchExecutor) withRetry(ctx context.Context, store driven.StoreAdapter, fn func(context.Context) error) (int, error) {
	bucket := e.Bucket(store)
	attempts := 0
	for {
		if err := bucket.Wait(ctx); err != nil {
			return attempts, err
		}
		attempts++

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return attempts, nil
		}
		if !domain.IsRetryable(err) || attempts > e.cfg.MaxRetries {
			return attempts, err
		}

		delay := e.backoff(attempts-1, err, bucket)
		execLog.Info("%s: retrying in %s after attempt %d: %v", store.Name(), delay, attempts, err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempts, errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
}

// backoff returns base*2^attempt capped at the maximum, or the server's
// Retry-After when that is longer.
func (e *BatchExecutor) backoff(attempt int, err error, bucket *TokenBucket) time.Duration {
	d := e.cfg.BaseBackoff
	for range attempt {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			d = e.cfg.MaxBackoff
			break
		}
	}

	var re *domain.RemoteError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		bucket.Pause(re.RetryAfter)
		if re.RetryAfter > d {
			d = re.RetryAfter
		}
	}
	return d
}
