package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driving"
)

// --- Mock implementations for scheduler testing ---

// mockSyncEngine implements driving.SyncEngine for testing.
type mockSyncEngine struct {
	mu     sync.Mutex
	runs   int
	plans  int
	runErr error
}

func (m *mockSyncEngine) RunPass(_ context.Context) (*domain.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	return domain.NewSyncResult("pass", time.Now()), m.runErr
}

func (m *mockSyncEngine) Plan(_ context.Context) (*domain.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans++
	return domain.NewSyncResult("plan", time.Now()), nil
}

func (m *mockSyncEngine) Status(_ context.Context) (*driving.SyncStatus, error) {
	return &driving.SyncStatus{}, nil
}

func (m *mockSyncEngine) counts() (runs, plans int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, m.plans
}

// mockMappingSource implements driven.MappingSource for testing.
type mockMappingSource struct {
	mu       sync.Mutex
	mappings []domain.FieldMapping
	changes  chan struct{}
}

func newMockMappingSource(mappings []domain.FieldMapping) *mockMappingSource {
	return &mockMappingSource{mappings: mappings, changes: make(chan struct{}, 1)}
}

func (m *mockMappingSource) LoadMappings() ([]domain.FieldMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings, nil
}

func (m *mockMappingSource) Watch(_ context.Context) (<-chan struct{}, error) {
	return m.changes, nil
}

func (m *mockMappingSource) set(mappings []domain.FieldMapping) {
	m.mu.Lock()
	m.mappings = mappings
	m.mu.Unlock()
	m.changes <- struct{}{}
}

// --- Tests ---

func TestScheduler_OnceRunsSinglePass(t *testing.T) {
	engine := &mockSyncEngine{}
	var reports int
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeOnce}, engine,
		WithResultHandler(func(*domain.SyncResult, error) { reports++ }))

	require.NoError(t, s.Start(t.Context()))
	runs, plans := engine.counts()
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, plans)
	assert.Equal(t, 1, reports)
}

func TestScheduler_OnceReturnsPassError(t *testing.T) {
	engine := &mockSyncEngine{runErr: domain.ErrPassAborted}
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeOnce}, engine)

	assert.ErrorIs(t, s.Start(t.Context()), domain.ErrPassAborted)
}

func TestScheduler_DryRunPlans(t *testing.T) {
	engine := &mockSyncEngine{}
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeOnce, DryRun: true}, engine)

	require.NoError(t, s.Start(t.Context()))
	runs, plans := engine.counts()
	assert.Equal(t, 0, runs)
	assert.Equal(t, 1, plans)
}

func TestScheduler_ContinuousUntilStop(t *testing.T) {
	engine := &mockSyncEngine{}
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeContinuous, Interval: 5 * time.Millisecond}, engine)

	done := make(chan error, 1)
	go func() { done <- s.Start(t.Context()) }()

	require.Eventually(t, func() bool {
		runs, _ := engine.counts()
		return runs >= 3
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	assert.NoError(t, <-done)
}

func TestScheduler_ContinuousSurvivesPassErrors(t *testing.T) {
	engine := &mockSyncEngine{runErr: errors.New("shop unavailable")}
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeContinuous, Interval: time.Millisecond}, engine)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		runs, _ := engine.counts()
		return runs >= 2
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeContinuous, Interval: time.Second}, &mockSyncEngine{})
	assert.NoError(t, s.Stop())
}

func TestScheduler_ReloadsMappings(t *testing.T) {
	engine := &mockSyncEngine{}
	src := newMockMappingSource(productMappings())

	var (
		mu      sync.Mutex
		applied []*FieldMapper
	)
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeContinuous, Interval: 5 * time.Millisecond}, engine,
		WithMappingReload(src, func(m *FieldMapper) {
			mu.Lock()
			applied = append(applied, m)
			mu.Unlock()
		}))

	done := make(chan error, 1)
	go func() { done <- s.Start(t.Context()) }()

	src.set(productMappings()[:2])
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Len(t, applied[0].Mappings(domain.EntityProduct), 2)
	mu.Unlock()

	require.NoError(t, s.Stop())
	require.NoError(t, <-done)
}

func TestScheduler_InvalidMappingsKeepPrevious(t *testing.T) {
	engine := &mockSyncEngine{}
	src := newMockMappingSource(productMappings())

	var applied int
	var mu sync.Mutex
	s := NewScheduler(SchedulerConfig{Mode: domain.ModeContinuous, Interval: 2 * time.Millisecond}, engine,
		WithMappingReload(src, func(*FieldMapper) {
			mu.Lock()
			applied++
			mu.Unlock()
		}))

	done := make(chan error, 1)
	go func() { done <- s.Start(t.Context()) }()

	dup := append(productMappings(), productMappings()[0])
	src.set(dup)

	require.Eventually(t, func() bool {
		runs, _ := engine.counts()
		return runs >= 4
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, applied)
}
