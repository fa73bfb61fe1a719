package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/core/ports/driving"
	"github.com/custodia-labs/bisync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

var schedLog = logger.With("scheduler")

// SchedulerConfig controls how passes are repeated.
type SchedulerConfig struct {
	Mode     domain.Mode
	Interval time.Duration
	DryRun   bool
}

// Scheduler runs passes once or on an interval. Passes never overlap: the
// next one starts only after the previous one returned and the interval
// elapsed.
type Scheduler struct {
	config  SchedulerConfig
	engine  driving.SyncEngine
	mapping driven.MappingSource

	// onMapper receives every successfully reloaded mapping set.
	onMapper func(*FieldMapper)
	// onResult receives every pass report.
	onResult func(*domain.SyncResult, error)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMappingReload reloads mappings from src between passes when it
// changes, handing each valid set to apply.
func WithMappingReload(src driven.MappingSource, apply func(*FieldMapper)) SchedulerOption {
	return func(s *Scheduler) {
		s.mapping = src
		s.onMapper = apply
	}
}

// WithResultHandler is called after every pass.
func WithResultHandler(fn func(*domain.SyncResult, error)) SchedulerOption {
	return func(s *Scheduler) { s.onResult = fn }
}

// NewScheduler creates a scheduler.
func NewScheduler(config SchedulerConfig, engine driving.SyncEngine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{config: config, engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs passes per the configured mode. In once mode it returns the
// pass error; in continuous mode it blocks until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	if s.config.Mode != domain.ModeContinuous {
		_, err := s.runPass(ctx)
		return err
	}
	return s.loop(ctx)
}

// Stop ends a continuous loop after the current pass finishes.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) error {
	var changes <-chan struct{}
	if s.mapping != nil {
		ch, err := s.mapping.Watch(ctx)
		if err != nil {
			schedLog.Warn("mapping reload disabled: %v", err)
		} else {
			changes = ch
		}
	}

	dirty := false
	for {
		if dirty {
			s.reload()
			dirty = false
		}

		if _, err := s.runPass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, domain.ErrPassInProgress) {
				schedLog.Warn("skipped pass: %v", err)
			}
		}

		timer := time.NewTimer(s.config.Interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.stopCh:
				timer.Stop()
				return nil
			case _, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				dirty = true
			case <-timer.C:
				break wait
			}
		}
	}
}

// reload rebuilds the mapper. A set that fails validation is dropped and the
// previous one stays active.
func (s *Scheduler) reload() {
	mappings, err := s.mapping.LoadMappings()
	if err != nil {
		schedLog.Warn("mapping reload failed, keeping previous mappings: %v", err)
		return
	}
	mapper, err := NewFieldMapper(mappings)
	if err != nil {
		schedLog.Warn("mapping reload rejected, keeping previous mappings: %v", err)
		return
	}
	if s.onMapper != nil {
		s.onMapper(mapper)
	}
	schedLog.Info("reloaded %d field mappings", len(mappings))
}

func (s *Scheduler) runPass(ctx context.Context) (*domain.SyncResult, error) {
	var (
		result *domain.SyncResult
		err    error
	)
	if s.config.DryRun {
		result, err = s.engine.Plan(ctx)
	} else {
		result, err = s.engine.RunPass(ctx)
	}
	if err != nil {
		schedLog.Error("pass failed: %v", err)
	}
	if s.onResult != nil {
		s.onResult(result, err)
	}
	return result, err
}
