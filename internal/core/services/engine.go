package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/core/ports/driving"
	"github.com/custodia-labs/bisync/internal/logger"
)

// Ensure Engine implements the interface.
var _ driving.SyncEngine = (*Engine)(nil)

var engineLog = logger.With("engine")

// historyKeep is the number of pass reports retained.
const historyKeep = 100

// Engine orchestrates sync passes between the source and target stores.
type Engine struct {
	cfg      domain.Config
	stores   map[domain.Side]driven.StoreAdapter
	state    driven.SyncStateStore
	history  driven.PassHistoryStore
	lock     driven.PassLock
	matcher  Matcher
	executor *BatchExecutor
	now      func() time.Time

	// sem is the in-process pass lock.
	sem chan struct{}

	mapperMu sync.RWMutex
	mapper   *FieldMapper

	mu     sync.RWMutex
	status driving.SyncStatus
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithPassHistory records every completed pass in h.
func WithPassHistory(h driven.PassHistoryStore) EngineOption {
	return func(e *Engine) { e.history = h }
}

// WithPassLock adds a cross-process lock around every pass.
func WithPassLock(l driven.PassLock) EngineOption {
	return func(e *Engine) { e.lock = l }
}

// WithMatcher replaces the natural key matcher.
func WithMatcher(m Matcher) EngineOption {
	return func(e *Engine) { e.matcher = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine for one source/target pair.
func NewEngine(
	cfg domain.Config,
	mapper *FieldMapper,
	source, target driven.StoreAdapter,
	state driven.SyncStateStore,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		cfg: cfg,
		stores: map[domain.Side]driven.StoreAdapter{
			domain.SideSource: source,
			domain.SideTarget: target,
		},
		state:    state,
		matcher:  NewNaturalKeyMatcher(cfg.LinkKeys),
		executor: NewBatchExecutor(ExecutorConfigFrom(cfg.Sync), cfg.RateLimits),
		now:      time.Now,
		sem:      make(chan struct{}, 1),
		mapper:   mapper,
		status:   driving.SyncStatus{State: domain.StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mapper returns the active field mapper.
func (e *Engine) Mapper() *FieldMapper {
	e.mapperMu.RLock()
	defer e.mapperMu.RUnlock()
	return e.mapper
}

// SetMapper swaps the field mapper. A running pass keeps the mapper it started with.
func (e *Engine) SetMapper(m *FieldMapper) {
	e.mapperMu.Lock()
	defer e.mapperMu.Unlock()
	e.mapper = m
}

// Store returns the adapter of a side.
func (e *Engine) Store(side domain.Side) driven.StoreAdapter {
	return e.stores[side]
}

// RunPass executes one pass.
func (e *Engine) RunPass(ctx context.Context) (*domain.SyncResult, error) {
	return e.run(ctx, false)
}

// Plan runs fetch, detection and resolution and reports the planned writes.
func (e *Engine) Plan(ctx context.Context) (*domain.SyncResult, error) {
	return e.run(ctx, true)
}

// Status returns the state of the running pass.
func (e *Engine) Status(_ context.Context) (*driving.SyncStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	return &s, nil
}

// Validate checks every configured entity against the mapping set and the
// store schemas. It performs no writes.
func (e *Engine) Validate(ctx context.Context) error {
	return validateSchemas(ctx, e.Mapper(), e.cfg.Entities(), e.stores)
}

func validateSchemas(ctx context.Context, mapper *FieldMapper, entities []domain.EntityType, stores map[domain.Side]driven.StoreAdapter) error {
	var errs []error
	for _, entity := range entities {
		if len(mapper.Mappings(entity)) == 0 {
			errs = append(errs, &domain.MappingError{Entity: entity, Reason: "resource has no field mappings"})
			continue
		}
		for _, side := range domain.Sides() {
			sp, ok := stores[side].(driven.SchemaProvider)
			if !ok {
				continue
			}
			schema, err := sp.Schema(ctx, entity)
			if errors.Is(err, domain.ErrNotSupported) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%s schema for %s: %w", side, entity, err)
			}
			if err := mapper.ValidateSchema(side, entity, schema); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) run(ctx context.Context, dryRun bool) (*domain.SyncResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	full := e.Mapper()
	p := &pass{
		engine: e,
		full:   full,
		mapper: full.Restrict(e.cfg.Sync.Fields),
		result: domain.NewSyncResult(uuid.NewString(), e.now()),
		dryRun: dryRun,
	}
	p.result.DryRun = dryRun
	e.begin(p.result)
	defer e.finish()

	logger.Section("Pass " + p.result.PassID)
	if err := p.execute(ctx); err != nil {
		p.abort(err)
	}
	p.result.EndedAt = e.now()

	if p.result.State != domain.StateFailed && ctx.Err() != nil {
		p.abort(ctx.Err())
	}

	if !dryRun && e.history != nil {
		hctx := context.WithoutCancel(ctx)
		if err := e.history.RecordPass(hctx, p.result); err != nil {
			engineLog.Warn("record pass history: %v", err)
		} else if err := e.history.PruneHistory(hctx, historyKeep); err != nil {
			engineLog.Warn("prune pass history: %v", err)
		}
	}

	total := p.result.Total()
	engineLog.Info("pass %s %s: %d created, %d updated, %d skipped, %d conflicted, %d failed",
		p.result.PassID, p.result.State, total.Created, total.Updated, total.Skipped, total.Conflicted, total.Failed)

	if p.result.Aborted != nil {
		return p.result, p.result.Aborted
	}
	return p.result, nil
}

// acquire takes the in-process and cross-process pass locks, waiting up to
// lock_wait when it is positive.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	wait := e.cfg.Sync.LockWait.Std()
	lockCtx, cancel := ctx, context.CancelFunc(func() {})
	if wait > 0 {
		lockCtx, cancel = context.WithTimeout(ctx, wait)
	}
	defer cancel()

	if wait > 0 {
		select {
		case e.sem <- struct{}{}:
		case <-lockCtx.Done():
			return nil, domain.ErrPassInProgress
		}
	} else {
		select {
		case e.sem <- struct{}{}:
		default:
			return nil, domain.ErrPassInProgress
		}
	}

	if e.lock != nil {
		if err := e.lock.Acquire(lockCtx, wait > 0); err != nil {
			<-e.sem
			return nil, err
		}
	}

	return func() {
		if e.lock != nil {
			if err := e.lock.Release(); err != nil {
				engineLog.Warn("release pass lock: %v", err)
			}
		}
		<-e.sem
	}, nil
}

func (e *Engine) begin(r *domain.SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = driving.SyncStatus{PassID: r.PassID, State: r.State, Running: true}
}

func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Running = false
}

func (e *Engine) report(state domain.PassState, processed, errs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = state
	e.status.RecordsProcessed = processed
	e.status.ErrorCount = errs
}

// pass holds the working set of one run.
type pass struct {
	engine *Engine
	full   *FieldMapper
	mapper *FieldMapper
	result *domain.SyncResult
	dryRun bool

	entries  map[domain.LinkRef]domain.SyncStateEntry
	entities []*entityPass
	plans    []*recordPlan
}

// entityPass is the per-entity slice of a pass.
type entityPass struct {
	entity      domain.EntityType
	records     map[domain.Side][]*domain.CanonicalRecord
	skip        map[domain.Side]map[string]bool
	incremental map[domain.Side]bool
	decisions   []domain.ChangeDecision

	// failed blocks the cursor from advancing.
	failed bool
}

// recordPlan is what a pass intends to do with one decision.
type recordPlan struct {
	entity   domain.EntityType
	decision domain.ChangeDecision
	label    string

	// written holds the canonical fields sent to each side.
	written  map[domain.Side]map[string]any
	ops      map[domain.Side]domain.Operation
	outcomes map[domain.Side]domain.OperationOutcome

	// commit upserts the state entry once every op succeeded.
	commit bool
	// drop removes the state entry once every op succeeded.
	drop bool
	// tombstone marks a side recorded as gone after an archive.
	tombstone domain.Side
}

func (pl *recordPlan) succeeded() bool {
	for side := range pl.ops {
		if o, ok := pl.outcomes[side]; !ok || !o.Succeeded() {
			return false
		}
	}
	return true
}

func (p *pass) transition(to domain.PassState) error {
	from := p.result.State
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrInvalidInput, from, to)
	}
	p.result.State = to
	p.engine.report(to, len(p.plans), len(p.result.Errors))
	engineLog.Debug("pass %s: %s -> %s", p.result.PassID, from, to)
	return nil
}

func (p *pass) abort(err error) {
	if !errors.Is(err, domain.ErrPassAborted) {
		err = fmt.Errorf("%w: %w", domain.ErrPassAborted, err)
	}
	p.result.Aborted = err
	p.result.AbortReason = err.Error()
	if p.result.State != domain.StateFailed {
		p.result.State = domain.StateFailed
		p.engine.report(domain.StateFailed, len(p.plans), len(p.result.Errors))
	}
	engineLog.Error("pass %s aborted: %v", p.result.PassID, err)
}

func (p *pass) execute(ctx context.Context) error {
	if err := p.transition(domain.StateFetching); err != nil {
		return err
	}
	if err := p.fetch(ctx); err != nil {
		return err
	}

	if err := p.transition(domain.StateDetecting); err != nil {
		return err
	}
	p.detect()

	if err := p.transition(domain.StateResolving); err != nil {
		return err
	}
	p.resolve()

	if err := p.transition(domain.StateWriting); err != nil {
		return err
	}
	if !p.dryRun {
		p.write(ctx)
	}

	if err := p.transition(domain.StateCommitting); err != nil {
		return err
	}
	if !p.dryRun {
		if err := p.commit(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}

	return p.transition(domain.StateDone)
}

// fetch loads state and lists every entity on both sides. Any failure here
// aborts the pass before a single write.
func (p *pass) fetch(ctx context.Context) error {
	e := p.engine
	entities := e.cfg.Entities()
	if err := validateSchemas(ctx, p.mapper, entities, e.stores); err != nil {
		return err
	}

	entries, err := e.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	p.entries = entries

	for _, entity := range entities {
		ep := &entityPass{
			entity:      entity,
			records:     make(map[domain.Side][]*domain.CanonicalRecord, 2),
			skip:        make(map[domain.Side]map[string]bool, 2),
			incremental: make(map[domain.Side]bool, 2),
		}

		var (
			wg      sync.WaitGroup
			results [2]fetchResult
		)
		for i, side := range domain.Sides() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = p.fetchSide(ctx, entity, side)
			}()
		}
		wg.Wait()

		for i, side := range domain.Sides() {
			res := results[i]
			if res.err != nil {
				return res.err
			}
			ep.records[side] = res.records
			ep.skip[side] = res.skip
			ep.incremental[side] = res.incremental
			for _, re := range res.errors {
				p.result.Fail(entity, re.ID, re.Reason)
				ep.failed = true
			}
			engineLog.Info("fetched %d %s records from %s (incremental=%t)", len(res.records), entity, side, res.incremental)
		}
		p.entities = append(p.entities, ep)
	}
	return nil
}

type fetchResult struct {
	records     []*domain.CanonicalRecord
	skip        map[string]bool
	incremental bool
	errors      []domain.RecordError
	err         error
}

func (p *pass) fetchSide(ctx context.Context, entity domain.EntityType, side domain.Side) fetchResult {
	store := p.engine.stores[side]
	res := fetchResult{skip: make(map[string]bool)}

	var since *time.Time
	if store.Capabilities().SupportsModifiedSince {
		cur, err := p.engine.state.Cursor(ctx, entity, side)
		if err != nil {
			res.err = fmt.Errorf("load %s cursor for %s: %w", side, entity, err)
			return res
		}
		if cur != nil && !cur.Since.IsZero() {
			since = &cur.Since
			res.incremental = true
		}
	}

	err := store.List(ctx, entity, since, func(n domain.NativeRecord) error {
		rec, err := p.mapper.ToCanonical(side, entity, n)
		if err != nil {
			if !domain.IsMappingError(err) {
				return err
			}
			res.skip[n.ID] = true
			res.errors = append(res.errors, domain.RecordError{
				Entity: entity,
				ID:     string(side) + ":" + n.ID,
				Reason: err.Error(),
			})
			return nil
		}
		res.records = append(res.records, &rec)
		return nil
	})
	if err != nil {
		res.err = fmt.Errorf("fetch %s from %s (%s): %w", entity, side, store.Name(), err)
	}
	return res
}

func (p *pass) detect() {
	linker := NewLinker(p.engine.matcher)
	detector := NewChangeDetector(p.mapper)

	for _, ep := range p.entities {
		var entries []domain.SyncStateEntry
		for ref, entry := range p.entries {
			if ref.Entity == ep.entity {
				entries = append(entries, entry)
			}
		}

		lr := linker.Link(ep.entity, ep.records[domain.SideSource], ep.records[domain.SideTarget], entries, ep.skip)
		for _, amb := range lr.Ambiguities {
			ep.failed = true
			p.result.Note(domain.Note{
				Kind:   domain.NoteLinkAmbiguity,
				Entity: ep.entity,
				ID:     strings.Join(amb.IDs, ","),
				Detail: amb.Error(),
			})
			engineLog.Warn("%v", amb)
		}

		ep.decisions = detector.Detect(lr.Pairs, ep.incremental)
	}
}

func (p *pass) resolve() {
	resolver := NewConflictResolver(p.engine.cfg.Priority(), p.engine.cfg.Fallback())

	for _, ep := range p.entities {
		for i := range ep.decisions {
			dec := ep.decisions[i]
			pl := &recordPlan{
				entity:   ep.entity,
				decision: dec,
				label:    dec.Label(),
				written:  make(map[domain.Side]map[string]any, 2),
				ops:      make(map[domain.Side]domain.Operation, 2),
				outcomes: make(map[domain.Side]domain.OperationOutcome, 2),
			}

			var err error
			switch dec.Kind {
			case domain.DecisionNoChange:
				p.result.Add(ep.entity, func(c *domain.Counts) { c.Skipped++ })
				continue
			case domain.DecisionCreateOnOther:
				err = p.planCreate(pl)
			case domain.DecisionOnlyA, domain.DecisionOnlyB, domain.DecisionBoth:
				var manual bool
				manual, err = p.planUpdate(resolver, pl)
				if err == nil && manual {
					// An unresolved conflict must be re-read next pass.
					ep.failed = true
					continue
				}
			case domain.DecisionPossiblyDeleted:
				if !p.planDelete(pl) {
					continue
				}
			}
			if err != nil {
				ep.failed = true
				p.result.Fail(ep.entity, pl.label, err.Error())
				continue
			}
			p.plans = append(p.plans, pl)
		}
	}

	if !p.dryRun {
		return
	}
	for _, pl := range p.plans {
		for _, side := range domain.Sides() {
			op, ok := pl.ops[side]
			if !ok {
				continue
			}
			p.result.Planned = append(p.result.Planned, domain.PlannedOperation{
				Side:   side,
				Kind:   op.Kind,
				Entity: op.Entity,
				ID:     op.ID,
				Ref:    pl.label,
				Fields: sortedKeys(pl.written[side]),
			})
		}
		p.count(pl)
	}
}

func (p *pass) planCreate(pl *recordPlan) error {
	dec := pl.decision
	from := dec.PresentSide()
	to := from.Other()
	rec := dec.Record(from)

	// Creates carry every field the new side maps, whatever its direction.
	fields := make(map[string]any)
	for _, m := range p.full.Mappings(pl.entity) {
		if path := m.Path(to); path == "" || path == "id" {
			continue
		}
		if v, ok := rec.Fields[m.Field]; ok {
			fields[m.Field] = v
		}
	}
	patch, err := p.full.FromCanonical(to, pl.entity, fields)
	if err != nil {
		return err
	}
	pl.written[to] = fields
	pl.ops[to] = domain.Operation{Kind: domain.OpCreate, Entity: pl.entity, Patch: patch, Ref: pl.label}
	pl.commit = true
	return nil
}

// planUpdate resolves a changed link and schedules the net change per side.
// It reports manual when the record was left for a human.
func (p *pass) planUpdate(resolver *ConflictResolver, pl *recordPlan) (bool, error) {
	dec := pl.decision
	rec, err := resolver.Resolve(&dec, p.mapper.Mappings(pl.entity))
	if err != nil {
		return false, err
	}
	for _, n := range rec.Notes {
		p.result.Note(n)
	}
	if rec.Manual {
		p.result.Add(pl.entity, func(c *domain.Counts) { c.Conflicted++ })
		engineLog.Info("%s %s left for manual resolution: %s", pl.entity, pl.label, strings.Join(rec.ConflictedFields, ", "))
		return true, nil
	}

	for _, side := range domain.Sides() {
		current := dec.Record(side)
		diff := make(map[string]any)
		for field, v := range rec.Fields {
			m, ok := p.mapper.Mapping(pl.entity, field)
			if !ok || !m.Direction.WritesTo(side) {
				continue
			}
			if cur, ok := current.Fields[field]; ok && ValuesEqual(cur, v) {
				continue
			}
			diff[field] = v
		}
		if len(diff) == 0 {
			continue
		}
		patch, err := p.mapper.FromCanonical(side, pl.entity, diff)
		if err != nil {
			return false, err
		}
		pl.written[side] = diff
		pl.ops[side] = domain.Operation{
			Kind:   domain.OpUpdate,
			Entity: pl.entity,
			ID:     current.ID(side),
			Patch:  patch,
			Ref:    pl.label,
		}
	}
	pl.commit = true
	return false, nil
}

// planDelete applies delete_propagation to a vanished link. It returns false
// when nothing is to be done.
func (p *pass) planDelete(pl *recordPlan) bool {
	dec := pl.decision
	p.result.Note(domain.Note{
		Kind:   domain.NotePossiblyDeleted,
		Entity: pl.entity,
		ID:     pl.label,
		Detail: possiblyDeletedDetail(&dec),
	})

	if dec.MissingSide == "" {
		if p.engine.cfg.Sync.PruneOrphans {
			pl.drop = true
			return true
		}
		p.result.Add(pl.entity, func(c *domain.Counts) { c.Skipped++ })
		return false
	}

	survivor := dec.MissingSide.Other()
	id := dec.Entry.ExternalIDs[survivor]
	switch p.engine.cfg.Sync.DeletePropagation {
	case domain.DeleteMirror:
		pl.ops[survivor] = domain.Operation{Kind: domain.OpDelete, Entity: pl.entity, ID: id, Ref: pl.label}
		pl.drop = true
		return true
	case domain.DeleteArchive:
		pl.ops[survivor] = domain.Operation{Kind: domain.OpArchive, Entity: pl.entity, ID: id, Ref: pl.label}
		pl.tombstone = dec.MissingSide
		pl.commit = true
		return true
	}
	p.result.Add(pl.entity, func(c *domain.Counts) { c.Skipped++ })
	return false
}

func possiblyDeletedDetail(dec *domain.ChangeDecision) string {
	if dec.MissingSide == "" {
		return "missing from both stores"
	}
	return fmt.Sprintf("missing from %s, present on %s", dec.MissingSide, dec.MissingSide.Other())
}

// write submits the planned operations, both stores concurrently.
func (p *pass) write(ctx context.Context) {
	type batch struct {
		ops   []domain.Operation
		plans []*recordPlan
	}
	batches := make(map[domain.Side]*batch, 2)
	for _, side := range domain.Sides() {
		batches[side] = &batch{}
	}
	for _, pl := range p.plans {
		for _, side := range domain.Sides() {
			if op, ok := pl.ops[side]; ok {
				b := batches[side]
				b.ops = append(b.ops, op)
				b.plans = append(b.plans, pl)
			}
		}
	}

	var (
		wg       sync.WaitGroup
		outcomes [2][]domain.OperationOutcome
	)
	for i, side := range domain.Sides() {
		b := batches[side]
		if len(b.ops) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			engineLog.Info("writing %d operations to %s", len(b.ops), side)
			outcomes[i] = p.engine.executor.Execute(ctx, p.engine.stores[side], b.ops)
		}()
	}
	wg.Wait()

	for i, side := range domain.Sides() {
		b := batches[side]
		for j, o := range outcomes[i] {
			b.plans[j].outcomes[side] = o
		}
	}

	for _, pl := range p.plans {
		p.count(pl)
	}
}

// count tallies a plan once its outcomes are known (or, in a dry run, as planned).
func (p *pass) count(pl *recordPlan) {
	var failures []string
	for _, side := range domain.Sides() {
		if o, ok := pl.outcomes[side]; ok && !o.Succeeded() {
			failures = append(failures, fmt.Sprintf("%s %s: %v", side, o.Op.Kind, o.Err))
		}
	}
	if len(failures) > 0 {
		p.failEntity(pl.entity)
		p.result.Fail(pl.entity, pl.label, strings.Join(failures, "; "))
		return
	}

	switch {
	case len(pl.ops) == 0:
		p.result.Add(pl.entity, func(c *domain.Counts) { c.Skipped++ })
	case hasKind(pl.ops, domain.OpCreate):
		p.result.Add(pl.entity, func(c *domain.Counts) { c.Created++ })
	default:
		p.result.Add(pl.entity, func(c *domain.Counts) { c.Updated++ })
	}
}

func hasKind(ops map[domain.Side]domain.Operation, kind domain.OperationKind) bool {
	for _, op := range ops {
		if op.Kind == kind {
			return true
		}
	}
	return false
}

func (p *pass) failEntity(entity domain.EntityType) {
	for _, ep := range p.entities {
		if ep.entity == entity {
			ep.failed = true
		}
	}
}

// commit persists state for every record whose writes all succeeded. It runs
// even when the pass was cancelled during writing so no successful remote
// write is forgotten.
func (p *pass) commit(ctx context.Context) error {
	e := p.engine
	now := e.now()

	var (
		upserts []domain.SyncStateEntry
		drops   []domain.LinkRef
	)
	for _, pl := range p.plans {
		if !pl.succeeded() {
			continue
		}
		if pl.drop {
			if pl.decision.Entry != nil {
				drops = append(drops, pl.decision.Entry.Ref())
			}
			continue
		}
		if pl.commit {
			upserts = append(upserts, p.entryFor(pl, now))
		}
	}

	if len(upserts) > 0 {
		if err := e.state.Commit(ctx, upserts); err != nil {
			return fmt.Errorf("commit sync state: %w", err)
		}
	}
	if len(drops) > 0 {
		if err := e.state.Delete(ctx, drops); err != nil {
			return fmt.Errorf("delete sync state: %w", err)
		}
	}
	engineLog.Info("committed %d links, removed %d", len(upserts), len(drops))

	start := p.result.StartedAt
	for _, ep := range p.entities {
		if ep.failed {
			engineLog.Info("%s cursor not advanced: pass had failures", ep.entity)
			continue
		}
		for _, side := range domain.Sides() {
			if !e.stores[side].Capabilities().SupportsModifiedSince {
				continue
			}
			cur := domain.SyncCursor{Entity: ep.entity, Side: side, Since: start}
			if err := e.state.SaveCursor(ctx, cur); err != nil {
				return fmt.Errorf("save %s cursor for %s: %w", side, ep.entity, err)
			}
		}
	}
	return nil
}

// entryFor builds the state entry of a successfully written plan. Each side's
// snapshot is taken from the record the store returned when possible.
func (p *pass) entryFor(pl *recordPlan, now time.Time) domain.SyncStateEntry {
	dec := pl.decision
	ids := make(map[domain.Side]string, 2)
	fps := make(map[domain.Side]string, 2)
	snaps := make(map[domain.Side]map[string]any, 2)

	for _, side := range domain.Sides() {
		id := dec.Record(side).ID(side)
		if id == "" && dec.Entry != nil {
			id = dec.Entry.ExternalIDs[side]
		}
		outcome, wrote := pl.outcomes[side]
		if wrote && outcome.Record != nil && outcome.Record.ID != "" {
			id = outcome.Record.ID
		}
		ids[side] = id

		if pl.tombstone == side {
			continue
		}

		var fields map[string]any
		if wrote && outcome.Record != nil {
			if c, err := p.full.ToCanonical(side, pl.entity, *outcome.Record); err == nil {
				fields = c.Fields
			} else {
				engineLog.Debug("%s %s: snapshot from written values: %v", side, pl.label, err)
			}
		}
		if fields == nil {
			fields = p.expectedFields(pl, side)
		}
		p.keepUnsynced(pl, side, fields)
		snaps[side] = fields
		fps[side] = p.full.FingerprintFields(pl.entity, fields)
	}

	return domain.SyncStateEntry{
		EntityType:            pl.entity,
		LinkKey:               domain.LinkKeyFor(ids[domain.SideSource], ids[domain.SideTarget]),
		ExternalIDs:           ids,
		LastFingerprintBySide: fps,
		LastFieldsBySide:      snaps,
		LastSyncedAt:          now,
	}
}

// keepUnsynced restores the previous snapshot value of fields excluded by
// --fields, so their pending changes are still seen by a later full pass.
func (p *pass) keepUnsynced(pl *recordPlan, side domain.Side, fields map[string]any) {
	prev := pl.decision.Entry.Snapshot(side)
	if prev == nil || p.mapper == p.full {
		return
	}
	for _, m := range p.full.Mappings(pl.entity) {
		if !m.Syncable() {
			continue
		}
		if rm, ok := p.mapper.Mapping(pl.entity, m.Field); ok && rm.Syncable() {
			continue
		}
		if v, ok := prev[m.Field]; ok {
			fields[m.Field] = v
		}
	}
}

// expectedFields is a side's canonical view after the pass: what it had,
// overlaid with what was written to it.
func (p *pass) expectedFields(pl *recordPlan, side domain.Side) map[string]any {
	dec := pl.decision
	var base map[string]any
	if rec := dec.Record(side); rec != nil {
		base = maps.Clone(rec.Fields)
	} else if rec := dec.Record(side.Other()); rec != nil {
		base = maps.Clone(rec.Fields)
	}
	if base == nil {
		base = make(map[string]any)
	}
	maps.Copy(base, pl.written[side])
	return base
}

// Entries groups a state snapshot by entity, sorted by link key.
func Entries(state map[domain.LinkRef]domain.SyncStateEntry) map[domain.EntityType][]domain.SyncStateEntry {
	out := make(map[domain.EntityType][]domain.SyncStateEntry)
	for ref, entry := range state {
		out[ref.Entity] = append(out[ref.Entity], entry)
	}
	for entity := range out {
		list := out[entity]
		sort.Slice(list, func(i, j int) bool { return list[i].LinkKey < list[j].LinkKey })
	}
	return out
}
