package domain

import (
	"sort"
	"time"
)

// PassState is a step of the pass state machine.
type PassState string

const (
	StateIdle       PassState = "idle"
	StateFetching   PassState = "fetching"
	StateDetecting  PassState = "detecting"
	StateResolving  PassState = "resolving"
	StateWriting    PassState = "writing"
	StateCommitting PassState = "committing"
	StateDone       PassState = "done"
	StateFailed     PassState = "failed"
)

// passTransitions lists the legal successor of each state. Failed is reachable from any
// non-terminal state and is absorbing.
var passTransitions = map[PassState]PassState{
	StateIdle:       StateFetching,
	StateFetching:   StateDetecting,
	StateDetecting:  StateResolving,
	StateResolving:  StateWriting,
	StateWriting:    StateCommitting,
	StateCommitting: StateDone,
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to PassState) bool {
	if from == StateDone || from == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	return passTransitions[from] == to
}

// NoteKind classifies a non-error diagnostic.
type NoteKind string

const (
	NoteDegradedResolution NoteKind = "degraded_resolution"
	NoteLinkAmbiguity      NoteKind = "link_ambiguity"
	NotePossiblyDeleted    NoteKind = "possibly_deleted"
)

// Note is a diagnostic attached to a pass result.
type Note struct {
	Kind   NoteKind   `json:"kind"`
	Entity EntityType `json:"entity"`
	ID     string     `json:"id"`
	Detail string     `json:"detail"`
}

// RecordError is a per-record failure.
type RecordError struct {
	Entity EntityType `json:"entity"`
	ID     string     `json:"id"`
	Reason string     `json:"reason"`
}

// Counts tallies outcomes for one entity type.
type Counts struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Conflicted int `json:"conflicted"`
	Failed     int `json:"failed"`
}

// Writes returns the number of successful remote writes.
func (c Counts) Writes() int {
	return c.Created + c.Updated
}

// PlannedOperation describes a write scheduled by a pass, reported by dry runs.
type PlannedOperation struct {
	Side   Side          `json:"side"`
	Kind   OperationKind `json:"kind"`
	Entity EntityType    `json:"entity"`
	ID     string        `json:"id,omitempty"`
	Ref    string        `json:"ref"`
	Fields []string      `json:"fields,omitempty"`
}

// SyncResult reports one pass.
type SyncResult struct {
	PassID    string                `json:"pass_id"`
	DryRun    bool                  `json:"dry_run,omitempty"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
	State     PassState             `json:"state"`
	Counts    map[EntityType]Counts `json:"counts"`
	Errors    []RecordError         `json:"errors,omitempty"`
	Notes     []Note                `json:"notes,omitempty"`
	Planned   []PlannedOperation    `json:"planned,omitempty"`

	// Aborted is set when the whole pass failed.
	Aborted error `json:"-"`
	// AbortReason mirrors Aborted for serialisation.
	AbortReason string `json:"abort_reason,omitempty"`
}

// NewSyncResult creates an empty result.
func NewSyncResult(passID string, started time.Time) *SyncResult {
	return &SyncResult{
		PassID:    passID,
		StartedAt: started,
		State:     StateIdle,
		Counts:    make(map[EntityType]Counts),
	}
}

// Add applies fn to the counts of an entity.
func (r *SyncResult) Add(entity EntityType, fn func(*Counts)) {
	c := r.Counts[entity]
	fn(&c)
	r.Counts[entity] = c
}

// Fail records a per-record failure.
func (r *SyncResult) Fail(entity EntityType, id, reason string) {
	r.Add(entity, func(c *Counts) { c.Failed++ })
	r.Errors = append(r.Errors, RecordError{Entity: entity, ID: id, Reason: reason})
}

// Note appends a diagnostic.
func (r *SyncResult) Note(n Note) {
	r.Notes = append(r.Notes, n)
}

// Total sums counts across entities.
func (r *SyncResult) Total() Counts {
	var t Counts
	for _, c := range r.Counts {
		t.Created += c.Created
		t.Updated += c.Updated
		t.Skipped += c.Skipped
		t.Conflicted += c.Conflicted
		t.Failed += c.Failed
	}
	return t
}

// Entities returns the entity types present in Counts, sorted.
func (r *SyncResult) Entities() []EntityType {
	out := make([]EntityType, 0, len(r.Counts))
	for e := range r.Counts {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Duration returns how long the pass took.
func (r *SyncResult) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
