package services

import (
	"fmt"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// ConflictResolver merges a Both/OnlyA/OnlyB decision into agreed field values.
type ConflictResolver struct {
	priority domain.Priority
	fallback domain.Priority
}

// NewConflictResolver creates a resolver. fallback must be a static priority;
// it decides most_recent_wins conflicts when timestamps cannot.
func NewConflictResolver(priority, fallback domain.Priority) *ConflictResolver {
	if !fallback.IsStatic() {
		fallback = domain.PrioritySourceWins
	}
	return &ConflictResolver{priority: priority, fallback: fallback}
}

// Resolve computes the reconciled value of every syncable field of a decision.
// Fields that changed on neither side are left out of the result.
func (r *ConflictResolver) Resolve(dec *domain.ChangeDecision, mappings []domain.FieldMapping) (domain.ReconciledRecord, error) {
	switch dec.Kind {
	case domain.DecisionOnlyA, domain.DecisionOnlyB, domain.DecisionBoth:
	default:
		return domain.ReconciledRecord{}, fmt.Errorf("%w: cannot resolve %s decision", domain.ErrInvalidInput, dec.Kind)
	}
	if dec.Source == nil || dec.Target == nil {
		return domain.ReconciledRecord{}, fmt.Errorf("%w: %s decision without both records", domain.ErrInvalidInput, dec.Kind)
	}

	out := domain.ReconciledRecord{Fields: make(map[string]any)}
	degraded := false

	for _, m := range mappings {
		if !m.Syncable() || isIdentityField(m) {
			continue
		}
		src := dec.Source.Fields[m.Field]
		tgt := dec.Target.Fields[m.Field]

		switch m.Direction {
		case domain.DirectionSourceToTarget:
			out.Fields[m.Field] = src
			continue
		case domain.DirectionTargetToSource:
			out.Fields[m.Field] = tgt
			continue
		}

		changedA := fieldChanged(dec.Entry, domain.SideSource, m.Field, src)
		changedB := fieldChanged(dec.Entry, domain.SideTarget, m.Field, tgt)
		switch {
		case !changedA && !changedB:
			continue
		case changedA && !changedB:
			out.Fields[m.Field] = src
			continue
		case changedB && !changedA:
			out.Fields[m.Field] = tgt
			continue
		}

		if ValuesEqual(src, tgt) {
			out.Fields[m.Field] = src
			continue
		}

		winner, ok, fellBack := r.pick(dec)
		if fellBack {
			degraded = true
		}
		if !ok {
			out.ConflictedFields = append(out.ConflictedFields, m.Field)
			out.Manual = true
			continue
		}
		if winner == domain.SideSource {
			out.Fields[m.Field] = src
		} else {
			out.Fields[m.Field] = tgt
		}
	}

	if degraded {
		out.Notes = append(out.Notes, domain.Note{
			Kind:   domain.NoteDegradedResolution,
			Entity: dec.Entity,
			ID:     dec.Label(),
			Detail: fmt.Sprintf("most_recent_wins without comparable timestamps, used %s", r.fallback),
		})
	}
	return out, nil
}

// pick returns the winning side for a conflicting field. ok is false for
// manual resolution; fellBack is true when most_recent_wins could not decide.
func (r *ConflictResolver) pick(dec *domain.ChangeDecision) (winner domain.Side, ok, fellBack bool) {
	switch r.priority {
	case domain.PrioritySourceWins:
		return domain.SideSource, true, false
	case domain.PriorityTargetWins:
		return domain.SideTarget, true, false
	case domain.PriorityManual:
		return "", false, false
	}

	ta, okA := dec.Source.ModifiedAt(domain.SideSource)
	tb, okB := dec.Target.ModifiedAt(domain.SideTarget)
	switch {
	case okA && okB && ta.After(tb):
		return domain.SideSource, true, false
	case okA && okB && tb.After(ta):
		return domain.SideTarget, true, false
	}
	return staticWinner(r.fallback), true, true
}

func staticWinner(p domain.Priority) domain.Side {
	if p == domain.PriorityTargetWins {
		return domain.SideTarget
	}
	return domain.SideSource
}

// fieldChanged compares a field against the side's last snapshot. Without a
// snapshot every field counts as changed.
func fieldChanged(entry *domain.SyncStateEntry, side domain.Side, field string, current any) bool {
	snap := entry.Snapshot(side)
	if snap == nil {
		return true
	}
	prev, ok := snap[field]
	if !ok {
		return true
	}
	return !ValuesEqual(prev, current)
}

// isIdentityField reports mappings onto a store's own identifier, which the
// link owns and no write may change.
func isIdentityField(m domain.FieldMapping) bool {
	return m.SourcePath == "id" || m.TargetPath == "id"
}
