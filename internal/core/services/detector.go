package services

import (
	"maps"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// ChangeDetector classifies linked pairs by comparing current fingerprints
// with the state recorded at the last successful sync.
type ChangeDetector struct {
	mapper *FieldMapper
}

// NewChangeDetector creates a detector that fingerprints with mapper.
func NewChangeDetector(mapper *FieldMapper) *ChangeDetector {
	return &ChangeDetector{mapper: mapper}
}

// Detect returns one decision per pair.
//
// incremental marks sides fetched with a since filter. On those sides a
// linked record that was not returned is treated as unchanged and its last
// snapshot stands in for it; on fully fetched sides it is possibly deleted.
func (d *ChangeDetector) Detect(pairs []Pair, incremental map[domain.Side]bool) []domain.ChangeDecision {
	out := make([]domain.ChangeDecision, 0, len(pairs))
	for i := range pairs {
		if dec, ok := d.detect(&pairs[i], incremental); ok {
			out = append(out, dec)
		}
	}
	return out
}

func (d *ChangeDetector) detect(p *Pair, incremental map[domain.Side]bool) (domain.ChangeDecision, bool) {
	dec := domain.ChangeDecision{Entity: p.Entity, Source: p.Source, Target: p.Target, Entry: p.Entry}

	if p.Entry == nil {
		switch {
		case p.Source != nil && p.Target != nil:
			// First sync of a naturally keyed pair: both sides count as changed.
			dec.Kind = domain.DecisionBoth
		case p.Source != nil || p.Target != nil:
			dec.Kind = domain.DecisionCreateOnOther
		default:
			return dec, false
		}
		return dec, true
	}

	entry := p.Entry
	missing := make(map[domain.Side]bool, 2)
	for _, side := range domain.Sides() {
		rec := p.Record(side)
		if rec == nil && incremental[side] && !tombstoned(entry, side) {
			rec = d.standIn(entry, side)
			if side == domain.SideSource {
				dec.Source = rec
			} else {
				dec.Target = rec
			}
		}
		if rec == nil {
			missing[side] = true
		}
	}

	switch {
	case missing[domain.SideSource] && missing[domain.SideTarget]:
		dec.Kind = domain.DecisionPossiblyDeleted
		return dec, true
	case missing[domain.SideSource] || missing[domain.SideTarget]:
		gone := domain.SideSource
		if missing[domain.SideTarget] {
			gone = domain.SideTarget
		}
		survivor := gone.Other()
		if tombstoned(entry, gone) && !d.changed(entry, survivor, dec.Record(survivor)) {
			dec.Kind = domain.DecisionNoChange
			return dec, true
		}
		dec.Kind = domain.DecisionPossiblyDeleted
		dec.MissingSide = gone
		return dec, true
	}

	changedA := d.changed(entry, domain.SideSource, dec.Source)
	changedB := d.changed(entry, domain.SideTarget, dec.Target)
	switch {
	case changedA && changedB:
		dec.Kind = domain.DecisionBoth
	case changedA:
		dec.Kind = domain.DecisionOnlyA
	case changedB:
		dec.Kind = domain.DecisionOnlyB
	default:
		dec.Kind = domain.DecisionNoChange
	}
	return dec, true
}

// changed compares a side's current fingerprint against its last snapshot.
// The snapshot is re-fingerprinted with the active mapper so a narrowed field
// set (--fields) or a new mapping compares like with like.
func (d *ChangeDetector) changed(entry *domain.SyncStateEntry, side domain.Side, rec *domain.CanonicalRecord) bool {
	if tombstoned(entry, side) {
		return true
	}
	current := d.mapper.FingerprintFields(rec.EntityType, rec.Fields)
	if snap := entry.Snapshot(side); snap != nil {
		return current != d.mapper.FingerprintFields(entry.EntityType, snap)
	}
	return current != entry.Fingerprint(side)
}

func (d *ChangeDetector) standIn(entry *domain.SyncStateEntry, side domain.Side) *domain.CanonicalRecord {
	snap := entry.Snapshot(side)
	if snap == nil {
		return nil
	}
	return &domain.CanonicalRecord{
		EntityType:  entry.EntityType,
		ExternalIDs: map[domain.Side]string{side: entry.ExternalIDs[side]},
		Fields:      maps.Clone(snap),
		Fingerprint: d.mapper.FingerprintFields(entry.EntityType, snap),
	}
}

// tombstoned reports whether a side was recorded as gone after a propagated
// archive: the link keeps the ID but holds no fingerprint for it.
func tombstoned(entry *domain.SyncStateEntry, side domain.Side) bool {
	return entry.ExternalIDs[side] != "" && entry.Fingerprint(side) == "" && entry.Snapshot(side) == nil
}
