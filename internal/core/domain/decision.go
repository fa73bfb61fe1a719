package domain

// DecisionKind classifies what happened to a record since the last sync.
type DecisionKind int

const (
	// DecisionNoChange means neither side changed.
	DecisionNoChange DecisionKind = iota

	// DecisionOnlyA means only the source side changed.
	DecisionOnlyA

	// DecisionOnlyB means only the target side changed.
	DecisionOnlyB

	// DecisionBoth means both sides changed; a conflict candidate.
	DecisionBoth

	// DecisionCreateOnOther means the record exists on one side only and has no link.
	DecisionCreateOnOther

	// DecisionPossiblyDeleted means a linked record is missing from a full fetch.
	DecisionPossiblyDeleted
)

var decisionNames = map[DecisionKind]string{
	DecisionNoChange:        "no_change",
	DecisionOnlyA:           "only_a",
	DecisionOnlyB:           "only_b",
	DecisionBoth:            "both",
	DecisionCreateOnOther:   "create_on_other",
	DecisionPossiblyDeleted: "possibly_deleted",
}

func (k DecisionKind) String() string {
	if s, ok := decisionNames[k]; ok {
		return s
	}
	return "unknown"
}

// ChangeDecision is the detector's verdict for one record or link.
type ChangeDecision struct {
	Kind   DecisionKind
	Entity EntityType

	// Source and Target are the current records; either may be nil.
	Source *CanonicalRecord
	Target *CanonicalRecord

	// Entry is the prior state, nil on first sync.
	Entry *SyncStateEntry

	// MissingSide is set for PossiblyDeleted when exactly one side vanished.
	MissingSide Side
}

// Record returns the current record on a side.
func (d *ChangeDecision) Record(side Side) *CanonicalRecord {
	if side == SideSource {
		return d.Source
	}
	return d.Target
}

// PresentSide returns the side holding the record for CreateOnOther decisions.
func (d *ChangeDecision) PresentSide() Side {
	if d.Source != nil {
		return SideSource
	}
	return SideTarget
}

// Label returns a stable identifier for reports.
func (d *ChangeDecision) Label() string {
	if d.Entry != nil {
		return d.Entry.LinkKey
	}
	if id := d.Source.ID(SideSource); id != "" {
		return string(SideSource) + ":" + id
	}
	return string(SideTarget) + ":" + d.Target.ID(SideTarget)
}

// ReconciledRecord is the resolver output for one link.
type ReconciledRecord struct {
	// Fields is the agreed canonical value of every syncable field.
	Fields map[string]any

	// ConflictedFields lists fields changed on both sides with differing values.
	ConflictedFields []string

	// Manual is true when conflicts were left for a human.
	Manual bool

	// Notes carries diagnostics such as degraded resolution.
	Notes []Note
}
