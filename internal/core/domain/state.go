package domain

import "time"

// LinkRef addresses one persisted link.
type LinkRef struct {
	Entity EntityType
	Key    string
}

// LinkKeyFor derives the persistent link key from both external identifiers.
func LinkKeyFor(sourceID, targetID string) string {
	return sourceID + "|" + targetID
}

// SyncStateEntry is the persisted record of one link at its last successful sync.
type SyncStateEntry struct {
	// EntityType is the kind of record linked.
	EntityType EntityType

	// LinkKey identifies the link within its entity type.
	LinkKey string

	// ExternalIDs holds the identifier on each side.
	ExternalIDs map[Side]string

	// LastFingerprintBySide is the fingerprint recorded per side at last sync.
	LastFingerprintBySide map[Side]string

	// LastFieldsBySide is each side's canonical snapshot at last sync.
	LastFieldsBySide map[Side]map[string]any

	// LastSyncedAt is when the link was last committed.
	LastSyncedAt time.Time
}

// Ref returns the entry's address.
func (e *SyncStateEntry) Ref() LinkRef {
	return LinkRef{Entity: e.EntityType, Key: e.LinkKey}
}

// Fingerprint returns the recorded fingerprint for a side.
func (e *SyncStateEntry) Fingerprint(side Side) string {
	if e == nil || e.LastFingerprintBySide == nil {
		return ""
	}
	return e.LastFingerprintBySide[side]
}

// Snapshot returns the recorded canonical fields for a side.
func (e *SyncStateEntry) Snapshot(side Side) map[string]any {
	if e == nil || e.LastFieldsBySide == nil {
		return nil
	}
	return e.LastFieldsBySide[side]
}

// SyncCursor tracks the incremental fetch position for one entity on one side.
type SyncCursor struct {
	Entity EntityType
	Side   Side

	// Since is the start time of the last pass that completed without failures.
	Since time.Time
}
