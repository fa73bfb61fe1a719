package domain

import "fmt"

// SyncDirection controls which way a field may flow.
type SyncDirection string

const (
	DirectionBidirectional  SyncDirection = "bidirectional"
	DirectionSourceToTarget SyncDirection = "source_to_target"
	DirectionTargetToSource SyncDirection = "target_to_source"
	DirectionNever          SyncDirection = "never"
)

// ParseSyncDirection validates a direction string. Empty means bidirectional.
func ParseSyncDirection(s string) (SyncDirection, error) {
	switch SyncDirection(s) {
	case "", DirectionBidirectional:
		return DirectionBidirectional, nil
	case DirectionSourceToTarget, DirectionTargetToSource, DirectionNever:
		return SyncDirection(s), nil
	}
	return "", fmt.Errorf("%w: sync direction %q", ErrInvalidInput, s)
}

// WritesTo reports whether a field with this direction may be written to side.
func (d SyncDirection) WritesTo(side Side) bool {
	switch d {
	case DirectionBidirectional:
		return true
	case DirectionSourceToTarget:
		return side == SideTarget
	case DirectionTargetToSource:
		return side == SideSource
	}
	return false
}

// FieldMapping binds one canonical field to a path on each side.
type FieldMapping struct {
	// Field is the canonical field name.
	Field string `toml:"field" yaml:"field"`

	// Entity is the entity type the mapping applies to.
	Entity EntityType `toml:"entity" yaml:"entity"`

	// SourcePath is the dotted path in the source store's native record.
	// Empty when the field does not exist on the source side.
	SourcePath string `toml:"source_path" yaml:"source_path"`

	// TargetPath is the dotted path in the target store's native record.
	TargetPath string `toml:"target_path" yaml:"target_path"`

	// Transform normalises values read from either side (an expr expression over `value`).
	Transform string `toml:"transform" yaml:"transform"`

	// ToSource and ToTarget reshape canonical values written to that side.
	ToSource string `toml:"to_source" yaml:"to_source"`
	ToTarget string `toml:"to_target" yaml:"to_target"`

	// Direction controls which way the field flows.
	Direction SyncDirection `toml:"sync_direction" yaml:"sync_direction"`

	// Optional resolves a missing path to null instead of failing.
	Optional bool `toml:"optional" yaml:"optional"`
}

// Path returns the native path for a side.
func (m FieldMapping) Path(side Side) string {
	if side == SideSource {
		return m.SourcePath
	}
	return m.TargetPath
}

// WriteExpr returns the outbound expression for a side.
func (m FieldMapping) WriteExpr(side Side) string {
	if side == SideSource {
		return m.ToSource
	}
	return m.ToTarget
}

// Syncable reports whether the field participates in fingerprints and writes.
func (m FieldMapping) Syncable() bool {
	return m.Direction != DirectionNever
}
