package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of record being synchronised.
type EntityType string

const (
	EntityProduct    EntityType = "product"
	EntityVariant    EntityType = "variant"
	EntityOrder      EntityType = "order"
	EntityCustomer   EntityType = "customer"
	EntityCollection EntityType = "collection"
)

// AllEntityTypes returns every supported entity type.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityProduct, EntityVariant, EntityOrder, EntityCustomer, EntityCollection}
}

// ParseEntityType validates a configured entity name.
func ParseEntityType(s string) (EntityType, error) {
	for _, e := range AllEntityTypes() {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: entity %q", ErrUnsupportedType, s)
}

// Side is one of the two stores taking part in a sync.
type Side string

const (
	// SideSource is store A (the commerce platform).
	SideSource Side = "source"
	// SideTarget is store B (the spreadsheet database).
	SideTarget Side = "target"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideSource {
		return SideTarget
	}
	return SideSource
}

// Sides lists both sides in a fixed order.
func Sides() []Side {
	return []Side{SideSource, SideTarget}
}

// NativeRecord is a record in a store's own representation.
type NativeRecord struct {
	// ID is the store-native identifier.
	ID string

	// Fields holds the store payload; values may be nested maps and slices.
	Fields map[string]any

	// ModifiedAt is the store's last-modified timestamp, nil when unsupported.
	ModifiedAt *time.Time
}

// CanonicalRecord is the platform-neutral representation of one entity.
type CanonicalRecord struct {
	EntityType EntityType

	// ExternalIDs maps each side to its store-native identifier.
	ExternalIDs map[Side]string

	// Fields maps canonical field names to values.
	Fields map[string]any

	// Fingerprint is a content hash of Fields.
	Fingerprint string

	// SourceModifiedAt is the per-side last-modified time, when exposed.
	SourceModifiedAt map[Side]time.Time
}

// IsLinked reports whether the record has an identifier on both sides.
func (r *CanonicalRecord) IsLinked() bool {
	return r.ExternalIDs[SideSource] != "" && r.ExternalIDs[SideTarget] != ""
}

// ID returns the identifier on the given side.
func (r *CanonicalRecord) ID(side Side) string {
	if r == nil {
		return ""
	}
	return r.ExternalIDs[side]
}

// ModifiedAt returns the last-modified time on a side and whether it is known.
func (r *CanonicalRecord) ModifiedAt(side Side) (time.Time, bool) {
	if r == nil || r.SourceModifiedAt == nil {
		return time.Time{}, false
	}
	t, ok := r.SourceModifiedAt[side]
	return t, ok && !t.IsZero()
}
