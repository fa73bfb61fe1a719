package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to PassState
		want     bool
	}{
		{StateIdle, StateFetching, true},
		{StateFetching, StateDetecting, true},
		{StateResolving, StateWriting, true},
		{StateCommitting, StateDone, true},
		{StateIdle, StateWriting, false},
		{StateWriting, StateFetching, false},
		{StateFetching, StateFailed, true},
		{StateDone, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSyncResult_Totals(t *testing.T) {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewSyncResult("p1", started)
	r.Add(EntityProduct, func(c *Counts) { c.Created = 2; c.Skipped = 3 })
	r.Add(EntityOrder, func(c *Counts) { c.Updated = 1 })
	r.Fail(EntityOrder, "1001", "boom")

	assert.Equal(t, Counts{Created: 2, Updated: 1, Skipped: 3, Failed: 1}, r.Total())
	assert.Equal(t, 3, r.Total().Writes())
	assert.Equal(t, []EntityType{EntityOrder, EntityProduct}, r.Entities())
	assert.Equal(t, []RecordError{{Entity: EntityOrder, ID: "1001", Reason: "boom"}}, r.Errors)

	assert.Zero(t, r.Duration())
	r.EndedAt = started.Add(2 * time.Second)
	assert.Equal(t, 2*time.Second, r.Duration())
}

func TestSyncStateEntry_Accessors(t *testing.T) {
	var nilEntry *SyncStateEntry
	assert.Empty(t, nilEntry.Fingerprint(SideSource))
	assert.Nil(t, nilEntry.Snapshot(SideTarget))

	e := &SyncStateEntry{
		EntityType:            EntityProduct,
		LinkKey:               LinkKeyFor("P1", "r1"),
		LastFingerprintBySide: map[Side]string{SideSource: "fp-a"},
		LastFieldsBySide:      map[Side]map[string]any{SideTarget: {"title": "Hat"}},
	}
	assert.Equal(t, "P1|r1", e.LinkKey)
	assert.Equal(t, LinkRef{Entity: EntityProduct, Key: "P1|r1"}, e.Ref())
	assert.Equal(t, "fp-a", e.Fingerprint(SideSource))
	assert.Equal(t, map[string]any{"title": "Hat"}, e.Snapshot(SideTarget))
}

func TestSyncDirection(t *testing.T) {
	d, err := ParseSyncDirection("")
	assert.NoError(t, err)
	assert.Equal(t, DirectionBidirectional, d)

	_, err = ParseSyncDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.True(t, DirectionSourceToTarget.WritesTo(SideTarget))
	assert.False(t, DirectionSourceToTarget.WritesTo(SideSource))
	assert.True(t, DirectionTargetToSource.WritesTo(SideSource))
	assert.False(t, DirectionNever.WritesTo(SideTarget))
}

func TestParseEntityType(t *testing.T) {
	e, err := ParseEntityType("variant")
	assert.NoError(t, err)
	assert.Equal(t, EntityVariant, e)

	_, err = ParseEntityType("widget")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, SideTarget, SideSource.Other())
}
