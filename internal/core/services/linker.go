package services

import (
	"sort"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// Pair is a candidate link: a record on either side plus its persisted state.
// Any of the three may be nil.
type Pair struct {
	Entity domain.EntityType
	Source *domain.CanonicalRecord
	Target *domain.CanonicalRecord
	Entry  *domain.SyncStateEntry
}

// Record returns the pair's record on a side.
func (p *Pair) Record(side domain.Side) *domain.CanonicalRecord {
	if side == domain.SideSource {
		return p.Source
	}
	return p.Target
}

func (p *Pair) set(side domain.Side, rec *domain.CanonicalRecord) {
	if side == domain.SideSource {
		p.Source = rec
		return
	}
	p.Target = rec
}

// Matcher pairs records that have no stored cross-reference.
type Matcher interface {
	// Match returns pairs of matched records, the records left unmatched and
	// any ambiguities found. Ambiguous records appear in neither list.
	Match(entity domain.EntityType, source, target []*domain.CanonicalRecord) MatchResult
}

// MatchResult is the output of a Matcher.
type MatchResult struct {
	Pairs       [][2]*domain.CanonicalRecord
	Unmatched   []*domain.CanonicalRecord
	Ambiguities []*domain.LinkAmbiguityError
}

// KeyedMatcher is a Matcher that links on a single canonical field. The Linker
// uses the field to refuse new records that collide with an existing link.
type KeyedMatcher interface {
	Matcher
	KeyField(entity domain.EntityType) string
}

// NaturalKeyMatcher links records whose configured key field holds the same value.
type NaturalKeyMatcher struct {
	// Keys maps entity type to the canonical field used as natural key.
	Keys map[domain.EntityType]string
}

// NewNaturalKeyMatcher builds a matcher from the link_keys configuration.
func NewNaturalKeyMatcher(keys map[string]string) *NaturalKeyMatcher {
	m := &NaturalKeyMatcher{Keys: make(map[domain.EntityType]string, len(keys))}
	for entity, field := range keys {
		m.Keys[domain.EntityType(entity)] = field
	}
	return m
}

// KeyField returns the natural key of an entity, or "" when none is configured.
func (m *NaturalKeyMatcher) KeyField(entity domain.EntityType) string {
	return m.Keys[entity]
}

// Match implements Matcher.
func (m *NaturalKeyMatcher) Match(entity domain.EntityType, source, target []*domain.CanonicalRecord) MatchResult {
	var res MatchResult

	key, ok := m.Keys[entity]
	if !ok || key == "" {
		res.Unmatched = append(res.Unmatched, source...)
		res.Unmatched = append(res.Unmatched, target...)
		return res
	}

	_, srcAmb := indexByKey(entity, domain.SideSource, key, source)
	tgtIdx, tgtAmb := indexByKey(entity, domain.SideTarget, key, target)
	res.Ambiguities = append(res.Ambiguities, srcAmb...)
	res.Ambiguities = append(res.Ambiguities, tgtAmb...)

	excluded := make(map[string]bool)
	for _, a := range res.Ambiguities {
		excluded[a.Value] = true
	}

	matched := make(map[string]bool)
	for _, rec := range source {
		v := keyValue(rec, key)
		if v == "" {
			res.Unmatched = append(res.Unmatched, rec)
			continue
		}
		if excluded[v] {
			continue
		}
		if other, ok := tgtIdx[v]; ok {
			res.Pairs = append(res.Pairs, [2]*domain.CanonicalRecord{rec, other[0]})
			matched[v] = true
			continue
		}
		res.Unmatched = append(res.Unmatched, rec)
	}
	for _, rec := range target {
		v := keyValue(rec, key)
		if v != "" && (excluded[v] || matched[v]) {
			continue
		}
		res.Unmatched = append(res.Unmatched, rec)
	}
	return res
}

// indexByKey groups records by key value and reports values shared by
// more than one record.
func indexByKey(entity domain.EntityType, side domain.Side, key string, recs []*domain.CanonicalRecord) (map[string][]*domain.CanonicalRecord, []*domain.LinkAmbiguityError) {
	idx := make(map[string][]*domain.CanonicalRecord)
	for _, rec := range recs {
		if v := keyValue(rec, key); v != "" {
			idx[v] = append(idx[v], rec)
		}
	}

	var amb []*domain.LinkAmbiguityError
	for _, v := range sortedValues(idx) {
		group := idx[v]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		for i, rec := range group {
			ids[i] = rec.ID(side)
		}
		sort.Strings(ids)
		amb = append(amb, &domain.LinkAmbiguityError{Entity: entity, Side: side, Key: key, Value: v, IDs: ids})
	}
	return idx, amb
}

func sortedValues(idx map[string][]*domain.CanonicalRecord) []string {
	out := make([]string, 0, len(idx))
	for v := range idx {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func keyValue(rec *domain.CanonicalRecord, key string) string {
	return normalizeKey(rec.Fields[key])
}

func normalizeKey(v any) string {
	return normalizeSpace(v)
}

// LinkResult is the linker output for one entity.
type LinkResult struct {
	Pairs       []Pair
	Ambiguities []*domain.LinkAmbiguityError
}

// Linker pairs fetched records across sides: stored cross-references first,
// then the Matcher for whatever is left.
type Linker struct {
	matcher Matcher
}

// NewLinker creates a linker using m for unlinked records.
func NewLinker(m Matcher) *Linker {
	return &Linker{matcher: m}
}

// Link pairs records of one entity.
//
// entries are the state entries of that entity. Records listed in skip (by
// side and ID) failed conversion; entries referencing them are left out of
// the pass so a record that could not be read is never mistaken for a
// deleted one.
func (l *Linker) Link(
	entity domain.EntityType,
	source, target []*domain.CanonicalRecord,
	entries []domain.SyncStateEntry,
	skip map[domain.Side]map[string]bool,
) LinkResult {
	fetched := map[domain.Side]map[string]*domain.CanonicalRecord{
		domain.SideSource: indexByID(domain.SideSource, source),
		domain.SideTarget: indexByID(domain.SideTarget, target),
	}
	claimed := map[domain.Side]map[string]bool{
		domain.SideSource: {},
		domain.SideTarget: {},
	}
	linkedKeys := map[domain.Side]map[string]string{
		domain.SideSource: {},
		domain.SideTarget: {},
	}
	keyField := l.keyField(entity)

	sorted := make([]domain.SyncStateEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LinkKey < sorted[j].LinkKey })

	var res LinkResult
	for i := range sorted {
		entry := &sorted[i]
		pair := Pair{Entity: entity, Entry: entry}
		skipped := false
		for _, side := range domain.Sides() {
			id := entry.ExternalIDs[side]
			if skip[side][id] {
				skipped = true
			}
			claimed[side][id] = true
			rec := fetched[side][id]
			if rec != nil {
				pair.set(side, rec)
			}
			if keyField != "" {
				var v string
				if rec != nil {
					v = keyValue(rec, keyField)
				} else {
					v = normalizeKey(entry.Snapshot(side)[keyField])
				}
				if v != "" {
					linkedKeys[side][v] = id
				}
			}
		}
		if skipped {
			continue
		}
		res.Pairs = append(res.Pairs, pair)
	}

	var loose [2][]*domain.CanonicalRecord
	for i, side := range domain.Sides() {
		recs := source
		if side == domain.SideTarget {
			recs = target
		}
		for _, rec := range recs {
			id := rec.ID(side)
			if claimed[side][id] || skip[side][id] {
				continue
			}
			if keyField != "" {
				v := keyValue(rec, keyField)
				if other, ok := linkedKeys[side.Other()][v]; ok && v != "" {
					res.Ambiguities = append(res.Ambiguities, &domain.LinkAmbiguityError{
						Entity: entity, Side: side, Key: keyField, Value: v,
						IDs: []string{id, string(side.Other()) + ":" + other},
					})
					continue
				}
			}
			loose[i] = append(loose[i], rec)
		}
	}

	mr := l.matcher.Match(entity, loose[0], loose[1])
	res.Ambiguities = append(res.Ambiguities, mr.Ambiguities...)
	for _, m := range mr.Pairs {
		res.Pairs = append(res.Pairs, Pair{Entity: entity, Source: m[0], Target: m[1]})
	}
	for _, rec := range mr.Unmatched {
		p := Pair{Entity: entity}
		if rec.ID(domain.SideSource) != "" {
			p.Source = rec
		} else {
			p.Target = rec
		}
		res.Pairs = append(res.Pairs, p)
	}
	return res
}

func (l *Linker) keyField(entity domain.EntityType) string {
	if km, ok := l.matcher.(KeyedMatcher); ok {
		return km.KeyField(entity)
	}
	return ""
}

func indexByID(side domain.Side, recs []*domain.CanonicalRecord) map[string]*domain.CanonicalRecord {
	idx := make(map[string]*domain.CanonicalRecord, len(recs))
	for _, rec := range recs {
		idx[rec.ID(side)] = rec
	}
	return idx
}
