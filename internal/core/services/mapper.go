package services

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// compiledMapping is a FieldMapping with its expressions compiled.
type compiledMapping struct {
	domain.FieldMapping
	transform *vm.Program
	write     map[domain.Side]*vm.Program
}

// FieldMapper translates between native store records and canonical records.
// It is immutable once built and safe for concurrent use.
type FieldMapper struct {
	byEntity map[domain.EntityType][]compiledMapping
}

// NewFieldMapper validates and compiles a mapping set.
// Every defect is reported as a *domain.MappingError.
func NewFieldMapper(mappings []domain.FieldMapping) (*FieldMapper, error) {
	fm := &FieldMapper{byEntity: make(map[domain.EntityType][]compiledMapping)}
	seen := make(map[domain.EntityType]map[string]bool)

	var errs []error
	for _, m := range mappings {
		cm, err := compileMapping(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[cm.Entity] == nil {
			seen[cm.Entity] = make(map[string]bool)
		}
		if seen[cm.Entity][cm.Field] {
			errs = append(errs, &domain.MappingError{Entity: cm.Entity, Field: cm.Field, Reason: "duplicate canonical field"})
			continue
		}
		seen[cm.Entity][cm.Field] = true
		fm.byEntity[cm.Entity] = append(fm.byEntity[cm.Entity], cm)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for entity := range fm.byEntity {
		list := fm.byEntity[entity]
		sort.Slice(list, func(i, j int) bool { return list[i].Field < list[j].Field })
	}
	return fm, nil
}

func compileMapping(m domain.FieldMapping) (compiledMapping, error) {
	if _, err := domain.ParseEntityType(string(m.Entity)); err != nil {
		return compiledMapping{}, &domain.MappingError{Entity: m.Entity, Field: m.Field, Reason: "unknown entity type"}
	}
	if m.Field == "" {
		return compiledMapping{}, &domain.MappingError{Entity: m.Entity, Reason: "field name is required"}
	}
	dir, err := domain.ParseSyncDirection(string(m.Direction))
	if err != nil {
		return compiledMapping{}, &domain.MappingError{Entity: m.Entity, Field: m.Field, Reason: err.Error()}
	}
	m.Direction = dir

	if m.SourcePath == "" && m.TargetPath == "" {
		return compiledMapping{}, &domain.MappingError{Entity: m.Entity, Field: m.Field, Reason: "no source_path or target_path"}
	}
	if dir != domain.DirectionNever && (m.SourcePath == "" || m.TargetPath == "") {
		return compiledMapping{}, &domain.MappingError{
			Entity: m.Entity, Field: m.Field,
			Reason: fmt.Sprintf("%s fields need both source_path and target_path", dir),
		}
	}

	cm := compiledMapping{FieldMapping: m, write: make(map[domain.Side]*vm.Program)}
	if m.Transform != "" {
		p, err := compileTransform(m.Transform)
		if err != nil {
			return compiledMapping{}, &domain.MappingError{Entity: m.Entity, Field: m.Field, Reason: "transform: " + err.Error()}
		}
		cm.transform = p
	}
	for _, side := range domain.Sides() {
		src := m.WriteExpr(side)
		if src == "" {
			continue
		}
		p, err := compileTransform(src)
		if err != nil {
			return compiledMapping{}, &domain.MappingError{
				Entity: m.Entity, Field: m.Field, Path: m.Path(side),
				Reason: fmt.Sprintf("to_%s: %v", side, err),
			}
		}
		cm.write[side] = p
	}
	return cm, nil
}

// Entities returns the entity types with at least one mapping.
func (fm *FieldMapper) Entities() []domain.EntityType {
	out := make([]domain.EntityType, 0, len(fm.byEntity))
	for e := range fm.byEntity {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Mappings returns the mappings for an entity in canonical field order.
func (fm *FieldMapper) Mappings(entity domain.EntityType) []domain.FieldMapping {
	list := fm.byEntity[entity]
	out := make([]domain.FieldMapping, len(list))
	for i, cm := range list {
		out[i] = cm.FieldMapping
	}
	return out
}

// Mapping returns the mapping of one canonical field.
func (fm *FieldMapper) Mapping(entity domain.EntityType, field string) (domain.FieldMapping, bool) {
	for _, cm := range fm.byEntity[entity] {
		if cm.Field == field {
			return cm.FieldMapping, true
		}
	}
	return domain.FieldMapping{}, false
}

// Restrict returns a mapper where only the listed fields sync; every other
// field stays readable (for linking) but is treated as never-synced.
func (fm *FieldMapper) Restrict(fields []string) *FieldMapper {
	if len(fields) == 0 {
		return fm
	}
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	out := &FieldMapper{byEntity: make(map[domain.EntityType][]compiledMapping, len(fm.byEntity))}
	for entity, list := range fm.byEntity {
		cp := make([]compiledMapping, len(list))
		copy(cp, list)
		for i := range cp {
			if !keep[cp[i].Field] {
				cp[i].Direction = domain.DirectionNever
			}
		}
		out.byEntity[entity] = cp
	}
	return out
}

// ValidateSchema checks that every path mapped on side resolves against schema.
func (fm *FieldMapper) ValidateSchema(side domain.Side, entity domain.EntityType, schema []string) error {
	set := make(map[string]struct{}, len(schema))
	for _, p := range schema {
		set[p] = struct{}{}
	}

	var errs []error
	for _, cm := range fm.byEntity[entity] {
		path := cm.Path(side)
		if path == "" || cm.Optional {
			continue
		}
		if !pathInSchema(set, path) {
			errs = append(errs, &domain.MappingError{
				Entity: entity, Field: cm.Field, Path: path,
				Reason: fmt.Sprintf("path does not resolve against %s schema", side),
			})
		}
	}
	return errors.Join(errs...)
}

// ToCanonical builds a canonical record from a native record.
func (fm *FieldMapper) ToCanonical(side domain.Side, entity domain.EntityType, native domain.NativeRecord) (domain.CanonicalRecord, error) {
	list, ok := fm.byEntity[entity]
	if !ok {
		return domain.CanonicalRecord{}, &domain.MappingError{Entity: entity, Reason: "no field mappings"}
	}

	fields := make(map[string]any, len(list))
	for _, cm := range list {
		path := cm.Path(side)
		if path == "" {
			continue
		}
		v, found := lookupPath(native.Fields, path)
		if !found {
			if !cm.Optional {
				return domain.CanonicalRecord{}, &domain.MappingError{
					Entity: entity, Field: cm.Field, Path: path,
					Reason: fmt.Sprintf("missing in %s record %s", side, native.ID),
				}
			}
			v = nil
		}
		if cm.transform != nil {
			out, err := runTransform(cm.transform, v, native.Fields)
			if err != nil {
				return domain.CanonicalRecord{}, &domain.MappingError{
					Entity: entity, Field: cm.Field, Path: path,
					Reason: fmt.Sprintf("transform failed on %s record %s: %v", side, native.ID, err),
				}
			}
			v = out
		}
		fields[cm.Field] = normalizeValue(v)
	}

	rec := domain.CanonicalRecord{
		EntityType:  entity,
		ExternalIDs: map[domain.Side]string{side: native.ID},
		Fields:      fields,
		Fingerprint: Fingerprint(fm.syncable(entity, fields)),
	}
	if native.ModifiedAt != nil {
		rec.SourceModifiedAt = map[domain.Side]time.Time{side: *native.ModifiedAt}
	}
	return rec, nil
}

// FromCanonical builds a native patch for side from canonical fields.
// Fields without a path on that side are skipped.
func (fm *FieldMapper) FromCanonical(side domain.Side, entity domain.EntityType, fields map[string]any) (map[string]any, error) {
	patch := make(map[string]any, len(fields))
	names := sortedKeys(fields)
	for _, name := range names {
		cm, ok := fm.lookup(entity, name)
		if !ok {
			return nil, &domain.MappingError{Entity: entity, Field: name, Reason: "no mapping for canonical field"}
		}
		path := cm.Path(side)
		if path == "" {
			continue
		}
		v := fields[name]
		if p := cm.write[side]; p != nil {
			out, err := runTransform(p, v, fields)
			if err != nil {
				return nil, &domain.MappingError{
					Entity: entity, Field: name, Path: path,
					Reason: fmt.Sprintf("to_%s failed: %v", side, err),
				}
			}
			v = out
		}
		setPath(patch, path, v)
	}
	return patch, nil
}

// FingerprintFields hashes the syncable subset of canonical fields.
func (fm *FieldMapper) FingerprintFields(entity domain.EntityType, fields map[string]any) string {
	return Fingerprint(fm.syncable(entity, fields))
}

func (fm *FieldMapper) syncable(entity domain.EntityType, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, cm := range fm.byEntity[entity] {
		if !cm.Syncable() {
			continue
		}
		if v, ok := fields[cm.Field]; ok {
			out[cm.Field] = v
		}
	}
	return out
}

func (fm *FieldMapper) lookup(entity domain.EntityType, field string) (compiledMapping, bool) {
	for _, cm := range fm.byEntity[entity] {
		if cm.Field == field {
			return cm, true
		}
	}
	return compiledMapping{}, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeValue renders times as UTC RFC 3339 strings so a value reads the
// same whether it comes from a store or from a persisted snapshot.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}
