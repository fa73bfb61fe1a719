package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/logger"
)

var watchLog = logger.With("mappings")

// debounce coalesces the burst of events an editor save produces.
const debounce = 150 * time.Millisecond

// Ensure MappingFile implements the interface.
var _ driven.MappingSource = (*MappingFile)(nil)

// MappingFile is a driven.MappingSource backed by a YAML file, keyed by
// entity:
//
//	product:
//	  - field: title
//	    source_path: title
//	    target_path: Title
//	    sync_direction: bidirectional
type MappingFile struct {
	path   string
	inline []domain.FieldMapping
}

// NewMappingFile creates a source reading path. Inline mappings are
// returned ahead of the file's. An empty path yields only the inline set.
func NewMappingFile(path string, inline []domain.FieldMapping) *MappingFile {
	return &MappingFile{path: path, inline: append([]domain.FieldMapping(nil), inline...)}
}

// Path returns the watched file, or "" when there is none.
func (m *MappingFile) Path() string {
	return m.path
}

// LoadMappings reads the current mapping set.
func (m *MappingFile) LoadMappings() ([]domain.FieldMapping, error) {
	out := append([]domain.FieldMapping(nil), m.inline...)
	if m.path == "" {
		return out, nil
	}
	fromFile, err := ReadMappings(m.path)
	if err != nil {
		return nil, err
	}
	return append(out, fromFile...), nil
}

// Watch signals whenever the mappings file is written, created or replaced.
// It watches the parent directory; a rename-on-save counts as a change.
func (m *MappingFile) Watch(ctx context.Context) (<-chan struct{}, error) {
	if m.path == "" {
		return nil, fmt.Errorf("%w: no mappings file to watch", domain.ErrNotSupported)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", m.path, err)
	}

	out := make(chan struct{}, 1)
	go m.watchLoop(ctx, w, out)
	return out, nil
}

func (m *MappingFile) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- struct{}) {
	defer close(out)
	defer w.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !m.handleEvent(event) {
				continue
			}
			watchLog.Debug("%s: %s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watch error: %v", err)
		case <-fire:
			fire = nil
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}

// handleEvent reports whether event changes the mappings file.
func (m *MappingFile) handleEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(m.path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

// ReadMappings decodes a YAML mappings file.
func ReadMappings(path string) ([]domain.FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mappings file: %w", err)
	}
	return ParseMappings(data)
}

// ParseMappings decodes a YAML mapping document. Entities are returned in
// name order; mappings keep their order within an entity.
func ParseMappings(data []byte) ([]domain.FieldMapping, error) {
	var doc map[string][]domain.FieldMapping
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing mappings: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.FieldMapping
	for _, name := range names {
		entity, err := domain.ParseEntityType(name)
		if err != nil {
			return nil, &domain.MappingError{Reason: err.Error()}
		}
		for _, fm := range doc[name] {
			if fm.Entity != "" && fm.Entity != entity {
				return nil, &domain.MappingError{
					Entity: entity,
					Field:  fm.Field,
					Reason: fmt.Sprintf("listed under %s but declares entity %s", entity, fm.Entity),
				}
			}
			fm.Entity = entity
			out = append(out, fm)
		}
	}
	return out, nil
}
