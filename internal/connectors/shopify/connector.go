package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
	"github.com/custodia-labs/bisync/internal/logger"
)

var log = logger.With("shopify")

// Ensure Store implements the interfaces.
var (
	_ driven.StoreAdapter   = (*Store)(nil)
	_ driven.Archiver       = (*Store)(nil)
	_ driven.Deleter        = (*Store)(nil)
	_ driven.SchemaProvider = (*Store)(nil)
)

// Store reads and writes Shopify records through the Admin REST API.
type Store struct {
	config *Config
	client *Client
	mu     sync.Mutex
	closed bool
}

// New creates a Shopify store adapter.
func New(cfg *Config, httpClient *http.Client) *Store {
	return &Store{
		config: cfg,
		client: NewClient(cfg, httpClient),
	}
}

// Build is the driven.StoreBuilder for the "shopify" store type.
func Build(_ context.Context, sc domain.StoreConfig) (driven.StoreAdapter, error) {
	cfg, err := ParseConfig(sc)
	if err != nil {
		return nil, err
	}
	return New(cfg, nil), nil
}

// Name returns the configured store name.
func (s *Store) Name() string {
	return s.config.Name
}

// Capabilities returns the adapter's capabilities.
func (s *Store) Capabilities() driven.StoreCapabilities {
	return driven.StoreCapabilities{
		SupportsModifiedSince: true,
		SupportsArchive:       true,
		SupportsDelete:        true,
		MaxBatchSize:          1,
	}
}

// RateLimit returns the documented call budget.
func (s *Store) RateLimit() driven.RateLimit {
	return driven.RateLimit{CallsPerMinute: s.config.CallsPerMinute}
}

// List streams every record of an entity, following Link-header pages.
// Variants are read through their products.
func (s *Store) List(ctx context.Context, entity domain.EntityType, since *time.Time, fn func(domain.NativeRecord) error) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := lookupResource(entity)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.config.PageSize))
	if since != nil {
		q.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	if entity == domain.EntityOrder {
		q.Set("status", "any")
	}

	path, key := res.path, res.plural
	if entity == domain.EntityVariant {
		path, key = "products", "products"
		q.Set("fields", "id,variants")
	}

	next := s.client.url(path+".json", q)
	pages := 0
	for next != "" {
		var page map[string][]map[string]any
		next, err = s.client.getPage(ctx, next, &page)
		if err != nil {
			return fmt.Errorf("listing %s page %d: %w", entity, pages+1, err)
		}
		pages++

		for _, raw := range page[key] {
			if entity == domain.EntityVariant {
				if err := emitVariants(raw, fn); err != nil {
					return err
				}
				continue
			}
			if err := fn(toNative(raw)); err != nil {
				return err
			}
		}
	}
	log.Debug("listed %s in %d pages", entity, pages)
	return nil
}

// Create inserts a record. Variants need a product_id in the patch.
func (s *Store) Create(ctx context.Context, entity domain.EntityType, patch map[string]any) (*domain.NativeRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	res, err := lookupResource(entity)
	if err != nil {
		return nil, err
	}

	path := res.path + ".json"
	if entity == domain.EntityVariant {
		pid := rest.IDString(patch["product_id"])
		if pid == "" {
			return nil, fmt.Errorf("%w: creating a variant needs product_id", domain.ErrInvalidInput)
		}
		path = "products/" + pid + "/variants.json"
	}

	var out map[string]map[string]any
	if _, err := s.client.Do(ctx, http.MethodPost, s.client.url(path, nil), map[string]any{res.singular: patch}, &out); err != nil {
		return nil, err
	}
	return nativeFrom(out, res.singular)
}

// Update patches a record. Product variant patches are matched to the
// existing variants by position.
func (s *Store) Update(ctx context.Context, entity domain.EntityType, id string, patch map[string]any) (*domain.NativeRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	res, err := lookupResource(entity)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		body[k] = v
	}
	body["id"] = jsonID(id)

	if entity == domain.EntityProduct {
		if err := s.attachVariantIDs(ctx, id, body); err != nil {
			return nil, err
		}
	}

	var out map[string]map[string]any
	u := s.client.url(res.path+"/"+id+".json", nil)
	if _, err := s.client.Do(ctx, http.MethodPut, u, map[string]any{res.singular: body}, &out); err != nil {
		return nil, err
	}
	return nativeFrom(out, res.singular)
}

// Archive sets an archivable record's status to archived.
func (s *Store) Archive(ctx context.Context, entity domain.EntityType, id string) (*domain.NativeRecord, error) {
	res, err := lookupResource(entity)
	if err != nil {
		return nil, err
	}
	if !res.archivable {
		return nil, fmt.Errorf("%w: shopify %s has no archived state", domain.ErrNotSupported, entity)
	}
	return s.Update(ctx, entity, id, map[string]any{"status": "archived"})
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, entity domain.EntityType, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := lookupResource(entity)
	if err != nil {
		return err
	}

	path := res.path + "/" + id + ".json"
	if entity == domain.EntityVariant {
		var out map[string]map[string]any
		if _, err := s.client.Do(ctx, http.MethodGet, s.client.url("variants/"+id+".json", nil), nil, &out); err != nil {
			return err
		}
		pid := rest.IDString(out["variant"]["product_id"])
		path = "products/" + pid + "/variants/" + id + ".json"
	}

	_, err = s.client.Do(ctx, http.MethodDelete, s.client.url(path, nil), nil, nil)
	return err
}

// Schema returns the top-level fields of an entity.
func (s *Store) Schema(_ context.Context, entity domain.EntityType) ([]string, error) {
	res, err := lookupResource(entity)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), res.schema...), nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.http.CloseIdleConnections()
	return nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	return nil
}

// attachVariantIDs copies the existing variant IDs into a positional
// variants patch. Without IDs Shopify would replace the variants.
func (s *Store) attachVariantIDs(ctx context.Context, productID string, body map[string]any) error {
	patched, ok := body["variants"].([]any)
	if !ok || len(patched) == 0 {
		return nil
	}

	q := url.Values{"fields": {"id,variants"}}
	var out map[string]map[string]any
	if _, err := s.client.Do(ctx, http.MethodGet, s.client.url("products/"+productID+".json", q), nil, &out); err != nil {
		return err
	}
	current, _ := out["product"]["variants"].([]any)

	variants := make([]any, len(patched))
	for i, v := range patched {
		m, ok := v.(map[string]any)
		if !ok {
			variants[i] = v
			continue
		}
		cp := make(map[string]any, len(m)+1)
		for k, val := range m {
			cp[k] = val
		}
		if _, has := cp["id"]; !has && i < len(current) {
			if cur, ok := current[i].(map[string]any); ok {
				cp["id"] = cur["id"]
			}
		}
		variants[i] = cp
	}
	body["variants"] = variants
	return nil
}

func emitVariants(product map[string]any, fn func(domain.NativeRecord) error) error {
	variants, _ := product["variants"].([]any)
	for _, v := range variants {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, has := m["product_id"]; !has {
			m["product_id"] = product["id"]
		}
		if err := fn(toNative(m)); err != nil {
			return err
		}
	}
	return nil
}

func nativeFrom(envelope map[string]map[string]any, key string) (*domain.NativeRecord, error) {
	raw, ok := envelope[key]
	if !ok {
		return nil, fmt.Errorf("response has no %q object", key)
	}
	rec := toNative(raw)
	return &rec, nil
}

func toNative(raw map[string]any) domain.NativeRecord {
	rec := domain.NativeRecord{
		ID:     rest.IDString(raw["id"]),
		Fields: raw,
	}
	if s, ok := raw["updated_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			rec.ModifiedAt = &t
		}
	}
	return rec
}

// jsonID sends numeric IDs as numbers.
func jsonID(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}
