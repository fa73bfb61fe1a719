package shopify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/ports/driven"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := New(&Config{
		Name:           "shop",
		Token:          "shpat_test",
		BaseURL:        srv.URL,
		PageSize:       2,
		CallsPerMinute: 60000,
	}, srv.Client())
	s.client.retryDelay = time.Millisecond
	return s
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func readBody(t *testing.T, r *http.Request) map[string]map[string]any {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func collect(t *testing.T, s *Store, entity domain.EntityType, since *time.Time) []domain.NativeRecord {
	t.Helper()
	var out []domain.NativeRecord
	err := s.List(t.Context(), entity, since, func(r domain.NativeRecord) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestParseConfig(t *testing.T) {
	t.Run("derives base url", func(t *testing.T) {
		cfg, err := ParseConfig(domain.StoreConfig{
			Type:     "shopify",
			Settings: map[string]string{"shop_domain": "acme.myshopify.com", "token": "x"},
		})
		require.NoError(t, err)
		assert.Equal(t, "shopify", cfg.Name)
		assert.Equal(t, "https://acme.myshopify.com/admin/api/"+DefaultAPIVersion, cfg.BaseURL)
		assert.Equal(t, MaxPageSize, cfg.PageSize)
		assert.Equal(t, DefaultCallsPerMinute, cfg.CallsPerMinute)
	})

	t.Run("base url override", func(t *testing.T) {
		cfg, err := ParseConfig(domain.StoreConfig{
			Name:     "shop",
			Settings: map[string]string{"base_url": "http://localhost:9999/", "token": "x", "page_size": "10"},
		})
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999", cfg.BaseURL)
		assert.Equal(t, 10, cfg.PageSize)
	})

	tests := []struct {
		name     string
		settings map[string]string
	}{
		{"missing token", map[string]string{"shop_domain": "a.myshopify.com"}},
		{"missing domain", map[string]string{"token": "x"}},
		{"page size too large", map[string]string{"shop_domain": "a", "token": "x", "page_size": "500"}},
		{"bad calls per minute", map[string]string{"shop_domain": "a", "token": "x", "calls_per_minute": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(domain.StoreConfig{Settings: tt.settings})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestStore_Interfaces(t *testing.T) {
	s := New(&Config{Name: "shop", Token: "x", BaseURL: "http://example.invalid"}, nil)

	var adapter driven.StoreAdapter = s
	assert.Equal(t, "shop", adapter.Name())
	caps := s.Capabilities()
	assert.True(t, caps.SupportsModifiedSince)
	assert.True(t, caps.SupportsArchive)
	assert.True(t, caps.SupportsDelete)
	assert.Equal(t, 1, caps.MaxBatchSize)
}

func TestStore_ListPaginates(t *testing.T) {
	var s *Store
	var srvURL string
	s = newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_test", r.Header.Get(HeaderAccessToken))
		assert.Equal(t, "/products.json", r.URL.Path)

		if r.URL.Query().Get("page_info") == "" {
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			w.Header().Set("Link", `<`+srvURL+`/products.json?page_info=next1&limit=2>; rel="next"`)
			writeJSON(t, w, http.StatusOK, map[string]any{"products": []map[string]any{
				{"id": 1, "title": "A", "updated_at": "2024-05-01T10:00:00Z"},
				{"id": 2, "title": "B"},
			}})
			return
		}
		w.Header().Set("Link", `<`+srvURL+`/products.json?page_info=prev>; rel="previous"`)
		writeJSON(t, w, http.StatusOK, map[string]any{"products": []map[string]any{
			{"id": 3, "title": "C"},
		}})
	})
	srvURL = s.config.BaseURL

	records := collect(t, s, domain.EntityProduct, nil)
	require.Len(t, records, 3)
	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, "A", records[0].Fields["title"])
	require.NotNil(t, records[0].ModifiedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), records[0].ModifiedAt.UTC())
	assert.Nil(t, records[1].ModifiedAt)
	assert.Equal(t, "3", records[2].ID)
}

func TestStore_ListSince(t *testing.T) {
	since := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-06-01T12:00:00Z", r.URL.Query().Get("updated_at_min"))
		assert.Equal(t, "any", r.URL.Query().Get("status"))
		writeJSON(t, w, http.StatusOK, map[string]any{"orders": []map[string]any{{"id": 7}}})
	})

	records := collect(t, s, domain.EntityOrder, &since)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].ID)
}

func TestStore_ListVariants(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products.json", r.URL.Path)
		assert.Equal(t, "id,variants", r.URL.Query().Get("fields"))
		writeJSON(t, w, http.StatusOK, map[string]any{"products": []map[string]any{
			{"id": 10, "variants": []map[string]any{{"id": 101, "sku": "A-1"}, {"id": 102, "sku": "A-2"}}},
			{"id": 11, "variants": []map[string]any{}},
		}})
	})

	records := collect(t, s, domain.EntityVariant, nil)
	require.Len(t, records, 2)
	assert.Equal(t, "101", records[0].ID)
	assert.Equal(t, "A-1", records[0].Fields["sku"])
	assert.Equal(t, json.Number("10"), records[0].Fields["product_id"])
}

func TestStore_ListRetriesAfterThrottle(t *testing.T) {
	var calls atomic.Int32
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			writeJSON(t, w, http.StatusTooManyRequests, map[string]any{"errors": "Exceeded 2 calls per second"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"customers": []map[string]any{{"id": 5}}})
	})

	records := collect(t, s, domain.EntityCustomer, nil)
	require.Len(t, records, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_ListPermanentError(t *testing.T) {
	var calls atomic.Int32
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusUnauthorized, map[string]any{"errors": "[API] Invalid API key or access token"})
	})

	err := s.List(t.Context(), domain.EntityProduct, nil, func(domain.NativeRecord) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.Equal(t, int32(1), calls.Load(), "permanent errors are not retried")
}

func TestStore_ListRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusBadGateway, map[string]any{"errors": "upstream"})
	})

	err := s.List(t.Context(), domain.EntityProduct, nil, func(domain.NativeRecord) error { return nil })
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int32(MaxRetries+1), calls.Load())
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/products.json", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := readBody(t, r)
		assert.Equal(t, "Lamp", body["product"]["title"])
		writeJSON(t, w, http.StatusCreated, map[string]any{"product": map[string]any{"id": 99, "title": "Lamp"}})
	})

	rec, err := s.Create(t.Context(), domain.EntityProduct, map[string]any{"title": "Lamp"})
	require.NoError(t, err)
	assert.Equal(t, "99", rec.ID)
}

func TestStore_CreateVariant(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/10/variants.json", r.URL.Path)
		writeJSON(t, w, http.StatusCreated, map[string]any{"variant": map[string]any{"id": 103, "product_id": 10}})
	})

	_, err := s.Create(t.Context(), domain.EntityVariant, map[string]any{"sku": "X"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	rec, err := s.Create(t.Context(), domain.EntityVariant, map[string]any{"sku": "X", "product_id": "10"})
	require.NoError(t, err)
	assert.Equal(t, "103", rec.ID)
}

func TestStore_CreateValidationError(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"errors": map[string]any{"title": []string{"can't be blank"}},
		})
	})

	_, err := s.Create(t.Context(), domain.EntityProduct, map[string]any{})
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.Code)
	assert.False(t, re.Retryable)
	assert.Contains(t, re.Message, "title")
}

func TestStore_UpdateAttachesVariantIDs(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/10.json", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, map[string]any{"product": map[string]any{
				"id": 10, "variants": []map[string]any{{"id": 101}, {"id": 102}},
			}})
		case http.MethodPut:
			body := readBody(t, r)
			p := body["product"]
			assert.EqualValues(t, 10, p["id"])
			variants := p["variants"].([]any)
			require.Len(t, variants, 2)
			assert.EqualValues(t, 101, variants[0].(map[string]any)["id"])
			assert.Equal(t, "A-1", variants[0].(map[string]any)["sku"])
			assert.EqualValues(t, 102, variants[1].(map[string]any)["id"])
			writeJSON(t, w, http.StatusOK, map[string]any{"product": map[string]any{"id": 10}})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	_, err := s.Update(t.Context(), domain.EntityProduct, "10", map[string]any{
		"variants": []any{map[string]any{"sku": "A-1"}, map[string]any{"sku": "A-2"}},
	})
	require.NoError(t, err)
}

func TestStore_UpdateWithoutVariants(t *testing.T) {
	var calls atomic.Int32
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/customers/5.json", r.URL.Path)
		body := readBody(t, r)
		assert.Equal(t, "Ada", body["customer"]["first_name"])
		writeJSON(t, w, http.StatusOK, map[string]any{"customer": map[string]any{"id": 5, "first_name": "Ada"}})
	})

	rec, err := s.Update(t.Context(), domain.EntityCustomer, "5", map[string]any{"first_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "5", rec.ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_Archive(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.Equal(t, "archived", body["product"]["status"])
		writeJSON(t, w, http.StatusOK, map[string]any{"product": map[string]any{"id": 10, "status": "archived"}})
	})

	rec, err := s.Archive(t.Context(), domain.EntityProduct, "10")
	require.NoError(t, err)
	assert.Equal(t, "archived", rec.Fields["status"])

	_, err = s.Archive(t.Context(), domain.EntityCustomer, "5")
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestStore_Delete(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodGet {
			writeJSON(t, w, http.StatusOK, map[string]any{"variant": map[string]any{"id": 101, "product_id": 10}})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})

	require.NoError(t, s.Delete(t.Context(), domain.EntityOrder, "7"))
	require.NoError(t, s.Delete(t.Context(), domain.EntityVariant, "101"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"DELETE /orders/7.json",
		"GET /variants/101.json",
		"DELETE /products/10/variants/101.json",
	}, paths)
}

func TestStore_Schema(t *testing.T) {
	s := New(&Config{Name: "shop", Token: "x", BaseURL: "http://example.invalid"}, nil)

	fields, err := s.Schema(t.Context(), domain.EntityProduct)
	require.NoError(t, err)
	assert.Contains(t, fields, "variants")
	assert.Contains(t, fields, "title")

	_, err = s.Schema(t.Context(), domain.EntityType("widget"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestStore_Closed(t *testing.T) {
	s := New(&Config{Name: "shop", Token: "x", BaseURL: "http://example.invalid"}, nil)
	require.NoError(t, s.Close())

	err := s.List(t.Context(), domain.EntityProduct, nil, func(domain.NativeRecord) error { return nil })
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	_, err = s.Create(t.Context(), domain.EntityProduct, nil)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}
