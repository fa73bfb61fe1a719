package sheets

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	testSpreadsheet = "ss1"
	testSheetID     = 7
)

var cellRegex = regexp.MustCompile(`!([A-Z]+)(\d+)`)

// fakeSheets serves the subset of the Sheets v4 API the adapter uses, for
// one spreadsheet with a single "Products" tab.
type fakeSheets struct {
	t      *testing.T
	mu     sync.Mutex
	rows   [][]any
	calls  []string
	status int
}

func (f *fakeSheets) record(r *http.Request) {
	f.calls = append(f.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"+testSpreadsheet))
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(r)

	if f.status != 0 {
		status := f.status
		f.status = 0
		w.Header().Set("Retry-After", "0.01")
		f.reply(w, status, map[string]any{"error": map[string]any{"code": status, "message": "quota exceeded"}})
		return
	}

	base := "/v4/spreadsheets/" + testSpreadsheet
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == base+"/values/'Products'":
		f.reply(w, http.StatusOK, map[string]any{"range": "Products!A1:Z100", "values": f.rows})

	case r.Method == http.MethodPost && path == base+"/values/'Products':append":
		var body struct {
			Values [][]any `json:"values"`
		}
		f.decode(r, &body)
		first := len(f.rows) + 1
		f.rows = append(f.rows, body.Values...)
		f.reply(w, http.StatusOK, map[string]any{"updates": map[string]any{
			"updatedRange": fmt.Sprintf("Products!A%d:Z%d", first, len(f.rows)),
		}})

	case r.Method == http.MethodPost && path == base+"/values:batchUpdate":
		var body struct {
			Data []struct {
				Range  string  `json:"range"`
				Values [][]any `json:"values"`
			} `json:"data"`
		}
		f.decode(r, &body)
		for _, d := range body.Data {
			col, row := parseCell(f.t, d.Range)
			for len(f.rows[row-1]) <= col {
				f.rows[row-1] = append(f.rows[row-1], "")
			}
			f.rows[row-1][col] = d.Values[0][0]
		}
		f.reply(w, http.StatusOK, map[string]any{"totalUpdatedCells": len(body.Data)})

	case r.Method == http.MethodGet && path == base+"/values:batchGet":
		var ranges []map[string]any
		for _, rng := range r.URL.Query()["ranges"] {
			_, row := parseCell(f.t, rng)
			ranges = append(ranges, map[string]any{"range": rng, "values": [][]any{f.rows[row-1]}})
		}
		f.reply(w, http.StatusOK, map[string]any{"valueRanges": ranges})

	case r.Method == http.MethodGet && path == base:
		f.reply(w, http.StatusOK, map[string]any{"sheets": []map[string]any{
			{"properties": map[string]any{"sheetId": 3, "title": "Other"}},
			{"properties": map[string]any{"sheetId": testSheetID, "title": "Products"}},
		}})

	case r.Method == http.MethodPost && path == base+":batchUpdate":
		var body struct {
			Requests []struct {
				DeleteDimension struct {
					Range struct {
						SheetID    int64 `json:"sheetId"`
						StartIndex int   `json:"startIndex"`
						EndIndex   int   `json:"endIndex"`
					} `json:"range"`
				} `json:"deleteDimension"`
			} `json:"requests"`
		}
		f.decode(r, &body)
		for _, req := range body.Requests {
			rng := req.DeleteDimension.Range
			require.Equal(f.t, int64(testSheetID), rng.SheetID)
			f.rows = append(f.rows[:rng.StartIndex], f.rows[rng.EndIndex:]...)
		}
		f.reply(w, http.StatusOK, map[string]any{})

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeSheets) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeSheets) decode(r *http.Request, v any) {
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(v))
}

func (f *fakeSheets) snapshot() ([][]any, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([][]any, len(f.rows))
	copy(rows, f.rows)
	return rows, append([]string(nil), f.calls...)
}

func parseCell(t *testing.T, a1 string) (col, row int) {
	m := cellRegex.FindStringSubmatch(a1)
	require.NotNil(t, m, "range %q", a1)
	for _, c := range m[1] {
		col = col*26 + int(c-'A'+1)
	}
	row, err := strconv.Atoi(m[2])
	require.NoError(t, err)
	return col - 1, row
}

func newFakeStore(t *testing.T, rows [][]any, mutate func(*Config)) (*Store, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{t: t, rows: rows}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := &Config{
		Name:           "sheet",
		SpreadsheetID:  testSpreadsheet,
		Sheets:         map[domain.EntityType]string{domain.EntityProduct: "Products"},
		IDColumn:       DefaultIDColumn,
		BatchSize:      DefaultBatchSize,
		CallsPerMinute: 60000,
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(t.Context(), cfg,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
	s.retryDelay = time.Millisecond
	return s, fake
}
