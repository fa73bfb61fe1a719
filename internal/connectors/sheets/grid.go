package sheets

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// quoteSheet renders a sheet title for A1 notation.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// columnName converts a zero-based column index to letters: 0 -> A, 26 -> AA.
func columnName(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}

// rowRange addresses a whole row across width columns; row is one-based.
func rowRange(title string, row, width int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quoteSheet(title), row, columnName(width-1), row)
}

// cellRange addresses one cell; col is zero-based, row one-based.
func cellRange(title string, col, row int) string {
	return fmt.Sprintf("%s!%s%d", quoteSheet(title), columnName(col), row)
}

var updatedRowRegex = regexp.MustCompile(`![A-Z]+(\d+)`)

// firstRow extracts the first row number from a range such as
// "Products!A5:D7".
func firstRow(a1 string) (int, bool) {
	m := updatedRowRegex.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// cellValue renders a field value for a RAW write. Nested values are
// stored as JSON text; nil clears the cell.
func cellValue(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case string, bool, float64, float32, int, int64, int32:
		return val
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// cellString renders a cell as text, used for IDs and headers.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
