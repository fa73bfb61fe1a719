package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// transformHelpers are the functions available to mapping expressions in
// addition to expr's builtins. Every helper is deterministic and free of I/O.
var transformHelpers = map[string]any{
	"titleCase":      titleCase,
	"zip5":           zip5,
	"stripPrefix":    stripPrefix,
	"toNumber":       toNumber,
	"toText":         toText,
	"roundTo":        roundTo,
	"formatDate":     formatDate,
	"normalizeSpace": normalizeSpace,
}

// compileTransform compiles a mapping expression. The expression sees `value`
// (the field value) and `record` (the whole native payload on reads, the
// canonical fields on writes).
func compileTransform(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(transformEnv(nil, nil)))
}

func runTransform(program *vm.Program, value any, record map[string]any) (any, error) {
	return expr.Run(program, transformEnv(value, record))
}

func transformEnv(value any, record map[string]any) map[string]any {
	env := make(map[string]any, len(transformHelpers)+2)
	for k, fn := range transformHelpers {
		env[k] = fn
	}
	if record == nil {
		record = map[string]any{}
	}
	env["value"] = value
	env["record"] = record
	return env
}

func toText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var titleCaser = cases.Title(language.Und)

// titleCase folds whitespace and title-cases a name ("jane  DOE" -> "Jane Doe").
func titleCase(v any) string {
	return titleCaser.String(strings.ToLower(normalizeSpace(v)))
}

// zip5 strips a ZIP+4 suffix ("12345-6789" -> "12345").
func zip5(v any) string {
	s := strings.TrimSpace(toText(v))
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}

// stripPrefix removes prefix from a string value ("#1001" -> "1001").
func stripPrefix(v any, prefix string) string {
	return strings.TrimPrefix(toText(v), prefix)
}

// toNumber parses numeric strings, ignoring thousands separators and a
// leading currency sign. Non-numeric input yields nil.
func toNumber(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	s := strings.TrimSpace(toText(v))
	s = strings.TrimLeft(s, "$€£")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

// roundTo rounds a number to the given decimal places.
func roundTo(v any, places int) any {
	n, ok := toNumber(v).(float64)
	if !ok {
		return nil
	}
	p := math.Pow(10, float64(places))
	return math.Round(n*p) / p
}

// formatDate re-lays out a timestamp string using Go layouts.
// Unparseable input is returned unchanged.
func formatDate(v any, from, to string) string {
	s := toText(v)
	t, err := time.Parse(from, s)
	if err != nil {
		return s
	}
	return t.Format(to)
}

// normalizeSpace trims and collapses runs of whitespace.
func normalizeSpace(v any) string {
	return strings.Join(strings.Fields(toText(v)), " ")
}
