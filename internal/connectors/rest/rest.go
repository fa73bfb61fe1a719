// Package rest holds the HTTP plumbing shared by the REST store adapters:
// JSON decoding, Link-header pagination, remote error classification, call
// pacing and retries.
package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4 << 10
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseNextLink extracts the "next" URL from a Link header.
// Returns empty string if no next link is found.
func ParseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 && matches[2] == "next" {
			return matches[1]
		}
	}

	return ""
}

// ParseRetryAfter reads a Retry-After value given in seconds (fractions
// allowed) or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// DecodeJSON decodes a JSON body keeping numbers as json.Number.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// EncodeJSON encodes v as a request body.
func EncodeJSON(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// ErrorFromResponse builds a RemoteError from a non-2xx response. The body
// is consumed but not closed.
func ErrorFromResponse(store string, resp *http.Response) *domain.RemoteError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	re := domain.NewRemoteError(store, resp.StatusCode, errorMessage(body, resp.Status))
	re.RetryAfter = ParseRetryAfter(resp.Header.Get(HeaderRetryAfter), time.Now())
	return re
}

// errorMessage extracts a readable message from the common JSON error
// shapes: {"errors": "..."}, {"errors": {"field": ["..."]}}, {"error": "..."}.
func errorMessage(body []byte, status string) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			return s
		}
		return status
	}
	for _, key := range []string{"errors", "error", "message"} {
		if v, ok := payload[key]; ok {
			return flattenMessage(v)
		}
	}
	return status
}

func flattenMessage(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, flattenMessage(item))
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		parts := make([]string, 0, len(val))
		for k, item := range val {
			parts = append(parts, k+": "+flattenMessage(item))
		}
		sort.Strings(parts)
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}

// IDString renders a JSON identifier (number or string) as a string.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	}
	return fmt.Sprint(v)
}
