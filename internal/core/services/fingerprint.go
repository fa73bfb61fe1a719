package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// fingerprintDomain separates record fingerprints from any other hash of the same bytes.
const fingerprintDomain = "bisync/fields/v1"

// Fingerprint returns a content hash of fields.
// Keys are sorted, strings are NFC normalised and integral numbers render
// identically whether they arrived as int or float, so the result does not
// depend on map order or on how a store's JSON decoder typed a number.
func Fingerprint(fields map[string]any) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	h.Write(canonicalBytes(fields))
	return hex.EncodeToString(h.Sum(nil))
}

// ValuesEqual compares two field values by their canonical encoding.
func ValuesEqual(a, b any) bool {
	return bytes.Equal(canonicalBytes(a), canonicalBytes(b))
}

func canonicalBytes(v any) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.Bytes()
}

//nolint:gocyclo // type switch over every scalar a decoder can produce
func writeCanonical(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		writeString(buf, val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			writeFloat(buf, f)
		} else {
			writeString(buf, val.String())
		}
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float32:
		writeFloat(buf, float64(val))
	case float64:
		writeFloat(buf, val)
	case time.Time:
		writeString(buf, val.UTC().Format(time.RFC3339Nano))
	case *time.Time:
		if val == nil {
			buf.WriteString("null")
			return
		}
		writeString(buf, val.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		writeObject(buf, val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		writeObject(buf, obj)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, elem)
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, elem)
		}
		buf.WriteByte(']')
	default:
		writeString(buf, fmt.Sprintf("%v", val))
	}
}

func writeObject(buf *bytes.Buffer, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		writeCanonical(buf, obj[k])
	}
	buf.WriteByte('}')
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Quote(norm.NFC.String(s)))
}

// writeFloat renders integral values without a fractional part so 20 and 20.0 agree.
func writeFloat(buf *bytes.Buffer, f float64) {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
