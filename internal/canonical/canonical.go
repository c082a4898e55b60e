// Package canonical implements the deterministic serialization and hashing
// used for run hashes, cache keys, manifests, and provenance proofs.
//
// The value model is restricted to: nil, bool, integers, float64, string,
// ordered lists ([]any) and string-keyed mappings (map[string]any), extended
// by conversion rules for time.Time (UTC ISO-8601 with trailing Z). Mappings
// are serialized key-sorted; list order is semantic and preserved. Floats are
// rounded to a configurable number of significant digits (default 12) by
// formatting with %.Ng, parsing back, and re-emitting with %.Ng (trailing
// zeros dropped) — the exact algorithm is pinned by shared test vectors so
// digests stay stable across implementations.
package canonical

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultFloatPrecision is the number of significant digits retained for
// float canonicalization when no override is configured.
const DefaultFloatPrecision = 12

// floatPrecision is process-wide; set once at startup from configuration.
var floatPrecision = DefaultFloatPrecision

// SetFloatPrecision overrides the canonical significant-digit count.
// Values outside [1, 17] are ignored.
func SetFloatPrecision(n int) {
	if n >= 1 && n <= 17 {
		floatPrecision = n
	}
}

// FloatPrecision returns the active significant-digit count.
func FloatPrecision() int { return floatPrecision }

// RoundFloat rounds x to the canonical significant-digit count by formatting
// with %g and parsing the result back. Zero and non-finite values pass
// through unchanged.
func RoundFloat(x float64) float64 {
	if x == 0 || math.IsInf(x, 0) || math.IsNaN(x) {
		return x
	}
	s := strconv.FormatFloat(x, 'g', floatPrecision, 64)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return x
	}
	return v
}

// JSON returns the canonical JSON encoding of obj: UTF-8, sorted mapping
// keys, "," and ":" separators, no HTML escaping, floats rounded to the
// canonical precision. Key order of input mappings cannot change the output;
// list order does.
func JSON(obj any) (string, error) {
	var b strings.Builder
	if err := encode(&b, obj); err != nil {
		return "", err
	}
	return b.String(), nil
}

// MustJSON is JSON for values known to fit the canonical model.
func MustJSON(obj any) string {
	s, err := JSON(obj)
	if err != nil {
		panic(err)
	}
	return s
}

func encode(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, x)
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case float32:
		return encode(b, float64(x))
	case float64:
		encodeFloat(b, x)
	case time.Time:
		encodeString(b, FormatTime(x))
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encode(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []string:
		lst := make([]any, len(x))
		for i, s := range x {
			lst[i] = s
		}
		return encode(b, lst)
	case []float64:
		lst := make([]any, len(x))
		for i, f := range x {
			lst[i] = f
		}
		return encode(b, lst)
	case []int64:
		lst := make([]any, len(x))
		for i, n := range x {
			lst[i] = n
		}
		return encode(b, lst)
	case map[string]int:
		m := make(map[string]any, len(x))
		for k, n := range x {
			m[k] = n
		}
		return encode(b, m)
	case map[string]float64:
		m := make(map[string]any, len(x))
		for k, f := range x {
			m[k] = f
		}
		return encode(b, m)
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return encode(b, m)
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

// encodeFloat emits the rounded float. Values that round to an integral
// magnitude below 1e15 are emitted without decimal point, matching the
// shared test vectors.
func encodeFloat(b *strings.Builder, x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		// Canonical model has no NaN/Inf literal; encode as null like the
		// reference serializer does for non-finite metric values.
		b.WriteString("null")
		return
	}
	r := RoundFloat(x)
	if r == math.Trunc(r) && math.Abs(r) < 1e15 {
		// Integral floats are emitted without a decimal point.
		b.WriteString(strconv.FormatInt(int64(r), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(r, 'g', floatPrecision, 64))
}

// FormatTime normalizes t to UTC ISO-8601 with +00:00 rewritten to Z.
func FormatTime(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.999999999-07:00")
	return strings.Replace(s, "+00:00", "Z", 1)
}

const hexDigits = "0123456789abcdef"

// encodeString writes a JSON string without HTML escaping, mirroring
// ensure_ascii=False output for valid UTF-8 input.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < 0x20 || c == '"' || c == '\\' {
			switch c {
			case '"':
				b.WriteString(`\"`)
			case '\\':
				b.WriteString(`\\`)
			case '\n':
				b.WriteString(`\n`)
			case '\r':
				b.WriteString(`\r`)
			case '\t':
				b.WriteString(`\t`)
			default:
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteString(`�`)
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	b.WriteByte('"')
}
