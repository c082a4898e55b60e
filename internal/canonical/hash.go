package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the hex sha256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Text hashes text as UTF-8 bytes.
func SHA256Text(text string) string {
	return SHA256Hex([]byte(text))
}

// Hash returns sha256(canonical JSON) of obj.
func Hash(obj any) (string, error) {
	s, err := JSON(obj)
	if err != nil {
		return "", err
	}
	return SHA256Text(s), nil
}

// MustHash is Hash for values known to fit the canonical model.
func MustHash(obj any) string {
	h, err := Hash(obj)
	if err != nil {
		panic(err)
	}
	return h
}

// MetricsHash hashes a metrics mapping: keys sorted, numeric values rounded
// to canonical precision, everything else coerced to its string form.
func MetricsHash(metrics map[string]any) string {
	norm := make(map[string]any, len(metrics))
	for k, v := range metrics {
		switch x := v.(type) {
		case float64:
			norm[k] = RoundFloat(x)
		case float32:
			norm[k] = RoundFloat(float64(x))
		case int:
			norm[k] = x
		case int64:
			norm[k] = x
		default:
			norm[k] = stringify(v)
		}
	}
	return MustHash(norm)
}

// EquityCurveHash hashes {curve: [(index, nav, drawdown), ...]} with nav and
// drawdown rounded to canonical precision.
func EquityCurveHash(nav, drawdown []float64) string {
	rows := make([]any, len(nav))
	for i := range nav {
		dd := 0.0
		if i < len(drawdown) {
			dd = drawdown[i]
		}
		rows[i] = []any{i, RoundFloat(nav[i]), RoundFloat(dd)}
	}
	return MustHash(map[string]any{"curve": rows})
}

// ProvenanceHash hashes the present subset of the three run digests. Absent
// (empty) fields are omitted so the digest is order-independent and stable
// across partially-populated records.
func ProvenanceHash(manifestHash, metricsHash, equityCurveHash string) string {
	m := map[string]any{}
	if manifestHash != "" {
		m["manifest_hash"] = manifestHash
	}
	if metricsHash != "" {
		m["metrics_hash"] = metricsHash
	}
	if equityCurveHash != "" {
		m["equity_curve_hash"] = equityCurveHash
	}
	return MustHash(m)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	s, err := JSON(v)
	if err != nil {
		return ""
	}
	return s
}
