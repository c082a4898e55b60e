// Package dataset loads and normalizes candle datasets into canonical
// frames: CSV ingestion with legacy vendor schema detection, timezone
// normalization, anomaly accounting, calendar gap classification, corporate
// action adjustments, and a process-wide keyed cache.
package dataset

// Metadata describes a canonically loaded dataset. DataHash is the stable
// digest of the normalized rows (combined with adjustment policy and factors
// digest when the policy is not "none") and participates in run hashes.
type Metadata struct {
	Symbol             string         `json:"symbol" msgpack:"symbol"`
	Timeframe          string         `json:"timeframe" msgpack:"timeframe"`
	DataHash           string         `json:"data_hash" msgpack:"data_hash"`
	CalendarID         string         `json:"calendar_id,omitempty" msgpack:"calendar_id"`
	RowCountRaw        int            `json:"row_count_raw" msgpack:"row_count_raw"`
	RowCountCanonical  int            `json:"row_count_canonical" msgpack:"row_count_canonical"`
	FirstTs            int64          `json:"first_ts" msgpack:"first_ts"`
	LastTs             int64          `json:"last_ts" msgpack:"last_ts"`
	AnomalyCounters    map[string]int `json:"anomaly_counters" msgpack:"anomaly_counters"`
	CreatedAt          int64          `json:"created_at" msgpack:"created_at"`
	ObservedBarSeconds int64          `json:"observed_bar_seconds,omitempty" msgpack:"observed_bar_seconds"`
	DeclaredBarSeconds int64          `json:"declared_bar_seconds,omitempty" msgpack:"declared_bar_seconds"`
	TimeframeOK        *bool          `json:"timeframe_ok,omitempty" msgpack:"timeframe_ok"`
	AdjustmentPolicy   string         `json:"adjustment_policy,omitempty" msgpack:"adjustment_policy"`
	FactorsDigest      string         `json:"adjustment_factors_digest,omitempty" msgpack:"adjustment_factors_digest"`
}

// Anomaly counter keys. Load records a key only when it counts something or
// the calendar check ran; NormalizedAnomalies fills the first six with zero
// when absent. The mismatch counter appears only when the observed bar cadence contradicts the
// declared timeframe.
const (
	AnomalyDuplicatesDropped  = "duplicates_dropped"
	AnomalyRowsDroppedMissing = "rows_dropped_missing"
	AnomalyZeroVolumeRows     = "zero_volume_rows"
	AnomalyFutureRowsDropped  = "future_rows_dropped"
	AnomalyUnexpectedGaps     = "unexpected_gaps"
	AnomalyExpectedClosures   = "expected_closures"
	AnomalyTimeframeMismatch  = "timeframe_mismatch"
)

// expectedAnomalyKeys are normalized to zero so downstream consumers can rely
// on their presence.
var expectedAnomalyKeys = []string{
	AnomalyDuplicatesDropped,
	AnomalyRowsDroppedMissing,
	AnomalyZeroVolumeRows,
	AnomalyFutureRowsDropped,
	AnomalyUnexpectedGaps,
	AnomalyExpectedClosures,
}

// NormalizedAnomalies returns the counters with all expected keys present.
func (m *Metadata) NormalizedAnomalies() map[string]int {
	out := make(map[string]int, len(m.AnomalyCounters)+len(expectedAnomalyKeys))
	for k, v := range m.AnomalyCounters {
		out[k] = v
	}
	for _, k := range expectedAnomalyKeys {
		if _, ok := out[k]; !ok {
			out[k] = 0
		}
	}
	return out
}
