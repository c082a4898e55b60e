package run

import (
	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/strategy"
	"github.com/friscapuff/alphaforge-brain/internal/validation"
)

// Status is the run lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusValidating Status = "VALIDATING"
	StatusComplete   Status = "COMPLETE"
	StatusCancelled  Status = "CANCELLED"
	StatusError      Status = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusError
}

// Retention states a record can carry.
const (
	RetentionFull         = "full"
	RetentionPinned       = "pinned"
	RetentionTopK         = "top_k"
	RetentionManifestOnly = "manifest-only"
)

// ErrorInfo is recorded on ERROR runs.
type ErrorInfo struct {
	Code      string `json:"error_code"`
	Message   string `json:"message"`
	StackHash string `json:"stack_hash"`
}

// Record is the registry's view of one run. Records for COMPLETE runs are
// immutable except for the retention fields.
type Record struct {
	RunHash   string `json:"run_hash"`
	CreatedAt int64  `json:"created_at"`
	Status    Status `json:"status"`

	Summary           map[string]any        `json:"summary,omitempty"`
	ValidationSummary *validation.Summary   `json:"validation_summary,omitempty"`
	ValidationRaw     *validation.Result    `json:"validation_raw,omitempty"`
	PValues           map[string]*float64   `json:"p_values,omitempty"`
	Guard             *strategy.GuardReport `json:"causality,omitempty"`
	Caution           bool                  `json:"caution,omitempty"`

	Seed            *int64 `json:"seed,omitempty"`
	StrategyHash    string `json:"strategy_hash,omitempty"`
	MetricsHash     string `json:"metrics_hash,omitempty"`
	EquityCurveHash string `json:"equity_curve_hash,omitempty"`
	ManifestHash    string `json:"manifest_hash,omitempty"`

	Pinned         bool   `json:"pinned"`
	RetentionState string `json:"retention_state"`

	// Top-k ranking inputs.
	PrimaryMetricValue *float64 `json:"primary_metric_value,omitempty"`
	StrategyName       string   `json:"strategy_name,omitempty"`

	// Original configuration snapshot for API consumers.
	Symbol    string  `json:"symbol,omitempty"`
	Timeframe string  `json:"timeframe,omitempty"`
	Start     string  `json:"start,omitempty"`
	End       string  `json:"end,omitempty"`
	Config    *Config `json:"config_original,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`

	ProgressEvents int `json:"progress_events,omitempty"`
}

// Hashes returns the digest set exposed by the hashes operation, including
// the provenance hash over the present fields.
func (r *Record) Hashes() map[string]string {
	out := map[string]string{}
	if r.ManifestHash != "" {
		out["manifest_hash"] = r.ManifestHash
	}
	if r.MetricsHash != "" {
		out["metrics_hash"] = r.MetricsHash
	}
	if r.EquityCurveHash != "" {
		out["equity_curve_hash"] = r.EquityCurveHash
	}
	out["provenance_hash"] = canonical.ProvenanceHash(r.ManifestHash, r.MetricsHash, r.EquityCurveHash)
	return out
}
