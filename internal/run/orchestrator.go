package run

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/execution"
	"github.com/friscapuff/alphaforge-brain/internal/features"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
	"github.com/friscapuff/alphaforge-brain/internal/metrics"
	"github.com/friscapuff/alphaforge-brain/internal/risk"
	"github.com/friscapuff/alphaforge-brain/internal/strategy"
	"github.com/friscapuff/alphaforge-brain/internal/validation"
)

// SyntheticBars is the candle count generated for configs without a dataset
// file, matching the reference fixture runs.
const SyntheticBars = 240

// Orchestrator executes the staged pipeline for one run: ingest → features
// → strategy → risk → execution → metrics → validation → artifact-write.
// Stages run sequentially; cancellation is cooperative and observed at stage
// boundaries.
type Orchestrator struct {
	config   *Config
	runHash  string
	seed     int64
	buffer   *EventBuffer
	datasets *dataset.Cache
	featCache *features.Cache
	writer   *artifacts.Writer
	guard    *strategy.Guard
	log      zerolog.Logger

	cancelRequested atomic.Bool
}

// OrchestratorDeps wires the shared services an orchestration needs.
type OrchestratorDeps struct {
	Datasets     *dataset.Cache
	FeatureCache *features.Cache
	Writer       *artifacts.Writer
	GuardMode    strategy.GuardMode
	Log          zerolog.Logger
}

// NewOrchestrator creates an orchestrator for one run.
func NewOrchestrator(cfg *Config, runHash string, seed int64, buffer *EventBuffer, deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		config:    cfg,
		runHash:   runHash,
		seed:      seed,
		buffer:    buffer,
		datasets:  deps.Datasets,
		featCache: deps.FeatureCache,
		writer:    deps.Writer,
		guard:     strategy.NewGuard(deps.GuardMode, deps.Log),
		log:       deps.Log.With().Str("service", "orchestrator").Str("run_hash", runHash[:12]).Logger(),
	}
}

// Cancel requests cooperative cancellation; it takes effect at the next
// stage boundary.
func (o *Orchestrator) Cancel() { o.cancelRequested.Store(true) }

// Outcome is the orchestrator's terminal result.
type Outcome struct {
	Status     Status
	Summary    metrics.Summary
	Validation *validation.Result
	Manifest   *artifacts.Manifest
	Guard      strategy.GuardReport
	Meta       *dataset.Metadata

	MetricsHash     string
	EquityCurveHash string

	Err *ErrorInfo
}

// Run executes the pipeline to completion, cancellation, or error.
func (o *Orchestrator) Run() *Outcome {
	o.emitStage(StatusRunning, nil)

	// ingest
	if o.cancelled() {
		return o.finishCancelled()
	}
	candles, meta, err := o.ingest()
	if err != nil {
		return o.finishError("ingest", err)
	}

	// features + strategy (inside the causality guard)
	if o.cancelled() {
		return o.finishCancelled()
	}
	set, err := indicators.Build(o.config.Indicators)
	if err != nil {
		return o.finishError("features", err)
	}
	engine := features.NewEngine(set)
	signals, err := strategy.Run(engine, candles, strategy.RunnerOptions{
		Name:       o.config.Strategy.Name,
		Params:     o.config.Strategy.Params,
		CandleHash: meta.DataHash,
		Cache:      o.featCache,
		Guard:      o.guard,
	}, o.log)
	if err != nil {
		return o.finishError("strategy", err)
	}

	// risk
	if o.cancelled() {
		return o.finishCancelled()
	}
	sized, err := risk.Apply(o.config.Risk, signals, 0)
	if err != nil {
		return o.finishError("risk", err)
	}

	// execution
	if o.cancelled() {
		return o.finishCancelled()
	}
	simResult, err := execution.Simulate(o.config.Execution, sized, execution.Options{FlattenEnd: true})
	if err != nil {
		return o.finishError("execution", err)
	}
	trades := execution.AggregateTrades(o.config.Symbol, simResult.Fills)

	// metrics
	curve := metrics.BuildEquityCurve(simResult.Positions)
	summary := metrics.Compute(trades, curve)
	summary.Anomalies = meta.NormalizedAnomalies()

	// validation
	o.emitStage(StatusValidating, map[string]any{"trade_count": summary.TradeCount})
	if o.cancelled() {
		return o.finishCancelled()
	}
	valResult, err := validation.Run(trades, simResult.Positions, o.config.Validation, o.seed)
	if err != nil {
		return o.finishError("validation", err)
	}

	// artifact-write
	if o.cancelled() {
		return o.finishCancelled()
	}
	metricsHash := summary.Hash()
	equityHash := metrics.CurveHash(curve)
	manifest, err := o.writer.Write(o.runHash, &artifacts.Payload{
		Summary: map[string]any{
			"metrics":   summary.Map(),
			"seed":      o.seed,
			"causality": o.guard.Report(),
		},
		Metrics:          summary.Map(),
		Validation:       valResult.Summary,
		ValidationDetail: valResult,
		EquityCurve:      curve,
		Trades:           trades,
		DataHash:         meta.DataHash,
		CalendarID:       meta.CalendarID,
		Symbol:           meta.Symbol,
		Timeframe:        meta.Timeframe,
		MetricsHash:      metricsHash,
		EquityCurveHash:  equityHash,
	})
	if err != nil {
		return o.finishError("artifact-write", err)
	}

	outcome := &Outcome{
		Status:          StatusComplete,
		Summary:         summary,
		Validation:      valResult,
		Manifest:        manifest,
		Guard:           o.guard.Report(),
		Meta:            meta,
		MetricsHash:     metricsHash,
		EquityCurveHash: equityHash,
	}
	o.buffer.Append("snapshot", map[string]any{
		"run_hash": o.runHash,
		"summary":  summary.Map(),
		"p_values": valResult.PValues(),
		"status":   string(StatusComplete),
	})
	o.buffer.Append("completed", map[string]any{"run_hash": o.runHash})
	o.log.Info().Int("trades", summary.TradeCount).Msg("Run complete")
	return outcome
}

// ingest resolves the config's dataset from the cache, falling back to the
// deterministic synthetic frame when no dataset is registered.
func (o *Orchestrator) ingest() (*domain.Frame, *dataset.Metadata, error) {
	if o.datasets != nil {
		if frame, meta, ok := o.datasets.Loaded(o.config.Symbol, o.config.Timeframe); ok {
			return o.sliceRange(frame), meta, nil
		}
	}
	start := time.Now().UTC().Truncate(24 * time.Hour)
	if t, err := time.Parse("2006-01-02", o.config.Start); err == nil {
		start = t
	}
	// The synthetic frame is not cached: a cached entry would make its
	// metadata resolvable in Submit and change the run hash of later
	// identical submissions.
	frame, meta := dataset.Synthetic(o.config.Symbol, o.config.Timeframe, start, SyntheticBars)
	return frame, meta, nil
}

// sliceRange clips the canonical frame to the configured [start, end] dates.
func (o *Orchestrator) sliceRange(frame *domain.Frame) *domain.Frame {
	startMs, endMs := int64(0), int64(1<<62)
	if t, err := time.Parse("2006-01-02", o.config.Start); err == nil {
		startMs = t.UnixMilli()
	}
	if t, err := time.Parse("2006-01-02", o.config.End); err == nil {
		endMs = t.AddDate(0, 0, 1).UnixMilli() - 1
	}
	lo, hi := 0, frame.Len()
	for lo < hi && frame.Ts[lo] < startMs {
		lo++
	}
	for hi > lo && frame.Ts[hi-1] > endMs {
		hi--
	}
	return frame.Slice(lo, hi)
}

func (o *Orchestrator) cancelled() bool { return o.cancelRequested.Load() }

func (o *Orchestrator) finishCancelled() *Outcome {
	o.buffer.Append("cancelled", map[string]any{"run_hash": o.runHash, "status": string(StatusCancelled)})
	o.log.Info().Msg("Run cancelled")
	return &Outcome{Status: StatusCancelled}
}

func (o *Orchestrator) finishError(stage string, err error) *Outcome {
	info := &ErrorInfo{
		Code:      errorCode(err),
		Message:   err.Error(),
		StackHash: canonical.SHA256Text(fmt.Sprintf("%s|%T|%v", stage, err, err))[:16],
	}
	o.buffer.Append("error", map[string]any{
		"run_hash":   o.runHash,
		"stage":      stage,
		"error_code": info.Code,
		"message":    info.Message,
	})
	o.log.Error().Err(err).Str("stage", stage).Msg("Run failed")
	return &Outcome{Status: StatusError, Err: info}
}

func (o *Orchestrator) emitStage(state Status, payload map[string]any) {
	data := map[string]any{"run_hash": o.runHash, "state": string(state)}
	for k, v := range payload {
		data[k] = v
	}
	o.buffer.Append("stage", data)
}

func errorCode(err error) string {
	switch err.(type) {
	case *domain.ConfigError:
		return "CONFIG_ERROR"
	case *domain.DatasetError:
		return "DATASET_ERROR"
	case *domain.CausalityError:
		return "CAUSALITY_VIOLATION"
	default:
		return "COMPUTATION_ERROR"
	}
}
