package run

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/dataset"
	"github.com/friscapuff/alphaforge-brain/internal/features"
	"github.com/friscapuff/alphaforge-brain/internal/strategy"
)

// RecordStore persists run records outside the in-memory registry. The
// engine treats persistence as best-effort: a store failure never fails a
// computed run.
type RecordStore interface {
	Save(rec *Record) error
}

// EngineOptions configure a run engine.
type EngineOptions struct {
	Datasets     *dataset.Cache
	FeatureCache *features.Cache
	Writer       *artifacts.Writer
	Store        RecordStore // optional
	GuardMode    strategy.GuardMode

	// Caution gating: when PValue > 0, a run whose named summary p-values
	// exceed it is flagged caution=true.
	CautionPValue  float64
	CautionMetrics []string

	// CacheErrorRuns keeps ERROR records in the registry; default false so
	// re-submission retries.
	CacheErrorRuns bool
}

// Engine exposes the core run operations: submit with single-flight
// deduplication, record retrieval, event streaming, and cancellation.
type Engine struct {
	registry *Registry
	opts     EngineOptions
	log      zerolog.Logger

	mu      sync.Mutex
	inFlight map[string]*flight
}

type flight struct {
	orch *Orchestrator
	done chan struct{}
}

// NewEngine creates a run engine.
func NewEngine(registry *Registry, opts EngineOptions, log zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		opts:     opts,
		log:      log.With().Str("service", "run_engine").Logger(),
		inFlight: map[string]*flight{},
	}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// SubmitResult reports a submission outcome.
type SubmitResult struct {
	RunHash string `json:"run_hash"`
	Created bool   `json:"created"`
}

// Submit validates the config, computes its run hash, and orchestrates the
// run unless an identical run is cached or already in flight. Concurrent
// submissions of the same hash run the pipeline exactly once; late arrivals
// block on the per-hash flight and return the shared record.
func (e *Engine) Submit(cfg *Config) (*SubmitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var meta *dataset.Metadata
	if e.opts.Datasets != nil {
		if m, ok := e.opts.Datasets.Lookup(cfg.Symbol, cfg.Timeframe); ok {
			meta = m
		}
	}
	runHash := cfg.Hash(meta)

	if rec, err := e.registry.Get(runHash); err == nil && rec.Status.Terminal() {
		return &SubmitResult{RunHash: runHash, Created: false}, nil
	}

	fl, created := e.acquireFlight(cfg, runHash)
	if !created {
		<-fl.done
		return &SubmitResult{RunHash: runHash, Created: false}, nil
	}
	defer e.releaseFlight(runHash, fl)

	// Re-check under the flight: another submitter may have completed the
	// run between the registry miss and lock acquisition.
	if rec, err := e.registry.Get(runHash); err == nil && rec.Status.Terminal() {
		return &SubmitResult{RunHash: runHash, Created: false}, nil
	}

	e.execute(cfg, runHash, fl.orch)
	return &SubmitResult{RunHash: runHash, Created: true}, nil
}

// acquireFlight returns the per-hash flight, creating (and owning) it when
// none exists.
func (e *Engine) acquireFlight(cfg *Config, runHash string) (*flight, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fl, ok := e.inFlight[runHash]; ok {
		return fl, false
	}
	seed := int64(0)
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	fl := &flight{
		orch: NewOrchestrator(cfg, runHash, seed, e.registry.Buffer(runHash), OrchestratorDeps{
			Datasets:     e.opts.Datasets,
			FeatureCache: e.opts.FeatureCache,
			Writer:       e.opts.Writer,
			GuardMode:    e.opts.GuardMode,
			Log:          e.log,
		}),
		done: make(chan struct{}),
	}
	e.inFlight[runHash] = fl
	return fl, true
}

func (e *Engine) releaseFlight(runHash string, fl *flight) {
	e.mu.Lock()
	delete(e.inFlight, runHash)
	e.mu.Unlock()
	close(fl.done)
}

// execute runs the orchestrator and materializes the record.
func (e *Engine) execute(cfg *Config, runHash string, orch *Orchestrator) {
	pending := &Record{
		RunHash:        runHash,
		CreatedAt:      time.Now().UnixMilli(),
		Status:         StatusRunning,
		RetentionState: RetentionFull,
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		Start:          cfg.Start,
		End:            cfg.End,
		StrategyName:   cfg.Strategy.Name,
		Config:         cfg,
		Seed:           cfg.Seed,
		StrategyHash:   cfg.StrategyHash(),
	}
	e.registry.Set(pending)

	outcome := orch.Run()
	rec := pending
	rec.Status = outcome.Status

	switch outcome.Status {
	case StatusComplete:
		summaryMap := outcome.Summary.Map()
		rec.Summary = summaryMap
		rec.ValidationSummary = &outcome.Validation.Summary
		rec.ValidationRaw = outcome.Validation
		rec.PValues = outcome.Validation.PValues()
		guard := outcome.Guard
		rec.Guard = &guard
		rec.MetricsHash = outcome.MetricsHash
		rec.EquityCurveHash = outcome.EquityCurveHash
		rec.ManifestHash = outcome.Manifest.ManifestHash
		sharpe := outcome.Summary.Sharpe
		rec.PrimaryMetricValue = &sharpe
		rec.ProgressEvents = len(e.registry.Buffer(runHash).Since(-1))
		rec.Caution = e.cautionFlag(outcome)
		e.registry.Set(rec)
		if e.opts.Store != nil {
			if err := e.opts.Store.Save(rec); err != nil {
				e.log.Warn().Err(err).Str("run_hash", runHash[:12]).Msg("Record persistence failed")
			}
		}
	case StatusCancelled:
		rec.Error = nil
		e.registry.Set(rec)
	case StatusError:
		rec.Error = outcome.Err
		if e.opts.CacheErrorRuns {
			e.registry.Set(rec)
		} else {
			// Do not cache: re-submission with the same hash re-runs.
			e.registry.Delete(runHash)
		}
	}
}

// cautionFlag evaluates the configured caution gate against the run's
// summary p-values.
func (e *Engine) cautionFlag(outcome *Outcome) bool {
	if e.opts.CautionPValue <= 0 || outcome.Validation == nil {
		return false
	}
	named := map[string]*float64{
		"permutation_p":     outcome.Validation.Summary.PermutationP,
		"block_bootstrap_p": outcome.Validation.Summary.BlockBootstrapP,
		"monte_carlo_p":     outcome.Validation.Summary.MonteCarloP,
	}
	metricsToCheck := e.opts.CautionMetrics
	if len(metricsToCheck) == 0 {
		metricsToCheck = []string{"permutation_p", "block_bootstrap_p", "monte_carlo_p"}
	}
	for _, name := range metricsToCheck {
		if p, ok := named[name]; ok && p != nil && *p > e.opts.CautionPValue {
			return true
		}
	}
	return false
}

// Get returns the record for a run hash.
func (e *Engine) Get(runHash string) (*Record, error) {
	return e.registry.Get(runHash)
}

// Cancel requests cooperative cancellation of an in-flight run. Cancelling
// an unknown or terminal run is a no-op returning false.
func (e *Engine) Cancel(runHash string) bool {
	e.mu.Lock()
	fl, ok := e.inFlight[runHash]
	e.mu.Unlock()
	if !ok {
		return false
	}
	fl.orch.Cancel()
	return true
}

// Events returns buffered events after sinceID (pass -1 for all) plus the
// run's terminal state.
func (e *Engine) Events(runHash string, sinceID int64) ([]Event, bool, error) {
	rec, err := e.registry.Get(runHash)
	if err != nil {
		return nil, false, err
	}
	return e.registry.Buffer(runHash).Since(sinceID), rec.Status.Terminal(), nil
}

// Buffer exposes the run's event buffer for live subscribers.
func (e *Engine) Buffer(runHash string) *EventBuffer {
	return e.registry.Buffer(runHash)
}
