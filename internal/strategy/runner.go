package strategy

import (
	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/features"
)

// RunnerOptions parameterize one strategy execution.
type RunnerOptions struct {
	Name       string
	Params     map[string]any
	CandleHash string         // enables the feature cache when non-empty
	Cache      *features.Cache // nil disables caching
	ChunkSize  int            // 0 means monolithic
	Guard      *Guard         // nil disables the causality guard
}

// Run builds features for the candle frame and executes the named strategy,
// returning the frame extended with feature columns and a signal column.
// When a guard is supplied, feature building and strategy execution run
// inside it as a single checked computation.
func Run(engine *features.Engine, candles *domain.Frame, opts RunnerOptions, log zerolog.Logger) (*domain.Frame, error) {
	strat, err := Get(opts.Name)
	if err != nil {
		return nil, err
	}
	params := NormalizeParams(opts.Name, opts.Params)

	compute := func(frame *domain.Frame) (*domain.Frame, error) {
		// Guard probes recompute over prefixes of the candle frame; the
		// feature cache is keyed by the full frame's candle hash, so only
		// full-length computations may use it.
		useCache := frame.Len() == candles.Len()
		feats, err := buildFeatures(engine, frame, opts, useCache)
		if err != nil {
			return nil, err
		}
		return strat(feats, params)
	}

	if opts.Guard != nil {
		out, err := opts.Guard.Check(candles, compute)
		if err != nil {
			return nil, err
		}
		rep := opts.Guard.Report()
		log.Debug().
			Str("strategy", opts.Name).
			Str("guard_mode", string(rep.Mode)).
			Int("violations", rep.Violations).
			Msg("Strategy run complete")
		return out, nil
	}
	return compute(candles)
}

func buildFeatures(engine *features.Engine, frame *domain.Frame, opts RunnerOptions, useCache bool) (*domain.Frame, error) {
	build := func(f *domain.Frame) (*domain.Frame, error) {
		if opts.ChunkSize > 0 {
			return engine.BuildChunked(f, opts.ChunkSize, -1)
		}
		return engine.Build(f)
	}
	if useCache && opts.Cache != nil && opts.CandleHash != "" {
		return opts.Cache.LoadOrBuild(frame, engine.Set(), features.EngineVersion, opts.CandleHash, build)
	}
	return build(frame)
}
