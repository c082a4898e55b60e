package validation

import (
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Method seed offsets, applied through SubSeed so every method draws from an
// independent stream of the base seed.
const (
	offsetPermutation = 1
	offsetBootstrap   = 2
	offsetMonteCarlo  = 3
)

// PermutationConfig parameterizes the permutation test.
type PermutationConfig struct {
	N int `json:"n"`
}

// BlockBootstrapConfig selects the bootstrap flavor. Method "simple"
// preserves the legacy fixed-block bootstrap; anything else runs HADJ-BB.
type BlockBootstrapConfig struct {
	NIter     int     `json:"n_iter"`
	BlockSize int     `json:"block_size"`
	Method    string  `json:"method,omitempty"`
	MaxCap    int     `json:"max_cap,omitempty"` // ACF lag cap override
	Tau       float64 `json:"tau,omitempty"`
	CILevel   float64 `json:"ci_level,omitempty"`
}

// WalkForwardConfig parameterizes walk-forward evaluation.
type WalkForwardConfig struct {
	NFolds int `json:"n_folds"`
}

// BBGate optionally bounds the bootstrap confidence-interval width.
type BBGate struct {
	MaxCIWidth float64 `json:"max_ci_width"`
}

// Gates holds the optional validation gates.
type Gates struct {
	BlockBootstrap *BBGate `json:"block_bootstrap,omitempty"`
}

// Spec enables and parameterizes the validation methods for a run. A nil
// sub-config skips that method.
type Spec struct {
	Permutation    *PermutationConfig    `json:"permutation,omitempty"`
	BlockBootstrap *BlockBootstrapConfig `json:"block_bootstrap,omitempty"`
	MonteCarlo     *MonteCarloConfig     `json:"monte_carlo,omitempty"`
	WalkForward    *WalkForwardConfig    `json:"walk_forward,omitempty"`
	Gates          *Gates                `json:"gates,omitempty"`
}

// Summary carries the convenience metrics surfaced on run records. Pointer
// fields are nil when the corresponding method did not run.
type Summary struct {
	PermutationP    *float64 `json:"permutation_p"`
	BlockBootstrapP *float64 `json:"block_bootstrap_p"`
	BBCIWidth       *float64 `json:"block_bootstrap_ci_width"`
	MonteCarloP     *float64 `json:"monte_carlo_p"`
	WalkForwardN    int      `json:"walk_forward_folds"`
	GatePassed      *bool    `json:"block_bootstrap_gate_passed"`
}

// Result aggregates all method outputs plus the summary and the base seed
// that produced them.
type Result struct {
	Permutation    *PermutationResult `json:"permutation,omitempty"`
	BlockBootstrap *BootstrapResult   `json:"block_bootstrap,omitempty"`
	MonteCarlo     *MonteCarloResult  `json:"monte_carlo_slippage,omitempty"`
	WalkForward    *WalkForwardResult `json:"walk_forward,omitempty"`
	Summary        Summary            `json:"summary"`
	Seed           int64              `json:"seed"`
}

// Run executes the configured validation methods. Identical (seed, spec,
// inputs) triples produce identical results; an absent seed behaves as seed
// zero so unseeded submissions stay reproducible.
func Run(trades []domain.CompletedTrade, positions []domain.PositionRow, spec Spec, seed int64) (*Result, error) {
	res := &Result{Seed: seed}

	if spec.Permutation != nil {
		n := spec.Permutation.N
		if n <= 0 {
			n = 200
		}
		res.Permutation = PermutationTest(trades, positions, n, SubSeed(seed, offsetPermutation))
		res.Summary.PermutationP = &res.Permutation.PValue
	}

	if spec.BlockBootstrap != nil {
		nIter := spec.BlockBootstrap.NIter
		if nIter <= 0 {
			nIter = 300
		}
		bbSeed := SubSeed(seed, offsetBootstrap)
		if spec.BlockBootstrap.Method == "simple" {
			blockSize := spec.BlockBootstrap.BlockSize
			if blockSize <= 0 {
				blockSize = 5
			}
			res.BlockBootstrap = BlockBootstrap(trades, positions, nIter, blockSize, bbSeed)
		} else {
			res.BlockBootstrap = HADJBB(trades, positions, nIter, spec.BlockBootstrap.MaxCap, spec.BlockBootstrap.Tau, spec.BlockBootstrap.CILevel, bbSeed)
		}
		res.Summary.BlockBootstrapP = &res.BlockBootstrap.PValue
		width := res.BlockBootstrap.CIWidth()
		res.Summary.BBCIWidth = &width
	}

	if spec.MonteCarlo != nil {
		cfg := *spec.MonteCarlo
		if cfg.NIter <= 0 {
			cfg.NIter = 300
		}
		mc, err := MonteCarloSlippage(trades, positions, cfg, SubSeed(seed, offsetMonteCarlo))
		if err != nil {
			return nil, err
		}
		res.MonteCarlo = mc
		res.Summary.MonteCarloP = &mc.PValue
	}

	if spec.WalkForward != nil {
		nFolds := spec.WalkForward.NFolds
		if nFolds <= 0 {
			nFolds = 4
		}
		res.WalkForward = WalkForward(trades, nFolds)
		res.Summary.WalkForwardN = len(res.WalkForward.Folds)
	}

	if spec.Gates != nil && spec.Gates.BlockBootstrap != nil && res.Summary.BBCIWidth != nil {
		passed := *res.Summary.BBCIWidth <= spec.Gates.BlockBootstrap.MaxCIWidth
		res.Summary.GatePassed = &passed
	}
	return res, nil
}

// PValues returns the {perm, bb, mc} mapping recorded on run records.
func (r *Result) PValues() map[string]*float64 {
	return map[string]*float64{
		"perm": r.Summary.PermutationP,
		"bb":   r.Summary.BlockBootstrapP,
		"mc":   r.Summary.MonteCarloP,
	}
}
