package strategy

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// GuardMode controls how the causality guard reacts to a detected
// violation.
type GuardMode string

const (
	// GuardStrict records the violation and aborts immediately.
	GuardStrict GuardMode = "STRICT"
	// GuardPermissive records the violation, increments the counter, and
	// lets the run continue.
	GuardPermissive GuardMode = "PERMISSIVE"
)

// Violation attributes one detected lookahead to a produced column and the
// forward offset at which the dependence was observed.
type Violation struct {
	Feature string `json:"feature"`
	Offset  int    `json:"offset"`
}

// GuardReport is persisted into the manifest and surfaced as a metric row
// after the run.
type GuardReport struct {
	Mode       GuardMode `json:"mode"`
	Violations int       `json:"violations"`
}

// Guard detects feature or signal columns whose value at row i changes when
// rows beyond i are withheld. Detection recomputes the pipeline on truncated
// prefixes of the input and compares the overlapping region cell by cell: a
// causal column is invariant under suffix removal.
type Guard struct {
	Mode       GuardMode
	violations []Violation
	log        zerolog.Logger
}

// NewGuard creates a guard in the given mode.
func NewGuard(mode GuardMode, log zerolog.Logger) *Guard {
	if mode == "" {
		mode = GuardPermissive
	}
	return &Guard{Mode: mode, log: log.With().Str("service", "causality_guard").Logger()}
}

// Check runs compute on the full frame and on probe prefixes, comparing the
// shared rows of every non-base column. Returns the full-frame result. In
// strict mode the first mismatch aborts with a CausalityError.
func (g *Guard) Check(frame *domain.Frame, compute func(*domain.Frame) (*domain.Frame, error)) (*domain.Frame, error) {
	full, err := compute(frame)
	if err != nil {
		return nil, err
	}
	for _, p := range probeLengths(frame.Len()) {
		partial, err := compute(frame.Slice(0, p))
		if err != nil {
			return nil, err
		}
		for _, col := range full.Columns() {
			if domain.IsBaseColumn(col) || !partial.HasColumn(col) {
				continue
			}
			a, b := full.Column(col), partial.Column(col)
			for i := 0; i < p; i++ {
				if a[i] == b[i] || (math.IsNaN(a[i]) && math.IsNaN(b[i])) {
					continue
				}
				v := Violation{Feature: col, Offset: p - i}
				g.violations = append(g.violations, v)
				g.log.Warn().Str("feature", v.Feature).Int("offset", v.Offset).Msg("Causality violation detected")
				if g.Mode == GuardStrict {
					return nil, &domain.CausalityError{Feature: v.Feature, Offset: v.Offset}
				}
				break // one violation per column per probe
			}
		}
	}
	return full, nil
}

// Report returns the guard's mode and total violation count.
func (g *Guard) Report() GuardReport {
	return GuardReport{Mode: g.Mode, Violations: len(g.violations)}
}

// Violations returns the recorded violations.
func (g *Guard) Violations() []Violation { return g.violations }

// probeLengths picks the truncation points used for lookahead detection.
func probeLengths(n int) []int {
	if n < 8 {
		return nil
	}
	probes := []int{n * 3 / 4, n / 2}
	var out []int
	seen := map[int]struct{}{}
	for _, p := range probes {
		if p >= 4 && p < n {
			if _, dup := seen[p]; !dup {
				out = append(out, p)
				seen[p] = struct{}{}
			}
		}
	}
	return out
}
