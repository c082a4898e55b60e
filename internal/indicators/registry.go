// Package indicators defines the indicator plugin table consumed by the
// feature engine. Two flavors are supported: object-style indicators
// implementing Indicator, and legacy function-style indicators registered
// under a name and introspected via a sample frame.
package indicators

import (
	"fmt"
	"sort"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Indicator computes one or more feature series over a canonical frame.
type Indicator interface {
	// Name identifies the indicator instance for cache signatures.
	Name() string
	// FeatureColumns lists the column names Compute produces, in order.
	FeatureColumns() []string
	// Windows returns the rolling window sizes the indicator needs; the
	// feature engine derives chunk overlap from the maximum.
	Windows() []int
	// Compute returns the produced series keyed by column name. Series must
	// match the frame length, with NaN for warm-up rows.
	Compute(frame *domain.Frame) (map[string][]float64, error)
}

// Func is a legacy function-style indicator: it receives the frame and
// returns new feature series. Window sizes are inferred from integers
// embedded in the produced column names.
type Func func(frame *domain.Frame) (map[string][]float64, error)

// Set is the resolved, ordered indicator collection for one run.
type Set struct {
	Objects   []Indicator
	Functions map[string]Func
}

// Signature returns the deterministic cache signature of the set: sorted
// "name:window=N" parts joined by "|".
func (s *Set) Signature() string {
	parts := make([]string, 0, len(s.Objects)+len(s.Functions))
	for _, ind := range s.Objects {
		sig := ind.Name()
		if ws := ind.Windows(); len(ws) == 1 {
			sig += fmt.Sprintf(":window=%d", ws[0])
		} else if len(ws) > 1 {
			for _, w := range ws {
				sig += fmt.Sprintf(":window=%d", w)
			}
		}
		parts = append(parts, sig)
	}
	for name := range s.Functions {
		parts = append(parts, name)
	}
	sort.Strings(parts)
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "|"
		}
		joined += p
	}
	return joined
}

// FunctionNames returns the registered function names sorted for
// deterministic application order.
func (s *Set) FunctionNames() []string {
	names := make([]string, 0, len(s.Functions))
	for n := range s.Functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Spec is one indicator request from a run configuration.
type Spec struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Build resolves indicator specs into a Set. Unknown names are a
// configuration error.
func Build(specs []Spec) (*Set, error) {
	set := &Set{Functions: map[string]Func{}}
	for _, spec := range specs {
		switch spec.Name {
		case "sma":
			w, err := intParam(spec.Params, "window", 0)
			if err != nil || w <= 0 {
				return nil, &domain.ConfigError{Field: "indicators.sma.window", Reason: "positive integer window required"}
			}
			set.Objects = append(set.Objects, NewSMA(w))
		case "rsi":
			w, err := intParam(spec.Params, "window", 14)
			if err != nil || w <= 1 {
				return nil, &domain.ConfigError{Field: "indicators.rsi.window", Reason: "window must be > 1"}
			}
			set.Objects = append(set.Objects, NewRSI(w))
		case "dual_sma":
			fast, err := intParam(spec.Params, "fast", 0)
			if err != nil || fast <= 0 {
				if fast, err = intParam(spec.Params, "short_window", 10); err != nil || fast <= 0 {
					return nil, &domain.ConfigError{Field: "indicators.dual_sma", Reason: "fast window required"}
				}
			}
			slow, err := intParam(spec.Params, "slow", 0)
			if err != nil || slow <= 0 {
				if slow, err = intParam(spec.Params, "long_window", 50); err != nil || slow <= 0 {
					return nil, &domain.ConfigError{Field: "indicators.dual_sma", Reason: "slow window required"}
				}
			}
			if _, dup := set.Functions["dual_sma"]; dup {
				return nil, &domain.ConfigError{Field: "indicators.dual_sma", Reason: "registered twice"}
			}
			set.Functions["dual_sma"] = DualSMAFunc(fast, slow)
		default:
			return nil, &domain.ConfigError{Field: "indicators", Reason: fmt.Sprintf("unknown indicator %q", spec.Name)}
		}
	}
	return set, nil
}

func intParam(params map[string]any, key string, fallback int) (int, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}
