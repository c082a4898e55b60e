package features

import (
	"fmt"
	"sort"
	"strings"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
)

// EngineVersion invalidates cached feature frames when engine logic changes.
const EngineVersion = "v1"

// Engine applies an indicator set to candle frames. It never mutates its
// input; feature columns are appended to a copy in deterministic order:
// first by the segment before the first underscore (indicator group), then
// by full column name.
type Engine struct {
	set *indicators.Set
}

// NewEngine creates a feature engine over the given indicator set.
func NewEngine(set *indicators.Set) *Engine {
	return &Engine{set: set}
}

// Set returns the engine's indicator set.
func (e *Engine) Set() *indicators.Set { return e.set }

// Build computes all features monolithically.
func (e *Engine) Build(frame *domain.Frame) (*domain.Frame, error) {
	planned := map[string][]float64{}
	baseCols := map[string]struct{}{}
	for _, c := range frame.Columns() {
		baseCols[c] = struct{}{}
	}

	// Function-style indicators first, then object-style; within each flavor
	// application order is deterministic (sorted names / registration order).
	for _, name := range e.set.FunctionNames() {
		out, err := e.set.Functions[name](frame)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", name, err)
		}
		cols := make([]string, 0, len(out))
		for c := range out {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			// Function-style indicators may echo base columns; skip them.
			if _, isBase := baseCols[c]; isBase {
				continue
			}
			if _, dup := planned[c]; dup {
				return nil, fmt.Errorf("duplicate feature column: %s", c)
			}
			if len(out[c]) != frame.Len() {
				return nil, fmt.Errorf("indicator %s: column %s length mismatch", name, c)
			}
			planned[c] = out[c]
		}
	}

	for _, ind := range e.set.Objects {
		out, err := ind.Compute(frame)
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", ind.Name(), err)
		}
		for _, c := range ind.FeatureColumns() {
			series, ok := out[c]
			if !ok {
				return nil, fmt.Errorf("indicator %s: missing declared column %s", ind.Name(), c)
			}
			if _, isBase := baseCols[c]; isBase {
				return nil, fmt.Errorf("feature column collides with base column: %s", c)
			}
			if _, dup := planned[c]; dup {
				return nil, fmt.Errorf("duplicate feature column: %s", c)
			}
			if len(series) != frame.Len() {
				return nil, fmt.Errorf("indicator %s: column %s length mismatch", ind.Name(), c)
			}
			planned[c] = series
		}
	}

	ordered := make([]string, 0, len(planned))
	for c := range planned {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		gi, gj := groupOf(ordered[i]), groupOf(ordered[j])
		if gi != gj {
			return gi < gj
		}
		return ordered[i] < ordered[j]
	})

	out := frame.Clone()
	for _, c := range ordered {
		out.MustSetColumn(c, planned[c])
	}
	return out, nil
}

// BuildChunked computes features over deterministic chunks and stitches the
// results. A negative overlap requests inference from the indicator set. The
// output is identical to Build for any overlap at least RequiredOverlap.
func (e *Engine) BuildChunked(frame *domain.Frame, chunkSize, overlap int) (*domain.Frame, error) {
	if chunkSize <= 0 || chunkSize >= frame.Len() {
		return e.Build(frame)
	}
	if overlap < 0 {
		overlap = RequiredOverlap(e.set, overlapSample(frame))
	}

	out := frame.Clone()
	var featureCols []string
	for _, sl := range ChunkSlices(frame.Len(), chunkSize, overlap) {
		window := frame.Slice(sl.ReadStart, sl.ReadEnd)
		built, err := e.Build(window)
		if err != nil {
			return nil, err
		}
		if featureCols == nil {
			base := map[string]struct{}{}
			for _, c := range frame.Columns() {
				base[c] = struct{}{}
			}
			for _, c := range built.Columns() {
				if _, isBase := base[c]; !isBase {
					featureCols = append(featureCols, c)
					out.MustSetColumn(c, domain.NaNSeries(frame.Len()))
				}
			}
		}
		tgtStart := sl.ReadStart + sl.DropPrefix
		for _, c := range featureCols {
			src := built.Column(c)
			dst := out.Column(c)
			for i := sl.DropPrefix; i < built.Len(); i++ {
				dst[tgtStart+i-sl.DropPrefix] = src[i]
			}
		}
	}
	return out, nil
}

// overlapSample returns the prefix slice used to probe function-style
// indicators for their implicit windows.
func overlapSample(frame *domain.Frame) *domain.Frame {
	n := min(frame.Len(), 500)
	if n < 100 {
		n = frame.Len()
	}
	return frame.Slice(0, n)
}

func groupOf(col string) string {
	if i := strings.Index(col, "_"); i >= 0 {
		return col[:i]
	}
	return col
}
