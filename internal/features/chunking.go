// Package features computes indicator columns over canonical frames:
// deterministic column ordering, chunked computation with overlap inference,
// and a content-addressed on-disk cache. The cardinal property is that
// chunked and monolithic computation are bit-identical for any chunk size
// and any overlap at least the required minimum.
package features

import (
	"regexp"
	"strconv"

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/indicators"
)

// ChunkSlice describes one read window over an n-row frame. The first
// DropPrefix rows of the computed result belong to prior chunks and are
// discarded.
type ChunkSlice struct {
	ReadStart  int
	ReadEnd    int
	DropPrefix int
}

// ChunkSlices produces the deterministic slice plan for nRows rows. A
// non-positive chunk size, or one at least the row count, collapses to a
// single monolithic slice.
func ChunkSlices(nRows, chunkSize, overlap int) []ChunkSlice {
	if nRows <= 0 {
		return nil
	}
	if chunkSize <= 0 || chunkSize >= nRows {
		return []ChunkSlice{{0, nRows, 0}}
	}
	if overlap < 0 {
		overlap = 0
	}
	var out []ChunkSlice
	i := 0
	for i < nRows {
		start := 0
		if i > 0 {
			start = max(0, i-overlap)
		}
		end := min(nRows, i+chunkSize)
		drop := i - start
		if drop > end-start {
			drop = max(0, end-start)
		}
		out = append(out, ChunkSlice{start, end, drop})
		if end >= nRows {
			break
		}
		i = end
	}
	return out
}

var columnInts = regexp.MustCompile(`(\d+)`)

// RequiredOverlap returns max(required window) - 1 across the set's object
// indicators plus windows inferred for function-style indicators by running
// them over a sample frame and reading integers embedded in the produced
// column names.
func RequiredOverlap(set *indicators.Set, sample *domain.Frame) int {
	maxW := 0
	for _, ind := range set.Objects {
		for _, w := range ind.Windows() {
			if w > maxW {
				maxW = w
			}
		}
	}
	if sample != nil {
		for _, name := range set.FunctionNames() {
			out, err := set.Functions[name](sample)
			if err != nil {
				continue
			}
			for col := range out {
				if domain.IsBaseColumn(col) {
					continue
				}
				for _, m := range columnInts.FindAllString(col, -1) {
					if w, err := strconv.Atoi(m); err == nil && w > maxW {
						maxW = w
					}
				}
			}
		}
	}
	return max(0, maxW-1)
}
