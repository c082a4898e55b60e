package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// Adjustment policies. FullAdjusted back-adjusts OHLC for splits; dividend
// events participate in the factors digest only (price handling for
// dividends is intentionally not performed).
const (
	PolicyNone         = "none"
	PolicyFullAdjusted = "full_adjusted"
)

// FactorEvent is one corporate action: a split ratio (2.0 for 2-for-1)
// and/or a cash dividend at an exact bar timestamp.
type FactorEvent struct {
	Ts       int64
	Split    float64
	Dividend float64
}

// AdjustmentFactors carries the event list plus a coverage declaration.
// FullAdjusted requires full coverage.
type AdjustmentFactors struct {
	Events       []FactorEvent
	CoverageFull bool
}

// FactorsDigest returns the stable digest of policy plus canonicalized
// events: sorted by ts, NaNs normalized to zero, CSV bytes with 8-decimal
// floats.
func FactorsDigest(policy string, factors *AdjustmentFactors) (string, error) {
	if policy == PolicyNone {
		return "", nil
	}
	if factors == nil {
		return "", &domain.DatasetError{Reason: "full_adjusted policy requires adjustment factors"}
	}
	events := append([]FactorEvent(nil), factors.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Ts < events[j].Ts })

	var b strings.Builder
	b.WriteString(fmt.Sprintf("policy=%s\n", policy))
	b.WriteString("ts,split,dividend\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "%d,%.8f,%.8f\n", ev.Ts, nanToZero(ev.Split), nanToZero(ev.Dividend))
	}
	return canonical.SHA256Text(b.String()), nil
}

// ApplySplitAdjustments back-adjusts the OHLC columns of frame for splits
// using a backward cumulative factor: walking newest to oldest, each split
// event multiplies the divisor applied to that row and every older row.
// Volume is left unchanged.
func ApplySplitAdjustments(frame *domain.Frame, factors *AdjustmentFactors) (*domain.Frame, error) {
	if !factors.CoverageFull {
		return nil, &domain.DatasetError{Reason: "adjustment factors coverage is partial; full coverage required"}
	}
	if frame.Len() == 0 {
		return frame.Clone(), nil
	}
	splitAt := make(map[int64]float64, len(factors.Events))
	for _, ev := range factors.Events {
		if ev.Split > 0 {
			splitAt[ev.Ts] = ev.Split
		}
	}
	out := frame.Clone()
	divisor := make([]float64, out.Len())
	cum := 1.0
	for i := out.Len() - 1; i >= 0; i-- {
		// The event row itself is adjusted too.
		if s, ok := splitAt[out.Ts[i]]; ok {
			cum *= s
		}
		divisor[i] = cum
	}
	for _, col := range []string{domain.ColOpen, domain.ColHigh, domain.ColLow, domain.ColClose} {
		series := out.Column(col)
		for i := range series {
			series[i] = series[i] / divisor[i]
		}
	}
	return out, nil
}

// CombineDataHash folds the adjustment policy and factors digest into the
// raw frame digest. The "none" policy returns the raw digest directly; this
// asymmetry is deliberate and matches the digest contract consumers already
// depend on.
func CombineDataHash(rawDigest, policy, factorsDigest string) string {
	if policy == PolicyNone || policy == "" {
		return rawDigest
	}
	fd := factorsDigest
	if fd == "" {
		fd = "none"
	}
	return canonical.SHA256Text(fmt.Sprintf("raw=%s;policy=%s;factors=%s", rawDigest, policy, fd))
}

func nanToZero(x float64) float64 {
	if x != x {
		return 0
	}
	return x
}
