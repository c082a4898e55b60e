package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/canonical"
	"github.com/friscapuff/alphaforge-brain/internal/domain"
)

// DefaultSourceTimezone is assumed for naive dataset timestamps before
// conversion to UTC epoch milliseconds.
const DefaultSourceTimezone = "America/New_York"

var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// Legacy vendor export headers (auto-detected when the required columns are
// absent): Date, Close/Last, Volume, Open, High, Low with $-prefixed prices
// and MM/DD/YYYY dates.
var legacyColumns = []string{"Date", "Close/Last", "Volume", "Open", "High", "Low"}

// LoadOptions parameterize a single dataset load.
type LoadOptions struct {
	Symbol            string
	Timeframe         string
	Path              string
	CalendarID        string
	AdjustmentPolicy  string
	AdjustmentFactors *AdjustmentFactors
	SourceTimezone    string     // defaults to DefaultSourceTimezone
	Now               time.Time  // future-row cutoff; zero means time.Now
}

// rawRow is one parsed CSV row prior to normalization.
type rawRow struct {
	ts                             int64
	open, high, low, close, volume float64
}

// Loader ingests CSV datasets into canonical frames.
type Loader struct {
	log zerolog.Logger
}

// NewLoader creates a dataset loader.
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log.With().Str("service", "dataset").Logger()}
}

// Load reads, normalizes, and fingerprints a dataset. The returned frame has
// ascending unique timestamps and exactly the canonical base columns.
func (l *Loader) Load(opts LoadOptions) (*domain.Frame, *Metadata, error) {
	if opts.AdjustmentPolicy == "" {
		opts.AdjustmentPolicy = PolicyNone
	}
	records, err := readCSVFile(opts.Path)
	if err != nil {
		return nil, nil, &domain.DatasetError{Symbol: opts.Symbol, Reason: "read failed", Err: err}
	}
	rows, rawCount, err := parseRows(records, opts)
	if err != nil {
		return nil, nil, err
	}

	counters := map[string]int{}

	// Sort ascending (stable), drop duplicate timestamps keeping the first.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })
	deduped := rows[:0]
	var prevTs int64 = math.MinInt64
	for _, r := range rows {
		if r.ts == prevTs {
			counters[AnomalyDuplicatesDropped]++
			continue
		}
		deduped = append(deduped, r)
		prevTs = r.ts
	}
	rows = deduped

	// Drop rows missing any critical price/volume value.
	kept := rows[:0]
	for _, r := range rows {
		if math.IsNaN(r.open) || math.IsNaN(r.high) || math.IsNaN(r.low) || math.IsNaN(r.close) || math.IsNaN(r.volume) {
			counters[AnomalyRowsDroppedMissing]++
			continue
		}
		kept = append(kept, r)
	}
	rows = kept

	// Discard strictly-future rows.
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowMs := now.UnixMilli()
	kept = rows[:0]
	for _, r := range rows {
		if r.ts > nowMs {
			counters[AnomalyFutureRowsDropped]++
			continue
		}
		kept = append(kept, r)
	}
	rows = kept

	frame := frameFromRows(rows)
	for _, zv := range frame.Column(domain.ColZeroVolume) {
		if zv == 1 {
			counters[AnomalyZeroVolumeRows]++
		}
	}

	if opts.CalendarID != "" && frame.Len() > 0 {
		cal, ok := GetCalendar(opts.CalendarID)
		if !ok {
			return nil, nil, &domain.DatasetError{Symbol: opts.Symbol, Reason: fmt.Sprintf("unknown calendar %q", opts.CalendarID)}
		}
		dataDays := make(map[string]struct{}, frame.Len())
		for _, ts := range frame.Ts {
			dataDays[time.UnixMilli(ts).UTC().Format("2006-01-02")] = struct{}{}
		}
		first := time.UnixMilli(frame.Ts[0]).UTC()
		last := time.UnixMilli(frame.Ts[frame.Len()-1]).UTC()
		closures, gaps := cal.ClassifyGaps(first, last, dataDays)
		counters[AnomalyExpectedClosures] = closures
		counters[AnomalyUnexpectedGaps] = gaps
	}

	factorsDigest := ""
	if opts.AdjustmentPolicy != PolicyNone {
		factorsDigest, err = FactorsDigest(opts.AdjustmentPolicy, opts.AdjustmentFactors)
		if err != nil {
			return nil, nil, err
		}
		frame, err = ApplySplitAdjustments(frame, opts.AdjustmentFactors)
		if err != nil {
			return nil, nil, err
		}
	}

	rawDigest := StableFrameHash(frame)
	dataHash := CombineDataHash(rawDigest, opts.AdjustmentPolicy, factorsDigest)

	observed := observedBarSeconds(frame)
	declared := declaredBarSeconds(opts.Timeframe)
	var timeframeOK *bool
	if observed > 0 && declared > 0 {
		ok := observed == declared
		timeframeOK = &ok
		if !ok {
			counters[AnomalyTimeframeMismatch]++
			l.log.Warn().
				Str("symbol", opts.Symbol).
				Int64("observed_bar_seconds", observed).
				Int64("declared_bar_seconds", declared).
				Msg("Timeframe mismatch between declared and observed bar cadence")
		}
	}

	meta := &Metadata{
		Symbol:             strings.ToUpper(opts.Symbol),
		Timeframe:          opts.Timeframe,
		DataHash:           dataHash,
		CalendarID:         opts.CalendarID,
		RowCountRaw:        rawCount,
		RowCountCanonical:  frame.Len(),
		AnomalyCounters:    counters,
		CreatedAt:          now.UnixMilli(),
		ObservedBarSeconds: observed,
		DeclaredBarSeconds: declared,
		TimeframeOK:        timeframeOK,
		AdjustmentPolicy:   opts.AdjustmentPolicy,
		FactorsDigest:      factorsDigest,
	}
	if frame.Len() > 0 {
		meta.FirstTs = frame.Ts[0]
		meta.LastTs = frame.Ts[frame.Len()-1]
	}
	l.log.Info().
		Str("symbol", meta.Symbol).
		Str("timeframe", meta.Timeframe).
		Int("rows", meta.RowCountCanonical).
		Str("data_hash", meta.DataHash[:12]).
		Msg("Dataset loaded")
	return frame, meta, nil
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// parseRows maps CSV records to raw rows, auto-detecting the legacy vendor
// schema when the standard columns are missing.
func parseRows(records [][]string, opts LoadOptions) ([]rawRow, int, error) {
	if len(records) == 0 {
		return nil, 0, &domain.DatasetError{Symbol: opts.Symbol, Reason: "empty CSV"}
	}
	header := records[0]
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	tzName := opts.SourceTimezone
	if tzName == "" {
		tzName = DefaultSourceTimezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, 0, &domain.DatasetError{Symbol: opts.Symbol, Reason: fmt.Sprintf("unknown timezone %q", tzName), Err: err}
	}

	if containsAll(idx, requiredColumns) {
		return parseStandardRows(records[1:], idx, loc)
	}
	if containsAll(idx, legacyColumns) {
		return parseLegacyRows(records[1:], idx, loc)
	}
	missing := []string{}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	return nil, 0, &domain.DatasetError{Symbol: opts.Symbol, Reason: fmt.Sprintf("missing required columns: %v", missing)}
}

func parseStandardRows(records [][]string, idx map[string]int, loc *time.Location) ([]rawRow, int, error) {
	rows := make([]rawRow, 0, len(records))
	for _, rec := range records {
		ts, ok := parseTimestamp(rec[idx["timestamp"]], loc)
		if !ok {
			continue
		}
		rows = append(rows, rawRow{
			ts:     ts,
			open:   parseFloat(rec[idx["open"]]),
			high:   parseFloat(rec[idx["high"]]),
			low:    parseFloat(rec[idx["low"]]),
			close:  parseFloat(rec[idx["close"]]),
			volume: parseFloat(rec[idx["volume"]]),
		})
	}
	return rows, len(records), nil
}

func parseLegacyRows(records [][]string, idx map[string]int, loc *time.Location) ([]rawRow, int, error) {
	rows := make([]rawRow, 0, len(records))
	for _, rec := range records {
		t, err := time.ParseInLocation("01/02/2006", strings.TrimSpace(rec[idx["Date"]]), loc)
		if err != nil {
			continue // rows with unparseable dates are dropped, matching raw-count semantics
		}
		rows = append(rows, rawRow{
			ts:     t.UnixMilli(),
			open:   parseMoney(rec[idx["Open"]]),
			high:   parseMoney(rec[idx["High"]]),
			low:    parseMoney(rec[idx["Low"]]),
			close:  parseMoney(rec[idx["Close/Last"]]),
			volume: parseMoney(rec[idx["Volume"]]),
		})
	}
	return rows, len(records), nil
}

// parseTimestamp accepts ISO dates, ISO datetimes, and epoch milliseconds.
// Naive values are localized to loc before conversion to UTC epoch ms.
func parseTimestamp(s string, loc *time.Location) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli(), true
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseMoney strips $ signs and thousands separators from legacy vendor
// numeric fields.
func parseMoney(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	return parseFloat(s)
}

func frameFromRows(rows []rawRow) *domain.Frame {
	n := len(rows)
	ts := make([]int64, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	cls := make([]float64, n)
	vol := make([]float64, n)
	zv := make([]float64, n)
	for i, r := range rows {
		ts[i] = r.ts
		open[i] = r.open
		high[i] = r.high
		low[i] = r.low
		cls[i] = r.close
		vol[i] = r.volume
		if r.volume == 0 {
			zv[i] = 1
		}
	}
	f := domain.NewFrame(ts)
	f.MustSetColumn(domain.ColOpen, open)
	f.MustSetColumn(domain.ColHigh, high)
	f.MustSetColumn(domain.ColLow, low)
	f.MustSetColumn(domain.ColClose, cls)
	f.MustSetColumn(domain.ColVolume, vol)
	f.MustSetColumn(domain.ColZeroVolume, zv)
	return f
}

// StableFrameHash digests the canonical CSV rendition of the frame:
// ascending ts, 8-decimal prices, integral volume and zero_volume, "\n"
// line terminator.
func StableFrameHash(frame *domain.Frame) string {
	var b strings.Builder
	b.WriteString("ts,open,high,low,close,volume,zero_volume\n")
	open := frame.Column(domain.ColOpen)
	high := frame.Column(domain.ColHigh)
	low := frame.Column(domain.ColLow)
	cls := frame.Column(domain.ColClose)
	vol := frame.Column(domain.ColVolume)
	zv := frame.Column(domain.ColZeroVolume)
	for i, ts := range frame.Ts {
		fmt.Fprintf(&b, "%d,%.8f,%.8f,%.8f,%.8f,%d,%d\n",
			ts, open[i], high[i], low[i], cls[i], int64(vol[i]), int64(zv[i]))
	}
	return canonical.SHA256Text(b.String())
}

// observedBarSeconds is the median delta between consecutive bars.
func observedBarSeconds(frame *domain.Frame) int64 {
	if frame.Len() < 2 {
		return 0
	}
	deltas := make([]int64, 0, frame.Len()-1)
	for i := 1; i < frame.Len(); i++ {
		deltas = append(deltas, (frame.Ts[i]-frame.Ts[i-1])/1000)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}

// declaredBarSeconds parses timeframes of the form "<n><unit>" with units
// s, m, h, d.
func declaredBarSeconds(timeframe string) int64 {
	if timeframe == "" {
		return 0
	}
	unit := timeframe[len(timeframe)-1]
	n, err := strconv.ParseInt(timeframe[:len(timeframe)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	switch unit {
	case 's':
		return n
	case 'm':
		return n * 60
	case 'h':
		return n * 3600
	case 'd':
		return n * 86400
	}
	return 0
}

func containsAll(idx map[string]int, cols []string) bool {
	for _, c := range cols {
		if _, ok := idx[c]; !ok {
			return false
		}
	}
	return true
}
