package dataset

import (
	"time"
)

// Calendar models an exchange session schedule precisely enough to classify
// missing days in a daily dataset into expected closures (weekends and
// holidays) versus unexpected gaps (scheduled sessions absent from the
// data).
type Calendar struct {
	ID       string
	holidays map[string]struct{} // "2006-01-02" keys, UTC dates
}

// Fixed-date US equity market holidays observed by the XNYS calendar for the
// years the bundled fixtures cover. Good-Friday style movable feasts are
// listed explicitly; extending the range is an additive change.
var xnysHolidays = []string{
	"2020-01-01", "2020-01-20", "2020-02-17", "2020-04-10", "2020-05-25",
	"2020-07-03", "2020-09-07", "2020-11-26", "2020-12-25",
	"2021-01-01", "2021-01-18", "2021-02-15", "2021-04-02", "2021-05-31",
	"2021-07-05", "2021-09-06", "2021-11-25", "2021-12-24",
	"2022-01-17", "2022-02-21", "2022-04-15", "2022-05-30", "2022-06-20",
	"2022-07-04", "2022-09-05", "2022-11-24", "2022-12-26",
	"2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29",
	"2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25",
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
	"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18",
	"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27",
	"2025-12-25",
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03",
}

var knownCalendars = map[string][]string{
	"XNYS": xnysHolidays,
	"XNAS": xnysHolidays, // NASDAQ follows the NYSE closure schedule
}

// GetCalendar resolves a calendar by identifier. Unknown identifiers return
// false; ingestion treats that as a fatal dataset error.
func GetCalendar(id string) (*Calendar, bool) {
	days, ok := knownCalendars[id]
	if !ok {
		return nil, false
	}
	h := make(map[string]struct{}, len(days))
	for _, d := range days {
		h[d] = struct{}{}
	}
	return &Calendar{ID: id, holidays: h}, true
}

// IsSession reports whether the given UTC date is a scheduled trading
// session.
func (c *Calendar) IsSession(day time.Time) bool {
	wd := day.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[day.Format("2006-01-02")]
	return !holiday
}

// ClassifyGaps walks the inclusive [first, last] date range and splits the
// days absent from dataDays into expected closures versus missing scheduled
// sessions. dataDays keys use the "2006-01-02" UTC date format.
func (c *Calendar) ClassifyGaps(first, last time.Time, dataDays map[string]struct{}) (expectedClosures, unexpectedGaps int) {
	first = first.UTC().Truncate(24 * time.Hour)
	last = last.UTC().Truncate(24 * time.Hour)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if !c.IsSession(day) {
			expectedClosures++
			continue
		}
		if _, present := dataDays[key]; !present {
			unexpectedGaps++
		}
	}
	return expectedClosures, unexpectedGaps
}
