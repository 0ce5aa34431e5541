// Package analytics folds raw scan events into the series, breakdowns and
// summary numbers shown on the dashboard. Everything here is pure.
package analytics

import (
	"time"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

const (
	DefaultWindowDays = 14
	TrendDays         = 7

	labelLayout = "Jan 2"
	dateLayout  = "2006-01-02"
)

// WindowStart returns local midnight of the first day of a window of
// windowDays calendar days ending on now's date.
func WindowStart(now time.Time, windowDays int) time.Time {
	if windowDays < 1 {
		windowDays = 1
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -(windowDays - 1))
}

// Bucketize counts events per calendar day in now's location.
// The result always has exactly windowDays entries, oldest first, and days
// without events read zero. Events outside the window are ignored.
func Bucketize(events []domain.ScanEvent, windowDays int, now time.Time) []domain.DayCount {
	if windowDays <= 0 {
		return []domain.DayCount{}
	}

	start := WindowStart(now, windowDays)
	series := make([]domain.DayCount, windowDays)
	index := make(map[string]int, windowDays)
	for i := range series {
		day := start.AddDate(0, 0, i)
		key := day.Format(dateLayout)
		series[i] = domain.DayCount{Date: key, Label: day.Format(labelLayout)}
		index[key] = i
	}

	loc := now.Location()
	for _, e := range events {
		if i, ok := index[e.Timestamp.In(loc).Format(dateLayout)]; ok {
			series[i].Count++
		}
	}
	return series
}
