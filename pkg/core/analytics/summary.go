package analytics

import "github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"

// Summarize derives the headline numbers from the links and their bucketed
// series. available must be false when the series could not be read, so a
// real zero is distinguishable from missing data.
func Summarize(links []domain.Link, series []domain.DayCount, windowDays int, available bool) domain.Summary {
	s := domain.Summary{
		TotalLinks:    len(links),
		DataAvailable: available,
		Trend:         []int64{},
	}

	for _, l := range links {
		if l.Active {
			s.ActiveLinks++
		}
	}

	for _, day := range series {
		s.TotalScans += day.Count
	}

	if windowDays > 0 {
		s.AvgPerDay = s.TotalScans / int64(windowDays)
	}

	from := len(series) - TrendDays
	if from < 0 {
		from = 0
	}
	for _, day := range series[from:] {
		s.Trend = append(s.Trend, day.Count)
	}

	return s
}
