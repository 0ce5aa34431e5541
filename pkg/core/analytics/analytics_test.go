package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

func scanAt(ts time.Time) domain.ScanEvent {
	return domain.ScanEvent{LinkID: 1, Timestamp: ts}
}

func TestBucketize_ExampleWindow(t *testing.T) {
	now := time.Date(2025, time.June, 3, 15, 0, 0, 0, time.UTC)
	events := []domain.ScanEvent{
		scanAt(time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)),
		scanAt(time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)),
		scanAt(time.Date(2025, time.June, 1, 23, 59, 0, 0, time.UTC)),
		scanAt(time.Date(2025, time.June, 3, 0, 1, 0, 0, time.UTC)),
	}
	link := domain.Link{ShortCode: "abc123", Active: true}

	series := Bucketize(events, DefaultWindowDays, now)
	require.Len(t, series, 14)

	assert.Equal(t, "May 21", series[0].Label)
	assert.Equal(t, "Jun 1", series[11].Label)
	assert.Equal(t, "Jun 3", series[13].Label)
	for i, day := range series {
		switch i {
		case 11:
			assert.EqualValues(t, 3, day.Count)
		case 13:
			assert.EqualValues(t, 1, day.Count)
		default:
			assert.Zero(t, day.Count, "day %s", day.Label)
		}
	}

	summary := Summarize([]domain.Link{link}, series, DefaultWindowDays, true)
	assert.EqualValues(t, 4, summary.TotalScans)
	assert.EqualValues(t, 0, summary.AvgPerDay)
	assert.Equal(t, 1, summary.ActiveLinks)
	assert.Equal(t, 1, summary.TotalLinks)
	assert.Nil(t, summary.ConversionEstimate)
	assert.Equal(t, []int64{0, 0, 0, 0, 3, 0, 1}, summary.Trend)
}

func TestBucketize_AlwaysFullWindow(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		events   []domain.ScanEvent
		inWindow int64
	}{
		{name: "empty", events: nil, inWindow: 0},
		{
			name: "out of window ignored",
			events: []domain.ScanEvent{
				scanAt(now.AddDate(0, 0, -14)),
				scanAt(now.AddDate(0, 0, -13)),
				scanAt(now.AddDate(0, 0, 1)),
				scanAt(now),
			},
			inWindow: 2,
		},
		{
			name: "all on one day",
			events: []domain.ScanEvent{
				scanAt(now.Add(-time.Hour)),
				scanAt(now.Add(-2 * time.Hour)),
			},
			inWindow: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := Bucketize(tt.events, DefaultWindowDays, now)
			require.Len(t, series, DefaultWindowDays)

			var sum int64
			for _, day := range series {
				sum += day.Count
			}
			assert.Equal(t, tt.inWindow, sum)
			assert.Equal(t, "Feb 25", series[0].Label)
			assert.Equal(t, "2025-03-10", series[len(series)-1].Date)
		})
	}
}

func TestBucketize_UsesNowLocation(t *testing.T) {
	bangkok := time.FixedZone("ICT", 7*60*60)
	now := time.Date(2025, time.June, 3, 10, 0, 0, 0, bangkok)
	// 20:00 UTC on Jun 2 is already Jun 3 in Bangkok.
	events := []domain.ScanEvent{scanAt(time.Date(2025, time.June, 2, 20, 0, 0, 0, time.UTC))}

	series := Bucketize(events, 3, now)
	require.Len(t, series, 3)
	assert.EqualValues(t, 1, series[2].Count)
	assert.EqualValues(t, 0, series[1].Count)
}

func TestBucketize_NonPositiveWindow(t *testing.T) {
	assert.Empty(t, Bucketize([]domain.ScanEvent{scanAt(time.Now())}, 0, time.Now()))
	assert.Empty(t, Bucketize(nil, -3, time.Now()))
}

func TestGroup_SortedWithStableTies(t *testing.T) {
	events := []domain.ScanEvent{
		{Browser: "Safari"},
		{Browser: "Chrome"},
		{Browser: "Firefox"},
		{Browser: "Chrome"},
		{Browser: "Safari"},
		{Browser: ""},
	}

	got := Group(events, ByBrowser)
	assert.Equal(t, []domain.CategoryCount{
		{Label: "Safari", Count: 2},
		{Label: "Chrome", Count: 2},
		{Label: "Firefox", Count: 1},
		{Label: UnknownLabel, Count: 1},
	}, got)
}

func TestGroup_AllUndetermined(t *testing.T) {
	events := make([]domain.ScanEvent, 7)

	got := Group(events, ByCountry)
	require.Len(t, got, 1)
	assert.Equal(t, UnknownLabel, got[0].Label)
	assert.EqualValues(t, 7, got[0].Count)

	assert.Empty(t, Group(nil, ByOS))
}

func TestTopDetermined_DropsUnknownAndTruncates(t *testing.T) {
	var events []domain.ScanEvent
	add := func(country string, n int) {
		for i := 0; i < n; i++ {
			events = append(events, domain.ScanEvent{Country: country})
		}
	}
	add("", 50)
	add("Japan", 2)
	add("United States", 6)
	add("Germany", 5)
	add("Canada", 3)
	add("United Kingdom", 4)
	add("France", 1)

	got := TopDetermined(events, ByCountry, TopLocations)
	require.Len(t, got, 5)
	assert.Equal(t, "United States", got[0].Label)
	assert.Equal(t, "Japan", got[4].Label)
	for _, c := range got {
		assert.NotEqual(t, UnknownLabel, c.Label)
	}

	assert.Len(t, TopDetermined(events, ByCountry, -1), 6)
}

func TestSummarize_Guards(t *testing.T) {
	links := []domain.Link{{Active: true}, {Active: false}, {Active: true}}
	series := []domain.DayCount{{Count: 10}, {Count: 5}}

	s := Summarize(links, series, 0, true)
	assert.EqualValues(t, 15, s.TotalScans)
	assert.Zero(t, s.AvgPerDay)
	assert.Equal(t, 2, s.ActiveLinks)
	assert.Equal(t, 3, s.TotalLinks)
	assert.Equal(t, []int64{10, 5}, s.Trend)

	s = Summarize(nil, nil, DefaultWindowDays, false)
	assert.False(t, s.DataAvailable)
	assert.Zero(t, s.TotalScans)
	assert.Empty(t, s.Trend)
}
