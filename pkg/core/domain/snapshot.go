package domain

import (
	"slices"
	"time"
)

// DayCount is one calendar-day bucket of a scan series.
type DayCount struct {
	Date  string `json:"date"`  // YYYY-MM-DD
	Label string `json:"label"` // e.g. "Jun 3"
	Count int64  `json:"count"`
}

// CategoryCount is one row of a category breakdown.
type CategoryCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Summary holds the headline dashboard numbers.
type Summary struct {
	TotalScans    int64 `json:"total_scans"`
	DataAvailable bool  `json:"data_available"`
	ActiveLinks   int   `json:"active_links"`
	TotalLinks    int   `json:"total_links"`
	AvgPerDay     int64 `json:"avg_per_day"`
	// ConversionEstimate stays nil until a click-through event is tracked.
	ConversionEstimate *float64 `json:"conversion_estimate"`
	Trend              []int64  `json:"trend"`
}

// AggregatedSnapshot is everything the dashboard renders for one owner.
type AggregatedSnapshot struct {
	Links         []Link          `json:"links"`
	Series        []DayCount      `json:"series"`
	Devices       []CategoryCount `json:"devices"`
	Browsers      []CategoryCount `json:"browsers"`
	OSes          []CategoryCount `json:"oses"`
	Locations     []CategoryCount `json:"locations"`
	Summary       Summary         `json:"summary"`
	HasError      bool            `json:"has_error"`
	UsingDemoData bool            `json:"using_demo_data"`
	Notice        string          `json:"notice,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s AggregatedSnapshot) Clone() AggregatedSnapshot {
	c := s
	if s.Links != nil {
		c.Links = make([]Link, len(s.Links))
		for i, l := range s.Links {
			if l.ExpiresAt != nil {
				exp := *l.ExpiresAt
				l.ExpiresAt = &exp
			}
			c.Links[i] = l
		}
	}
	c.Series = slices.Clone(s.Series)
	c.Devices = slices.Clone(s.Devices)
	c.Browsers = slices.Clone(s.Browsers)
	c.OSes = slices.Clone(s.OSes)
	c.Locations = slices.Clone(s.Locations)
	c.Summary.Trend = slices.Clone(s.Summary.Trend)
	if s.Summary.ConversionEstimate != nil {
		v := *s.Summary.ConversionEstimate
		c.Summary.ConversionEstimate = &v
	}
	return c
}
