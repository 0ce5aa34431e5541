package analytics

import (
	"sort"
	"strings"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

const (
	UnknownLabel = "Unknown"
	TopLocations = 5
)

// Selector picks the categorical attribute to group by. An empty result
// means the attribute was not determined for that event.
type Selector func(domain.ScanEvent) string

func ByDevice(e domain.ScanEvent) string  { return string(e.Device) }
func ByBrowser(e domain.ScanEvent) string { return e.Browser }
func ByOS(e domain.ScanEvent) string      { return e.OS }
func ByCountry(e domain.ScanEvent) string { return e.Country }

// Group counts events per label, most frequent first. Ties keep the order
// in which labels were first seen. Undetermined values are counted under
// UnknownLabel.
func Group(events []domain.ScanEvent, selector Selector) []domain.CategoryCount {
	return group(events, selector, true)
}

// TopDetermined is Group without the Unknown bucket, truncated to n entries.
// A negative n keeps every entry.
func TopDetermined(events []domain.ScanEvent, selector Selector, n int) []domain.CategoryCount {
	counts := group(events, selector, false)
	if n >= 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

func group(events []domain.ScanEvent, selector Selector, keepUnknown bool) []domain.CategoryCount {
	counts := []domain.CategoryCount{}
	index := make(map[string]int)

	for _, e := range events {
		label := strings.TrimSpace(selector(e))
		if label == "" {
			if !keepUnknown {
				continue
			}
			label = UnknownLabel
		}
		i, ok := index[label]
		if !ok {
			i = len(counts)
			index[label] = i
			counts = append(counts, domain.CategoryCount{Label: label})
		}
		counts[i].Count++
	}

	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})
	return counts
}
