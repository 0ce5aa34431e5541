package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

type weighted struct {
	label string
	count int
}

// Category mixes for sample data. Device, browser, OS and per-link scans
// each add up to demoScanTotal; locations leave a few scans undetermined.
var (
	demoDevices   = []weighted{{"Mobile", 245}, {"Desktop", 108}, {"Tablet", 43}}
	demoBrowsers  = []weighted{{"Chrome", 186}, {"Safari", 124}, {"Firefox", 53}, {"Edge", 33}}
	demoOSes      = []weighted{{"iOS", 148}, {"Android", 132}, {"Windows", 86}, {"macOS", 30}}
	demoCountries = []weighted{{"US", 124}, {"DE", 86}, {"GB", 72}, {"CA", 51}, {"JP", 43}}
)

const demoScanTotal = 396

type demoLink struct {
	code, name, target, color string
	expiresInDays             int
	scans                     int64
}

var demoLinks = []demoLink{
	{"prod123", "Product Landing Page", "https://example.com/product", "#8B5CF6", 0, 198},
	{"offer456", "Special Offer", "https://example.com/offer", "#2563EB", 30, 118},
	{"conf789", "Conference Badge", "https://example.com/event", "#DC2626", 7, 80},
}

// DemoSource serves a small fixed sample dataset through the same Source
// interface as the real gateway. Output depends only on the seed and the
// clock, so repeated calls agree with each other.
type DemoSource struct {
	seed uint64
	now  func() time.Time
}

func NewDemoSource(seed uint64) *DemoSource {
	return &DemoSource{seed: seed, now: time.Now}
}

func (d *DemoSource) GetLinksByOwner(_ context.Context, ownerID string, limit int) ([]domain.Link, error) {
	now := d.now()
	links := make([]domain.Link, 0, len(demoLinks))
	for i, dl := range demoLinks {
		link := domain.Link{
			ID:              int64(i + 1),
			ShortCode:       dl.code,
			TargetURL:       dl.target,
			Name:            dl.name,
			OwnerID:         ownerID,
			Active:          true,
			Color:           dl.color,
			BackgroundColor: domain.DefaultBackgroundColor,
			CreatedAt:       now.AddDate(0, 0, -(i+1)*10),
		}
		if dl.expiresInDays > 0 {
			exp := now.AddDate(0, 0, dl.expiresInDays)
			link.ExpiresAt = &exp
		}
		links = append(links, link)
	}
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (d *DemoSource) GetScanCountsByLinkIDs(_ context.Context, ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if id >= 1 && int(id) <= len(demoLinks) {
			counts[id] = demoLinks[id-1].scans
		}
	}
	return counts, nil
}

// GetScansSince spreads demoScanTotal scans over the days from since to now
// with pseudo-random daily volumes.
func (d *DemoSource) GetScansSince(_ context.Context, _ string, since time.Time) ([]domain.ScanEvent, error) {
	now := d.now()
	loc := now.Location()
	first := startOfDay(since.In(loc))
	last := startOfDay(now)
	if first.After(last) {
		return []domain.ScanEvent{}, nil
	}

	var days []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}

	rng := rand.New(rand.NewPCG(d.seed, uint64(first.Unix())))
	perDay := spread(rng, len(days), demoScanTotal)

	devices := expand(rng, demoDevices, demoScanTotal)
	browsers := expand(rng, demoBrowsers, demoScanTotal)
	oses := expand(rng, demoOSes, demoScanTotal)
	countries := expand(rng, demoCountries, demoScanTotal)
	linkIDs := demoLinkIDs(rng)

	events := make([]domain.ScanEvent, 0, demoScanTotal)
	for i, day := range days {
		for j := 0; j < perDay[i]; j++ {
			n := len(events)
			events = append(events, domain.ScanEvent{
				ID:        fmt.Sprintf("demo-%d", n),
				LinkID:    linkIDs[n],
				Timestamp: day.Add(12*time.Hour + time.Duration(j)*time.Minute),
				Device:    domain.DeviceClass(devices[n]),
				Browser:   browsers[n],
				OS:        oses[n],
				Country:   countries[n],
			})
		}
	}
	return events, nil
}

// spread splits total over n days, each weighted 5..34 like a quiet link.
func spread(rng *rand.Rand, n, total int) []int {
	weights := make([]int, n)
	sum := 0
	for i := range weights {
		weights[i] = 5 + rng.IntN(30)
		sum += weights[i]
	}

	out := make([]int, n)
	assigned := 0
	for i, w := range weights {
		out[i] = w * total / sum
		assigned += out[i]
	}
	for i := n - 1; assigned < total; i-- {
		out[i]++
		assigned++
		if i == 0 {
			i = n
		}
	}
	return out
}

// expand lists each label count times, pads with undetermined values up to
// total and shuffles.
func expand(rng *rand.Rand, mix []weighted, total int) []string {
	labels := make([]string, 0, total)
	for _, w := range mix {
		for i := 0; i < w.count; i++ {
			labels = append(labels, w.label)
		}
	}
	for len(labels) < total {
		labels = append(labels, "")
	}
	rng.Shuffle(len(labels), func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
	})
	return labels[:total]
}

// demoLinkIDs lists each demo link's id as many times as it has scans, shuffled.
func demoLinkIDs(rng *rand.Rand) []int64 {
	ids := make([]int64, 0, demoScanTotal)
	for i, dl := range demoLinks {
		for j := int64(0); j < dl.scans; j++ {
			ids = append(ids, int64(i+1))
		}
	}
	rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	return ids
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var _ Source = (*DemoSource)(nil)
