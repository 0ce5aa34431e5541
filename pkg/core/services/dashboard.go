package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/analytics"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const (
	DefaultLinkLimit     = 10
	DefaultLinksTimeout  = 20 * time.Second
	DefaultCountsTimeout = 10 * time.Second
	DefaultScansTimeout  = 10 * time.Second

	degradedNotice = "We couldn't load your latest scan data. Showing sample data for now."
	emptyNotice    = "We couldn't load your latest scan data."
)

// Source is the read side the dashboard is built from. The link gateway
// and DemoSource both satisfy it.
type Source interface {
	GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error)
	GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error)
	GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error)
}

type AggregatorOptions struct {
	CacheTTL      time.Duration
	CacheSize     int
	LinkLimit     int
	LinksTimeout  time.Duration
	CountsTimeout time.Duration
	ScansTimeout  time.Duration
	WindowDays    int
	Location      *time.Location
}

// Aggregator builds dashboard snapshots per owner. Snapshot never fails:
// backend trouble and empty accounts fall back to the demo source when one
// is configured.
type Aggregator struct {
	source Source
	demo   Source
	cache  *snapshotCache
	flight singleflight.Group
	opts   AggregatorOptions
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewAggregator wires the real source and an optional demo fallback; pass a
// nil demo to disable sample data.
func NewAggregator(source Source, demo Source, opts AggregatorOptions, logger logrus.FieldLogger) (*Aggregator, error) {
	if opts.LinkLimit <= 0 {
		opts.LinkLimit = DefaultLinkLimit
	}
	if opts.LinksTimeout <= 0 {
		opts.LinksTimeout = DefaultLinksTimeout
	}
	if opts.CountsTimeout <= 0 {
		opts.CountsTimeout = DefaultCountsTimeout
	}
	if opts.ScansTimeout <= 0 {
		opts.ScansTimeout = DefaultScansTimeout
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = analytics.DefaultWindowDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	cache, err := newSnapshotCache(opts.CacheSize, opts.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create dashboard cache: %w", err)
	}

	return &Aggregator{
		source: source,
		demo:   demo,
		cache:  cache,
		opts:   opts,
		now:    time.Now,
		log:    logger.WithField("component", "dashboard"),
	}, nil
}

// Snapshot returns the owner's dashboard, from cache while it is fresh.
// Concurrent calls for one owner share a single backend pass. Cached
// snapshots are handed out as copies.
func (a *Aggregator) Snapshot(ctx context.Context, ownerID string) domain.AggregatedSnapshot {
	if snap, ok := a.cache.get(ownerID, a.now()); ok {
		return snap
	}

	// The shared pass must outlive whichever caller happened to start it.
	ctx = context.WithoutCancel(ctx)
	v, _, _ := a.flight.Do(ownerID, func() (interface{}, error) {
		if snap, ok := a.cache.get(ownerID, a.now()); ok {
			return snap, nil
		}
		return a.load(ctx, ownerID), nil
	})
	return v.(domain.AggregatedSnapshot)
}

// Refresh drops the owner's cached snapshot and fetches a new one.
func (a *Aggregator) Refresh(ctx context.Context, ownerID string) domain.AggregatedSnapshot {
	a.Invalidate(ownerID)
	return a.Snapshot(ctx, ownerID)
}

// Invalidate forgets the owner's cached snapshot. A load already running
// for the owner still answers its callers but is not cached.
func (a *Aggregator) Invalidate(ownerID string) {
	a.cache.invalidate(ownerID)
	a.flight.Forget(ownerID)
}

// PurgeExpired removes stale cache entries.
func (a *Aggregator) PurgeExpired() int {
	n := a.cache.purge(a.now())
	if n > 0 {
		a.log.WithFields(logrus.Fields{
			"purged":    n,
			"remaining": a.cache.len(),
		}).Debug("Purged expired dashboard snapshots")
	}
	return n
}

func (a *Aggregator) load(ctx context.Context, ownerID string) domain.AggregatedSnapshot {
	now := a.now().In(a.opts.Location)
	log := a.log.WithField("owner", ownerID)
	gen := a.cache.generation(ownerID)

	snap, err := a.build(ctx, a.source, ownerID, now)
	switch {
	case err == nil && len(snap.Links) > 0:
		if !a.cache.add(ownerID, gen, snap, now) {
			log.Debug("Snapshot invalidated while loading, not cached")
		}
		return snap
	case err == nil:
		log.Debug("Owner has no links")
	default:
		log.WithError(err).Warn("Dashboard fetch failed, degrading")
	}

	return a.degrade(ctx, ownerID, now, snap, err)
}

func (a *Aggregator) degrade(ctx context.Context, ownerID string, now time.Time, empty domain.AggregatedSnapshot, cause error) domain.AggregatedSnapshot {
	notice := ""
	if cause != nil && !isNetworkError(cause) {
		notice = degradedNotice
	}

	if a.demo != nil {
		demo, err := a.build(ctx, a.demo, ownerID, now)
		if err == nil {
			demo.UsingDemoData = true
			demo.HasError = cause != nil
			demo.Notice = notice
			return demo
		}
		a.log.WithError(err).Error("Demo source failed")
	}

	if cause == nil {
		// No links and no sample data: an honest empty dashboard.
		return empty
	}
	if notice != "" {
		notice = emptyNotice
	}
	series := analytics.Bucketize(nil, a.opts.WindowDays, now)
	return domain.AggregatedSnapshot{
		Links:       []domain.Link{},
		Series:      series,
		Devices:     []domain.CategoryCount{},
		Browsers:    []domain.CategoryCount{},
		OSes:        []domain.CategoryCount{},
		Locations:   []domain.CategoryCount{},
		Summary:     analytics.Summarize(nil, series, a.opts.WindowDays, false),
		HasError:    true,
		Notice:      notice,
		GeneratedAt: now,
	}
}

// build runs one aggregation pass against src.
func (a *Aggregator) build(ctx context.Context, src Source, ownerID string, now time.Time) (domain.AggregatedSnapshot, error) {
	links, err := withTimeout(ctx, a.opts.LinksTimeout, func(ctx context.Context) ([]domain.Link, error) {
		return src.GetLinksByOwner(ctx, ownerID, a.opts.LinkLimit)
	})
	if err != nil {
		return domain.AggregatedSnapshot{}, fmt.Errorf("fetch links: %w", err)
	}
	if links == nil {
		links = []domain.Link{}
	}

	var events []domain.ScanEvent
	if len(links) > 0 {
		ids := make([]int64, len(links))
		for i, l := range links {
			ids[i] = l.ID
		}

		counts, err := withTimeout(ctx, a.opts.CountsTimeout, func(ctx context.Context) (map[int64]int64, error) {
			return src.GetScanCountsByLinkIDs(ctx, ids)
		})
		if err != nil {
			return domain.AggregatedSnapshot{}, fmt.Errorf("fetch scan counts: %w", err)
		}
		for i := range links {
			links[i].ScanCount = counts[links[i].ID]
		}

		since := analytics.WindowStart(now, a.opts.WindowDays)
		events, err = withTimeout(ctx, a.opts.ScansTimeout, func(ctx context.Context) ([]domain.ScanEvent, error) {
			return src.GetScansSince(ctx, ownerID, since)
		})
		if err != nil {
			return domain.AggregatedSnapshot{}, fmt.Errorf("fetch scan history: %w", err)
		}
	}

	series := analytics.Bucketize(events, a.opts.WindowDays, now)
	return domain.AggregatedSnapshot{
		Links:       links,
		Series:      series,
		Devices:     analytics.Group(events, analytics.ByDevice),
		Browsers:    analytics.Group(events, analytics.ByBrowser),
		OSes:        analytics.Group(events, analytics.ByOS),
		Locations:   analytics.TopDetermined(events, analytics.ByCountry, analytics.TopLocations),
		Summary:     analytics.Summarize(links, series, a.opts.WindowDays, true),
		GeneratedAt: now,
	}, nil
}

// isNetworkError reports connection-level failures, which degrade silently.
// Timeouts are not included.
func isNetworkError(err error) bool {
	if errors.Is(err, domain.ErrTimeout) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

var (
	_ ports.DashboardService = (*Aggregator)(nil)
	_ Source                 = (ports.LinkGateway)(nil)
)
