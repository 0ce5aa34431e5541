package services

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

var dashNow = time.Date(2025, time.June, 3, 15, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, src Source, withDemo bool, opts AggregatorOptions) (*Aggregator, *fakeClock) {
	t.Helper()
	clock := newFakeClock(dashNow)
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var demo Source
	if withDemo {
		d := NewDemoSource(7)
		d.now = clock.Now
		demo = d
	}

	agg, err := NewAggregator(src, demo, opts, testLogger())
	require.NoError(t, err)
	agg.now = clock.Now
	return agg, clock
}

func seedScans(t *testing.T, g *spyGateway, linkID int64, at time.Time, n int, client domain.ClientContext) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := NewScanEvent(linkID, client, at)
		require.NoError(t, g.Repository.InsertScanEvent(context.Background(), &e))
	}
}

func TestAggregator_RealSnapshot(t *testing.T) {
	gw := newSpyGateway()
	link := seedLink(t, gw, "owner", "abc123")
	seedLink(t, gw, "owner", "paused1", func(l *domain.Link) { l.Active = false })
	seedLink(t, gw, "someone-else", "other01")

	seedScans(t, gw, link.ID, time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC), 3,
		domain.ClientContext{UserAgent: uaIPhoneSafari, Country: "US"})
	seedScans(t, gw, link.ID, time.Date(2025, time.June, 3, 8, 0, 0, 0, time.UTC), 1,
		domain.ClientContext{UserAgent: uaWindowsEdge})
	// Outside the window: counted all-time, not in the series.
	seedScans(t, gw, link.ID, time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC), 2,
		domain.ClientContext{UserAgent: uaWindowsEdge})

	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})
	snap := agg.Snapshot(context.Background(), "owner")

	assert.False(t, snap.HasError)
	assert.False(t, snap.UsingDemoData)
	assert.Empty(t, snap.Notice)
	require.Len(t, snap.Links, 2)
	require.Len(t, snap.Series, 14)
	assert.Equal(t, "Jun 1", snap.Series[11].Label)
	assert.EqualValues(t, 3, snap.Series[11].Count)
	assert.EqualValues(t, 1, snap.Series[13].Count)

	for _, l := range snap.Links {
		if l.ID == link.ID {
			assert.EqualValues(t, 6, l.ScanCount)
		}
	}

	assert.EqualValues(t, 4, snap.Summary.TotalScans)
	assert.EqualValues(t, 0, snap.Summary.AvgPerDay)
	assert.Equal(t, 1, snap.Summary.ActiveLinks)
	assert.Equal(t, 2, snap.Summary.TotalLinks)
	assert.True(t, snap.Summary.DataAvailable)

	assert.Equal(t, []domain.CategoryCount{{Label: "Mobile", Count: 3}, {Label: "Desktop", Count: 1}}, snap.Devices)
	assert.Equal(t, []domain.CategoryCount{{Label: "US", Count: 3}}, snap.Locations)
	assert.EqualValues(t, 1, gw.countsCalls.Load())
}

func TestAggregator_CacheWithinTTL(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "owner", "abc123")
	agg, clock := newTestAggregator(t, gw, true, AggregatorOptions{CacheTTL: 5 * time.Minute})

	agg.Snapshot(context.Background(), "owner")
	clock.Advance(4 * time.Minute)
	agg.Snapshot(context.Background(), "owner")
	assert.EqualValues(t, 1, gw.linksCalls.Load())

	clock.Advance(time.Minute)
	agg.Snapshot(context.Background(), "owner")
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_CacheIsPerOwner(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "alice", "alice01")
	seedLink(t, gw, "bob", "bob0001")
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	a := agg.Snapshot(context.Background(), "alice")
	b := agg.Snapshot(context.Background(), "bob")
	agg.Snapshot(context.Background(), "alice")

	assert.EqualValues(t, 2, gw.linksCalls.Load())
	require.Len(t, a.Links, 1)
	require.Len(t, b.Links, 1)
	assert.Equal(t, "alice01", a.Links[0].ShortCode)
	assert.Equal(t, "bob0001", b.Links[0].ShortCode)
}

func TestAggregator_CacheEvictsLeastRecentlyUsed(t *testing.T) {
	gw := newSpyGateway()
	for _, owner := range []string{"a", "b", "c"} {
		seedLink(t, gw, owner, "code-"+owner)
	}
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{CacheSize: 2})

	agg.Snapshot(context.Background(), "a")
	agg.Snapshot(context.Background(), "b")
	agg.Snapshot(context.Background(), "c") // evicts a
	agg.Snapshot(context.Background(), "a")

	assert.EqualValues(t, 4, gw.linksCalls.Load())
}

func TestAggregator_SingleFlight(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "owner", "abc123")
	gate := make(chan struct{})
	gw.set(func(g *spyGateway) { g.linksGate = gate })
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	var wg sync.WaitGroup
	results := make([]domain.AggregatedSnapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = agg.Snapshot(context.Background(), "owner")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, gw.linksCalls.Load())
	for _, r := range results {
		assert.Len(t, r.Links, 1)
	}
}

func TestAggregator_TimeoutDegradesToDemo(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "owner", "abc123")
	gw.set(func(g *spyGateway) { g.linksDelay = 300 * time.Millisecond })
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{LinksTimeout: 20 * time.Millisecond})

	start := time.Now()
	snap := agg.Snapshot(context.Background(), "owner")
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.True(t, snap.HasError)
	assert.True(t, snap.UsingDemoData)
	assert.NotEmpty(t, snap.Notice)
	require.Len(t, snap.Links, 3)
	assert.Equal(t, "prod123", snap.Links[0].ShortCode)
	assert.EqualValues(t, 198, snap.Links[0].ScanCount)
	require.Len(t, snap.Series, 14)
	assert.EqualValues(t, 396, snap.Summary.TotalScans)
	assert.Equal(t, []domain.CategoryCount{
		{Label: "Mobile", Count: 245},
		{Label: "Desktop", Count: 108},
		{Label: "Tablet", Count: 43},
	}, snap.Devices)
	require.Len(t, snap.Locations, 5)
	assert.Equal(t, domain.CategoryCount{Label: "US", Count: 124}, snap.Locations[0])
	for _, day := range snap.Series {
		assert.Positive(t, day.Count)
	}

	// Degraded results are not cached.
	gw.set(func(g *spyGateway) { g.linksDelay = 0 })
	snap = agg.Snapshot(context.Background(), "owner")
	assert.False(t, snap.UsingDemoData)
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_ZeroLinksUsesDemoWithoutError(t *testing.T) {
	gw := newSpyGateway()
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	snap := agg.Snapshot(context.Background(), "new-user")
	assert.True(t, snap.UsingDemoData)
	assert.False(t, snap.HasError)
	assert.Empty(t, snap.Notice)
	assert.Len(t, snap.Links, 3)
	assert.Zero(t, gw.countsCalls.Load())
	assert.Zero(t, gw.scansCalls.Load())
}

func TestAggregator_ErrorNotices(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	tests := []struct {
		name       string
		inject     func(g *spyGateway)
		wantNotice bool
	}{
		{"network error on counts is silent", func(g *spyGateway) { g.countsErr = netErr }, false},
		{"network error on scans is silent", func(g *spyGateway) { g.scansErr = netErr }, false},
		{"query error surfaces", func(g *spyGateway) { g.scansErr = errors.New("relation scans does not exist") }, true},
		{"links error surfaces", func(g *spyGateway) { g.linksErr = errors.New("permission denied") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newSpyGateway()
			seedLink(t, gw, "owner", "abc123")
			gw.set(tt.inject)
			agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

			snap := agg.Snapshot(context.Background(), "owner")
			assert.True(t, snap.HasError)
			assert.True(t, snap.UsingDemoData)
			assert.Equal(t, tt.wantNotice, snap.Notice != "")
		})
	}
}

func TestAggregator_DemoDisabled(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		gw := newSpyGateway()
		seedLink(t, gw, "owner", "abc123")
		gw.set(func(g *spyGateway) { g.linksErr = errors.New("boom") })
		agg, _ := newTestAggregator(t, gw, false, AggregatorOptions{})

		snap := agg.Snapshot(context.Background(), "owner")
		assert.True(t, snap.HasError)
		assert.False(t, snap.UsingDemoData)
		assert.Empty(t, snap.Links)
		assert.Len(t, snap.Series, 14)
		assert.False(t, snap.Summary.DataAvailable)
		assert.NotEmpty(t, snap.Notice)
	})

	t.Run("no links", func(t *testing.T) {
		agg, _ := newTestAggregator(t, newSpyGateway(), false, AggregatorOptions{})

		snap := agg.Snapshot(context.Background(), "owner")
		assert.False(t, snap.HasError)
		assert.False(t, snap.UsingDemoData)
		assert.Empty(t, snap.Links)
		assert.Len(t, snap.Series, 14)
		assert.True(t, snap.Summary.DataAvailable)
		assert.Zero(t, snap.Summary.TotalScans)
	})
}

func TestAggregator_RefreshBypassesCache(t *testing.T) {
	gw := newSpyGateway()
	link := seedLink(t, gw, "owner", "abc123")
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	first := agg.Snapshot(context.Background(), "owner")
	seedScans(t, gw, link.ID, dashNow, 2, domain.ClientContext{})
	cached := agg.Snapshot(context.Background(), "owner")
	fresh := agg.Refresh(context.Background(), "owner")

	assert.EqualValues(t, 0, first.Summary.TotalScans)
	assert.EqualValues(t, 0, cached.Summary.TotalScans)
	assert.EqualValues(t, 2, fresh.Summary.TotalScans)
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_PurgeExpired(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "a", "code-a")
	seedLink(t, gw, "b", "code-b")
	agg, clock := newTestAggregator(t, gw, true, AggregatorOptions{CacheTTL: time.Minute})

	agg.Snapshot(context.Background(), "a")
	clock.Advance(30 * time.Second)
	agg.Snapshot(context.Background(), "b")

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, agg.PurgeExpired())
	assert.Equal(t, 1, agg.cache.len())
}

func TestLinkServiceInvalidatesDashboard(t *testing.T) {
	gw := newSpyGateway()
	seedLink(t, gw, "owner", "abc123")
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})
	links := NewLinkService(gw, agg, testLogger())

	agg.Snapshot(context.Background(), "owner")
	_, err := links.CreateLink(context.Background(), "owner", createRequest("Second", "example.org", ""))
	require.NoError(t, err)

	snap := agg.Snapshot(context.Background(), "owner")
	assert.Len(t, snap.Links, 2)
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_InvalidateDuringLoadIsNotCached(t *testing.T) {
	ctx := context.Background()
	gw := newSpyGateway()
	seedLink(t, gw, "owner", "abc123")
	gate := make(chan struct{})
	scanning := make(chan struct{}, 1)
	gw.set(func(g *spyGateway) {
		g.scansGate = gate
		g.scanning = scanning
	})
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})
	links := NewLinkService(gw, agg, testLogger())

	inFlight := make(chan domain.AggregatedSnapshot, 1)
	go func() { inFlight <- agg.Snapshot(ctx, "owner") }()

	// The load has read the links and is waiting on scan history.
	<-scanning
	_, err := links.CreateLink(ctx, "owner", createRequest("Second", "example.org", ""))
	require.NoError(t, err)

	gw.set(func(g *spyGateway) {
		g.scansGate = nil
		g.scanning = nil
	})
	close(gate)
	assert.Len(t, (<-inFlight).Links, 1)

	snap := agg.Snapshot(ctx, "owner")
	assert.Len(t, snap.Links, 2)
	assert.EqualValues(t, 2, gw.linksCalls.Load())

	// The fresh result is cached.
	agg.Snapshot(ctx, "owner")
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_SlowLoadDoesNotOverwriteRefresh(t *testing.T) {
	ctx := context.Background()
	gw := newSpyGateway()
	link := seedLink(t, gw, "owner", "abc123")
	gate := make(chan struct{})
	scanning := make(chan struct{}, 1)
	gw.set(func(g *spyGateway) {
		g.scansGate = gate
		g.scanning = scanning
	})
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	slow := make(chan domain.AggregatedSnapshot, 1)
	go func() { slow <- agg.Snapshot(ctx, "owner") }()
	<-scanning

	gw.set(func(g *spyGateway) {
		g.scansGate = nil
		g.scanning = nil
	})
	seedScans(t, gw, link.ID, dashNow, 3, domain.ClientContext{})
	fresh := agg.Refresh(ctx, "owner")
	assert.EqualValues(t, 3, fresh.Summary.TotalScans)

	close(gate)
	<-slow

	cached := agg.Snapshot(ctx, "owner")
	assert.EqualValues(t, 3, cached.Summary.TotalScans)
	assert.EqualValues(t, 2, gw.linksCalls.Load())
}

func TestAggregator_CachedSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	gw := newSpyGateway()
	link := seedLink(t, gw, "owner", "abc123")
	seedScans(t, gw, link.ID, dashNow, 2, domain.ClientContext{Country: "US"})
	agg, _ := newTestAggregator(t, gw, true, AggregatorOptions{})

	first := agg.Snapshot(ctx, "owner")
	require.Len(t, first.Links, 1)
	require.NotEmpty(t, first.Locations)
	first.Links[0].Name = "changed"
	first.Locations[0].Count = 99
	first.Series[0].Count = 99

	second := agg.Snapshot(ctx, "owner")
	second.Links[0].ShortCode = "changed"

	third := agg.Snapshot(ctx, "owner")
	assert.Equal(t, "Link abc123", third.Links[0].Name)
	assert.Equal(t, "abc123", third.Links[0].ShortCode)
	assert.EqualValues(t, 2, third.Locations[0].Count)
	assert.Zero(t, third.Series[0].Count)
	assert.EqualValues(t, 1, gw.linksCalls.Load())
}

func TestDemoSource_LinkCountsMatchEvents(t *testing.T) {
	agg, _ := newTestAggregator(t, newSpyGateway(), true, AggregatorOptions{})

	snap := agg.Snapshot(context.Background(), "new-user")
	require.True(t, snap.UsingDemoData)

	var perLink int64
	for _, l := range snap.Links {
		perLink += l.ScanCount
	}
	assert.EqualValues(t, snap.Summary.TotalScans, perLink)

	demo := NewDemoSource(7)
	demo.now = func() time.Time { return dashNow }
	events, err := demo.GetScansSince(context.Background(), "new-user", dashNow.AddDate(0, 0, -13))
	require.NoError(t, err)
	counts, err := demo.GetScanCountsByLinkIDs(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	byLink := map[int64]int64{}
	for _, e := range events {
		byLink[e.LinkID]++
	}
	assert.Equal(t, counts, byLink)
}
