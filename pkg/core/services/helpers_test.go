package services

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// spyGateway wraps the memory gateway with call counters, delays and
// injected failures.
type spyGateway struct {
	*memory.Repository

	slugCalls   atomic.Int32
	linksCalls  atomic.Int32
	countsCalls atomic.Int32
	scansCalls  atomic.Int32

	mu         sync.Mutex
	slugDelay  time.Duration
	linksDelay time.Duration
	linksGate  chan struct{}
	scansGate  chan struct{}
	scanning   chan struct{}
	slugErr    error
	linksErr   error
	countsErr  error
	scansErr   error
	insertErr  error
	insertGate chan struct{}
	inserting  chan struct{}
}

func newSpyGateway() *spyGateway {
	return &spyGateway{Repository: memory.NewRepository()}
}

func (g *spyGateway) set(fn func(g *spyGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *spyGateway) snapshot() spyGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	return spyGateway{
		slugDelay:  g.slugDelay,
		linksDelay: g.linksDelay,
		linksGate:  g.linksGate,
		scansGate:  g.scansGate,
		scanning:   g.scanning,
		slugErr:    g.slugErr,
		linksErr:   g.linksErr,
		countsErr:  g.countsErr,
		scansErr:   g.scansErr,
		insertErr:  g.insertErr,
		insertGate: g.insertGate,
		inserting:  g.inserting,
	}
}

func (g *spyGateway) GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error) {
	g.slugCalls.Add(1)
	cfg := g.snapshot()
	if err := sleep(ctx, cfg.slugDelay); err != nil {
		return nil, err
	}
	if cfg.slugErr != nil {
		return nil, cfg.slugErr
	}
	return g.Repository.GetLinkBySlug(ctx, code)
}

func (g *spyGateway) GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	g.linksCalls.Add(1)
	cfg := g.snapshot()
	if cfg.linksGate != nil {
		<-cfg.linksGate
	}
	if err := sleep(ctx, cfg.linksDelay); err != nil {
		return nil, err
	}
	if cfg.linksErr != nil {
		return nil, cfg.linksErr
	}
	return g.Repository.GetLinksByOwner(ctx, ownerID, limit)
}

func (g *spyGateway) GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	g.countsCalls.Add(1)
	if err := g.snapshot().countsErr; err != nil {
		return nil, err
	}
	return g.Repository.GetScanCountsByLinkIDs(ctx, ids)
}

func (g *spyGateway) GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error) {
	g.scansCalls.Add(1)
	cfg := g.snapshot()
	if cfg.scanning != nil {
		cfg.scanning <- struct{}{}
	}
	if cfg.scansGate != nil {
		<-cfg.scansGate
	}
	if cfg.scansErr != nil {
		return nil, cfg.scansErr
	}
	return g.Repository.GetScansSince(ctx, ownerID, since)
}

func (g *spyGateway) InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error {
	cfg := g.snapshot()
	if cfg.inserting != nil {
		cfg.inserting <- struct{}{}
	}
	if cfg.insertGate != nil {
		<-cfg.insertGate
	}
	if cfg.insertErr != nil {
		return cfg.insertErr
	}
	return g.Repository.InsertScanEvent(ctx, event)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seedLink(t *testing.T, g interface {
	InsertLink(context.Context, *domain.Link) error
}, owner, code string, mutate ...func(*domain.Link)) *domain.Link {
	t.Helper()
	link := &domain.Link{
		ShortCode:       code,
		TargetURL:       "https://example.com/" + code,
		Name:            "Link " + code,
		OwnerID:         owner,
		Active:          true,
		Color:           domain.DefaultColor,
		BackgroundColor: domain.DefaultBackgroundColor,
		CreatedAt:       time.Now().UTC(),
	}
	for _, m := range mutate {
		m(link)
	}
	require.NoError(t, g.InsertLink(context.Background(), link))
	return link
}
