// Package repotest holds the behaviour every LinkGateway implementation must share.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

// Factory returns an empty gateway. Cleanup is the factory's job.
type Factory func(t *testing.T) ports.LinkGateway

// Base is millisecond aligned so every store round-trips it exactly.
var Base = time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC)

func NewLink(owner, code string, createdAt time.Time) *domain.Link {
	return &domain.Link{
		ShortCode:       code,
		TargetURL:       "https://example.com/" + code,
		Name:            "Link " + code,
		OwnerID:         owner,
		Active:          true,
		Color:           domain.DefaultColor,
		BackgroundColor: domain.DefaultBackgroundColor,
		CreatedAt:       createdAt,
	}
}

func Run(t *testing.T, newGateway Factory) {
	t.Run("Links", func(t *testing.T) { testLinks(t, newGateway(t)) })
	t.Run("OwnerScoping", func(t *testing.T) { testOwnerScoping(t, newGateway(t)) })
	t.Run("Scans", func(t *testing.T) { testScans(t, newGateway(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newGateway(t)) })
}

func testLinks(t *testing.T, gw ports.LinkGateway) {
	ctx := context.Background()

	missing, err := gw.GetLinkBySlug(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	expires := Base.Add(48 * time.Hour)
	link := NewLink("alice", "abc123", Base)
	link.ExpiresAt = &expires
	link.Color = "#8b5cf6"
	require.NoError(t, gw.InsertLink(ctx, link))
	require.NotZero(t, link.ID)

	got, err := gw.GetLinkBySlug(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, link.ID, got.ID)
	assert.Equal(t, "https://example.com/abc123", got.TargetURL)
	assert.Equal(t, "Link abc123", got.Name)
	assert.Equal(t, "alice", got.OwnerID)
	assert.True(t, got.Active)
	assert.Equal(t, "#8b5cf6", got.Color)
	assert.Equal(t, domain.DefaultBackgroundColor, got.BackgroundColor)
	assert.True(t, Base.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt), "expires_at %s", got.ExpiresAt)
	assert.Zero(t, got.ScanCount)

	byID, err := gw.GetLinkByID(ctx, link.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "abc123", byID.ShortCode)

	none, err := gw.GetLinkByID(ctx, link.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, none)

	err = gw.InsertLink(ctx, NewLink("bob", "abc123", Base))
	assert.ErrorIs(t, err, domain.ErrShortCodeTaken)

	exists, err := gw.LinkNameExists(ctx, "alice", "Link abc123")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = gw.LinkNameExists(ctx, "bob", "Link abc123")
	require.NoError(t, err)
	assert.False(t, exists)

	never := NewLink("alice", "forever", Base.Add(time.Minute))
	require.NoError(t, gw.InsertLink(ctx, never))
	got, err = gw.GetLinkBySlug(ctx, "forever")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)

	all, err := gw.Dump(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, link.ID, all[0].ID)
	assert.Equal(t, never.ID, all[1].ID)
}

func testOwnerScoping(t *testing.T, gw ports.LinkGateway) {
	ctx := context.Background()

	for i, code := range []string{"old001", "mid002", "new003"} {
		require.NoError(t, gw.InsertLink(ctx, NewLink("alice", code, Base.Add(time.Duration(i)*time.Hour))))
	}
	other := NewLink("bob", "bob001", Base)
	require.NoError(t, gw.InsertLink(ctx, other))

	links, err := gw.GetLinksByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "new003", links[0].ShortCode)
	assert.Equal(t, "old001", links[2].ShortCode)

	limited, err := gw.GetLinksByOwner(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "mid002", limited[1].ShortCode)

	nobody, err := gw.GetLinksByOwner(ctx, "carol", 10)
	require.NoError(t, err)
	assert.Empty(t, nobody)

	assert.ErrorIs(t, gw.SetLinkActive(ctx, "alice", other.ID, false), domain.ErrLinkNotFound)
	assert.ErrorIs(t, gw.SetLinkActive(ctx, "bob", other.ID+1000, false), domain.ErrLinkNotFound)

	require.NoError(t, gw.SetLinkActive(ctx, "bob", other.ID, false))
	got, err := gw.GetLinkByID(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	require.NoError(t, gw.SetLinkActive(ctx, "bob", other.ID, true))
	got, err = gw.GetLinkByID(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func testScans(t *testing.T, gw ports.LinkGateway) {
	ctx := context.Background()

	a := NewLink("alice", "scan01", Base)
	b := NewLink("alice", "scan02", Base.Add(time.Minute))
	c := NewLink("bob", "scan03", Base)
	for _, l := range []*domain.Link{a, b, c} {
		require.NoError(t, gw.InsertLink(ctx, l))
	}

	scan := func(id string, linkID int64, at time.Time, country string) {
		require.NoError(t, gw.InsertScanEvent(ctx, &domain.ScanEvent{
			ID:        id,
			LinkID:    linkID,
			Timestamp: at,
			Device:    domain.DeviceMobile,
			Browser:   "Safari",
			OS:        "iOS",
			Referrer:  "https://ref.example.org",
			Country:   country,
			City:      "",
		}))
	}
	scan("s1", a.ID, Base.Add(-72*time.Hour), "US")
	scan("s2", a.ID, Base.Add(2*time.Hour), "DE")
	scan("s3", b.ID, Base.Add(time.Hour), "")
	scan("s4", c.ID, Base.Add(time.Hour), "GB")

	err := gw.InsertScanEvent(ctx, &domain.ScanEvent{ID: "s5", LinkID: c.ID + 1000, Timestamp: Base, Device: domain.DeviceDesktop})
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)

	counts, err := gw.GetScanCountsByLinkIDs(ctx, []int64{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[a.ID])
	assert.EqualValues(t, 1, counts[b.ID])
	assert.EqualValues(t, 1, counts[c.ID])

	empty, err := gw.GetScanCountsByLinkIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := gw.GetLinkBySlug(ctx, "scan01")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ScanCount)

	events, err := gw.GetScansSince(ctx, "alice", Base)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s3", events[0].ID)
	assert.Equal(t, "s2", events[1].ID)
	assert.Equal(t, b.ID, events[0].LinkID)
	assert.Empty(t, events[0].Country)
	assert.Equal(t, "DE", events[1].Country)
	assert.Equal(t, domain.DeviceMobile, events[1].Device)
	assert.Equal(t, "Safari", events[1].Browser)
	assert.Equal(t, "iOS", events[1].OS)
	assert.Equal(t, "https://ref.example.org", events[1].Referrer)
	assert.True(t, Base.Add(2*time.Hour).Equal(events[1].Timestamp))

	all, err := gw.GetScansSince(ctx, "alice", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testDeleteCascades(t *testing.T, gw ports.LinkGateway) {
	ctx := context.Background()

	link := NewLink("alice", "gone01", Base)
	keep := NewLink("alice", "keep01", Base)
	require.NoError(t, gw.InsertLink(ctx, link))
	require.NoError(t, gw.InsertLink(ctx, keep))
	for i, l := range []*domain.Link{link, keep} {
		require.NoError(t, gw.InsertScanEvent(ctx, &domain.ScanEvent{
			ID: l.ShortCode + "-scan", LinkID: l.ID, Timestamp: Base.Add(time.Duration(i) * time.Second),
			Device: domain.DeviceDesktop, Browser: "Chrome", OS: "Windows",
		}))
	}

	assert.ErrorIs(t, gw.DeleteLink(ctx, "mallory", link.ID), domain.ErrLinkNotFound)
	still, err := gw.GetLinkByID(ctx, link.ID)
	require.NoError(t, err)
	require.NotNil(t, still)

	require.NoError(t, gw.DeleteLink(ctx, "alice", link.ID))
	assert.ErrorIs(t, gw.DeleteLink(ctx, "alice", link.ID), domain.ErrLinkNotFound)

	gone, err := gw.GetLinkBySlug(ctx, "gone01")
	require.NoError(t, err)
	assert.Nil(t, gone)

	counts, err := gw.GetScanCountsByLinkIDs(ctx, []int64{link.ID, keep.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[link.ID])
	assert.EqualValues(t, 1, counts[keep.ID])

	events, err := gw.GetScansSince(ctx, "alice", time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, keep.ID, events[0].LinkID)

	// The code is free again.
	require.NoError(t, gw.InsertLink(ctx, NewLink("bob", "gone01", Base)))
}
