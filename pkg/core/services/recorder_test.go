package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

const (
	uaIPhoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaIPhoneChrome  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/123.0.6312.52 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	uaSamsung       = "Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/24.0 Chrome/117.0.0.0 Mobile Safari/537.36"
	uaWindowsEdge   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.2420.65"
	uaWindowsOpera  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 OPR/108.0.0.0"
	uaMacFirefox    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:124.0) Gecko/20100101 Firefox/124.0"
	uaMacSafari     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaLinuxChrome   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	uaChromebook    = "Mozilla/5.0 (X11; CrOS x86_64 15633.69.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.6045.212 Safari/537.36"
	uaCurl          = "curl/8.6.0"
)

func TestClientClassification(t *testing.T) {
	tests := []struct {
		ua      string
		device  domain.DeviceClass
		browser string
		os      string
	}{
		{uaIPhoneSafari, domain.DeviceMobile, "Safari", "iOS"},
		{uaIPhoneChrome, domain.DeviceMobile, "Chrome", "iOS"},
		{uaIPad, domain.DeviceTablet, "Safari", "iOS"},
		{uaAndroidPhone, domain.DeviceMobile, "Chrome", "Android"},
		{uaAndroidTablet, domain.DeviceTablet, "Chrome", "Android"},
		{uaSamsung, domain.DeviceMobile, "Samsung Internet", "Android"},
		{uaWindowsEdge, domain.DeviceDesktop, "Edge", "Windows"},
		{uaWindowsOpera, domain.DeviceDesktop, "Opera", "Windows"},
		{uaMacFirefox, domain.DeviceDesktop, "Firefox", "macOS"},
		{uaMacSafari, domain.DeviceDesktop, "Safari", "macOS"},
		{uaLinuxChrome, domain.DeviceDesktop, "Chrome", "Linux"},
		{uaChromebook, domain.DeviceDesktop, "Chrome", "ChromeOS"},
		{uaCurl, domain.DeviceDesktop, "Other", "Unknown"},
		{"", domain.DeviceDesktop, "Other", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.browser+"/"+tt.os, func(t *testing.T) {
			assert.Equal(t, tt.device, DeviceClassOf(tt.ua))
			assert.Equal(t, tt.browser, BrowserOf(tt.ua))
			assert.Equal(t, tt.os, OSOf(tt.ua))
		})
	}
}

func TestNewScanEvent(t *testing.T) {
	at := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.FixedZone("ICT", 7*60*60))
	e := NewScanEvent(42, domain.ClientContext{
		UserAgent: uaIPhoneSafari,
		Referrer:  "https://news.example.org/post",
		Country:   "th",
		City:      " Bangkok ",
	}, at)

	assert.NotEmpty(t, e.ID)
	assert.EqualValues(t, 42, e.LinkID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.True(t, e.Timestamp.Equal(at))
	assert.Equal(t, "https://news.example.org/post", e.Referrer)
	assert.Equal(t, "TH", e.Country)
	assert.Equal(t, "Bangkok", e.City)

	unknown := NewScanEvent(1, domain.ClientContext{Country: "XX"}, at)
	assert.Empty(t, unknown.Country)
	assert.Empty(t, unknown.Referrer)
	assert.NotEqual(t, e.ID, unknown.ID)
}

func TestRecorder_PersistsAndCounts(t *testing.T) {
	gw := newSpyGateway()
	link := seedLink(t, gw, "o", "abc123")

	rec := NewRecorder(gw, RecorderOptions{QueueSize: 8, Workers: 2}, testLogger())
	for i := 0; i < 5; i++ {
		rec.Record(link.ID, domain.ClientContext{UserAgent: uaAndroidPhone})
	}
	require.NoError(t, rec.Close(context.Background()))

	counts, err := gw.GetScanCountsByLinkIDs(context.Background(), []int64{link.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 5, counts[link.ID])
	assert.Zero(t, rec.Dropped())

	events, err := gw.GetScansSince(context.Background(), "o", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, domain.DeviceMobile, events[0].Device)
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	gw := newSpyGateway()
	link := seedLink(t, gw, "o", "abc123")
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	gw.set(func(g *spyGateway) {
		g.insertGate = release
		g.inserting = entered
	})

	rec := NewRecorder(gw, RecorderOptions{QueueSize: 1, Workers: 1}, testLogger())

	rec.Record(link.ID, domain.ClientContext{}) // picked up by the worker
	<-entered
	rec.Record(link.ID, domain.ClientContext{}) // waits in the queue

	done := make(chan struct{})
	go func() {
		rec.Record(link.ID, domain.ClientContext{}) // no room
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.EqualValues(t, 1, rec.Dropped())

	close(release)
	require.NoError(t, rec.Close(context.Background()))

	counts, err := gw.GetScanCountsByLinkIDs(context.Background(), []int64{link.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[link.ID])
}

func TestRecorder_WriteFailureIsDropped(t *testing.T) {
	gw := newSpyGateway()
	gw.set(func(g *spyGateway) { g.insertErr = errors.New("disk full") })

	rec := NewRecorder(gw, RecorderOptions{}, testLogger())
	assert.NotPanics(t, func() { rec.Record(7, domain.ClientContext{}) })
	require.NoError(t, rec.Close(context.Background()))
	assert.EqualValues(t, 1, rec.Dropped())

	// Closed recorders drop instead of panicking.
	assert.NotPanics(t, func() { rec.Record(7, domain.ClientContext{}) })
	assert.EqualValues(t, 2, rec.Dropped())
	require.NoError(t, rec.Close(context.Background()))
}
