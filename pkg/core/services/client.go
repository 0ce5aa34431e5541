package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

type match struct {
	keywords []string
	label    string
}

var (
	tabletKeywords = []string{"ipad", "tablet", "kindle", "silk/", "playbook", "nexus 7", "nexus 10"}
	mobileKeywords = []string{"mobi", "iphone", "ipod", "android", "blackberry", "opera mini", "iemobile", "windows phone"}

	// Order matters: Edge and Opera also announce Chrome, Chrome announces Safari.
	browserMatches = []match{
		{[]string{"edg/", "edga/", "edgios/", "edge/"}, "Edge"},
		{[]string{"opr/", "opera"}, "Opera"},
		{[]string{"samsungbrowser"}, "Samsung Internet"},
		{[]string{"firefox/", "fxios/"}, "Firefox"},
		{[]string{"chrome/", "crios/", "chromium/"}, "Chrome"},
		{[]string{"safari/"}, "Safari"},
	}

	// iOS and Android come before macOS and Linux, whose tokens they contain.
	osMatches = []match{
		{[]string{"windows"}, "Windows"},
		{[]string{"iphone", "ipad", "ipod"}, "iOS"},
		{[]string{"android"}, "Android"},
		{[]string{"cros "}, "ChromeOS"},
		{[]string{"mac os x", "macintosh"}, "macOS"},
		{[]string{"linux"}, "Linux"},
	}
)

const (
	otherBrowser = "Other"
	unknownOS    = "Unknown"
)

// DeviceClassOf buckets a user agent into tablet, mobile or desktop.
func DeviceClassOf(userAgent string) domain.DeviceClass {
	ua := strings.ToLower(userAgent)
	if containsAny(ua, tabletKeywords) || (strings.Contains(ua, "android") && !strings.Contains(ua, "mobile")) {
		return domain.DeviceTablet
	}
	if containsAny(ua, mobileKeywords) {
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}

func BrowserOf(userAgent string) string {
	return firstMatch(strings.ToLower(userAgent), browserMatches, otherBrowser)
}

func OSOf(userAgent string) string {
	return firstMatch(strings.ToLower(userAgent), osMatches, unknownOS)
}

// NormalizeCountry clears the placeholder codes edge proxies send when
// they cannot place an address.
func NormalizeCountry(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch code {
	case "", "XX", "T1":
		return ""
	}
	return code
}

// NewScanEvent derives the coarse client metadata for one visit.
func NewScanEvent(linkID int64, client domain.ClientContext, at time.Time) domain.ScanEvent {
	return domain.ScanEvent{
		ID:        uuid.NewString(),
		LinkID:    linkID,
		Timestamp: at.UTC(),
		Device:    DeviceClassOf(client.UserAgent),
		Browser:   BrowserOf(client.UserAgent),
		OS:        OSOf(client.UserAgent),
		Referrer:  client.Referrer,
		Country:   NormalizeCountry(client.Country),
		City:      strings.TrimSpace(client.City),
	}
}

func firstMatch(ua string, matches []match, fallback string) string {
	for _, m := range matches {
		if containsAny(ua, m.keywords) {
			return m.label
		}
	}
	return fallback
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
