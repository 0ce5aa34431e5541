package domain

import "time"

const (
	DefaultColor           = "#7828f8"
	DefaultBackgroundColor = "#ffffff"
)

// Link represents a short code that resolves to a target URL
type Link struct {
	ID              int64      `json:"id"`
	ShortCode       string     `json:"short_code"`
	TargetURL       string     `json:"target_url"`
	Name            string     `json:"name"`
	OwnerID         string     `json:"owner_id"`
	Active          bool       `json:"active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Color           string     `json:"color"`
	BackgroundColor string     `json:"background_color"`
	CreatedAt       time.Time  `json:"created_at"`
	ScanCount       int64      `json:"scan_count"` // Aggregated count
}

// Expired reports whether the link has an expiry at or before now.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Resolvable reports whether the link may be redirected to at now.
func (l *Link) Resolvable(now time.Time) bool {
	return l.Active && !l.Expired(now)
}

// TrackingPath is the path scanned QR codes point at.
func (l *Link) TrackingPath() string {
	return "/r/" + l.ShortCode
}
