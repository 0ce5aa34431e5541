package domain

import "time"

type DeviceClass string

const (
	DeviceDesktop DeviceClass = "Desktop"
	DeviceMobile  DeviceClass = "Mobile"
	DeviceTablet  DeviceClass = "Tablet"
)

// ScanEvent represents one recorded visit to a short code.
// Empty Referrer, Country and City mean the value could not be determined.
type ScanEvent struct {
	ID        string      `json:"id"`
	LinkID    int64       `json:"link_id"`
	Timestamp time.Time   `json:"timestamp"`
	Device    DeviceClass `json:"device"`
	Browser   string      `json:"browser"`
	OS        string      `json:"os"`
	Referrer  string      `json:"referrer,omitempty"`
	Country   string      `json:"country,omitempty"`
	City      string      `json:"city,omitempty"`
}

// ClientContext is what the redirect endpoint knows about the scanning client.
type ClientContext struct {
	UserAgent string
	Referrer  string
	Country   string
	City      string
}
