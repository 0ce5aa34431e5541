package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
)

// LinkGateway defines storage operations for links and their scans
type LinkGateway interface {
	// GetLinkBySlug returns nil, nil when no link has the code.
	GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error)
	GetLinkByID(ctx context.Context, id int64) (*domain.Link, error)
	// GetLinksByOwner returns the newest links first.
	GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error)
	LinkNameExists(ctx context.Context, ownerID, name string) (bool, error)
	InsertLink(ctx context.Context, link *domain.Link) error
	SetLinkActive(ctx context.Context, ownerID string, id int64, active bool) error
	// DeleteLink removes the link and all of its scans.
	DeleteLink(ctx context.Context, ownerID string, id int64) error
	Dump(ctx context.Context) ([]domain.Link, error) // For migration

	// Scans
	// InsertScanEvent stores the event and bumps the link's scan count in one operation.
	InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error
	GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error)
	GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error)

	Close() error
}

// Maintainer is implemented by gateways that need periodic housekeeping.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// ScanRecorder accepts scans without blocking the caller.
type ScanRecorder interface {
	Record(linkID int64, client domain.ClientContext)
}

// LinkService defines the owner-facing link operations
type LinkService interface {
	CreateLink(ctx context.Context, ownerID string, req CreateLinkRequest) (*domain.Link, error)
	ListLinks(ctx context.Context, ownerID string, limit int) ([]domain.Link, error)
	SetActive(ctx context.Context, ownerID string, id int64, active bool) error
	DeleteLink(ctx context.Context, ownerID string, id int64) error
}

// DashboardService produces dashboard snapshots; it never fails.
type DashboardService interface {
	Snapshot(ctx context.Context, ownerID string) domain.AggregatedSnapshot
	Refresh(ctx context.Context, ownerID string) domain.AggregatedSnapshot
	Invalidate(ownerID string)
}

// CreateLinkRequest payload
type CreateLinkRequest struct {
	Name            string     `json:"name"`
	TargetURL       string     `json:"target_url"`
	ShortCode       string     `json:"short_code,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Color           string     `json:"color,omitempty"`
	BackgroundColor string     `json:"background_color,omitempty"`
}
