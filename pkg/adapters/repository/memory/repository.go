// Package memory is a process-local LinkGateway for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

type Repository struct {
	mu     sync.RWMutex
	links  map[int64]*domain.Link
	codes  map[string]int64
	scans  map[int64][]domain.ScanEvent
	counts map[int64]int64
	idSeq  int64
}

func NewRepository() *Repository {
	return &Repository{
		links:  make(map[int64]*domain.Link),
		codes:  make(map[string]int64),
		scans:  make(map[int64][]domain.ScanEvent),
		counts: make(map[int64]int64),
	}
}

func (r *Repository) GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, nil
	}
	return r.copyOf(id), nil
}

func (r *Repository) GetLinkByID(ctx context.Context, id int64) (*domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.links[id]; !ok {
		return nil, nil
	}
	return r.copyOf(id), nil
}

func (r *Repository) GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := []domain.Link{}
	for id, l := range r.links {
		if l.OwnerID == ownerID {
			links = append(links, *r.copyOf(id))
		}
	}
	sortNewestFirst(links)
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (r *Repository) LinkNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.links {
		if l.OwnerID == ownerID && l.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) InsertLink(ctx context.Context, link *domain.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[link.ShortCode]; taken {
		return domain.ErrShortCodeTaken
	}
	r.idSeq++
	link.ID = r.idSeq
	stored := *link
	stored.ScanCount = 0
	r.links[link.ID] = &stored
	r.codes[link.ShortCode] = link.ID
	return nil
}

func (r *Repository) SetLinkActive(ctx context.Context, ownerID string, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[id]
	if !ok || l.OwnerID != ownerID {
		return domain.ErrLinkNotFound
	}
	l.Active = active
	return nil
}

func (r *Repository) DeleteLink(ctx context.Context, ownerID string, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[id]
	if !ok || l.OwnerID != ownerID {
		return domain.ErrLinkNotFound
	}
	delete(r.codes, l.ShortCode)
	delete(r.links, id)
	delete(r.scans, id)
	delete(r.counts, id)
	return nil
}

func (r *Repository) Dump(ctx context.Context) ([]domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]domain.Link, 0, len(r.links))
	for id := range r.links {
		links = append(links, *r.copyOf(id))
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links, nil
}

func (r *Repository) InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[event.LinkID]; !ok {
		return domain.ErrLinkNotFound
	}
	r.scans[event.LinkID] = append(r.scans[event.LinkID], *event)
	r.counts[event.LinkID]++
	return nil
}

func (r *Repository) GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[int64]int64, len(ids))
	for _, id := range ids {
		if c, ok := r.counts[id]; ok {
			counts[id] = c
		}
	}
	return counts, nil
}

func (r *Repository) GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := []domain.ScanEvent{}
	for id, l := range r.links {
		if l.OwnerID != ownerID {
			continue
		}
		for _, e := range r.scans[id] {
			if !e.Timestamp.Before(since) {
				events = append(events, e)
			}
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (r *Repository) Close() error {
	return nil
}

// copyOf must be called with mu held.
func (r *Repository) copyOf(id int64) *domain.Link {
	l := *r.links[id]
	l.ScanCount = r.counts[id]
	return &l
}

func sortNewestFirst(links []domain.Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID > links[j].ID
		}
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
}

var _ ports.LinkGateway = (*Repository)(nil)
