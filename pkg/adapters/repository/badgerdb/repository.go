package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const (
	maxConflictRetries = 8
	gcDiscardRatio     = 0.5
)

// BadgerRepository implements ports.LinkGateway on an embedded BadgerDB.
//
// Key layout:
//
//	link:{id}                    JSON link, scan_count included
//	code:{short_code}            link id
//	owner:{owner_id}:{id}        empty, one per owned link
//	scan:{link_id}:{millis}:{id} JSON scan event
type BadgerRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log logrus.FieldLogger
}

// NewBadgerRepository opens the database at dbPath. An empty path keeps
// everything in memory.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %q: %w", dbPath, err)
	}

	seq, err := db.GetSequence([]byte("seq:link"), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease link id sequence: %w", err)
	}

	logger.WithField("path", dbPath).Info("BadgerDB opened")
	return &BadgerRepository{
		db:  db,
		seq: seq,
		log: logger.WithField("component", "repository"),
	}, nil
}

// Close releases the id sequence and closes the database.
func (r *BadgerRepository) Close() error {
	if err := r.seq.Release(); err != nil {
		r.log.WithError(err).Warn("Failed to release link id sequence")
	}
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed")
	return nil
}

func linkKey(id int64) []byte {
	return []byte(fmt.Sprintf("link:%020d", id))
}

func codeKey(code string) []byte {
	return []byte("code:" + code)
}

func ownerPrefix(ownerID string) []byte {
	return []byte(fmt.Sprintf("owner:%s:", ownerID))
}

func ownerKey(ownerID string, id int64) []byte {
	return append(ownerPrefix(ownerID), fmt.Sprintf("%020d", id)...)
}

func scanPrefix(linkID int64) []byte {
	return []byte(fmt.Sprintf("scan:%020d:", linkID))
}

func scanSeekKey(linkID int64, since time.Time) []byte {
	ms := since.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return append(scanPrefix(linkID), fmt.Sprintf("%016d", ms)...)
}

func scanKey(e *domain.ScanEvent) []byte {
	return append(scanSeekKey(e.LinkID, e.Timestamp), ":"+e.ID...)
}

// update retries on optimistic transaction conflicts.
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getLink(txn *badger.Txn, id int64) (*domain.Link, error) {
	item, err := txn.Get(linkKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var link domain.Link
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &link)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal link %d: %w", id, err)
	}
	return &link, nil
}

func putLink(txn *badger.Txn, link *domain.Link) error {
	b, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal link: %w", err)
	}
	return txn.Set(linkKey(link.ID), b)
}

func idOf(val []byte) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(string(val), "%d", &id)
	return id, err
}

func (r *BadgerRepository) GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error) {
	var link *domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := idOf(val)
		if err != nil {
			return err
		}
		link, err = getLink(txn, id)
		return err
	})
	return link, err
}

func (r *BadgerRepository) GetLinkByID(ctx context.Context, id int64) (*domain.Link, error) {
	var link *domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		link, err = getLink(txn, id)
		return err
	})
	return link, err
}

// ownedLinks must run inside a transaction.
func ownedLinks(txn *badger.Txn, ownerID string) ([]domain.Link, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := ownerPrefix(ownerID)
	links := []domain.Link{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		suffix := it.Item().Key()[len(prefix):]
		if len(suffix) != 20 {
			continue // another owner whose id extends this prefix
		}
		id, err := idOf(suffix)
		if err != nil {
			return nil, err
		}
		link, err := getLink(txn, id)
		if err != nil {
			return nil, err
		}
		if link != nil {
			links = append(links, *link)
		}
	}
	return links, nil
}

func (r *BadgerRepository) GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	var links []domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		links, err = ownedLinks(txn, ownerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get links for owner %s: %w", ownerID, err)
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].ID > links[j].ID
		}
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (r *BadgerRepository) LinkNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	links, err := r.GetLinksByOwner(ctx, ownerID, 0)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *BadgerRepository) InsertLink(ctx context.Context, link *domain.Link) error {
	next, err := r.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate link id: %w", err)
	}
	stored := *link
	stored.ID = int64(next) + 1
	stored.ScanCount = 0

	err = r.update(func(txn *badger.Txn) error {
		_, err := txn.Get(codeKey(stored.ShortCode))
		if err == nil {
			return domain.ErrShortCodeTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putLink(txn, &stored); err != nil {
			return err
		}
		if err := txn.Set(codeKey(stored.ShortCode), []byte(fmt.Sprintf("%d", stored.ID))); err != nil {
			return err
		}
		return txn.Set(ownerKey(stored.OwnerID, stored.ID), nil)
	})
	if err != nil {
		return err
	}

	link.ID = stored.ID
	r.log.WithFields(logrus.Fields{"link_id": stored.ID, "short_code": stored.ShortCode}).Debug("Link saved")
	return nil
}

func (r *BadgerRepository) SetLinkActive(ctx context.Context, ownerID string, id int64, active bool) error {
	return r.update(func(txn *badger.Txn) error {
		link, err := getLink(txn, id)
		if err != nil {
			return err
		}
		if link == nil || link.OwnerID != ownerID {
			return domain.ErrLinkNotFound
		}
		link.Active = active
		return putLink(txn, link)
	})
}

// DeleteLink removes the link records in one transaction, then its scans in
// a write batch. Orphaned scans are unreachable once the owner index is gone.
func (r *BadgerRepository) DeleteLink(ctx context.Context, ownerID string, id int64) error {
	err := r.update(func(txn *badger.Txn) error {
		link, err := getLink(txn, id)
		if err != nil {
			return err
		}
		if link == nil || link.OwnerID != ownerID {
			return domain.ErrLinkNotFound
		}
		for _, key := range [][]byte{linkKey(id), codeKey(link.ShortCode), ownerKey(ownerID, id)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var keys [][]byte
	err = r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := scanPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list scans of link %d: %w", id, err)
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete scans of link %d: %w", id, err)
	}

	r.log.WithFields(logrus.Fields{"link_id": id, "scans": len(keys)}).Debug("Link deleted")
	return nil
}

func (r *BadgerRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	links := []domain.Link{}
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("link:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var link domain.Link
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &link)
			}); err != nil {
				return err
			}
			links = append(links, link)
		}
		return nil
	})
	return links, err
}

func (r *BadgerRepository) InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal scan: %w", err)
	}

	return r.update(func(txn *badger.Txn) error {
		link, err := getLink(txn, event.LinkID)
		if err != nil {
			return err
		}
		if link == nil {
			return domain.ErrLinkNotFound
		}
		link.ScanCount++
		if err := putLink(txn, link); err != nil {
			return err
		}
		return txn.Set(scanKey(event), b)
	})
}

func (r *BadgerRepository) GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(ids))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			link, err := getLink(txn, id)
			if err != nil {
				return err
			}
			if link != nil {
				counts[id] = link.ScanCount
			}
		}
		return nil
	})
	return counts, err
}

func (r *BadgerRepository) GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error) {
	events := []domain.ScanEvent{}
	err := r.db.View(func(txn *badger.Txn) error {
		links, err := ownedLinks(txn, ownerID)
		if err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for _, link := range links {
			prefix := scanPrefix(link.ID)
			for it.Seek(scanSeekKey(link.ID, since)); it.ValidForPrefix(prefix); it.Next() {
				var e domain.ScanEvent
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &e)
				}); err != nil {
					return err
				}
				if !e.Timestamp.Before(since) {
					events = append(events, e)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get scans for owner %s: %w", ownerID, err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

// Maintain runs value log GC until there is nothing left to rewrite.
func (r *BadgerRepository) Maintain(ctx context.Context) error {
	for ctx.Err() == nil {
		err := r.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
			r.log.Debug("BadgerDB GC: no rewrite needed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("badger value log gc: %w", err)
		}
		r.log.Info("BadgerDB GC rewrote a value log file")
	}
	return ctx.Err()
}

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}

var (
	_ ports.LinkGateway = (*BadgerRepository)(nil)
	_ ports.Maintainer  = (*BadgerRepository)(nil)
)
