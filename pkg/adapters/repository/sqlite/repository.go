package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

type SQLiteRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

func NewSQLiteRepository(dbURL string, logger logrus.FieldLogger) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}
	if driverName == "sqlite" {
		// One writer at a time; avoids SQLITE_BUSY from the recorder workers.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s database: %w", driverName, err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log := logger.WithField("component", "repository")
	log.WithField("driver", driverName).Info("SQL store ready")
	return &SQLiteRepository{db: db, log: log}, nil
}

// Timestamps are stored as unix milliseconds so both drivers agree.
func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		short_code TEXT NOT NULL UNIQUE,
		target_url TEXT NOT NULL,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		expires_at INTEGER,
		color TEXT NOT NULL DEFAULT '#7828f8',
		background_color TEXT NOT NULL DEFAULT '#ffffff',
		scan_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_links_owner_created ON links(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		link_id INTEGER NOT NULL,
		scanned_at INTEGER NOT NULL,
		device TEXT NOT NULL,
		browser TEXT NOT NULL,
		os TEXT NOT NULL,
		referrer TEXT,
		country TEXT,
		city TEXT,
		FOREIGN KEY(link_id) REFERENCES links(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_scans_link_time ON scans(link_id, scanned_at);
	`
	_, err := db.Exec(query)
	return err
}

const linkColumns = `id, short_code, target_url, name, owner_id, active, expires_at, color, background_color, scan_count, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLink(row rowScanner) (*domain.Link, error) {
	var l domain.Link
	var expiresAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&l.ID, &l.ShortCode, &l.TargetURL, &l.Name, &l.OwnerID, &l.Active,
		&expiresAt, &l.Color, &l.BackgroundColor, &l.ScanCount, &createdAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		l.ExpiresAt = &t
	}
	l.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &l, nil
}

func (r *SQLiteRepository) GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE short_code = ?`, code)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return link, err
}

func (r *SQLiteRepository) GetLinkByID(ctx context.Context, id int64) (*domain.Link, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return link, err
}

func (r *SQLiteRepository) GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE owner_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{ownerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryLinks(ctx, query, args...)
}

func (r *SQLiteRepository) LinkNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE owner_id = ? AND name = ?)`, ownerID, name).Scan(&exists)
	return exists, err
}

func (r *SQLiteRepository) InsertLink(ctx context.Context, link *domain.Link) error {
	query := `INSERT INTO links (short_code, target_url, name, owner_id, active, expires_at, color, background_color, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query, link.ShortCode, link.TargetURL, link.Name, link.OwnerID,
		link.Active, nullMillis(link.ExpiresAt), link.Color, link.BackgroundColor, link.CreatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrShortCodeTaken
		}
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	link.ID = id
	return nil
}

func (r *SQLiteRepository) SetLinkActive(ctx context.Context, ownerID string, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE links SET active = ? WHERE id = ? AND owner_id = ?`, active, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *SQLiteRepository) DeleteLink(ctx context.Context, ownerID string, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Scans go first; foreign_keys is not enabled on every driver.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM scans WHERE link_id IN (SELECT id FROM links WHERE id = ? AND owner_id = ?)`, id, ownerID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM links WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.queryLinks(ctx, `SELECT `+linkColumns+` FROM links ORDER BY id`)
}

func (r *SQLiteRepository) InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 1. Increment the link counter; no row means the link is gone.
	res, err := tx.ExecContext(ctx, `UPDATE links SET scan_count = scan_count + 1 WHERE id = ?`, event.LinkID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}

	// 2. Insert the scan row
	query := `INSERT INTO scans (id, link_id, scanned_at, device, browser, os, referrer, country, city)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, event.ID, event.LinkID, event.Timestamp.UnixMilli(),
		string(event.Device), event.Browser, event.OS,
		nullString(event.Referrer), nullString(event.Country), nullString(event.City)); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, scan_count FROM links WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error) {
	query := `
		SELECT s.id, s.link_id, s.scanned_at, s.device, s.browser, s.os, s.referrer, s.country, s.city
		FROM scans s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = ? AND s.scanned_at >= ?
		ORDER BY s.scanned_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.ScanEvent{}
	for rows.Next() {
		var e domain.ScanEvent
		var scannedAt int64
		var device string
		var referrer, country, city sql.NullString
		if err := rows.Scan(&e.ID, &e.LinkID, &scannedAt, &device, &e.Browser, &e.OS, &referrer, &country, &city); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(scannedAt).UTC()
		e.Device = domain.DeviceClass(device)
		e.Referrer = referrer.String
		e.Country = country.String
		e.City = city.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Maintain lets SQLite refresh its planner statistics.
func (r *SQLiteRepository) Maintain(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `PRAGMA optimize`)
	return err
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) queryLinks(ctx context.Context, query string, args ...interface{}) ([]domain.Link, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []domain.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure interface compliance
var (
	_ ports.LinkGateway = (*SQLiteRepository)(nil)
	_ ports.Maintainer  = (*SQLiteRepository)(nil)
)
