package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

func NewPostgresRepository(ctx context.Context, dbURL string, logger logrus.FieldLogger) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log := logger.WithField("component", "repository")
	log.WithField("driver", "pgx").Info("Postgres store ready")
	return &PostgresRepository{pool: pool, log: log}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
	CREATE TABLE IF NOT EXISTS links (
		id BIGSERIAL PRIMARY KEY,
		short_code TEXT NOT NULL UNIQUE,
		target_url TEXT NOT NULL,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		color TEXT NOT NULL DEFAULT '#7828f8',
		background_color TEXT NOT NULL DEFAULT '#ffffff',
		scan_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_links_owner_created ON links(owner_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		link_id BIGINT NOT NULL REFERENCES links(id) ON DELETE CASCADE,
		scanned_at TIMESTAMPTZ NOT NULL,
		device TEXT NOT NULL,
		browser TEXT NOT NULL,
		os TEXT NOT NULL,
		referrer TEXT,
		country TEXT,
		city TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_scans_link_time ON scans(link_id, scanned_at);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

const linkColumns = `id, short_code, target_url, name, owner_id, active, expires_at, color, background_color, scan_count, created_at`

func scanLink(row pgx.Row) (*domain.Link, error) {
	var l domain.Link
	if err := row.Scan(&l.ID, &l.ShortCode, &l.TargetURL, &l.Name, &l.OwnerID, &l.Active,
		&l.ExpiresAt, &l.Color, &l.BackgroundColor, &l.ScanCount, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	if l.ExpiresAt != nil {
		t := l.ExpiresAt.UTC()
		l.ExpiresAt = &t
	}
	return &l, nil
}

func (r *PostgresRepository) getLink(ctx context.Context, where string, arg interface{}) (*domain.Link, error) {
	link, err := scanLink(r.pool.QueryRow(ctx, `SELECT `+linkColumns+` FROM links WHERE `+where+` = $1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return link, err
}

func (r *PostgresRepository) GetLinkBySlug(ctx context.Context, code string) (*domain.Link, error) {
	return r.getLink(ctx, "short_code", code)
}

func (r *PostgresRepository) GetLinkByID(ctx context.Context, id int64) (*domain.Link, error) {
	return r.getLink(ctx, "id", id)
}

func (r *PostgresRepository) GetLinksByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`
	args := []interface{}{ownerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return r.queryLinks(ctx, query, args...)
}

func (r *PostgresRepository) LinkNameExists(ctx context.Context, ownerID, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE owner_id = $1 AND name = $2)`, ownerID, name).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) InsertLink(ctx context.Context, link *domain.Link) error {
	query := `INSERT INTO links (short_code, target_url, name, owner_id, active, expires_at, color, background_color, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  RETURNING id`

	err := r.pool.QueryRow(ctx, query, link.ShortCode, link.TargetURL, link.Name, link.OwnerID,
		link.Active, link.ExpiresAt, link.Color, link.BackgroundColor, link.CreatedAt).Scan(&link.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrShortCodeTaken
	}
	return err
}

func (r *PostgresRepository) SetLinkActive(ctx context.Context, ownerID string, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE links SET active = $1 WHERE id = $2 AND owner_id = $3`, active, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

// DeleteLink relies on ON DELETE CASCADE for the scans.
func (r *PostgresRepository) DeleteLink(ctx context.Context, ownerID string, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM links WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *PostgresRepository) Dump(ctx context.Context) ([]domain.Link, error) {
	return r.queryLinks(ctx, `SELECT `+linkColumns+` FROM links ORDER BY id`)
}

// InsertScanEvent bumps the counter and writes the row in one statement.
func (r *PostgresRepository) InsertScanEvent(ctx context.Context, event *domain.ScanEvent) error {
	query := `
		WITH bumped AS (
			UPDATE links SET scan_count = scan_count + 1 WHERE id = $2 RETURNING id
		)
		INSERT INTO scans (id, link_id, scanned_at, device, browser, os, referrer, country, city)
		SELECT $1::text, bumped.id, $3::timestamptz, $4::text, $5::text, $6::text,
		       NULLIF($7::text, ''), NULLIF($8::text, ''), NULLIF($9::text, '')
		FROM bumped`

	tag, err := r.pool.Exec(ctx, query, event.ID, event.LinkID, event.Timestamp,
		string(event.Device), event.Browser, event.OS, event.Referrer, event.Country, event.City)
	if err != nil {
		return err
	}
	return expectOne(tag)
}

func (r *PostgresRepository) GetScanCountsByLinkIDs(ctx context.Context, ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, scan_count FROM links WHERE id = ANY($1)`, ids)
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

func (r *PostgresRepository) GetScansSince(ctx context.Context, ownerID string, since time.Time) ([]domain.ScanEvent, error) {
	query := `
		SELECT s.id, s.link_id, s.scanned_at, s.device, s.browser, s.os,
		       COALESCE(s.referrer, ''), COALESCE(s.country, ''), COALESCE(s.city, '')
		FROM scans s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = $1 AND s.scanned_at >= $2
		ORDER BY s.scanned_at`

	rows, err := r.pool.Query(ctx, query, ownerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.ScanEvent{}
	for rows.Next() {
		var e domain.ScanEvent
		var device string
		if err := rows.Scan(&e.ID, &e.LinkID, &e.Timestamp, &device, &e.Browser, &e.OS,
			&e.Referrer, &e.Country, &e.City); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Device = domain.DeviceClass(device)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Maintain refreshes planner statistics for the scan table.
func (r *PostgresRepository) Maintain(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `ANALYZE scans`)
	return err
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) queryLinks(ctx context.Context, query string, args ...interface{}) ([]domain.Link, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

func expectOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrLinkNotFound
	}
	return nil
}

var (
	_ ports.LinkGateway = (*PostgresRepository)(nil)
	_ ports.Maintainer  = (*PostgresRepository)(nil)
)
