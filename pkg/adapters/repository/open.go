// Package repository picks a LinkGateway implementation from a database URL.
package repository

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/badgerdb"
	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/memory"
	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/postgres"
	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

// Backend names the store a URL selects.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendBadger   Backend = "badger"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// BackendOf maps a URL to its backend. Anything unrecognised is treated as
// a SQLite or libsql (Turso) DSN.
//
//	memory://                     process-local maps
//	badger:///var/lib/scanlink    embedded BadgerDB (badger:// alone is in-memory)
//	postgres://... postgresql://  Postgres via pgx
//	file:scanlink.db, libsql://   SQLite or Turso
func BackendOf(dbURL string) Backend {
	switch {
	case strings.HasPrefix(dbURL, "memory://"):
		return BackendMemory
	case strings.HasPrefix(dbURL, "badger://"):
		return BackendBadger
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

// Open connects to the store selected by dbURL.
func Open(ctx context.Context, dbURL string, logger logrus.FieldLogger) (ports.LinkGateway, error) {
	logger.WithField("backend", BackendOf(dbURL)).Info("Opening link store")

	switch BackendOf(dbURL) {
	case BackendMemory:
		return memory.NewRepository(), nil
	case BackendBadger:
		repo, err := badgerdb.NewBadgerRepository(strings.TrimPrefix(dbURL, "badger://"), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case BackendPostgres:
		repo, err := postgres.NewPostgresRepository(ctx, dbURL, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		repo, err := sqlite.NewSQLiteRepository(dbURL, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}
