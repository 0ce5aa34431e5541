package postgres

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("scanlink"),
		tcpostgres.WithUsername("scanlink"),
		tcpostgres.WithPassword("scanlink"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	repo, err := NewPostgresRepository(ctx, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	repotest.Run(t, func(t *testing.T) ports.LinkGateway {
		_, err := repo.pool.Exec(ctx, `TRUNCATE scans, links RESTART IDENTITY`)
		require.NoError(t, err)
		return repo
	})

	require.NoError(t, repo.Maintain(ctx))
}
