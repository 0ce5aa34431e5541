package badgerdb

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBadgerRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.LinkGateway {
		repo, err := NewBadgerRepository(t.TempDir(), quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestBadgerRepository_InMemory(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.LinkGateway {
		repo, err := NewBadgerRepository("", quietLogger())
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestBadgerRepository_ReopenKeepsIDsUnique(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewBadgerRepository(dir, quietLogger())
	require.NoError(t, err)
	first := repotest.NewLink("alice", "first1", repotest.Base)
	require.NoError(t, repo.InsertLink(ctx, first))
	require.NoError(t, repo.InsertScanEvent(ctx, &domain.ScanEvent{
		ID: "s1", LinkID: first.ID, Timestamp: repotest.Base, Device: domain.DeviceMobile,
	}))
	require.NoError(t, repo.Close())

	repo, err = NewBadgerRepository(dir, quietLogger())
	require.NoError(t, err)
	defer repo.Close()

	second := repotest.NewLink("alice", "second", repotest.Base)
	require.NoError(t, repo.InsertLink(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)

	got, err := repo.GetLinkBySlug(ctx, "first1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.ScanCount)

	assert.NoError(t, repo.Maintain(ctx))
}

func TestBadgerRepository_OwnerPrefixIsolation(t *testing.T) {
	repo, err := NewBadgerRepository("", quietLogger())
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	require.NoError(t, repo.InsertLink(ctx, repotest.NewLink("alice", "alice1", repotest.Base)))
	require.NoError(t, repo.InsertLink(ctx, repotest.NewLink("alice:team", "team01", repotest.Base)))

	links, err := repo.GetLinksByOwner(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "alice1", links[0].ShortCode)
}
