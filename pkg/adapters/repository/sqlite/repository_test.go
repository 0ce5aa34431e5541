package sqlite

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-scanlink/pkg/adapters/repository/repotest"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newMemoryRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	repo, err := NewSQLiteRepository(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) ports.LinkGateway {
		return newMemoryRepo(t)
	})
}

func TestSQLiteRepository_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanlink.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(path, quietLogger())
	require.NoError(t, err)
	link := repotest.NewLink("alice", "keep01", repotest.Base)
	require.NoError(t, repo.InsertLink(ctx, link))
	require.NoError(t, repo.Close())

	// migrate must be idempotent.
	repo, err = NewSQLiteRepository(path, quietLogger())
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetLinkBySlug(ctx, "keep01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, link.ID, got.ID)
	assert.NoError(t, repo.Maintain(ctx))
}
