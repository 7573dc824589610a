package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Record(&Run{
		Repo:      "octocat/hello-world",
		ByteSize:  950_000,
		Quality:   60,
		Format:    "jpeg",
		Signal:    "networkResponse",
		ImageID:   "abc123",
		IDChanged: true,
		Status:    StatusVerified,
	}))

	runs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, "octocat/hello-world", runs[0].Repo)
	assert.Equal(t, int64(950_000), runs[0].ByteSize)
	assert.Equal(t, StatusVerified, runs[0].Status)
	assert.False(t, runs[0].CreatedAt.IsZero())
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openStore(t)

	base := time.Now().Add(-time.Hour)
	for i, repo := range []string{"a/one", "b/two", "c/three"} {
		require.NoError(t, store.Record(&Run{
			Repo:      repo,
			Status:    StatusVerified,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c/three", runs[0].Repo)
	assert.Equal(t, "b/two", runs[1].Repo)
}

func TestRecordFailedRun(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Record(&Run{
		Repo:   "octocat/hello-world",
		Status: StatusFailed,
		Error:  "not authenticated: settings page redirected",
	}))

	runs, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}
