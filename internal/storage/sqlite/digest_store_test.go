package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-image-harvester/internal/dedup"
	"github.com/JakeFAU/product-image-harvester/internal/hash/sha256"
)

func openTestStore(t *testing.T) (*DigestStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "registry.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestDigestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDigest(ctx, "aaa", dedup.StatusKept))
	require.NoError(t, store.SaveDigest(ctx, "bbb", dedup.StatusRejected))
	require.NoError(t, store.SaveDigest(ctx, "aaa", dedup.StatusRejected))

	digests, err := store.LoadDigests(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, digests)

	rejected, err := store.CountByStatus(ctx, dedup.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 2, rejected)
}

func TestDigestStoreSeedsDetectorAcrossRuns(t *testing.T) {
	t.Parallel()

	store, path := openTestStore(t)
	ctx := context.Background()

	first := dedup.New(sha256.New(), store, nil)
	dup, digest, err := first.CheckAndRegister([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.False(t, dup)
	require.NoError(t, first.Persist(ctx, digest, dedup.StatusKept))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	second := dedup.New(sha256.New(), reopened, nil)
	n, err := second.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dup, _, err = second.CheckAndRegister([]byte("jpeg bytes"))
	require.NoError(t, err)
	assert.True(t, dup)
}
