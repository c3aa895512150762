package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_GetPut(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "p.store"), true)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", []byte("v1")))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got)

	// writes overwrite
	require.NoError(t, store.Put(ctx, "k", []byte("v2")))
	got, _, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSQLiteStore_EmptyValue(t *testing.T) {
	ctx := context.Background()
	store, err := Open(":memory:", false)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, ok, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "p.store")

	store, err := Open(path, false)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("kept")))
	require.NoError(t, store.Close())

	store, err = Open(path, false)
	require.NoError(t, err)
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "entry should survive reopen without overwrite")
	require.Equal(t, []byte("kept"), got)
	require.NoError(t, store.Close())

	store, err = Open(path, true)
	require.NoError(t, err)
	defer store.Close()
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "overwrite should reset replay state")
}

func TestOpen_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Open(filepath.Join(blocker, "sub", "p.store"), false)
	require.Error(t, err)
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "open", storageErr.Op)
}

func TestPath(t *testing.T) {
	require.Equal(t, filepath.Join("cache", "chicago.crimes.store"), Path("cache", "chicago.crimes"))
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "scrape:")
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", []byte("body")))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("body"), got)

	raw, err := mr.Get("scrape:k")
	require.NoError(t, err)
	require.Equal(t, "body", raw)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	store := NewRedisStore(client, "")
	err = store.Put(context.Background(), "k", []byte("v"))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
}
