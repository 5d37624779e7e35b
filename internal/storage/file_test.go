package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "autoposter/pkg/logx"
)

func openTestFileStore(t *testing.T) *fileStore {
	t.Helper()
	repo, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo.(*fileStore)
}

func TestFileStoreLoadMissing(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)

	body, ok, err := s.Load(context.Background(), "ledger")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, body)
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "settings", []byte(`{"enabled":true}`)))
	body, ok, err := s.Load(ctx, "settings")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"enabled":true}`, string(body))

	// No temp files are left behind.
	tmps, err := filepath.Glob(s.prefix + ".*.tmp-*")
	require.NoError(t, err)
	require.Empty(t, tmps)
}

func TestFileStoreAtomicUpdateSeesCurrent(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", []byte("a")))
	require.NoError(t, s.AtomicUpdate(ctx, "k", func(cur []byte, ok bool) ([]byte, error) {
		require.True(t, ok)
		return append(cur, 'b'), nil
	}))
	body, _, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "ab", string(body))
}

func TestFileStoreCrashBeforeRenameKeepsPreviousDocument(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "ledger", []byte(`{"v":1}`)))

	boom := errors.New("power loss")
	s.rename = func(string, string) error { return boom }
	err := s.Save(ctx, "ledger", []byte(`{"v":2}`))
	require.ErrorIs(t, err, boom)

	s.rename = os.Rename
	body, ok, err := s.Load(ctx, "ledger")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"v":1}`, string(body))

	tmps, err := filepath.Glob(s.prefix + ".*.tmp-*")
	require.NoError(t, err)
	require.Empty(t, tmps, "temp file must be cleaned up")
}

func TestFileStoreUpdatesFromTwoHandlesAreSerialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	// Two handles on one path stand in for the daemon and a CLI command.
	var stores []Repository
	for range 2 {
		repo, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		stores = append(stores, repo)
	}

	const perStore = 50
	var wg sync.WaitGroup
	for _, repo := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perStore {
				err := repo.AtomicUpdate(ctx, "counter", func(cur []byte, ok bool) ([]byte, error) {
					n := 0
					if ok {
						n, _ = strconv.Atoi(string(cur))
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	body, ok, err := stores[0].Load(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strconv.Itoa(2*perStore), string(body))
}

func TestFileStoreSkipWrite(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.AtomicUpdate(ctx, "order.6", func([]byte, bool) ([]byte, error) {
		return nil, ErrSkipWrite
	}))
	_, ok, err := s.Load(ctx, "order.6")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	t.Parallel()
	s := openTestFileStore(t)

	_, _, err := s.Load(context.Background(), "../escape")
	require.Error(t, err)
	require.Error(t, s.Save(context.Background(), "a/b", []byte("x")))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
