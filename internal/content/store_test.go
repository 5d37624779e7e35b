package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, storage.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "data", "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return New(filepath.Join(dir, "content"), repo, logx.Nop()), repo
}

func touch(t *testing.T, s *Store, p core.Period, names ...string) {
	t.Helper()
	dir := s.periodDir(p)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestImageOrderAppendsNewFilesSorted(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	touch(t, s, 6, "c.jpg", "a.png", "b.webp", "notes.txt")
	order, err := s.ImageOrder(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, []string{"a.png", "b.webp", "c.jpg"}, order)

	_, err = s.UpdateImageOrder(ctx, 6, []string{"c.jpg", "a.png", "b.webp"})
	require.NoError(t, err)

	touch(t, s, 6, "e.jpg", "d.jpg")
	order, err = s.ImageOrder(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, []string{"c.jpg", "a.png", "b.webp", "d.jpg", "e.jpg"}, order)
}

func TestImageOrderPrunesRemovedFiles(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	touch(t, s, 3, "a.jpg", "b.jpg", "c.jpg")
	_, err := s.UpdateImageOrder(ctx, 3, []string{"c.jpg", "b.jpg", "a.jpg"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveImage(3, "b.jpg"))
	order, err := s.ImageOrder(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"c.jpg", "a.jpg"}, order)
}

func TestUpdateImageOrderRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	touch(t, s, 6, "a.jpg", "b.jpg", "c.jpg")
	want := []string{"b.jpg", "c.jpg", "a.jpg"}

	persisted, err := s.UpdateImageOrder(ctx, 6, []string{"b.jpg", "missing.jpg", "c.jpg", "a.jpg", "b.jpg"})
	require.NoError(t, err)
	require.Equal(t, want, persisted)

	for i := 0; i < 2; i++ {
		got, err := s.ImageOrder(ctx, 6)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestImageOrderPersistsOnlyOnChange(t *testing.T) {
	t.Parallel()
	s, repo := newTestStore(t)
	ctx := context.Background()

	// Empty directory: nothing is written.
	order, err := s.ImageOrder(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, order)
	_, ok, err := repo.Load(ctx, orderKey(9))
	require.NoError(t, err)
	require.False(t, ok)

	touch(t, s, 9, "a.jpg")
	_, err = s.ImageOrder(ctx, 9)
	require.NoError(t, err)
	body, ok, err := repo.Load(ctx, orderKey(9))
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `["a.jpg"]`, string(body))
}

func TestAddCaptionsAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	added, rejected, err := s.AddCaptions(6, "first\npost7,seventh\n\nsecond")
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Equal(t, []core.CaptionRecord{
		{ID: "post1", Text: "first"},
		{ID: "post7", Text: "seventh"},
		{ID: "post8", Text: "second"},
	}, added)

	_, rejected, err = s.AddCaptions(6, "post7,dup\n,missing id\nthird")
	require.NoError(t, err)
	require.Len(t, rejected, 2)

	recs, err := s.ListCaptions(6)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.Equal(t, core.CaptionRecord{ID: "post9", Text: "third"}, recs[3])
}

func TestListCaptionsSkipsEmptyText(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	touch(t, s, 1)
	csv := "1,A\n2,\n3,\"with, comma\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.periodDir(1), "my.csv"), []byte(csv), 0o644))

	recs, err := s.ListCaptions(1)
	require.NoError(t, err)
	require.Equal(t, []core.CaptionRecord{{ID: "1", Text: "A"}, {ID: "3", Text: "with, comma"}}, recs)
}

func TestRemoveCaption(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, _, err := s.AddCaptions(2, "a\nb")
	require.NoError(t, err)
	require.NoError(t, s.RemoveCaption(2, "post1"))
	require.ErrorIs(t, s.RemoveCaption(2, "post1"), core.ErrNotFound)

	recs, err := s.ListCaptions(2)
	require.NoError(t, err)
	require.Equal(t, []core.CaptionRecord{{ID: "post2", Text: "b"}}, recs)
}
