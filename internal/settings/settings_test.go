package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, storage.Repository) {
	t.Helper()
	repo, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo, logx.Nop()), repo
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	cfg, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.DefaultSettings(), cfg)
}

func TestUpdateRejectsOutOfRangeWithoutMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, repo := newTestStore(t)

	_, err := s.Update(ctx, "num_images", 3)
	require.NoError(t, err)
	before, _, err := repo.Load(ctx, documentKey)
	require.NoError(t, err)

	for _, bad := range []any{0, 11, "abc", 2.5} {
		_, err := s.Update(ctx, "images_per_post", bad)
		var ve *core.SettingsValidationError
		require.True(t, errors.As(err, &ve), "value %v", bad)
		require.Equal(t, KeyImagesPerPost, ve.Key)
	}

	after, _, err := repo.Load(ctx, documentKey)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 3, s.Get(ctx, KeyImagesPerPost, 0))
}

func TestUpdatePostingTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	cfg, err := s.Update(ctx, KeyPostingTimes, []any{"9:00", "21:30", "09:00"})
	require.NoError(t, err)
	require.Equal(t, []string{"09:00", "21:30"}, cfg.TriggerTimesLocal)

	cfg, err = s.Update(ctx, KeyPostingTimes, "18:00,7:15")
	require.NoError(t, err)
	require.Equal(t, []string{"07:15", "18:00"}, cfg.TriggerTimesLocal)

	for _, bad := range []any{[]any{"24:00"}, []any{"12:60"}, []any{"noon"}, []any{"1200"}, 42} {
		_, err := s.Update(ctx, KeyPostingTimes, bad)
		require.True(t, core.IsValidation(err), "value %v", bad)
	}
	require.Equal(t, []string{"07:15", "18:00"}, s.Get(ctx, KeyPostingTimes, nil))
}

func TestUpdateTimezone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	cfg, err := s.Update(ctx, KeyTimezone, "America/New_York")
	require.NoError(t, err)
	require.Equal(t, "America/New_York", cfg.TimezoneName)
	require.Equal(t, "America/New_York", Location(cfg).String())

	_, err = s.Update(ctx, KeyTimezone, "Mars/Olympus")
	require.True(t, core.IsValidation(err))
	require.Equal(t, "America/New_York", s.Get(ctx, KeyTimezone, ""))
}

func TestUpdateBooleansAcceptStrings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	cfg, err := s.Update(ctx, KeyEnabled, "true")
	require.NoError(t, err)
	require.True(t, cfg.Enabled)

	cfg, err = s.Update(ctx, KeySequential, false)
	require.NoError(t, err)
	require.False(t, cfg.SequentialImageSelection)

	_, err = s.Update(ctx, KeyEnabled, "maybe")
	require.True(t, core.IsValidation(err))
}

func TestUpdateUnknownKey(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, err := s.Update(context.Background(), "colour", "blue")
	require.True(t, core.IsValidation(err))
	require.Equal(t, "fallback", s.Get(context.Background(), "colour", "fallback"))
}

func TestReloadReportsChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, changed, err := s.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	_, changed, err = s.Reload(ctx)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = s.Update(ctx, KeyPostingTimes, []string{"08:00"})
	require.NoError(t, err)
	cfg, changed, err := s.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, []string{"08:00"}, cfg.TriggerTimesLocal)
}

func TestLoadSanitizesHandEditedDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, repo := newTestStore(t)

	doc := []byte(`{"enabled":true,"num_images":99,"posting_times":["25:00"],"timezone":"Nowhere/City","sequential_images":false}`)
	require.NoError(t, repo.Save(ctx, documentKey, doc))

	cfg, err := s.Load(ctx)
	require.NoError(t, err)
	def := core.DefaultSettings()
	require.True(t, cfg.Enabled)
	require.False(t, cfg.SequentialImageSelection)
	require.Equal(t, def.ImagesPerPost, cfg.ImagesPerPost)
	require.Equal(t, def.TriggerTimesLocal, cfg.TriggerTimesLocal)
	require.Equal(t, def.TimezoneName, cfg.TimezoneName)
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		h, m int
		ok   bool
	}{
		{"00:00", 0, 0, true},
		{"9:05", 9, 5, true},
		{"23:59", 23, 59, true},
		{"24:00", 0, 0, false},
		{"12:5", 0, 0, false},
		{"-1:00", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		h, m, err := ParseHHMM(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.h, h)
		require.Equal(t, tc.m, m)
	}
}
