package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoposter/internal/config"
	"autoposter/internal/core"
	"autoposter/internal/orchestrator"
	"autoposter/internal/settings"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

type readyAgent struct {
	uploaded [][]string
	captions []string
}

func (r *readyAgent) Acquire(context.Context) (orchestrator.SessionStatus, error) {
	return orchestrator.SessionReady, nil
}
func (r *readyAgent) SubmitVerificationCode(context.Context, string) (bool, error) { return true, nil }
func (r *readyAgent) Release(context.Context) error                              { return nil }
func (r *readyAgent) OpenComposer(context.Context) error                         { return nil }
func (r *readyAgent) UploadMedia(_ context.Context, paths []string) error {
	r.uploaded = append(r.uploaded, paths)
	return nil
}
func (r *readyAgent) Advance(context.Context) error { return nil }
func (r *readyAgent) SetCaption(_ context.Context, text string) error {
	r.captions = append(r.captions, text)
	return nil
}
func (r *readyAgent) SubmitPost(context.Context) error { return nil }

type fixture struct {
	app     *App
	content string
	period  core.Period
}

func newFixture(t *testing.T, collab collaborators) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ContentDir: filepath.Join(dir, "content"),
		Storage:    config.StorageConfig{Driver: "file", Path: filepath.Join(dir, "data", "state.json")},
		Scheduler:  config.SchedulerConfig{ServerTimezone: "UTC"},
	}
	d, err := cfg.Durations()
	require.NoError(t, err)
	repo, err := storage.Open(storage.Config{Driver: "file", Path: cfg.Storage.Path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	a, err := assemble(cfg, d, repo, logx.Nop(), collab)
	require.NoError(t, err)
	return &fixture{app: a, content: cfg.ContentDir, period: core.PeriodAt(time.Now().UTC())}
}

func (f *fixture) seed(t *testing.T, captions string, images ...string) {
	t.Helper()
	dir := filepath.Join(f.content, strconv.Itoa(int(f.period)))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captions.csv"), []byte(captions), 0o644))
	for _, n := range images {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestPostNowCommitsAndUpdatesStats(t *testing.T) {
	t.Parallel()
	ag := &readyAgent{}
	f := newFixture(t, collaborators{sessions: ag, agent: ag})
	f.seed(t, "post1,first caption\npost2,second caption\n", "a.jpg", "b.jpg")
	ctx := context.Background()

	res, err := f.app.PostNow(ctx)
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.Equal(t, "post1", res.Content.CaptionID)
	require.Equal(t, []string{"first caption"}, ag.captions)
	require.Len(t, ag.uploaded, 1)
	require.Equal(t, []string{filepath.Join(f.content, strconv.Itoa(int(f.period)), "a.jpg")}, ag.uploaded[0])

	stats, err := f.app.MonthStats(ctx, f.period)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Captions)
	require.Equal(t, 2, stats.Images)
	require.Equal(t, 1, stats.PostsUsed)
	require.Equal(t, 1, stats.ImagesUsed)
	require.Equal(t, 1, stats.PostsAvailable)
	require.NotNil(t, stats.LastPost)

	next, err := f.app.SelectNextContent(ctx, f.period, 0)
	require.NoError(t, err)
	require.Equal(t, "post2", next.CaptionID)
	require.Equal(t, []string{"b.jpg"}, next.Images)

	st, err := f.app.SchedulerStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.Running)
	require.NotNil(t, st.LastPostTime)
	require.Empty(t, st.RecentErrors)
}

func TestPostNowWithoutAgentRecordsSessionFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})
	f.seed(t, "post1,hello\n", "a.jpg")
	ctx := context.Background()

	_, err := f.app.PostNow(ctx)
	require.Error(t, err)
	require.Equal(t, core.StageSession, core.StageOf(err))

	errs, err := f.app.SchedulerErrors(ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, string(core.StageSession), errs[0].Stage)

	stats, err := f.app.MonthStats(ctx, f.period)
	require.NoError(t, err)
	require.Zero(t, stats.PostsUsed, "a failed cycle consumes nothing")

	require.NoError(t, f.app.ClearSchedulerErrors(ctx))
	errs, err = f.app.SchedulerErrors(ctx)
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestDeleteCaptionRetractsUsage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})
	f.seed(t, "post1,one\npost2,two\n", "a.jpg", "b.jpg")
	ctx := context.Background()

	_, err := f.app.MarkPosted(ctx, f.period, "post1", []string{"a.jpg"})
	require.NoError(t, err)

	require.NoError(t, f.app.DeleteCaption(ctx, f.period, "post1"))
	require.NoError(t, f.app.DeleteImage(ctx, f.period, "a.jpg"))

	stats, err := f.app.MonthStats(ctx, f.period)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Captions)
	require.Equal(t, 1, stats.Images)
	require.Zero(t, stats.PostsUsed)
	require.Zero(t, stats.ImagesUsed)
	require.NotNil(t, stats.LastPost, "history survives deletion")
}

func TestOperationsRejectInvalidPeriod(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})
	ctx := context.Background()

	_, err := f.app.MonthStats(ctx, 13)
	require.ErrorIs(t, err, core.ErrInvalidPeriod)
	_, err = f.app.SelectNextContent(ctx, 0, 1)
	require.ErrorIs(t, err, core.ErrInvalidPeriod)
	require.ErrorIs(t, f.app.RetractCaption(ctx, -1, "post1"), core.ErrInvalidPeriod)
}

func TestStatusPreviewsNextTriggerWhenStopped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})
	f.app.now = func() time.Time { return time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err := f.app.UpdateSetting(ctx, settings.KeyPostingTimes, "09:00,21:00")
	require.NoError(t, err)
	_, err = f.app.UpdateSetting(ctx, settings.KeyEnabled, true)
	require.NoError(t, err)

	st, err := f.app.SchedulerStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.Running)
	require.True(t, st.Enabled)
	require.Equal(t, []string{"09:00", "21:00"}, st.PostingTimes)
	require.NotNil(t, st.NextTriggerTime)
	require.True(t, time.Date(2024, 6, 10, 21, 0, 0, 0, time.UTC).Equal(*st.NextTriggerTime))
}

func TestUpdateSettingRejectsWithoutMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})
	ctx := context.Background()

	_, err := f.app.UpdateSetting(ctx, settings.KeyImagesPerPost, 11)
	require.True(t, core.IsValidation(err))

	cfg, err := f.app.Settings(ctx)
	require.NoError(t, err)
	require.Equal(t, core.DefaultSettings().ImagesPerPost, cfg.ImagesPerPost)

	errs, err := f.app.SchedulerErrors(ctx)
	require.NoError(t, err)
	require.Empty(t, errs, "validation errors are never recorded")
}

func TestSubmitCodeWithoutPendingWait(t *testing.T) {
	t.Parallel()
	f := newFixture(t, collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}})

	err := f.app.SubmitVerificationCode(context.Background(), "123456")
	require.True(t, errors.Is(err, orchestrator.ErrNoVerificationPending))
	require.Error(t, f.app.SubmitVerificationCode(context.Background(), "  "))
}
