package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"autoposter/internal/core"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`content_dir: %q
storage:
  driver: file
  path: %q
logging:
  level: error
`, filepath.Join(dir, "content"), filepath.Join(dir, "data", "state.json"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSettingsSetAndGet(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "settings", "set", "posting_times", "18:30,9:05")
	require.NoError(t, err)
	_, err = execute(t, cfg, "settings", "set", "timezone", "Europe/Berlin")
	require.NoError(t, err)

	out, err := execute(t, cfg, "--json", "settings", "get")
	require.NoError(t, err)
	var got core.SchedulerSettings
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, []string{"09:05", "18:30"}, got.TriggerTimesLocal)
	require.Equal(t, "Europe/Berlin", got.TimezoneName)
}

func TestSettingsSetRejectsInvalidValue(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "settings", "set", "num_images", "42")
	require.Error(t, err)
	require.True(t, core.IsValidation(err))

	out, err := execute(t, cfg, "--json", "settings", "get")
	require.NoError(t, err)
	var got core.SchedulerSettings
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 1, got.ImagesPerPost)
}

func TestCaptionsAddListAndMarkPosted(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "captions", "add", "-p", "4", "first caption", "custom,second caption")
	require.NoError(t, err)

	out, err := execute(t, cfg, "--json", "captions", "list", "-p", "4")
	require.NoError(t, err)
	var caps []core.CaptionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &caps))
	require.Len(t, caps, 2)
	require.Equal(t, "custom", caps[1].ID)

	_, err = execute(t, cfg, "mark-posted", "-p", "4", caps[0].ID)
	require.NoError(t, err)

	out, err = execute(t, cfg, "--json", "stats", "-p", "4")
	require.NoError(t, err)
	var stats core.MonthStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.Captions)
	require.Equal(t, 1, stats.PostsUsed)
	require.Equal(t, 1, stats.PostsAvailable)

	_, err = execute(t, cfg, "retract", "caption", caps[0].ID, "-p", "4")
	require.NoError(t, err)
	out, err = execute(t, cfg, "--json", "stats", "-p", "4")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Zero(t, stats.PostsUsed)
}

func TestStatsRejectsInvalidPeriod(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "stats", "-p", "13")
	require.ErrorIs(t, err, core.ErrInvalidPeriod)
}

func TestErrorsListEmpty(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := execute(t, cfg, "errors", "list")
	require.NoError(t, err)
	require.Contains(t, out, "no scheduler errors")
}

func TestStatusShowsStoppedScheduler(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := execute(t, cfg, "status")
	require.NoError(t, err)
	require.Contains(t, out, "Scheduler stopped")
	require.Contains(t, out, "next trigger    never")
}
