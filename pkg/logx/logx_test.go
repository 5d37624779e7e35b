package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Info("dropped")

	require.False(t, Nop().IsZero())
	Nop().With(String("k", "v")).Error("dropped", Err(errors.New("x")))
}

func TestApplySwapsLevelForDerivedLoggers(t *testing.T) {
	var out bytes.Buffer
	svc, root := newService(Config{Level: "warn", Console: true}, &out, &out)
	defer svc.Close()
	log := root.With(String("comp", "test"))

	log.Info("hidden")
	require.Empty(t, out.String())

	svc.Apply(Config{Level: "debug", Console: true})
	log.Debug("shown", Int("n", 3))
	require.Contains(t, out.String(), "shown")
	require.Contains(t, out.String(), "comp=test")
	require.Contains(t, out.String(), "n=3")
	require.Contains(t, out.String(), "logx_test.go:")
}

func TestFileSinkWritesJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := newService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, &console, &console)

	log.Info("to file", String("caption", "post1"))
	require.NoError(t, svc.Close())
	require.Empty(t, console.String())

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), `"caption":"post1"`)
	require.Contains(t, string(body), `"message":"to file"`)
}

func TestUnopenableFileFallsBackToConsole(t *testing.T) {
	var out, errOut bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing", "app.log")
	svc, log := newService(Config{File: FileConfig{Enabled: true, Path: path}}, &out, &errOut)
	defer svc.Close()

	log.Warn("still logged")
	require.Contains(t, errOut.String(), "open log file")
	require.Contains(t, out.String(), "still logged")
}
