package diag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	repo, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	l := New(repo, logx.Nop())
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	l.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	return l
}

func TestRecordEvictsOldest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	for i := 0; i < Capacity+3; i++ {
		l.Record(ctx, core.StageMedia, 3, fmt.Errorf("failure %d", i))
	}

	list, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, Capacity)
	require.Equal(t, "failure 3", list[0].Message)
	require.Equal(t, fmt.Sprintf("failure %d", Capacity+2), list[len(list)-1].Message)
	require.Equal(t, "media", list[0].Stage)
	require.Equal(t, core.Period(3), list[0].Period)
}

func TestRecentNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	l.Record(ctx, core.StageSession, 1, errors.New("a"))
	l.Record(ctx, core.StageSubmit, 1, errors.New("b"))
	l.Record(ctx, core.StageCommit, 1, errors.New("c"))

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].Message)
	require.Equal(t, "b", recent[1].Message)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(t)

	l.Record(ctx, core.StageInit, 5, errors.New("boom"))
	require.NoError(t, l.Clear(ctx))

	list, err := l.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}
