// Package diag keeps the bounded ledger of recent posting failures.
package diag

import (
	"context"
	"encoding/json"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

const (
	documentKey = "scheduler_errors"

	// Capacity is the number of records kept; older ones are evicted first.
	Capacity = 10
)

type Ledger struct {
	repo storage.Repository
	log  logx.Logger
	now  func() time.Time
}

func New(repo storage.Repository, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{repo: repo, log: log, now: time.Now}
}

// Record appends a failure. It never fails the caller: a write error is
// logged and dropped.
func (l *Ledger) Record(ctx context.Context, stage core.Stage, period core.Period, cause error) core.ErrorRecord {
	rec := core.ErrorRecord{
		Timestamp: l.now().UTC(),
		Period:    period,
		Stage:     string(stage),
	}
	if cause != nil {
		rec.Message = cause.Error()
	}

	err := l.repo.AtomicUpdate(ctx, documentKey, func(cur []byte, ok bool) ([]byte, error) {
		list, err := decode(cur, ok)
		if err != nil {
			l.log.Warn("error ledger unreadable; starting over", logx.Err(err))
			list = nil
		}
		list = append(list, rec)
		if len(list) > Capacity {
			list = list[len(list)-Capacity:]
		}
		return json.MarshalIndent(list, "", "  ")
	})
	if err != nil {
		l.log.Error("failed to record scheduler error", logx.Err(err), logx.String("stage", rec.Stage))
	}
	return rec
}

// List returns the records oldest first.
func (l *Ledger) List(ctx context.Context) ([]core.ErrorRecord, error) {
	body, ok, err := l.repo.Load(ctx, documentKey)
	if err != nil {
		return nil, &core.PersistenceError{Op: "load scheduler errors", Err: err}
	}
	list, err := decode(body, ok)
	if err != nil {
		return nil, &core.PersistenceError{Op: "decode scheduler errors", Err: err}
	}
	return list, nil
}

// Recent returns at most n records, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]core.ErrorRecord, error) {
	list, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ErrorRecord, 0, min(n, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (l *Ledger) Clear(ctx context.Context) error {
	if err := l.repo.Save(ctx, documentKey, []byte("[]")); err != nil {
		return &core.PersistenceError{Op: "clear scheduler errors", Err: err}
	}
	return nil
}

func decode(body []byte, ok bool) ([]core.ErrorRecord, error) {
	if !ok || len(body) == 0 {
		return nil, nil
	}
	var list []core.ErrorRecord
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	return list, nil
}
