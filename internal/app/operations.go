package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/orchestrator"
	"autoposter/internal/settings"
	"autoposter/internal/trigger"
	logx "autoposter/pkg/logx"
)

// recentErrorsInStatus is how many diagnostics SchedulerStatus carries.
const recentErrorsInStatus = 5

// CurrentPeriod is the calendar month of now in the configured timezone.
func (a *App) CurrentPeriod(ctx context.Context) (core.Period, error) {
	cfg, err := a.settings.Load(ctx)
	if err != nil {
		return 0, err
	}
	return core.PeriodAt(a.now().In(settings.Location(cfg))), nil
}

func (a *App) MonthStats(ctx context.Context, p core.Period) (core.MonthStats, error) {
	if err := core.CheckPeriod(p); err != nil {
		return core.MonthStats{}, err
	}
	caps, err := a.content.ListCaptions(p)
	if err != nil {
		return core.MonthStats{}, err
	}
	imgs, err := a.content.ImageOrder(ctx, p)
	if err != nil {
		return core.MonthStats{}, err
	}
	u, err := a.ledger.Usage(ctx, p)
	if err != nil {
		return core.MonthStats{}, err
	}

	available := 0
	for _, c := range caps {
		if !u.CaptionUsed(c.ID) {
			available++
		}
	}
	stats := core.MonthStats{
		Period:         p,
		Images:         len(imgs),
		Captions:       len(caps),
		PostsUsed:      len(u.UsedCaptionIDs),
		ImagesUsed:     len(u.UsedImageNames),
		PostsAvailable: available,
	}
	if ev, ok := u.LastPost(); ok {
		ts := ev.Timestamp
		stats.LastPost = &ts
	}
	return stats, nil
}

func (a *App) Captions(ctx context.Context, p core.Period) ([]core.CaptionRecord, error) {
	if err := core.CheckPeriod(p); err != nil {
		return nil, err
	}
	return a.content.ListCaptions(p)
}

func (a *App) ImageOrder(ctx context.Context, p core.Period) ([]string, error) {
	if err := core.CheckPeriod(p); err != nil {
		return nil, err
	}
	return a.content.ImageOrder(ctx, p)
}

// AddCaptions appends captions parsed from input, one per line.
func (a *App) AddCaptions(ctx context.Context, p core.Period, input string) ([]core.CaptionRecord, []string, error) {
	if err := core.CheckPeriod(p); err != nil {
		return nil, nil, err
	}
	return a.content.AddCaptions(p, input)
}

// SelectNextContent previews the next post without consuming anything.
// numImages <= 0 uses the configured images per post.
func (a *App) SelectNextContent(ctx context.Context, p core.Period, numImages int) (core.SelectedContent, error) {
	if err := core.CheckPeriod(p); err != nil {
		return core.SelectedContent{}, err
	}
	cfg, err := a.settings.Load(ctx)
	if err != nil {
		return core.SelectedContent{}, err
	}
	if numImages <= 0 {
		numImages = cfg.ImagesPerPost
	}
	return a.ledger.SelectNext(ctx, p, numImages, cfg.SequentialImageSelection)
}

// MarkPosted records a post made outside the orchestrator.
func (a *App) MarkPosted(ctx context.Context, p core.Period, captionID string, images []string) (core.PostEvent, error) {
	if err := core.CheckPeriod(p); err != nil {
		return core.PostEvent{}, err
	}
	captionID = strings.TrimSpace(captionID)
	if captionID == "" {
		return core.PostEvent{}, errors.New("caption id is required")
	}
	return a.ledger.Commit(ctx, p, captionID, images)
}

func (a *App) UpdateImageOrder(ctx context.Context, p core.Period, order []string) ([]string, error) {
	if err := core.CheckPeriod(p); err != nil {
		return nil, err
	}
	return a.content.UpdateImageOrder(ctx, p, order)
}

func (a *App) RetractCaption(ctx context.Context, p core.Period, captionID string) error {
	if err := core.CheckPeriod(p); err != nil {
		return err
	}
	return a.ledger.Retract(ctx, p, captionID)
}

func (a *App) RetractImage(ctx context.Context, p core.Period, name string) error {
	if err := core.CheckPeriod(p); err != nil {
		return err
	}
	return a.ledger.RetractImage(ctx, p, name)
}

// DeleteCaption removes the caption row and its usage mark.
func (a *App) DeleteCaption(ctx context.Context, p core.Period, captionID string) error {
	if err := core.CheckPeriod(p); err != nil {
		return err
	}
	if err := a.content.RemoveCaption(p, captionID); err != nil {
		return err
	}
	return a.ledger.Retract(ctx, p, captionID)
}

// DeleteImage removes the image file and its usage mark.
func (a *App) DeleteImage(ctx context.Context, p core.Period, name string) error {
	if err := core.CheckPeriod(p); err != nil {
		return err
	}
	if err := a.content.RemoveImage(p, name); err != nil {
		return err
	}
	return a.ledger.RetractImage(ctx, p, name)
}

// ResetLedger clears the used sets of a period. History is kept.
func (a *App) ResetLedger(ctx context.Context, p core.Period) error {
	if err := core.CheckPeriod(p); err != nil {
		return err
	}
	if err := a.ledger.Reset(ctx, p); err != nil {
		return err
	}
	a.log.Info("ledger reset", logx.Int("period", int(p)))
	return nil
}

func (a *App) Settings(ctx context.Context) (core.SchedulerSettings, error) {
	return a.settings.Load(ctx)
}

// UpdateSetting validates and persists one setting. A running scheduler
// picks the change up on its next tick.
func (a *App) UpdateSetting(ctx context.Context, key string, value any) (core.SchedulerSettings, error) {
	return a.settings.Update(ctx, key, value)
}

func (a *App) SchedulerErrors(ctx context.Context) ([]core.ErrorRecord, error) {
	return a.diag.List(ctx)
}

func (a *App) ClearSchedulerErrors(ctx context.Context) error {
	return a.diag.Clear(ctx)
}

// StartScheduler starts the poll loop. The loop outlives ctx; it ends with
// StopScheduler or Stop.
func (a *App) StartScheduler(ctx context.Context) error {
	base := ctx
	if a.sup != nil {
		base = a.sup.Context()
	}
	return a.sched.Start(context.WithoutCancel(base))
}

func (a *App) StopScheduler(ctx context.Context) error {
	return a.sched.Stop(ctx)
}

// SchedulerStatus is the operator view of the scheduler.
type SchedulerStatus struct {
	Running             bool               `json:"running"`
	State               trigger.State      `json:"state"`
	InFlight            bool               `json:"in_flight"`
	VerificationPending bool               `json:"verification_pending"`
	NextTriggerTime     *time.Time         `json:"next_trigger_time"`
	LastPostTime        *time.Time         `json:"last_post_time"`
	LastRunAt           *time.Time         `json:"last_run_at,omitempty"`
	LastError           string             `json:"last_error,omitempty"`
	RecentErrors        []core.ErrorRecord `json:"recent_errors"`

	Enabled       bool     `json:"enabled"`
	PostingTimes  []string `json:"posting_times"`
	Timezone      string   `json:"timezone"`
	ImagesPerPost int      `json:"images_per_post"`
	Sequential    bool     `json:"sequential_images"`
}

// SchedulerStatus reports the scheduler. When the loop is not running in
// this process the next trigger is what the current settings would arm.
func (a *App) SchedulerStatus(ctx context.Context) (SchedulerStatus, error) {
	cfg, err := a.settings.Load(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}
	st := a.sched.Status()
	out := SchedulerStatus{
		Running:             st.Running,
		State:               st.State,
		InFlight:            st.InFlight,
		VerificationPending: a.orch.VerificationPending(),
		NextTriggerTime:     st.NextTrigger,
		LastRunAt:           st.LastRunAt,
		LastError:           st.LastError,
		Enabled:             cfg.Enabled,
		PostingTimes:        cfg.TriggerTimesLocal,
		Timezone:            cfg.TimezoneName,
		ImagesPerPost:       cfg.ImagesPerPost,
		Sequential:          cfg.SequentialImageSelection,
	}
	if !st.Running {
		if next, ok := trigger.Preview(cfg, a.server, a.now()); ok {
			out.NextTriggerTime = &next
		}
	}

	last, ok, err := a.ledger.LastPost(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}
	if ok {
		ts := last.Timestamp
		out.LastPostTime = &ts
	}
	out.RecentErrors, err = a.diag.Recent(ctx, recentErrorsInStatus)
	if err != nil {
		return SchedulerStatus{}, err
	}
	return out, nil
}

// PostNow runs one cycle immediately. It shares the scheduler's in-flight
// flag and returns core.ErrAlreadyRunning when a cycle is in progress.
func (a *App) PostNow(ctx context.Context) (orchestrator.Result, error) {
	return a.sched.PostNow(ctx)
}

// SubmitVerificationCode hands an operator code to the waiting cycle.
func (a *App) SubmitVerificationCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("verification code is empty")
	}
	return a.orch.SubmitVerificationCode(ctx, code)
}
