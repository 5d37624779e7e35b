package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/eventbus"
	"autoposter/internal/settings"
	logx "autoposter/pkg/logx"
)

// Deps are the collaborators of one Orchestrator.
type Deps struct {
	Settings SettingsSource
	Selector Selector
	Media    MediaResolver
	Sessions SessionProvider
	Agent    Agent
	Errors   ErrorRecorder
	Bus      eventbus.Bus
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	mu     sync.Mutex
	waiter *verificationWait
}

type verificationWait struct {
	codes chan string
	done  chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Orchestrator {
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = DefaultVerificationTimeout
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = defaultReleaseTimeout
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Run executes one posting cycle. trigger labels the cause ("schedule" or
// "manual") in events and logs.
//
// The returned error is nil only when the post was delivered and committed.
// A *core.StageFailure carries the stage that failed; a *core.PersistenceError
// means the post was delivered but could not be recorded.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (Result, error) {
	start := o.now()
	res := Result{Stage: core.StageInit}
	log := o.log.With(logx.String("trigger", trigger))

	cfg, err := o.deps.Settings.Load(ctx)
	if err != nil {
		return o.finish(res, start), o.fail(ctx, log, trigger, core.StageInit, core.PeriodAt(start), res.Content, err)
	}
	period := core.PeriodAt(start.In(settings.Location(cfg)))
	log = log.With(logx.Int("period", int(period)))

	sel, err := o.deps.Selector.SelectNext(ctx, period, cfg.ImagesPerPost, cfg.SequentialImageSelection)
	if err != nil {
		return o.finish(res, start), o.fail(ctx, log, trigger, core.StageInit, period, res.Content, err)
	}
	res.Content = sel
	log.Info("posting cycle started", logx.String("caption_id", sel.CaptionID), logx.Strs("images", sel.Images))
	o.publish(eventbus.PostStarted, trigger, sel, "", nil)

	res.Stage = core.StageSession
	defer o.release(ctx, log)
	if err := o.openSession(ctx, log); err != nil {
		return o.finish(res, start), o.fail(ctx, log, trigger, core.StageSession, period, sel, err)
	}
	log.Debug("session ready")

	paths := o.deps.Media.ImagePaths(period, sel.Images)
	steps := []struct {
		stage core.Stage
		run   func(context.Context) error
	}{
		{core.StageComposer, o.deps.Agent.OpenComposer},
		{core.StageMedia, func(c context.Context) error {
			if err := o.deps.Agent.UploadMedia(c, paths); err != nil {
				return err
			}
			return o.deps.Agent.Advance(c)
		}},
		{core.StageCaption, func(c context.Context) error { return o.deps.Agent.SetCaption(c, sel.CaptionText) }},
		{core.StageSubmit, o.deps.Agent.SubmitPost},
	}
	for _, st := range steps {
		res.Stage = st.stage
		if err := o.call(ctx, st.run); err != nil {
			return o.finish(res, start), o.fail(ctx, log, trigger, st.stage, period, sel, err)
		}
		log.Debug("stage completed", logx.String("stage", string(st.stage)))
	}
	res.Delivered = true

	// The post is out; recording it must not be cut short by cancellation.
	res.Stage = core.StageCommit
	ev, err := o.deps.Selector.Commit(context.WithoutCancel(ctx), period, sel.CaptionID, sel.Images)
	if err != nil {
		var pe *core.PersistenceError
		if !errors.As(err, &pe) {
			err = &core.PersistenceError{Op: "commit post", Err: err}
		}
		o.deps.Errors.Record(context.WithoutCancel(ctx), core.StageCommit, period, err)
		log.Error("post delivered but not recorded; content may be reused", logx.Err(err), logx.String("caption_id", sel.CaptionID))
		o.publish(eventbus.PostFailed, trigger, sel, core.StageCommit, err)
		return o.finish(res, start), err
	}
	res.Event = ev
	res.Committed = true
	res = o.finish(res, start)
	log.Info("posting cycle succeeded", logx.String("caption_id", sel.CaptionID), logx.Duration("took", res.Duration))
	o.publish(eventbus.PostSucceeded, trigger, sel, core.StageCommit, nil)
	return res, nil
}

func (o *Orchestrator) finish(res Result, start time.Time) Result {
	res.Duration = o.now().Sub(start)
	return res
}

func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	if o.cfg.StageTimeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()
	return fn(sctx)
}

// fail records exactly one ErrorRecord for a failed cycle and returns the
// stage-tagged error.
func (o *Orchestrator) fail(ctx context.Context, log logx.Logger, trigger string, stage core.Stage, period core.Period, sel core.SelectedContent, cause error) error {
	err := error(&core.StageFailure{Stage: stage, Err: cause})
	o.deps.Errors.Record(context.WithoutCancel(ctx), stage, period, err)
	log.Warn("posting cycle failed", logx.String("stage", string(stage)), logx.Err(cause))
	kind := eventbus.PostFailed
	if stage == core.StageInit && errors.Is(cause, core.ErrNotFound) {
		kind = eventbus.PostSkipped
	}
	o.publish(kind, trigger, sel, stage, err)
	return err
}

func (o *Orchestrator) publish(kind eventbus.Kind, trigger string, sel core.SelectedContent, stage core.Stage, err error) {
	o.deps.Bus.Publish(eventbus.Event{
		Kind: kind,
		Time: o.now(),
		Data: eventbus.PostInfo{
			Period:    sel.Period,
			CaptionID: sel.CaptionID,
			Images:    sel.Images,
			Stage:     stage,
			Err:       err,
			Trigger:   trigger,
		},
	})
}

func (o *Orchestrator) release(ctx context.Context, log logx.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReleaseTimeout)
	defer cancel()
	if err := o.deps.Sessions.Release(rctx); err != nil {
		log.Warn("session release failed", logx.Err(err))
		return
	}
	log.Debug("session released")
}

func (o *Orchestrator) openSession(ctx context.Context, log logx.Logger) error {
	status, err := o.deps.Sessions.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSessionUnavailable, err)
	}
	switch status {
	case SessionReady:
		return nil
	case SessionNeedsVerification:
		return o.awaitVerification(ctx, log)
	default:
		return core.ErrSessionUnavailable
	}
}

// awaitVerification blocks until a code is accepted, the deadline passes or
// ctx is cancelled. A rejected code leaves the wait open until the original
// deadline.
func (o *Orchestrator) awaitVerification(ctx context.Context, log logx.Logger) error {
	w := &verificationWait{codes: make(chan string), done: make(chan struct{})}
	o.mu.Lock()
	o.waiter = w
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.waiter = nil
		o.mu.Unlock()
		close(w.done)
	}()

	deadline := o.now().Add(o.cfg.VerificationTimeout)
	log.Warn("session requires a verification code", logx.Time("deadline", deadline))
	o.deps.Bus.Publish(eventbus.Event{Kind: eventbus.VerificationRequested, Time: o.now(), Data: deadline})

	timer := time.NewTimer(o.cfg.VerificationTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return core.ErrVerificationTimeout
		case code := <-w.codes:
			ok, err := o.deps.Sessions.SubmitVerificationCode(ctx, code)
			if err != nil {
				log.Warn("verification submit failed", logx.Err(err))
				continue
			}
			if ok {
				log.Info("verification code accepted")
				return nil
			}
			log.Warn("verification code rejected")
		}
	}
}

// SubmitVerificationCode hands an operator-supplied code to the running
// cycle. It returns ErrNoVerificationPending when no cycle is waiting.
func (o *Orchestrator) SubmitVerificationCode(ctx context.Context, code string) error {
	o.mu.Lock()
	w := o.waiter
	o.mu.Unlock()
	if w == nil {
		return ErrNoVerificationPending
	}
	select {
	case w.codes <- code:
		return nil
	case <-w.done:
		return ErrNoVerificationPending
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerificationPending reports whether a cycle is waiting for a code.
func (o *Orchestrator) VerificationPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiter != nil
}
