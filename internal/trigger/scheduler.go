package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"autoposter/internal/core"
	"autoposter/internal/eventbus"
	"autoposter/internal/orchestrator"
	"autoposter/internal/settings"
	logx "autoposter/pkg/logx"
)

type Scheduler struct {
	cfg      Config
	settings SettingsSource
	runner   Runner
	errs     ErrorRecorder
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	// inFlight is the single mutual-exclusion flag for posting cycles.
	inFlight atomic.Bool
	flights  sync.WaitGroup

	mu         sync.Mutex
	started    bool
	c          *cron.Cron
	runCtx     context.Context
	runCancel  context.CancelFunc
	enabled    bool
	armedTimes []string
	armedTZ    string
	armed      bool
	candidates []Candidate
	lastRunAt  time.Time
	lastErr    error
}

func New(cfg Config, src SettingsSource, runner Runner, errs ErrorRecorder, bus eventbus.Bus, log logx.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.ServerLocation == nil {
		cfg.ServerLocation = time.Local
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, settings: src, runner: runner, errs: errs, bus: bus, log: log, now: time.Now}
}

// Start begins polling. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, err := s.start(ctx)
	if err != nil || runCtx == nil {
		return err
	}
	// First evaluation right away instead of one poll interval later.
	s.safeTick(runCtx)
	return nil
}

func (s *Scheduler) start(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithLocation(s.cfg.ServerLocation),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	runCtx := s.runCtx
	spec := fmt.Sprintf("@every %s", s.cfg.PollInterval)
	if _, err := s.c.AddFunc(spec, func() { s.safeTick(runCtx) }); err != nil {
		s.runCancel()
		s.c, s.runCtx, s.runCancel = nil, nil, nil
		return nil, fmt.Errorf("schedule poll %q: %w", spec, err)
	}
	s.started = true
	s.armed = false
	s.c.Start()
	s.log.Info("scheduler started", logx.Duration("poll", s.cfg.PollInterval), logx.String("server_tz", s.cfg.ServerLocation.String()))
	s.bus.Publish(eventbus.Event{Kind: eventbus.SchedulerStarted})

	return runCtx, nil
}

// Stop halts polling and waits up to StopTimeout for the tick loop and any
// in-flight cycle to finish. After the timeout the in-flight cycle is
// cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.c, s.runCancel
	s.started = false
	s.c, s.runCtx, s.runCancel = nil, nil, nil
	s.armed = false
	s.candidates = nil
	s.mu.Unlock()

	start := s.now()
	joined := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.flights.Wait()
		close(joined)
	}()

	tctx, tcancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer tcancel()
	select {
	case <-joined:
		cancel()
		s.log.Info("scheduler stopped", logx.Duration("took", s.now().Sub(start)))
	case <-tctx.Done():
		cancel()
		s.log.Warn("scheduler did not stop in time; in-flight cycle cancelled", logx.Duration("timeout", s.cfg.StopTimeout))
	}
	s.bus.Publish(eventbus.Event{Kind: eventbus.SchedulerStopped})
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.Tick(ctx, s.now())
}

// Tick runs one evaluation at now. It is called by the poll loop; tests call
// it directly.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	cfg, changed, err := s.settings.Reload(ctx)
	if err != nil {
		s.log.Warn("settings reload failed", logx.Err(err))
		if s.errs != nil {
			s.errs.Record(ctx, core.StageInit, core.PeriodAt(now), err)
		}
		return
	}

	s.mu.Lock()
	if !cfg.Enabled {
		if s.enabled || s.armed {
			s.log.Info("scheduling disabled; triggers cleared")
		}
		s.enabled = false
		s.armed = false
		s.candidates = nil
		s.mu.Unlock()
		return
	}
	s.enabled = true

	tz := strings.TrimSpace(cfg.TimezoneName)
	if !s.armed || (changed && (tz != s.armedTZ || !slices.Equal(cfg.TriggerTimesLocal, s.armedTimes))) {
		s.rearmLocked(cfg, now)
	}

	due := s.collectDueLocked(now, settings.Location(cfg))
	s.mu.Unlock()

	if due {
		s.fire(ctx, TriggerSchedule)
	}
}

func (s *Scheduler) rearmLocked(cfg core.SchedulerSettings, now time.Time) {
	s.armedTimes = slices.Clone(cfg.TriggerTimesLocal)
	s.armedTZ = strings.TrimSpace(cfg.TimezoneName)
	s.armed = true
	s.candidates = armCandidates(cfg.TriggerTimesLocal, settings.Location(cfg), s.cfg.ServerLocation, now)

	var next time.Time
	if n, ok := nextTrigger(s.candidates); ok {
		next = n
	}
	s.log.Info("triggers armed",
		logx.Strs("times", s.armedTimes),
		logx.String("tz", s.armedTZ),
		logx.Time("next", next),
	)
	s.bus.Publish(eventbus.Event{Kind: eventbus.SchedulerRearmed, Data: eventbus.SchedulerInfo{NextTrigger: next, Reason: "settings"}})
}

// collectDueLocked rolls every due candidate forward and reports whether a
// cycle should start. Several candidates due on the same tick coalesce into
// one cycle.
func (s *Scheduler) collectDueLocked(now time.Time, loc *time.Location) bool {
	fire := false
	for i := range s.candidates {
		c := &s.candidates[i]
		if now.Before(c.At) {
			continue
		}
		late := now.Sub(c.At)
		if s.cfg.MisfireGrace > 0 && late > s.cfg.MisfireGrace {
			s.log.Warn("trigger missed; skipping to next occurrence", logx.String("local", c.Local), logx.Duration("late", late))
		} else {
			fire = true
		}
		if at, err := nextOccurrence(c.Local, loc, now); err == nil {
			c.At = at.In(s.cfg.ServerLocation)
		}
	}
	return fire
}

// fire starts a background cycle unless one is already running. The cycle
// runs under the scheduler's run context when started, else under ctx.
func (s *Scheduler) fire(ctx context.Context, trigger string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Warn("trigger skipped; a posting cycle is already running")
		s.bus.Publish(eventbus.Event{Kind: eventbus.PostSkipped, Data: eventbus.PostInfo{Trigger: trigger, Err: core.ErrAlreadyRunning}})
		return
	}
	s.mu.Lock()
	if s.runCtx != nil {
		ctx = s.runCtx
	}
	s.mu.Unlock()
	s.flights.Add(1)
	go func() {
		defer s.flights.Done()
		defer s.inFlight.Store(false)
		_, _ = s.run(ctx, trigger)
	}()
}

func (s *Scheduler) run(ctx context.Context, trigger string) (res orchestrator.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("posting cycle panicked: %v", r)
			s.log.Error("panic in posting cycle", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			if s.errs != nil {
				s.errs.Record(context.WithoutCancel(ctx), core.StageOf(err), core.PeriodAt(s.now()), err)
			}
		}
		s.mu.Lock()
		s.lastRunAt = s.now()
		s.lastErr = err
		s.mu.Unlock()
	}()
	return s.runner.Run(ctx, trigger)
}

// PostNow runs one cycle synchronously, sharing the in-flight flag with the
// scheduled triggers. It returns core.ErrAlreadyRunning when a cycle is in
// progress.
func (s *Scheduler) PostNow(ctx context.Context) (orchestrator.Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return orchestrator.Result{}, core.ErrAlreadyRunning
	}
	defer s.inFlight.Store(false)
	return s.run(ctx, TriggerManual)
}

// Status reports the scheduler state. It does not reload settings.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.started, InFlight: s.inFlight.Load()}
	switch {
	case !s.started:
		st.State = StateStopped
	case !s.enabled:
		st.State = StateDisabled
	case st.InFlight:
		st.State = StateFiring
	default:
		st.State = StateArmed
	}
	if s.started && s.enabled {
		st.Candidates = slices.Clone(s.candidates)
		if next, ok := nextTrigger(s.candidates); ok {
			st.NextTrigger = &next
		}
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		st.LastRunAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// cronLogger routes robfig/cron diagnostics into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
