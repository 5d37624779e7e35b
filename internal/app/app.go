// Package app wires the stores, the orchestrator, the trigger scheduler and
// the alert channel into one process, and exposes the operator operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoposter/internal/agent"
	"autoposter/internal/config"
	"autoposter/internal/content"
	"autoposter/internal/diag"
	"autoposter/internal/eventbus"
	"autoposter/internal/ledger"
	"autoposter/internal/notifier"
	"autoposter/internal/orchestrator"
	rtsup "autoposter/internal/runtime/supervisor"
	"autoposter/internal/settings"
	"autoposter/internal/storage"
	"autoposter/internal/trigger"
	logx "autoposter/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	repo storage.Repository

	content  *content.Store
	ledger   *ledger.Ledger
	settings *settings.Store
	diag     *diag.Ledger
	orch     *orchestrator.Orchestrator
	sched    *trigger.Scheduler
	server   *time.Location

	telegram    *notifier.Telegram
	notif       *notifier.Service
	acceptCodes bool
	autostart   bool

	now func() time.Time
}

type options struct {
	alerts bool
}

type Option func(*options)

// WithoutAlerts skips the Telegram channel. One-shot CLI commands use it so
// they never poll or send.
func WithoutAlerts() Option { return func(o *options) { o.alerts = false } }

// collaborators are the external session and browser agent.
type collaborators struct {
	sessions orchestrator.SessionProvider
	agent    orchestrator.Agent
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{alerts: true}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg, d)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	repo, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	cleanup := func() {
		_ = repo.Close()
		_ = logs.Close()
	}

	collab := collaborators{sessions: unconfiguredAgent{}, agent: unconfiguredAgent{}}
	if strings.TrimSpace(cfg.Agent.Endpoint) != "" {
		alog := log.With(logx.String("comp", "agent"))
		client, err := agent.NewClient(mapAgentConfig(cfg, d), alog)
		if err != nil {
			cleanup()
			return nil, err
		}
		collab = collaborators{sessions: client, agent: agent.ChainFor(client, cfg.Agent.Strategies, alog)}
	}

	a, err := assemble(cfg, d, repo, log, collab)
	if err != nil {
		cleanup()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs

	if o.alerts && cfg.Alerts.Telegram.Enabled {
		tlog := log.With(logx.String("comp", "telegram"))
		tg, err := notifier.NewTelegram(mapTelegramConfig(cfg, d), tlog)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("telegram alerts: %w", err)
		}
		a.telegram = tg
		a.acceptCodes = cfg.Alerts.Telegram.AcceptCodes
		a.notif = notifier.New(mapNotifierConfig(cfg), tg, a.bus, log.With(logx.String("comp", "notifier")))
	}
	return a, nil
}

// assemble builds the domain components on an open repository.
func assemble(cfg *config.Config, d config.Durations, repo storage.Repository, log logx.Logger, collab collaborators) (*App, error) {
	tcfg, err := mapSchedulerConfig(cfg, d)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	cs := content.New(cfg.ContentDir, repo, log.With(logx.String("comp", "content")))
	led := ledger.New(repo, cs, log.With(logx.String("comp", "ledger")))
	st := settings.New(repo, log.With(logx.String("comp", "settings")))
	dg := diag.New(repo, log.With(logx.String("comp", "diag")))

	orch := orchestrator.New(mapOrchestratorConfig(d), orchestrator.Deps{
		Settings: st,
		Selector: led,
		Media:    cs,
		Sessions: collab.sessions,
		Agent:    collab.agent,
		Errors:   dg,
		Bus:      bus,
	}, log.With(logx.String("comp", "orchestrator")))
	sched := trigger.New(tcfg, st, orch, dg, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		log:       log,
		bus:       bus,
		repo:      repo,
		content:   cs,
		ledger:    led,
		settings:  st,
		diag:      dg,
		orch:      orch,
		sched:     sched,
		server:    tcfg.ServerLocation,
		autostart: cfg.AutostartScheduler(),
		now:       time.Now,
	}, nil
}

// StartServices runs the alert channel and its verification code listener.
// PostNow from a one-shot process needs these but not the scheduler.
func (a *App) StartServices(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(false))

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
	}
	if a.telegram != nil && a.acceptCodes {
		a.sup.Go("telegram.codes", func(c context.Context) error {
			return a.telegram.ListenCodes(c, a.SubmitVerificationCode)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("kind", string(e.Kind)), logx.Any("data", e.Data))
			}
		}
	})
	return nil
}

// Start runs the daemon side: StartServices, config hot reload and, unless
// scheduler.autostart is false, the trigger scheduler.
func (a *App) Start(ctx context.Context) error {
	if err := a.StartServices(ctx); err != nil {
		return err
	}

	if a.cfgm != nil {
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			d, err := cfg.Durations()
			if err != nil {
				return err
			}
			_, err = mapStorageConfig(cfg, d)
			return err
		})
		a.startConfigReload()
	}

	if a.autostart {
		if err := a.StartScheduler(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.log.Info("scheduler autostart disabled")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) startConfigReload() {
	updates := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		prev := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-updates:
				if !ok {
					return nil
				}
				sections, attrs, restart := config.SummarizeConfigChange(prev, newCfg)
				prev = newCfg

				// Only logging is applied live.
				if a.logs != nil {
					a.logs.Apply(mapLoggingConfig(newCfg))
				}
				if len(restart) > 0 {
					a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
				}
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config applied", fields...)
				} else {
					a.log.Info("config applied (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

// Stop shuts down in order: scheduler, alerts, supervised loops, storage.
// Each step is bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// The scheduler bounds itself with scheduler.stop_timeout; leave it room.
	step("scheduler", 0, a.sched.Stop)
	step("notifier", 2*time.Second, func(context.Context) error {
		if a.notif != nil {
			a.notif.Stop(2 * time.Second)
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error {
		if a.sup == nil {
			return nil
		}
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.repo.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases the repository and log sinks of an App that was never
// started.
func (a *App) Close() error {
	err := a.repo.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// errAgentNotConfigured is reported at the session stage when agent.endpoint
// is empty.
var errAgentNotConfigured = errors.New("agent.endpoint is not configured")

// unconfiguredAgent stands in for the session provider and the browser agent
// when no endpoint is set. Every cycle then fails at the session stage.
type unconfiguredAgent struct{}

func (unconfiguredAgent) Acquire(context.Context) (orchestrator.SessionStatus, error) {
	return orchestrator.SessionFailed, errAgentNotConfigured
}

func (unconfiguredAgent) SubmitVerificationCode(context.Context, string) (bool, error) {
	return false, errAgentNotConfigured
}

func (unconfiguredAgent) Release(context.Context) error               { return nil }
func (unconfiguredAgent) OpenComposer(context.Context) error          { return errAgentNotConfigured }
func (unconfiguredAgent) UploadMedia(context.Context, []string) error { return errAgentNotConfigured }
func (unconfiguredAgent) Advance(context.Context) error               { return errAgentNotConfigured }
func (unconfiguredAgent) SetCaption(context.Context, string) error    { return errAgentNotConfigured }
func (unconfiguredAgent) SubmitPost(context.Context) error            { return errAgentNotConfigured }
