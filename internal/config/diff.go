package config

import (
	"slices"
	"sort"
	"strings"

	logx "autoposter/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe attributes for
// logging. Tokens are never included. restart lists sections whose change
// only takes effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, needsRestart bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if needsRestart {
			restart = append(restart, section)
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.ContentDir) != strings.TrimSpace(newCfg.ContentDir) {
		mark("content_dir", true, logx.String("content_dir", newCfg.ContentDir))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if !schedulerEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler", true,
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.String("scheduler.server_timezone", newCfg.Scheduler.ServerTimezone),
		)
	}
	if oldCfg.Orchestrator != newCfg.Orchestrator {
		mark("orchestrator", true,
			logx.String("orchestrator.verification_timeout", newCfg.Orchestrator.VerificationTimeout),
			logx.String("orchestrator.stage_timeout", newCfg.Orchestrator.StageTimeout),
		)
	}
	if !agentEqual(oldCfg.Agent, newCfg.Agent) {
		mark("agent", true,
			logx.String("agent.endpoint", newCfg.Agent.Endpoint),
			logx.Strs("agent.strategies", newCfg.Agent.Strategies),
		)
	}
	if oldCfg.Alerts.Telegram != newCfg.Alerts.Telegram {
		mark("alerts", true,
			logx.Bool("alerts.telegram.enabled", newCfg.Alerts.Telegram.Enabled),
			logx.Bool("alerts.telegram.token_set", strings.TrimSpace(newCfg.Alerts.Telegram.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func schedulerEqual(a, b SchedulerConfig) bool {
	if a.PollInterval != b.PollInterval || a.StopTimeout != b.StopTimeout ||
		a.MisfireGrace != b.MisfireGrace || a.ServerTimezone != b.ServerTimezone {
		return false
	}
	return (a.Autostart == nil) == (b.Autostart == nil) && (a.Autostart == nil || *a.Autostart == *b.Autostart)
}

func agentEqual(a, b AgentConfig) bool {
	return a.Endpoint == b.Endpoint && a.RatePerSec == b.RatePerSec && a.RetryMax == b.RetryMax &&
		a.Timeout == b.Timeout && slices.Equal(a.Strategies, b.Strategies)
}
