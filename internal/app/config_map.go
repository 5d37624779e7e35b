package app

import (
	"fmt"
	"strings"

	"autoposter/internal/agent"
	"autoposter/internal/config"
	"autoposter/internal/notifier"
	"autoposter/internal/orchestrator"
	"autoposter/internal/storage"
	"autoposter/internal/trigger"
	logx "autoposter/pkg/logx"
)

func mapStorageConfig(cfg *config.Config, d config.Durations) (storage.Config, error) {
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: d.StorageBusyTimeout}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config, d config.Durations) (trigger.Config, error) {
	loc, err := cfg.ServerLocation()
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		PollInterval:   d.PollInterval,
		StopTimeout:    d.StopTimeout,
		MisfireGrace:   d.MisfireGrace,
		ServerLocation: loc,
	}, nil
}

func mapOrchestratorConfig(d config.Durations) orchestrator.Config {
	return orchestrator.Config{
		VerificationTimeout: d.VerificationTimeout,
		StageTimeout:        d.StageTimeout,
	}
}

func mapAgentConfig(cfg *config.Config, d config.Durations) agent.Config {
	return agent.Config{
		Endpoint:   cfg.Agent.Endpoint,
		Strategies: cfg.Agent.Strategies,
		RatePerSec: cfg.Agent.RatePerSec,
		RetryMax:   cfg.Agent.RetryMax,
		Timeout:    d.AgentTimeout,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	t := cfg.Alerts.Telegram
	return notifier.Config{
		Enabled:       t.Enabled,
		RatePerSec:    t.RatePerSec,
		RetryMax:      t.RetryMax,
		NotifySuccess: t.NotifySuccess,
	}
}

func mapTelegramConfig(cfg *config.Config, d config.Durations) notifier.TelegramConfig {
	t := cfg.Alerts.Telegram
	return notifier.TelegramConfig{
		Token:       t.Token,
		ChatID:      t.ChatID,
		Listen:      t.AcceptCodes,
		PollTimeout: d.TelegramPollTimeout,
	}
}
