package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Durations holds the parsed duration fields with defaults applied.
type Durations struct {
	StorageBusyTimeout  time.Duration
	PollInterval        time.Duration
	StopTimeout         time.Duration
	MisfireGrace        time.Duration
	VerificationTimeout time.Duration
	StageTimeout        time.Duration
	AgentTimeout        time.Duration
	TelegramPollTimeout time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		v, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.StorageBusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, 0)
	parse(&d.PollInterval, "scheduler.poll_interval", c.Scheduler.PollInterval, 60*time.Second)
	parse(&d.StopTimeout, "scheduler.stop_timeout", c.Scheduler.StopTimeout, 10*time.Second)
	parse(&d.MisfireGrace, "scheduler.misfire_grace", c.Scheduler.MisfireGrace, 10*time.Minute)
	parse(&d.VerificationTimeout, "orchestrator.verification_timeout", c.Orchestrator.VerificationTimeout, 120*time.Second)
	parse(&d.AgentTimeout, "agent.timeout", c.Agent.Timeout, 60*time.Second)
	parse(&d.TelegramPollTimeout, "alerts.telegram.poll_timeout", c.Alerts.Telegram.PollTimeout, 10*time.Second)

	// An explicit "0s" disables the stage timeout; only an empty value
	// takes the default.
	if strings.TrimSpace(c.Orchestrator.StageTimeout) == "" {
		d.StageTimeout = 2 * time.Minute
	} else {
		parse(&d.StageTimeout, "orchestrator.stage_timeout", c.Orchestrator.StageTimeout, 0)
	}
	return d, errors.Join(errs...)
}

// ServerLocation resolves scheduler.server_timezone, defaulting to the host
// zone.
func (c *Config) ServerLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Scheduler.ServerTimezone)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.server_timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) AutostartScheduler() bool {
	return c.Scheduler.Autostart == nil || *c.Scheduler.Autostart
}

// Validate checks the fields that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ContentDir) == "" {
		errs = append(errs, errors.New("content_dir is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if ep := strings.TrimSpace(c.Agent.Endpoint); ep != "" {
		if u, err := url.Parse(ep); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("agent.endpoint: invalid URL %q", ep))
		}
	}
	if c.Agent.RetryMax < 0 {
		errs = append(errs, errors.New("agent.retry_max must be >= 0"))
	}
	if t := c.Alerts.Telegram; t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			errs = append(errs, errors.New("alerts.telegram.token is required when enabled"))
		}
		if t.ChatID == 0 {
			errs = append(errs, errors.New("alerts.telegram.chat_id is required when enabled"))
		}
	}
	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ServerLocation(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
