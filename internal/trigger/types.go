package trigger

import (
	"context"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/orchestrator"
)

type State string

const (
	StateStopped  State = "stopped"
	StateDisabled State = "disabled"
	StateArmed    State = "armed"
	StateFiring   State = "firing"
)

// Runner executes one posting cycle.
type Runner interface {
	Run(ctx context.Context, trigger string) (orchestrator.Result, error)
}

type SettingsSource interface {
	Reload(ctx context.Context) (core.SchedulerSettings, bool, error)
}

type ErrorRecorder interface {
	Record(ctx context.Context, stage core.Stage, period core.Period, cause error) core.ErrorRecord
}

type Config struct {
	PollInterval time.Duration // default 60s
	StopTimeout  time.Duration // default 10s
	// MisfireGrace bounds how late a due candidate may still fire. A
	// candidate observed later than this is skipped and rolled forward.
	// Zero fires regardless of lateness.
	MisfireGrace   time.Duration
	ServerLocation *time.Location // default time.Local
}

const (
	defaultPollInterval = 60 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Candidate is one armed daily trigger.
type Candidate struct {
	Local string    `json:"local"` // "HH:MM" in the configured timezone
	At    time.Time `json:"at"`    // next occurrence, server location
}

// Status is a point-in-time snapshot for operators.
type Status struct {
	Running     bool        `json:"running"`
	State       State       `json:"state"`
	InFlight    bool        `json:"in_flight"`
	NextTrigger *time.Time  `json:"next_trigger_time,omitempty"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	LastRunAt   *time.Time  `json:"last_run_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}
