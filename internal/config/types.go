package config

// Config is the process configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Posting
// times, timezone and images per post are not here: they are runtime
// settings kept in the repository and edited through the settings commands.
type Config struct {
	// ContentDir holds one directory per period ("1".."12") with a captions
	// CSV and the images.
	ContentDir string `json:"content_dir"`

	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Agent        AgentConfig        `json:"agent"`
	Alerts       AlertsConfig       `json:"alerts"`
}

// StorageConfig selects the repository backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/autoposter.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes the trigger poll loop.
//
// Defaults: poll_interval 60s, stop_timeout 10s, misfire_grace 10m,
// server_timezone = the host zone.
type SchedulerConfig struct {
	PollInterval   string `json:"poll_interval,omitempty"`
	StopTimeout    string `json:"stop_timeout,omitempty"`
	MisfireGrace   string `json:"misfire_grace,omitempty"`
	ServerTimezone string `json:"server_timezone,omitempty"`
	// Autostart starts the scheduler loop when the daemon boots.
	Autostart *bool `json:"autostart,omitempty"`
}

type OrchestratorConfig struct {
	VerificationTimeout string `json:"verification_timeout,omitempty"` // default 120s
	StageTimeout        string `json:"stage_timeout,omitempty"`        // default 2m; "0s" disables
}

// AgentConfig points at the browser automation sidecar.
type AgentConfig struct {
	Endpoint   string   `json:"endpoint"`
	Strategies []string `json:"strategies,omitempty"`
	RatePerSec float64  `json:"rate_per_sec,omitempty"`
	RetryMax   int      `json:"retry_max,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
}

type AlertsConfig struct {
	Telegram TelegramAlerts `json:"telegram"`
}

type TelegramAlerts struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
	// AcceptCodes lets the operator answer verification challenges with
	// "/code <digits>" in the alert chat.
	AcceptCodes   bool   `json:"accept_codes,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	NotifySuccess bool   `json:"notify_success,omitempty"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
}
