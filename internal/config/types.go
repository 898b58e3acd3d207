package config

type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Store        StoreConfig        `json:"store"`
	Feed         FeedConfig         `json:"feed"`
	Coordination CoordinationConfig `json:"coordination"`
	Registry     RegistryConfig     `json:"registry"`

	// TaskEngine controls local execution of triggered jobs.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Executor   ExecutorConfig    `json:"executor"`

	// If the notifier section is omitted, it defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Alert    AlertConfig     `json:"alert"`
	Systemd  SystemdConfig   `json:"systemd,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log records at or above MinLevel to the alert sink.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StoreConfig selects the spec store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./specsync.db" }
//	"store": { "driver": "postgres", "dsn": "postgres://user@host/db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

// FeedConfig controls the change-feed listener.
//
// Driver defaults to the store driver. Channel is only meaningful for postgres.
type FeedConfig struct {
	Driver       string `json:"driver,omitempty"`
	Channel      string `json:"channel,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default 1s
	DrainTimeout string `json:"drain_timeout,omitempty"` // default 50ms
	BatchSize    int    `json:"batch_size,omitempty"`
}

type CoordinationConfig struct {
	Driver         string   `json:"driver"`
	Servers        []string `json:"servers,omitempty"`
	Namespace      string   `json:"namespace,omitempty"`
	SessionTimeout string   `json:"session_timeout,omitempty"`
	// InstanceID defaults to a random UUID per process.
	InstanceID string `json:"instance_id,omitempty"`
}

// RegistryConfig shapes the registrations written to the coordination service.
//
// Timezone is the zone cron expressions were authored in; it is translated
// into the offset-style identifier the scheduler expects (UTC -> GMT+0).
type RegistryConfig struct {
	JobPrefix        string `json:"job_prefix,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	ShardingStrategy string `json:"sharding_strategy,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type ExecutorConfig struct {
	// FixedValue is a decimal string; the built-in calculator produces it.
	FixedValue string `json:"fixed_value,omitempty"`
}

// NotifierConfig controls the async alert pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// AlertConfig selects where alerts are delivered.
type AlertConfig struct {
	Driver   string        `json:"driver"`
	Slack    SlackConfig   `json:"slack,omitempty"`
	Telegram TelegramAlert `json:"telegram,omitempty"`
}

type SlackConfig struct {
	Token      string `json:"token,omitempty"` // do not log
	Channel    string `json:"channel,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

type TelegramAlert struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// OpsConfig controls the operator HTTP endpoints (/healthz, /status and
// optionally /debug/pprof/).
//
// Binding to a non-loopback address requires token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6061
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
