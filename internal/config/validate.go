package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	logx "specsync/pkg/logx"
)

// Validate checks a parsed config for values that would fail later at
// wiring time. It is installed as the reload validator so a bad edit never
// replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add("logging.level: unknown level %q", lv)
	}
	if lv := strings.TrimSpace(cfg.Logging.Alert.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add("logging.alert.min_level: unknown level %q", lv)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Store.Driver)); d {
	case "", "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			add("store.dsn: required for postgres")
		}
	default:
		add("store.driver: unsupported %q", d)
	}
	if _, err := ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Feed.Driver)); d {
	case "", "memory", "sqlite", "postgres":
	default:
		add("feed.driver: unsupported %q", d)
	}
	for path, raw := range map[string]string{
		"feed.poll_interval":           cfg.Feed.PollInterval,
		"feed.drain_timeout":           cfg.Feed.DrainTimeout,
		"coordination.session_timeout": cfg.Coordination.SessionTimeout,
		"alert.slack.timeout":          cfg.Alert.Slack.Timeout,
		"ops.read_timeout":             cfg.Ops.ReadTimeout,
		"ops.write_timeout":            cfg.Ops.WriteTimeout,
		"ops.idle_timeout":             cfg.Ops.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Coordination.Driver)); d {
	case "", "memory":
	case "zookeeper":
		if len(cfg.Coordination.Servers) == 0 {
			add("coordination.servers: required for zookeeper")
		}
	default:
		add("coordination.driver: unsupported %q", d)
	}

	switch s := strings.ToUpper(strings.TrimSpace(cfg.Registry.ShardingStrategy)); s {
	case "", "AVG_ALLOCATION", "ROUND_ROBIN":
	default:
		add("registry.sharding_strategy: unsupported %q", s)
	}

	if v := strings.TrimSpace(cfg.Executor.FixedValue); v != "" {
		if _, err := decimal.NewFromString(v); err != nil {
			add("executor.fixed_value: %v", err)
		}
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			add("task_engine: sizes must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			errs = append(errs, err)
		}
	}
	if n := cfg.Notifier; n != nil {
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			errs = append(errs, err)
		}
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Alert.Driver)); d {
	case "", "log":
	case "slack":
		if cfg.Alert.Slack.Token == "" || cfg.Alert.Slack.Channel == "" {
			add("alert.slack: token and channel are required")
		}
	case "telegram":
		if cfg.Alert.Telegram.Token == "" || cfg.Alert.Telegram.ChatID == 0 {
			add("alert.telegram: token and chat_id are required")
		}
	default:
		add("alert.driver: unsupported %q", d)
	}

	return errors.Join(errs...)
}
