package config

import (
	"reflect"
	"strings"

	logx "specsync/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like DSNs or tokens),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// Store (never log DSN)
	if oldCfg.Store.Driver != newCfg.Store.Driver ||
		strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path) ||
		oldCfg.Store.DSN != newCfg.Store.DSN ||
		oldCfg.Store.BusyTimeout != newCfg.Store.BusyTimeout ||
		oldCfg.Store.MaxConns != newCfg.Store.MaxConns {
		changed = append(changed, "store")
		restart = append(restart, "store")
		attrs = append(attrs,
			logx.String("store.driver", newCfg.Store.Driver),
			logx.Bool("store.dsn_set", strings.TrimSpace(newCfg.Store.DSN) != ""),
		)
	}

	if oldCfg.Feed != newCfg.Feed {
		changed = append(changed, "feed")
		attrs = append(attrs, logx.String("feed.poll_interval", strings.TrimSpace(newCfg.Feed.PollInterval)))
		if oldCfg.Feed.Driver != newCfg.Feed.Driver || oldCfg.Feed.Channel != newCfg.Feed.Channel {
			restart = append(restart, "feed")
		}
	}

	if !reflect.DeepEqual(oldCfg.Coordination, newCfg.Coordination) {
		changed = append(changed, "coordination")
		restart = append(restart, "coordination")
		attrs = append(attrs,
			logx.String("coordination.driver", newCfg.Coordination.Driver),
			logx.Int("coordination.servers", len(newCfg.Coordination.Servers)),
		)
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		restart = append(restart, "registry")
		attrs = append(attrs, logx.String("registry.job_prefix", newCfg.Registry.JobPrefix))
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		if te := newCfg.TaskEngine; te != nil {
			attrs = append(attrs,
				logx.Int("task_engine.workers", te.Workers),
				logx.Int("task_engine.queue_size", te.QueueSize),
			)
		}
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		restart = append(restart, "executor")
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.String("notifier.dedup_window", n.DedupWindow),
			)
		}
	}

	// Alert (never log tokens)
	if oldCfg.Alert != newCfg.Alert {
		changed = append(changed, "alert")
		restart = append(restart, "alert")
		attrs = append(attrs,
			logx.String("alert.driver", newCfg.Alert.Driver),
			logx.Bool("alert.slack_token_set", newCfg.Alert.Slack.Token != ""),
			logx.Bool("alert.telegram_token_set", newCfg.Alert.Telegram.Token != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		restart = append(restart, "systemd")
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs, restart
}
