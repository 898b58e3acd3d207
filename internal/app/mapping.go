package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"specsync/internal/changefeed"
	"specsync/internal/config"
	"specsync/internal/coord"
	"specsync/internal/eventbus"
	"specsync/internal/executor"
	"specsync/internal/notifier"
	"specsync/internal/registry"
	"specsync/internal/storage"
	"specsync/internal/task/engine"
	"specsync/internal/transport"
	"specsync/internal/transport/slack"
	"specsync/internal/transport/telegram"
	logx "specsync/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Store
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "sqlite" && strings.TrimSpace(sc.Path) == "" {
		return storage.Config{}, fmt.Errorf("store.path is required when store.driver=sqlite")
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         sc.DSN,
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
		Channel:     cfg.Feed.Channel,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Workers: 2, QueueSize: 256, HistorySize: 200}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapNotifierConfig enables the notifier unless it is explicitly
// configured off.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}, nil
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func newSender(cfg *config.Config, log logx.Logger) (transport.Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Alert.Driver)) {
	case "slack":
		sc := cfg.Alert.Slack
		timeout, err := config.ParseDurationField("alert.slack.timeout", sc.Timeout)
		if err != nil {
			return nil, err
		}
		retry := sc.RetryMax
		if retry == 0 {
			retry = 1
		}
		return slack.New(slack.Config{
			Token:      sc.Token,
			Channel:    sc.Channel,
			BaseURL:    sc.BaseURL,
			RatePerSec: sc.RatePerSec,
			RetryMax:   retry,
			Timeout:    timeout,
		}, log.With(logx.String("comp", "slack")))
	case "telegram":
		tc := cfg.Alert.Telegram
		return telegram.New(telegram.Config{Token: tc.Token, ChatID: tc.ChatID, ThreadID: tc.ThreadID}, log.With(logx.String("comp", "telegram")))
	default:
		return transport.NewLog(log), nil
	}
}

func pollInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("feed.poll_interval", cfg.Feed.PollInterval, time.Second)
}

// openFeed picks the change feed. An empty driver follows the store:
// postgres listens on its notification channel, the others drain the
// store's outbox.
func openFeed(ctx context.Context, cfg *config.Config, st storage.Store, log logx.Logger) (changefeed.Feed, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Feed.Driver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	}
	switch driver {
	case "postgres":
		drain, err := config.ParseDurationField("feed.drain_timeout", cfg.Feed.DrainTimeout)
		if err != nil {
			return nil, err
		}
		dsn := cfg.Store.DSN
		channel := cfg.Feed.Channel
		if channel == "" {
			channel = storage.DefaultChannel
		}
		f := changefeed.NewPGFeed(changefeed.PGConfig{DSN: dsn, Channel: channel, DrainTimeout: drain, BatchSize: cfg.Feed.BatchSize}, log)
		if err := f.Connect(ctx); err != nil {
			// Poll reconnects; a listener that starts late only delays changes.
			log.Warn("change feed connect failed; will retry on poll", logx.Err(err))
		}
		return f, nil
	default:
		ob, ok := st.(storage.Outbox)
		if !ok {
			return nil, fmt.Errorf("feed.driver %q: store has no change outbox", driver)
		}
		return changefeed.NewOutboxFeed(ob, cfg.Feed.BatchSize), nil
	}
}

func dialCoord(ctx context.Context, cfg *config.Config, opts coord.Options) (coord.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Coordination.Driver)) {
	case "zookeeper":
		timeout, err := config.ParseDurationField("coordination.session_timeout", cfg.Coordination.SessionTimeout)
		if err != nil {
			return nil, err
		}
		dctx, cancel := context.WithTimeout(ctx, max(timeout, 10*time.Second)+5*time.Second)
		defer cancel()
		return coord.DialZK(dctx, coord.ZKConfig{Servers: cfg.Coordination.Servers, SessionTimeout: timeout}, opts)
	default:
		return coord.NewMemory(coord.NewMemoryTree(), opts), nil
	}
}

func newCalculator(cfg *config.Config) (executor.Calculator, error) {
	raw := strings.TrimSpace(cfg.Executor.FixedValue)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("executor.fixed_value: %w", err)
	}
	return executor.FixedCalculator{Value: v}, nil
}

func registryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		Prefix:           cfg.Registry.JobPrefix,
		TimeZone:         cfg.Registry.Timezone,
		ShardingStrategy: coord.ParseStrategy(cfg.Registry.ShardingStrategy),
	}
}

// alertBridge lets the logging service forward to the notifier.
type alertBridge struct{ n *notifier.Service }

func (b alertBridge) SendAlert(ctx context.Context, msg string) bool { return b.n.SendAlert(ctx, msg) }

var _ logx.AlertSender = alertBridge{}

// busLogger logs every bus event at debug level.
func busLogger(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	events, unsub := bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("at", e.Time), logx.Any("data", e.Data))
		}
	}
}
