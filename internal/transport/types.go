// Package transport holds the alert senders behind the notifier.
package transport

import (
	"context"

	logx "specsync/pkg/logx"
)

// Sender delivers one alert text to an external channel.
type Sender interface {
	Name() string
	SendText(ctx context.Context, text string) error
}

// Log writes alerts to a logger. It is the default sender.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "alert"))}
}

func (l *Log) Name() string { return "log" }

func (l *Log) SendText(_ context.Context, text string) error {
	l.log.Info("alert", logx.String("text", text))
	return nil
}
