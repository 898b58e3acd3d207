package changefeed

import (
	"context"
	"errors"
)

var ErrFeedClosed = errors.New("change feed closed")

// Notification is one raw change message.
type Notification struct {
	Channel string
	Payload string
}

// Feed yields pending notifications. Poll never blocks longer than the
// feed's own drain window and returns an empty slice when nothing is
// pending.
type Feed interface {
	Poll(ctx context.Context) ([]Notification, error)
	Close() error
}
