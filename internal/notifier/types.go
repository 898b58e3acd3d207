package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	DedupWindow     time.Duration
	DedupMaxEntries int
	// SendTimeout bounds one delivery; 0 means 10s.
	SendTimeout time.Duration
}

// Notification is one queued message. Higher priorities get a marker
// prefix.
type Notification struct {
	Priority int // 0 low.. 10 high
	Text     string
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Sender string    `json:"sender"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
