package changefeed

import (
	"context"
	"sync"
)

// MemoryFeed is an in-process queue of notifications.
type MemoryFeed struct {
	mu     sync.Mutex
	queue  []Notification
	closed bool
}

func NewMemoryFeed() *MemoryFeed { return &MemoryFeed{} }

// Publish enqueues a payload. Publishing to a closed feed is a no-op.
func (f *MemoryFeed) Publish(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.queue = append(f.queue, Notification{Channel: "memory", Payload: payload})
}

func (f *MemoryFeed) Poll(context.Context) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}
	out := f.queue
	f.queue = nil
	return out, nil
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.queue = nil
	f.mu.Unlock()
	return nil
}
