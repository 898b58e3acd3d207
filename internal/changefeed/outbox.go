package changefeed

import (
	"context"

	"specsync/internal/storage"
)

// OutboxFeed drains change payloads recorded in-band by a store.
type OutboxFeed struct {
	ob    storage.Outbox
	batch int
}

// NewOutboxFeed drains at most batch payloads per poll; batch <= 0 drains all.
func NewOutboxFeed(ob storage.Outbox, batch int) *OutboxFeed {
	return &OutboxFeed{ob: ob, batch: batch}
}

func (f *OutboxFeed) Poll(ctx context.Context) ([]Notification, error) {
	payloads, err := f.ob.DrainChanges(ctx, f.batch)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, Notification{Channel: "outbox", Payload: p})
	}
	return out, nil
}

// Close is a no-op; the store owns the outbox.
func (f *OutboxFeed) Close() error { return nil }
