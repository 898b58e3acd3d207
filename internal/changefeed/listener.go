package changefeed

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"specsync/internal/eventbus"
	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

var ErrPollInProgress = errors.New("poll already in progress")

const defaultInterval = time.Second

// SpecSource loads the current definition of a spec.
type SpecSource interface {
	Spec(ctx context.Context, id int) (*spec.ImplSpec, error)
}

// Registrar applies spec changes to the coordination service.
type Registrar interface {
	Register(ctx context.Context, s spec.Spec) error
	Deregister(ctx context.Context, s spec.Spec) error
}

// Alerter is the notification sink. SendAlert reports whether the message
// was accepted and never blocks.
type Alerter interface {
	SendAlert(ctx context.Context, msg string) bool
}

type Config struct {
	// Interval is the polling cadence. Zero means one second.
	Interval time.Duration
}

type Deps struct {
	Feed     Feed
	Store    SpecSource
	Registry Registrar
	Alerts   Alerter
	Log      logx.Logger
	Bus      eventbus.Bus
}

// PollResult summarizes one poll.
type PollResult struct {
	Received int
	Applied  int
	Ignored  int
	Failed   int
}

// failure kinds reported in logs and alerts
const (
	kindDecode   = "decode"
	kindLookup   = "lookup"
	kindDispatch = "dispatch"
	kindPanic    = "panic"
)

// Listener polls a Feed and dispatches every change to the registry.
// Polls never overlap.
type Listener struct {
	feed     Feed
	store    SpecSource
	registry Registrar
	alerts   Alerter
	log      logx.Logger
	bus      eventbus.Bus

	pollMu   sync.Mutex
	interval atomic.Int64
	resetCh  chan struct{}

	polls   atomic.Uint64
	applied atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, d Deps) (*Listener, error) {
	if d.Feed == nil || d.Store == nil || d.Registry == nil {
		return nil, errors.New("changefeed: feed, store and registry are required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Listener{
		feed:     d.Feed,
		store:    d.Store,
		registry: d.Registry,
		alerts:   d.Alerts,
		log:      log.With(logx.String("comp", "changefeed")),
		bus:      d.Bus,
		resetCh:  make(chan struct{}, 1),
	}
	l.SetInterval(cfg.Interval)
	return l, nil
}

// SetInterval changes the polling cadence; a running loop picks it up on
// its next tick.
func (l *Listener) SetInterval(d time.Duration) {
	if d <= 0 {
		d = defaultInterval
	}
	if time.Duration(l.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case l.resetCh <- struct{}{}:
	default:
	}
}

func (l *Listener) Interval() time.Duration { return time.Duration(l.interval.Load()) }

// Run polls until ctx is done. Ticks that fire while a poll is running
// are dropped rather than queued.
func (l *Listener) Run(ctx context.Context) error {
	t := time.NewTicker(l.Interval())
	defer t.Stop()
	l.log.Info("listener started", logx.Duration("interval", l.Interval()))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("listener stopped", logx.Uint64("polls", l.polls.Load()))
			return nil
		case <-l.resetCh:
			t.Reset(l.Interval())
			l.log.Info("poll interval changed", logx.Duration("interval", l.Interval()))
		case <-t.C:
			if _, err := l.PollOnce(ctx); err != nil && !errors.Is(err, ErrPollInProgress) && ctx.Err() == nil {
				l.reportPollError(ctx, err)
			}
			select {
			case <-t.C:
			default:
			}
		}
	}
}

// PollOnce fetches pending notifications and handles each in order. It
// returns ErrPollInProgress if another poll is running. The returned error
// only reflects the fetch; per-notification failures are counted in the
// result.
func (l *Listener) PollOnce(ctx context.Context) (PollResult, error) {
	if !l.pollMu.TryLock() {
		return PollResult{}, ErrPollInProgress
	}
	defer l.pollMu.Unlock()
	l.polls.Add(1)

	batch, err := l.feed.Poll(ctx)
	res := PollResult{Received: len(batch)}
	for _, n := range batch {
		switch applied, kind, herr := l.handle(ctx, n); {
		case herr != nil:
			res.Failed++
			l.failed.Add(1)
			l.reportFailure(ctx, n, kind, herr)
		case applied:
			res.Applied++
			l.applied.Add(1)
		default:
			res.Ignored++
		}
	}
	if res.Received > 0 {
		l.log.Debug("poll done",
			logx.Int("received", res.Received),
			logx.Int("applied", res.Applied),
			logx.Int("ignored", res.Ignored),
			logx.Int("failed", res.Failed),
		)
	}
	return res, err
}

// handle applies one notification. It reports whether a registry action
// ran, and on failure the failure kind.
func (l *Listener) handle(ctx context.Context, n Notification) (applied bool, kind string, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("notification handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			applied, kind, err = false, kindPanic, fmt.Errorf("panic: %v", r)
		}
	}()

	l.log.Info("spec change received", logx.String("payload", n.Payload))

	ch, err := Decode(n.Payload)
	if err != nil {
		return false, kindDecode, err
	}
	if ch.Op == OpUnknown {
		l.log.Warn("operation not defined; ignoring", logx.Int("id", ch.ID), logx.String("operation", ch.RawOp))
		return false, "", nil
	}

	target, err := l.resolve(ctx, ch)
	if err != nil {
		return false, kindLookup, err
	}

	switch ch.Op {
	case OpInsert:
		err = l.registry.Register(ctx, target)
	case OpUpdate:
		// Register runs even when deregister fails; it replaces whatever
		// registration is left. A crash between the two is corrected by the
		// next change for this id or by the startup sweep.
		derr := l.registry.Deregister(ctx, target)
		err = errors.Join(derr, l.registry.Register(ctx, target))
	case OpDelete:
		err = l.registry.Deregister(ctx, target)
	}
	if err != nil {
		return false, kindDispatch, err
	}

	l.log.Info("spec change applied", logx.Int("id", ch.ID), logx.String("op", ch.Op.String()))
	eventbus.Emit(l.bus, "changefeed.applied", ch)
	if l.alerts != nil {
		l.alerts.SendAlert(ctx, "new spec updated "+n.Payload)
	}
	return true, "", nil
}

// resolve loads the spec for a change. A DELETE whose row is already gone
// resolves to an identity-only reference.
func (l *Listener) resolve(ctx context.Context, ch Change) (spec.Spec, error) {
	sp, err := l.store.Spec(ctx, ch.ID)
	if err == nil {
		return sp, nil
	}
	if ch.Op == OpDelete && errors.Is(err, spec.ErrSpecNotFound) {
		return spec.Ref(ch.ID), nil
	}
	return nil, err
}

func (l *Listener) reportFailure(ctx context.Context, n Notification, kind string, err error) {
	l.log.Error("spec change failed",
		logx.String("kind", kind),
		logx.String("payload", n.Payload),
		logx.Err(err),
	)
	eventbus.Emit(l.bus, "changefeed.failed", map[string]string{"kind": kind, "payload": n.Payload})
	if l.alerts != nil {
		l.alerts.SendAlert(ctx, fmt.Sprintf("spec update failed (%s) => %s: %v", kind, n.Payload, err))
	}
}

func (l *Listener) reportPollError(ctx context.Context, err error) {
	l.log.Error("change feed poll failed", logx.Err(err))
	if l.alerts != nil {
		l.alerts.SendAlert(ctx, "spec listener can not listen event: "+err.Error())
	}
}

// Stats returns lifetime counters.
func (l *Listener) Stats() (polls, applied, failed uint64) {
	return l.polls.Load(), l.applied.Load(), l.failed.Load()
}
