package changefeed_test

import (
	"context"
	"testing"

	"specsync/internal/changefeed"
	"specsync/internal/coord"
	"specsync/internal/executor"
	"specsync/internal/registry"
	"specsync/internal/storage"
	"specsync/internal/task/scheduler"
	logx "specsync/pkg/logx"
)

type sink struct{ msgs []string }

func (s *sink) SendAlert(_ context.Context, msg string) bool {
	s.msgs = append(s.msgs, msg)
	return true
}

func TestInsertThenDeleteReconcilesCoordination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := storage.NewMemory()
	tree := coord.NewMemoryTree()
	sched := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	c := coord.NewMemory(tree, coord.Options{InstanceID: "e2e", Scheduler: sched})
	t.Cleanup(func() { _ = c.Close() })

	alerts := &sink{}
	jobs, err := executor.NewFactory(executor.Deps{Store: st, Alerts: alerts})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(registry.Config{TimeZone: "UTC"}, registry.Deps{Store: st, Coord: c, Jobs: jobs})
	if err != nil {
		t.Fatal(err)
	}
	// The store's own outbox is the change channel, as with sqlite.
	feed := changefeed.NewOutboxFeed(st, 0)
	l, err := changefeed.New(changefeed.Config{}, changefeed.Deps{Feed: feed, Store: st, Registry: reg, Alerts: alerts})
	if err != nil {
		t.Fatal(err)
	}

	st.Put(7, "gold-index", "0 0 * * * ?", true, true)
	res, err := l.PollOnce(ctx)
	if err != nil || res.Applied != 1 {
		t.Fatalf("insert poll: %+v, %v", res, err)
	}
	if ok, _ := c.Exists(ctx, "/devtaco-ejob-gold-index"); !ok {
		t.Fatalf("registration missing: %v", tree.Paths("/"))
	}
	if !sched.Has("devtaco-ejob-gold-index") {
		t.Fatalf("job not scheduled")
	}

	st.Delete(7)
	res, err = l.PollOnce(ctx)
	if err != nil || res.Applied != 1 {
		t.Fatalf("delete poll: %+v, %v", res, err)
	}
	if ok, _ := c.Exists(ctx, "/devtaco-ejob-gold-index"); ok {
		t.Fatalf("path left after delete: %v", tree.Paths("/"))
	}
	if sched.Has("devtaco-ejob-gold-index") {
		t.Fatalf("job still scheduled")
	}
	if len(alerts.msgs) != 2 {
		t.Fatalf("alerts = %v", alerts.msgs)
	}
}

func TestUpdateConvergesToLatestSpec(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := storage.NewMemory()
	tree := coord.NewMemoryTree()
	sched := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	c := coord.NewMemory(tree, coord.Options{InstanceID: "e2e", Scheduler: sched})
	t.Cleanup(func() { _ = c.Close() })
	jobs, _ := executor.NewFactory(executor.Deps{Store: st})
	reg, _ := registry.New(registry.Config{}, registry.Deps{Store: st, Coord: c, Jobs: jobs})
	l, _ := changefeed.New(changefeed.Config{}, changefeed.Deps{Feed: changefeed.NewOutboxFeed(st, 0), Store: st, Registry: reg, Alerts: &sink{}})

	st.Put(8, "silver", "0 0 * * * ?", true, true)
	st.Put(8, "silver", "0 30 * * * ?", true, true)
	if _, err := l.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	snap := sched.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "0 30 * * * ?" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}

	// Execution switched off: UPDATE deregisters and the register is a no-op.
	st.Put(8, "silver", "0 30 * * * ?", false, true)
	if _, err := l.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, "/devtaco-ejob-silver"); ok {
		t.Fatalf("disabled spec still registered")
	}
}

func TestRenameRemovesJobUnderOldMnemonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st := storage.NewMemory()
	tree := coord.NewMemoryTree()
	sched := scheduler.New(scheduler.Config{}, nil, logx.Nop(), nil)
	c := coord.NewMemory(tree, coord.Options{InstanceID: "e2e", Scheduler: sched})
	t.Cleanup(func() { _ = c.Close() })
	jobs, _ := executor.NewFactory(executor.Deps{Store: st})
	reg, _ := registry.New(registry.Config{}, registry.Deps{Store: st, Coord: c, Jobs: jobs})
	l, _ := changefeed.New(changefeed.Config{}, changefeed.Deps{Feed: changefeed.NewOutboxFeed(st, 0), Store: st, Registry: reg, Alerts: &sink{}})

	st.Put(7, "gold-index", "0 0 * * * ?", true, true)
	if _, err := l.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	st.Put(7, "gold-index-v2", "0 0 * * * ?", true, true)
	if _, err := l.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if sched.Has("devtaco-ejob-gold-index") {
		t.Fatalf("old job still scheduled")
	}
	if ok, _ := c.Exists(ctx, "/devtaco-ejob-gold-index"); ok {
		t.Fatalf("old path left: %v", tree.Paths("/"))
	}
	if !sched.Has("devtaco-ejob-gold-index-v2") {
		t.Fatalf("renamed job not scheduled")
	}
	if len(sched.Snapshot().Schedules) != 1 {
		t.Fatalf("schedules = %+v", sched.Snapshot().Schedules)
	}
}
