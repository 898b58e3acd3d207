package scheduler

import (
	"context"
	"testing"
	"time"

	"specsync/internal/task/engine"
	logx "specsync/pkg/logx"
)

func newService(t *testing.T) *Service {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	s := New(Config{}, eng, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		eng.Stop(ctx)
	})
	return s
}

func TestAddCronUpsertAndRemove(t *testing.T) {
	t.Parallel()

	s := newService(t)
	noop := func(context.Context) error { return nil }
	if err := s.AddCron("job", "0 0 * * * ?", nil, 0, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := s.AddCron("job", "0 30 * * * ?", nil, 0, noop); err != nil {
		t.Fatalf("AddCron replace: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "0 30 * * * ?" {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	if !s.Remove("job") || s.Has("job") || s.Remove("job") {
		t.Fatalf("remove semantics broken")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := newService(t)
	noop := func(context.Context) error { return nil }
	for _, spec := range []string{"", "*/5 * * * *", "@every 1m"} {
		if err := s.AddCron("bad", spec, nil, 0, noop); err == nil {
			t.Fatalf("spec %q accepted", spec)
		}
	}
	if err := s.AddCron(" ", "0 0 * * * ?", nil, 0, noop); err == nil {
		t.Fatalf("empty name accepted")
	}
}

func TestNextRunUsesScheduleLocation(t *testing.T) {
	t.Parallel()

	s := newService(t)
	plus9 := time.FixedZone("GMT+9", 9*3600)
	if err := s.AddCron("tokyo", "0 0 0 * * ?", plus9, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	next := s.Snapshot().Schedules[0].Next
	if got := next.In(plus9); got.Hour() != 0 || got.Minute() != 0 {
		t.Fatalf("next=%v not midnight in GMT+9", got)
	}
	if next.UTC().Hour() != 15 {
		t.Fatalf("next UTC hour=%d want 15", next.UTC().Hour())
	}
}

func TestTriggerPassesFireTime(t *testing.T) {
	t.Parallel()

	s := newService(t)
	got := make(chan time.Time, 1)
	err := s.AddCron("fire", "0 0 0 1 1 ?", nil, 0, func(ctx context.Context) error {
		ft, _ := FireTime(ctx)
		got <- ft
		return nil
	})
	if err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Trigger("fire", at); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case ft := <-got:
		if !ft.Equal(at) {
			t.Fatalf("fire time=%v want %v", ft, at)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run")
	}
	if err := s.Trigger("missing", at); err == nil {
		t.Fatalf("expected error for unknown schedule")
	}
}
