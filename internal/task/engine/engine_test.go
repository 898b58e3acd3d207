package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"specsync/internal/eventbus"
	logx "specsync/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	var ran atomic.Int32
	if err := s.Enqueue(Task{Name: "a", Run: func(context.Context) error { ran.Add(1); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return ran.Load() == 1 })
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	st := &RunState{}
	task := Task{
		Name:  "slow",
		Opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		State: st,
		Run: func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err=%v want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return s.Snapshot().InFlight == 0 })
	waitFor(t, func() bool {
		err := s.Enqueue(Task{Name: "slow", Opt: task.Opt, State: st, Run: func(context.Context) error { return nil }})
		return err == nil
	})
}

func TestPanicIsRecorded(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1})
	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad") }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		h := s.Snapshot().History
		return len(h) == 1 && h[0].Error == "panic: bad"
	})
	var ran atomic.Bool
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { ran.Store(true); return nil }})
	waitFor(t, ran.Load)
}

func TestQueueFullAndStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 1}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "hold", Run: func(context.Context) error { close(started); <-block; return nil }})
	<-started
	_ = s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }})
	if err := s.Enqueue(Task{Name: "over", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err=%v want ErrQueueFull", err)
	}
	if s.Snapshot().DroppedQueueFull != 1 {
		t.Fatalf("dropped=%d", s.Snapshot().DroppedQueueFull)
	}
}

func TestDefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	done := make(chan error, 1)
	_ = s.Enqueue(Task{Name: "t", Run: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout not applied")
	}
}
