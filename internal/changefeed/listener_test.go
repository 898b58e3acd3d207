package changefeed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"specsync/internal/spec"
	"specsync/internal/storage"
)

type call struct {
	op string
	id int
}

type fakeRegistry struct {
	mu      sync.Mutex
	calls   []call
	failID  int
	failOp  string // empty fails every op for failID
	panicID int
	blockCh chan struct{}
	entered chan struct{}
}

func (r *fakeRegistry) record(op string, s spec.Spec) error {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.blockCh
	}
	if s.ID() == r.panicID {
		panic("boom")
	}
	r.mu.Lock()
	r.calls = append(r.calls, call{op, s.ID()})
	r.mu.Unlock()
	if s.ID() == r.failID && (r.failOp == "" || r.failOp == op) {
		return errors.New("coordination down")
	}
	return nil
}

func (r *fakeRegistry) Register(_ context.Context, s spec.Spec) error { return r.record("register", s) }
func (r *fakeRegistry) Deregister(_ context.Context, s spec.Spec) error {
	return r.record("deregister", s)
}

func (r *fakeRegistry) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type fakeAlerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAlerts) SendAlert(_ context.Context, msg string) bool {
	a.mu.Lock()
	a.msgs = append(a.msgs, msg)
	a.mu.Unlock()
	return true
}

func (a *fakeAlerts) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.msgs)
}

func newTestListener(t *testing.T, reg Registrar) (*Listener, *MemoryFeed, *storage.Memory, *fakeAlerts) {
	t.Helper()
	feed := NewMemoryFeed()
	st := storage.NewMemory()
	alerts := &fakeAlerts{}
	l, err := New(Config{Interval: 10 * time.Millisecond}, Deps{Feed: feed, Store: st, Registry: reg, Alerts: alerts})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, feed, st, alerts
}

func TestPollDispatchesByOperation(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	l, feed, st, alerts := newTestListener(t, reg)
	st.Put(1, "one", "@daily", true, true)
	st.Put(2, "two", "@hourly", true, true)

	feed.Publish(`{"id":1,"operation":"INSERT"}`)
	feed.Publish(`{"id":2,"operation":"UPDATE"}`)
	feed.Publish(`{"id":99,"operation":"DELETE"}`)
	feed.Publish(`{"id":1,"operation":"MERGE"}`)

	res, err := l.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res != (PollResult{Received: 4, Applied: 3, Ignored: 1}) {
		t.Fatalf("result=%+v", res)
	}
	want := []call{{"register", 1}, {"deregister", 2}, {"register", 2}, {"deregister", 99}}
	if got := reg.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("calls=%v want %v", got, want)
	}
	if msgs := alerts.all(); len(msgs) != 3 || !strings.HasPrefix(msgs[0], "new spec updated ") {
		t.Fatalf("alerts=%v", msgs)
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{failID: 2, panicID: 3}
	l, feed, st, alerts := newTestListener(t, reg)
	for id := 1; id <= 4; id++ {
		st.Put(id, fmt.Sprintf("job-%d", id), "@daily", true, true)
	}

	feed.Publish(`{"id":1,"operation":"INSERT"}`)
	feed.Publish(`garbage`)
	feed.Publish(`{"id":2,"operation":"INSERT"}`)
	feed.Publish(`{"id":3,"operation":"INSERT"}`)
	feed.Publish(`{"id":50,"operation":"INSERT"}`)
	feed.Publish(`{"id":4,"operation":"INSERT"}`)

	res, err := l.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if res.Applied != 2 || res.Failed != 4 {
		t.Fatalf("result=%+v", res)
	}
	got := reg.snapshot()
	if got[0] != (call{"register", 1}) || got[len(got)-1] != (call{"register", 4}) {
		t.Fatalf("calls=%v", got)
	}

	kinds := map[string]bool{}
	for _, m := range alerts.all() {
		for _, k := range []string{kindDecode, kindLookup, kindDispatch, kindPanic} {
			if strings.Contains(m, "("+k+")") {
				kinds[k] = true
			}
		}
	}
	if len(kinds) != 4 {
		t.Fatalf("failure kinds alerted=%v", kinds)
	}
}

func TestUpdateRegistersAfterFailedDeregister(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{failID: 5, failOp: "deregister"}
	l, feed, st, alerts := newTestListener(t, reg)
	st.Put(5, "five", "@daily", true, true)
	feed.Publish(`{"id":5,"operation":"UPDATE"}`)

	res, _ := l.PollOnce(context.Background())
	if res.Failed != 1 || res.Applied != 0 {
		t.Fatalf("result=%+v", res)
	}
	if got := reg.snapshot(); !slices.Equal(got, []call{{"deregister", 5}, {"register", 5}}) {
		t.Fatalf("calls=%v", got)
	}
	if msgs := alerts.all(); len(msgs) != 1 || !strings.Contains(msgs[0], "coordination down") {
		t.Fatalf("alerts=%v", msgs)
	}
}

func TestPollOnceDoesNotOverlap(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{blockCh: make(chan struct{}), entered: make(chan struct{}, 1)}
	l, feed, st, _ := newTestListener(t, reg)
	st.Put(1, "one", "@daily", true, true)
	feed.Publish(`{"id":1,"operation":"INSERT"}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.PollOnce(context.Background())
	}()
	<-reg.entered

	if _, err := l.PollOnce(context.Background()); !errors.Is(err, ErrPollInProgress) {
		t.Fatalf("err=%v want ErrPollInProgress", err)
	}
	close(reg.blockCh)
	<-done

	if _, err := l.PollOnce(context.Background()); err != nil {
		t.Fatalf("poll after release: %v", err)
	}
}

type errFeed struct{}

func (*errFeed) Poll(context.Context) ([]Notification, error) { return nil, errors.New("conn reset") }
func (*errFeed) Close() error                                 { return nil }

func TestRunReportsPollErrorsAndContinues(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlerts{}
	l, err := New(Config{Interval: 5 * time.Millisecond}, Deps{
		Feed: &errFeed{}, Store: storage.NewMemory(), Registry: &fakeRegistry{}, Alerts: alerts,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(alerts.all()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated poll error alerts, got %v", alerts.all())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(alerts.all()[0], "conn reset") {
		t.Fatalf("alert=%q", alerts.all()[0])
	}
}

func TestSetInterval(t *testing.T) {
	t.Parallel()

	l, _, _, _ := newTestListener(t, &fakeRegistry{})
	l.SetInterval(0)
	if l.Interval() != time.Second {
		t.Fatalf("interval=%v want default", l.Interval())
	}
	l.SetInterval(250 * time.Millisecond)
	if l.Interval() != 250*time.Millisecond {
		t.Fatalf("interval=%v", l.Interval())
	}
}

func TestOutboxFeed(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	st.Put(1, "a", "", false, false)
	st.Delete(1)
	f := NewOutboxFeed(st, 1)

	first, err := f.Poll(context.Background())
	if err != nil || len(first) != 1 || first[0].Payload != `{"id":1,"operation":"INSERT"}` {
		t.Fatalf("first=%v err=%v", first, err)
	}
	second, _ := f.Poll(context.Background())
	if len(second) != 1 || second[0].Payload != `{"id":1,"operation":"DELETE"}` {
		t.Fatalf("second=%v", second)
	}
}

func TestMemoryFeedClosed(t *testing.T) {
	t.Parallel()

	f := NewMemoryFeed()
	f.Publish("x")
	_ = f.Close()
	if _, err := f.Poll(context.Background()); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("err=%v", err)
	}
}
