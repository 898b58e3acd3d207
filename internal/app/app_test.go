package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"specsync/internal/config"
	"specsync/internal/executor"
	"specsync/internal/storage"
	"specsync/internal/transport"
	logx "specsync/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestMapStoreConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		store   config.StoreConfig
		want    string
		wantErr bool
	}{
		{name: "memory default", store: config.StoreConfig{}, want: ""},
		{name: "sqlite", store: config.StoreConfig{Driver: "SQLite", Path: " ./x.db "}, want: "sqlite"},
		{name: "sqlite without path", store: config.StoreConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", store: config.StoreConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, err := mapStoreConfig(&config.Config{Store: tc.store})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", sc)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStoreConfig: %v", err)
			}
			if sc.Driver != tc.want {
				t.Fatalf("driver = %q, want %q", sc.Driver, tc.want)
			}
			if sc.BusyTimeout != time.Second {
				t.Fatalf("busy timeout = %v, want 1s", sc.BusyTimeout)
			}
		})
	}
}

func TestMapNotifierConfigDefaultsOn(t *testing.T) {
	t.Parallel()

	nc, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !nc.Enabled {
		t.Fatalf("notifier should default to enabled")
	}

	_, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{DedupWindow: "x"}})
	if err == nil {
		t.Fatalf("expected dedup_window error")
	}
}

func TestMapEngineConfigDefaults(t *testing.T) {
	t.Parallel()

	ec, err := mapEngineConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if ec.Workers != 2 || ec.QueueSize != 256 || ec.HistorySize != 200 {
		t.Fatalf("unexpected defaults: %+v", ec)
	}
	ec, err = mapEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{Workers: 5, DefaultTimeout: "3s"}})
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if ec.Workers != 5 || ec.DefaultTimeout != 3*time.Second {
		t.Fatalf("unexpected config: %+v", ec)
	}
}

func TestNewSenderDefaultsToLog(t *testing.T) {
	t.Parallel()

	s, err := newSender(&config.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("newSender: %v", err)
	}
	if _, ok := s.(*transport.Log); !ok {
		t.Fatalf("sender = %T, want *transport.Log", s)
	}
	if _, err := newSender(&config.Config{Alert: config.AlertConfig{Driver: "slack"}}, logx.Nop()); err == nil {
		t.Fatalf("slack without token should fail")
	}
}

func TestNewCalculator(t *testing.T) {
	t.Parallel()

	c, err := newCalculator(&config.Config{})
	if err != nil || c != nil {
		t.Fatalf("empty fixed_value: calc=%v err=%v", c, err)
	}
	c, err = newCalculator(&config.Config{Executor: config.ExecutorConfig{FixedValue: "12.5"}})
	if err != nil {
		t.Fatalf("newCalculator: %v", err)
	}
	fc, ok := c.(executor.FixedCalculator)
	if !ok || fc.Value.String() != "12.5" {
		t.Fatalf("calc = %#v", c)
	}
}

func TestOpenFeedFollowsStore(t *testing.T) {
	t.Parallel()

	f, err := openFeed(context.Background(), &config.Config{}, storage.NewMemory(), logx.Nop())
	if err != nil {
		t.Fatalf("openFeed: %v", err)
	}
	defer f.Close()
	got, err := f.Poll(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Poll on empty outbox = %v, %v", got, err)
	}
}

func TestAppRegistersInsertedSpec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeConfig(t, `
logging:
  level: error
store:
  driver: sqlite
  path: `+filepath.Join(dir, "specsync.db")+`
feed:
  poll_interval: 20ms
coordination:
  driver: memory
alert:
  driver: log
`)
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopSIGTERM)
	}()

	db := a.store.(interface{ DB() *sql.DB }).DB()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO job_spec(id, mnemonic, cron_expression, execute_flag, gen_flag) VALUES (?, ?, ?, 1, 1)`,
		7, "gold-index", "0 0 * * * ?"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !a.sched.Has("devtaco-ejob-gold-index") {
		if time.Now().After(deadline) {
			t.Fatalf("job was not scheduled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	st := a.Status().(Status)
	if !st.Healthy || len(st.Jobs) != 1 || st.Jobs[0].Name != "devtaco-ejob-gold-index" {
		t.Fatalf("unexpected status: %+v", st)
	}
	// coord.session, changefeed.listener and config.watch at least.
	if st.Routines.Active < 3 || st.Routines.Started < uint64(st.Routines.Active) {
		t.Fatalf("goroutine counters = %+v", st.Routines)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM job_spec WHERE id = ?`, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deadline = time.Now().Add(3 * time.Second)
	for a.sched.Has("devtaco-ejob-gold-index") {
		if time.Now().After(deadline) {
			t.Fatalf("job was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if a.Err() != nil {
		t.Fatalf("app error: %v", a.Err())
	}
}

func TestAppOpensFeedBeforeStartupSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "specsync.db")
	seed, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("seed open: %v", err)
	}
	if _, err := seed.(interface{ DB() *sql.DB }).DB().Exec(
		`INSERT INTO job_spec(id, mnemonic, cron_expression, execute_flag, gen_flag) VALUES (?, ?, ?, 1, 1)`,
		3, "copper", "0 0 * * * ?"); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	_ = seed.Close()

	p := writeConfig(t, `
logging:
  level: error
store:
  driver: sqlite
  path: `+dbPath+`
coordination:
  driver: memory
alert:
  driver: log
`)
	a, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, unsub := a.bus.Subscribe(16, "changefeed.opened", "registry.registered")
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopSIGTERM)
	}()

	var got []string
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e.Type)
		case <-time.After(3 * time.Second):
			t.Fatalf("events = %v", got)
		}
	}
	if got[0] != "changefeed.opened" || got[1] != "registry.registered" {
		t.Fatalf("events = %v, want feed opened before registration", got)
	}
}
