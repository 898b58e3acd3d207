package storage

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

func openTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := openSQLite(context.Background(), Config{Path: filepath.Join(t.TempDir(), "specs.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seeder hides the driver-specific way of writing spec rows.
type seeder interface {
	put(t *testing.T, id int, mnemonic, cron string, execute, gen bool)
	del(t *testing.T, id int)
}

type memSeeder struct{ m *Memory }

func (s memSeeder) put(_ *testing.T, id int, mnemonic, cron string, execute, gen bool) {
	s.m.Put(id, mnemonic, cron, execute, gen)
}
func (s memSeeder) del(_ *testing.T, id int) { s.m.Delete(id) }

type sqliteSeeder struct{ s *sqliteStore }

func (s sqliteSeeder) put(t *testing.T, id int, mnemonic, cron string, execute, gen bool) {
	t.Helper()
	var c any
	if cron != "" {
		c = cron
	}
	_, err := s.s.DB().Exec(`
		INSERT INTO job_spec(id, mnemonic, cron_expression, execute_flag, gen_flag) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET mnemonic=excluded.mnemonic, cron_expression=excluded.cron_expression,
		  execute_flag=excluded.execute_flag, gen_flag=excluded.gen_flag`,
		id, mnemonic, c, execute, gen)
	if err != nil {
		t.Fatalf("seed %d: %v", id, err)
	}
}

func (s sqliteSeeder) del(t *testing.T, id int) {
	t.Helper()
	if _, err := s.s.DB().Exec(`DELETE FROM job_spec WHERE id = ?`, id); err != nil {
		t.Fatalf("delete %d: %v", id, err)
	}
}

type driverCase struct {
	name string
	open func(t *testing.T) (Store, Outbox, seeder)
}

func drivers() []driverCase {
	return []driverCase{
		{"memory", func(t *testing.T) (Store, Outbox, seeder) {
			m := NewMemory()
			return m, m, memSeeder{m}
		}},
		{"sqlite", func(t *testing.T) (Store, Outbox, seeder) {
			s := openTestSQLite(t)
			return s, s, sqliteSeeder{s}
		}},
	}
}

func TestSpecLifecycle(t *testing.T) {
	t.Parallel()

	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _, seed := d.open(t)

			seed.put(t, 7, "gold-index", "0 0 * * * ?", true, true)
			seed.put(t, 8, "broken", "not a cron", true, true)
			seed.put(t, 9, "silver", "", false, false)

			all, err := st.AllSpecs(ctx)
			if err != nil {
				t.Fatalf("AllSpecs: %v", err)
			}
			ids := make([]int, 0, len(all))
			for _, sp := range all {
				ids = append(ids, sp.ID())
			}
			if !slices.Equal(ids, []int{7, 9}) {
				t.Fatalf("ids=%v want [7 9]", ids)
			}

			sp, err := st.Spec(ctx, 7)
			if err != nil {
				t.Fatalf("Spec: %v", err)
			}
			if c, _ := sp.CronExpression(); c != "0 0 * * * ?" || !sp.Executable() || !sp.GenFlag() {
				t.Fatalf("unexpected spec %+v", sp)
			}
			if _, err := st.Spec(ctx, 8); !errors.Is(err, spec.ErrInvalidSpec) {
				t.Fatalf("invalid row err=%v", err)
			}

			seed.del(t, 7)
			if _, err := st.Spec(ctx, 7); !errors.Is(err, spec.ErrSpecNotFound) {
				t.Fatalf("deleted spec err=%v", err)
			}
			name, err := st.JobNameFor(ctx, 7)
			if err != nil || name != "gold-index" {
				t.Fatalf("JobNameFor after delete = %q, %v", name, err)
			}
			if _, err := st.JobNameFor(ctx, 100); !errors.Is(err, spec.ErrSpecNotFound) {
				t.Fatalf("unknown id err=%v", err)
			}
		})
	}
}

func TestOutboxOrder(t *testing.T) {
	t.Parallel()

	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			_, ob, seed := d.open(t)

			seed.put(t, 1, "a", "", true, true)
			seed.put(t, 1, "a", "@daily", true, true)
			seed.del(t, 1)

			first, err := ob.DrainChanges(ctx, 2)
			if err != nil {
				t.Fatalf("DrainChanges: %v", err)
			}
			rest, err := ob.DrainChanges(ctx, 0)
			if err != nil {
				t.Fatalf("DrainChanges: %v", err)
			}
			got := append(first, rest...)
			want := []string{
				`{"id":1,"operation":"INSERT"}`,
				`{"id":1,"operation":"UPDATE"}`,
				`{"id":1,"operation":"DELETE"}`,
			}
			if !slices.Equal(got, want) {
				t.Fatalf("payloads=%v want %v", got, want)
			}
			if again, _ := ob.DrainChanges(ctx, 0); len(again) != 0 {
				t.Fatalf("outbox not drained: %v", again)
			}
		})
	}
}

func TestResults(t *testing.T) {
	t.Parallel()

	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _, _ := d.open(t)

			if _, err := st.LatestResult(ctx, 7); !errors.Is(err, ErrResultNotFound) {
				t.Fatalf("err=%v want ErrResultNotFound", err)
			}

			older := spec.NewImplValue(7, time.UnixMilli(1000))
			older.Value = decimal.NewFromInt(1)
			newer := spec.NewImplValue(7, time.UnixMilli(2000))
			newer.Value = decimal.RequireFromString("1000.50")
			_ = newer.Source("feed").AddWeight(decimal.NewFromInt(3))
			for _, v := range []*spec.ImplValue{newer, older} {
				if err := st.SaveResult(ctx, v); err != nil {
					t.Fatalf("SaveResult: %v", err)
				}
			}

			got, err := st.LatestResult(ctx, 7)
			if err != nil {
				t.Fatalf("LatestResult: %v", err)
			}
			if got.ValueTsMillis != 2000 || !got.Value.Equal(decimal.RequireFromString("1000.5")) {
				t.Fatalf("latest=%+v", got)
			}
			if w := got.Source("feed").Weight(); !w.Equal(decimal.NewFromInt(3)) {
				t.Fatalf("source weight=%s", w)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	st, err := Open(context.Background(), Config{}, logx.Logger{})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("empty driver should open memory store, got %T", st)
	}
}

func TestValidChannel(t *testing.T) {
	t.Parallel()

	if !ValidChannel(DefaultChannel) {
		t.Fatalf("default channel rejected")
	}
	for _, bad := range []string{"", "Upper", "with-dash", "1abc", "x;drop"} {
		if ValidChannel(bad) {
			t.Fatalf("ValidChannel(%q) = true", bad)
		}
	}
}
