package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"specsync/internal/eventbus"
	"specsync/internal/task/engine"
	logx "specsync/pkg/logx"
)

type fireTimeKey struct{}

// FireTime returns the trigger time of the schedule that started ctx's task.
func FireTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(fireTimeKey{}).(time.Time)
	return t, ok
}

// WithFireTime attaches a fire time to ctx, as the scheduler does for every trigger.
func WithFireTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, fireTimeKey{}, t)
}

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		// Canonical specs always carry a seconds field.
		parser:      cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		defs:        map[string]*scheduleDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

// Start starts cron triggering. Schedules added before Start are
// registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithLocation(s.cfg.Location))
	for _, d := range s.defs {
		s.addEntryLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.cfg.Location.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops cron triggering. Definitions remain so Start can resume them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// AddCron registers (or replaces) the schedule called name. spec must be a
// six-field cron expression; loc nil means the scheduler default.
// Overlapping fires of the same schedule are skipped.
func (s *Service) AddCron(name, spec string, loc *time.Location, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if loc == nil {
		loc = s.cfg.Location
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name: repeated registrations never duplicate a schedule.
	s.removeScheduleLocked(name)
	d := &scheduleDef{
		name:    name,
		spec:    spec,
		loc:     loc,
		sched:   sched,
		timeout: timeout,
		job:     job,
		state:   &engine.RunState{},
	}
	s.defs[name] = d
	if s.c != nil {
		s.addEntryLocked(d)
		next := s.previewNextRuns(d, 3)
		args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.String("tz", loc.String())}
		if next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("schedule registered", args...)
	}
	return nil
}

// Remove unschedules name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a schedule called name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	_, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	return ok
}

// Trigger enqueues name immediately, as if its schedule had fired at now.
func (s *Service) Trigger(name string, now time.Time) error {
	s.mu.Lock()
	d, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s not found", name)
	}
	return s.enqueue(d, now)
}

func (s *Service) removeScheduleLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addEntryLocked(d *scheduleDef) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		fire := time.Now().In(d.loc).Truncate(time.Second)
		eventbus.Emit(s.bus, "schedule.fired", FireEvent{Name: d.name, At: fire})
		if err := s.enqueue(d, fire); err != nil {
			s.reportEnqueueError(d.name, err)
		}
	}))
}

func (s *Service) enqueue(d *scheduleDef, fire time.Time) error {
	if s.engine == nil {
		return engine.ErrStopped
	}
	job := d.job
	return s.engine.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run: func(ctx context.Context) error {
			return job(WithFireTime(ctx, fire))
		},
		Opt:   engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State: d.state,
	})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Location: d.loc.String(), Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	snap := Snapshot{Running: c != nil, Schedules: items}
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}

// previewNextRuns returns upcoming run times for debug logs.
func (s *Service) previewNextRuns(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	t := time.Now().In(d.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = d.sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05 MST"))
	}
	return b.String()
}
