package coord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"

	"specsync/internal/eventbus"
	"specsync/internal/task/scheduler"
	logx "specsync/pkg/logx"
)

// Scheduler is the local trigger jobs are attached to.
// *scheduler.Service implements it.
type Scheduler interface {
	AddCron(name, spec string, loc *time.Location, timeout time.Duration, job func(ctx context.Context) error) error
	Remove(name string) bool
}

type Options struct {
	// Namespace prefixes every path. Empty means the tree root.
	Namespace string
	// InstanceID names this process in <job>/instances. Empty means
	// hostname plus a random suffix.
	InstanceID string
	Scheduler  Scheduler
	// JobTimeout bounds a single trigger; 0 means the engine default.
	JobTimeout time.Duration
	Log        logx.Logger
	Bus        eventbus.Bus
}

// Coordinator implements Client over a tree.
type Coordinator struct {
	tree     tree
	ns       string
	instance string
	sched    Scheduler
	timeout  time.Duration
	log      logx.Logger
	bus      eventbus.Bus

	mu   sync.Mutex
	gen  uint64
	jobs map[string]*localJob
}

type localJob struct {
	gen         uint64
	cancelWatch func()
}

// ShutdownEvent is published when a job stops on this instance.
type ShutdownEvent struct {
	JobName  string `json:"job_name"`
	Instance string `json:"instance"`
}

func newCoordinator(t tree, opts Options) *Coordinator {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	id := strings.TrimSpace(opts.InstanceID)
	if id == "" {
		id = DefaultInstanceID()
	}
	return &Coordinator{
		tree:     t,
		ns:       path.Join("/", strings.Trim(opts.Namespace, "/")),
		instance: id,
		sched:    opts.Scheduler,
		timeout:  opts.JobTimeout,
		log:      log.With(logx.String("instance", id)),
		bus:      opts.Bus,
		jobs:     map[string]*localJob{},
	}
}

// DefaultInstanceID returns "<hostname>@<uuid prefix>".
func DefaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "@" + uuid.NewString()[:8]
}

func (c *Coordinator) InstanceID() string { return c.instance }

func (c *Coordinator) full(p string) string { return path.Join(c.ns, "/", p) }

func (c *Coordinator) configPath(job string) string { return c.full(path.Join("/", job, "config")) }

func (c *Coordinator) instancesPath(job string) string {
	return c.full(path.Join("/", job, "instances"))
}

func (c *Coordinator) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := c.tree.exists(c.full(p))
	if err != nil {
		return false, unavailable("exists", p, err)
	}
	return ok, nil
}

func (c *Coordinator) ScheduleOrReplace(ctx context.Context, cfg JobConfig, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" || strings.Contains(cfg.Name, "/") {
		return fmt.Errorf("invalid job name %q", cfg.Name)
	}
	if job == nil {
		return errors.New("job required")
	}
	if c.sched == nil {
		return errors.New("no local scheduler")
	}

	cp := c.configPath(cfg.Name)
	if !cfg.Overwrite {
		raw, ok, err := c.tree.get(cp)
		if err != nil {
			return unavailable("get", cp, err)
		}
		if ok {
			var stored JobConfig
			if err := yaml.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("stored config %s: %w", cp, err)
			}
			stored.Name = cfg.Name
			cfg = stored
		}
	}
	if cfg.ShardingTotalCount <= 0 {
		cfg.ShardingTotalCount = 1
	}
	cfg.TimeZone = ZoneFor(cfg.TimeZone)
	loc, err := LoadZone(cfg.TimeZone)
	if err != nil {
		return err
	}
	if cfg.Overwrite {
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := c.tree.put(cp, raw); err != nil {
			return unavailable("put", cp, err)
		}
	}

	name := cfg.Name
	lj := c.claim(name)
	ip := path.Join(c.instancesPath(name), c.instance)
	if err := c.tree.putEphemeral(ip, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		c.release(name, lj)
		return unavailable("put", ip, err)
	}
	if err := c.sched.AddCron(name, cfg.Cron, loc, c.timeout, c.trigger(cfg, job)); err != nil {
		c.release(name, lj)
		return err
	}

	gen := lj.gen
	cancel, err := c.tree.watchDelete(ip, func() { c.onInstanceRemoved(name, gen) })
	if err != nil {
		c.log.Warn("instance watch failed", logx.String("job", name), logx.Err(err))
	} else {
		c.mu.Lock()
		if c.jobs[name] == lj {
			lj.cancelWatch = cancel
		} else {
			cancel()
		}
		c.mu.Unlock()
	}

	c.log.Info("job scheduled", logx.String("job", name), logx.String("cron", cfg.Cron), logx.String("tz", cfg.TimeZone))
	return nil
}

func (c *Coordinator) Shutdown(ctx context.Context, jobName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ip := c.instancesPath(jobName)
	members, err := c.tree.children(ip)
	if err != nil {
		return unavailable("children", ip, err)
	}
	var errs []error
	for _, m := range members {
		p := path.Join(ip, m)
		if err := c.tree.removeAll(p); err != nil {
			errs = append(errs, unavailable("delete", p, err))
		}
	}
	c.unscheduleLocal(jobName)
	return errors.Join(errs...)
}

func (c *Coordinator) RemovePath(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.tree.removeAll(c.full(p)); err != nil {
		return unavailable("delete", p, err)
	}
	return nil
}

func (c *Coordinator) Done() <-chan struct{} { return c.tree.done() }

func (c *Coordinator) Err() error { return c.tree.err() }

// Close unschedules every local job and ends the session.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	names := make([]string, 0, len(c.jobs))
	for name := range c.jobs {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		c.unscheduleLocal(name)
	}
	return c.tree.close()
}

// claim starts a new generation for name. Watches armed by earlier
// generations are canceled and their callbacks become no-ops.
func (c *Coordinator) claim(name string) *localJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if old := c.jobs[name]; old != nil && old.cancelWatch != nil {
		old.cancelWatch()
	}
	lj := &localJob{gen: c.gen}
	c.jobs[name] = lj
	return lj
}

func (c *Coordinator) release(name string, lj *localJob) {
	c.mu.Lock()
	if c.jobs[name] == lj {
		delete(c.jobs, name)
	}
	c.mu.Unlock()
}

func (c *Coordinator) onInstanceRemoved(name string, gen uint64) {
	c.mu.Lock()
	lj := c.jobs[name]
	if lj == nil || lj.gen != gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.unscheduleLocal(name)
}

func (c *Coordinator) unscheduleLocal(name string) {
	c.mu.Lock()
	lj := c.jobs[name]
	delete(c.jobs, name)
	c.mu.Unlock()
	if lj != nil && lj.cancelWatch != nil {
		lj.cancelWatch()
	}
	if c.sched.Remove(name) || lj != nil {
		c.log.Info("job shut down", logx.String("job", name))
		eventbus.Emit(c.bus, "coord.shutdown", ShutdownEvent{JobName: name, Instance: c.instance})
	}
}

// Scheduled reports whether name is currently triggered on this instance.
func (c *Coordinator) Scheduled(name string) bool {
	c.mu.Lock()
	_, ok := c.jobs[name]
	c.mu.Unlock()
	return ok
}

func (c *Coordinator) trigger(cfg JobConfig, job Job) func(ctx context.Context) error {
	strategy := cfg.ShardingStrategy
	return func(ctx context.Context) error {
		fire, ok := scheduler.FireTime(ctx)
		if !ok {
			fire = time.Now().Truncate(time.Second)
		}
		ip := c.instancesPath(cfg.Name)
		members, err := c.tree.children(ip)
		if err != nil {
			return unavailable("children", ip, err)
		}
		items := Assign(strategy, cfg.ShardingTotalCount, members, cfg.Name)[c.instance]
		if len(items) == 0 {
			c.log.Trace("no shard items", logx.String("job", cfg.Name), logx.Int("instances", len(members)))
			return nil
		}
		var errs []error
		for _, item := range items {
			sc := ShardingContext{
				JobName:            cfg.Name,
				TaskID:             fmt.Sprintf("%s@-@%d@-@%s@-@%d", cfg.Name, item, c.instance, fire.Unix()),
				ShardingTotalCount: cfg.ShardingTotalCount,
				ShardItem:          item,
				FireTime:           fire,
			}
			if err := job.Execute(ctx, sc); err != nil {
				errs = append(errs, fmt.Errorf("shard %d: %w", item, err))
			}
		}
		return errors.Join(errs...)
	}
}
