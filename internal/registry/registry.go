// Package registry owns every mutation of the coordination service's view
// of scheduled jobs. Register, Deregister and RegisterAll never interleave.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"specsync/internal/coord"
	"specsync/internal/eventbus"
	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

// DefaultPrefix is prepended to a spec mnemonic to form its job name.
const DefaultPrefix = "devtaco-ejob-"

// JobName returns the coordination job name for mnemonic.
func JobName(prefix, mnemonic string) string { return prefix + mnemonic }

// JobPath returns the coordination path of jobName.
func JobPath(jobName string) string { return "/" + jobName }

// SpecStore is the part of the spec store the registry reads.
type SpecStore interface {
	AllSpecs(ctx context.Context) ([]*spec.ImplSpec, error)
	JobNameFor(ctx context.Context, id int) (string, error)
}

// JobFactory builds the job triggered for a spec.
type JobFactory interface {
	JobFor(s *spec.ImplSpec) coord.Job
}

type Config struct {
	// Prefix defaults to DefaultPrefix.
	Prefix string
	// TimeZone is the zone cron expressions are written in. "" means UTC.
	TimeZone         string
	ShardingStrategy coord.ShardingStrategy
}

type Deps struct {
	Store SpecStore
	Coord coord.Client
	Jobs  JobFactory
	Log   logx.Logger
	Bus   eventbus.Bus
}

// Event is published on the bus for registry changes.
type Event struct {
	SpecID  int    `json:"spec_id"`
	JobName string `json:"job_name,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type Registry struct {
	cfg   Config
	store SpecStore
	coord coord.Client
	jobs  JobFactory
	log   logx.Logger
	bus   eventbus.Bus

	mu sync.Mutex
	// names holds the job name each spec id was last registered under, so
	// a renamed spec can still find its old job.
	names map[int]string
}

func New(cfg Config, deps Deps) (*Registry, error) {
	if deps.Store == nil || deps.Coord == nil || deps.Jobs == nil {
		return nil, errors.New("registry: store, coord and jobs are required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ShardingStrategy == "" {
		cfg.ShardingStrategy = coord.AverageAllocation
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		cfg:   cfg,
		store: deps.Store,
		coord: deps.Coord,
		jobs:  deps.Jobs,
		log:   log,
		bus:   deps.Bus,
		names: map[int]string{},
	}, nil
}

// RegisterAll registers every executable spec in the store. Failures are
// collected and do not stop the batch.
func (r *Registry) RegisterAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	specs, err := r.store.AllSpecs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load specs: %w", err)
	}
	n := 0
	var errs []error
	for _, s := range specs {
		if !s.Executable() {
			continue
		}
		if err := r.register(ctx, s); err != nil {
			r.log.Error("register failed", logx.Int("spec_id", s.ID()), logx.String("name", s.Name()), logx.Err(err))
			errs = append(errs, fmt.Errorf("spec %d: %w", s.ID(), err))
			continue
		}
		n++
	}
	r.log.Info("specs registered", logx.Int("registered", n), logx.Int("total", len(specs)), logx.Int("failed", len(errs)))
	return n, errors.Join(errs...)
}

// Register schedules s. Specs that are not executable or not concrete are
// skipped without touching the coordination service.
func (r *Registry) Register(ctx context.Context, s spec.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(ctx, s)
}

func (r *Registry) register(ctx context.Context, s spec.Spec) error {
	impl, ok := s.(*spec.ImplSpec)
	if !ok || !s.Executable() {
		reason := "not executable"
		if !ok {
			reason = "not concrete"
		}
		r.log.Debug("register skipped", logx.Int("spec_id", s.ID()), logx.String("reason", reason))
		eventbus.Emit(r.bus, "registry.skipped", Event{SpecID: s.ID(), Reason: reason})
		return nil
	}
	cron, ok := impl.CronExpression()
	if !ok {
		return fmt.Errorf("%w: spec %d has no cron expression", spec.ErrInvalidSpec, impl.ID())
	}
	name := JobName(r.cfg.Prefix, strings.TrimSpace(impl.Name()))
	cfg := coord.JobConfig{
		Name:               name,
		ShardingTotalCount: 1,
		Cron:               cron,
		TimeZone:           coord.ZoneFor(r.cfg.TimeZone),
		ShardingStrategy:   r.cfg.ShardingStrategy,
		Overwrite:          true,
	}
	if prev, ok := r.names[impl.ID()]; ok && prev != name {
		if _, err := r.remove(ctx, impl.ID(), prev); err != nil {
			return fmt.Errorf("remove previous job %s: %w", prev, err)
		}
		delete(r.names, impl.ID())
	}
	if err := r.coord.ScheduleOrReplace(ctx, cfg, r.jobs.JobFor(impl)); err != nil {
		return err
	}
	r.names[impl.ID()] = name
	r.log.Info("job registered", logx.Int("spec_id", impl.ID()), logx.String("job", name), logx.String("cron", cron))
	eventbus.Emit(r.bus, "registry.registered", Event{SpecID: impl.ID(), JobName: name})
	return nil
}

// Deregister shuts the job of s down cluster-wide and removes its path.
// The job name is looked up by id, so s may be an identity-only reference.
// A job registered by this process under an older mnemonic is removed too.
// A job with no registration is a no-op.
func (r *Registry) Deregister(ctx context.Context, s spec.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	var names []string
	if prev, ok := r.names[id]; ok {
		names = append(names, prev)
	}
	mnemonic, err := r.store.JobNameFor(ctx, id)
	switch {
	case err == nil:
		if name := JobName(r.cfg.Prefix, strings.TrimSpace(mnemonic)); !slices.Contains(names, name) {
			names = append(names, name)
		}
	case len(names) == 0:
		return fmt.Errorf("job name for spec %d: %w", id, err)
	default:
		r.log.Warn("job name lookup failed; using registered name", logx.Int("spec_id", id), logx.String("job", names[0]), logx.Err(err))
	}

	for _, name := range names {
		removed, err := r.remove(ctx, id, name)
		if err != nil {
			return err
		}
		if !removed {
			r.log.Debug("deregister skipped", logx.Int("spec_id", id), logx.String("path", JobPath(name)))
		}
	}
	delete(r.names, id)
	return nil
}

// remove shuts name down and deletes its path. It reports false when no
// registration exists.
func (r *Registry) remove(ctx context.Context, id int, name string) (bool, error) {
	p := JobPath(name)
	ok, err := r.coord.Exists(ctx, p)
	if err != nil || !ok {
		return false, err
	}
	if err := r.coord.Shutdown(ctx, name); err != nil {
		return false, err
	}
	if err := r.coord.RemovePath(ctx, p); err != nil {
		return false, err
	}
	r.log.Info("job deregistered", logx.Int("spec_id", id), logx.String("job", name))
	eventbus.Emit(r.bus, "registry.deregistered", Event{SpecID: id, JobName: name})
	return true, nil
}
