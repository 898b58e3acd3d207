package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"specsync/internal/coord"
	"specsync/internal/eventbus"
	"specsync/internal/spec"
	logx "specsync/pkg/logx"
)

// Store is the part of the spec store a task uses.
type Store interface {
	Spec(ctx context.Context, id int) (*spec.ImplSpec, error)
	SaveResult(ctx context.Context, v *spec.ImplValue) error
}

type Alerter interface {
	SendAlert(ctx context.Context, msg string) bool
}

// Calculator fills v for s.
type Calculator interface {
	Calculate(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) error
}

// Validator decides whether a computed value may be persisted.
type Validator interface {
	Validate(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) bool
}

type CalculatorFunc func(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) error

func (f CalculatorFunc) Calculate(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) error {
	return f(ctx, s, v)
}

type ValidatorFunc func(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) bool

func (f ValidatorFunc) Validate(ctx context.Context, s *spec.ImplSpec, v *spec.ImplValue) bool {
	return f(ctx, s, v)
}

// FixedCalculator sets every value to Value.
type FixedCalculator struct{ Value decimal.Decimal }

func (c FixedCalculator) Calculate(_ context.Context, _ *spec.ImplSpec, v *spec.ImplValue) error {
	v.Value = c.Value
	return nil
}

// NonNegative accepts values >= 0.
var NonNegative = ValidatorFunc(func(_ context.Context, _ *spec.ImplSpec, v *spec.ImplValue) bool {
	return !v.Value.IsNegative()
})

// ImplTask computes and stores one value of an ImplSpec.
type ImplTask struct {
	spec   *spec.ImplSpec
	fire   time.Time
	store  Store
	calc   Calculator
	valid  Validator
	alerts Alerter
	now    func() time.Time

	value *spec.ImplValue
}

func (t *ImplTask) Initialize(context.Context) error {
	t.value = spec.NewImplValue(t.spec.ID(), t.fire)
	return nil
}

// Compute works on a fresh value so nothing from a rejected attempt
// reaches the persisted one.
func (t *ImplTask) Compute(ctx context.Context) error {
	t.value = spec.NewImplValue(t.spec.ID(), t.fire)
	if err := t.calc.Calculate(ctx, t.spec, t.value); err != nil {
		return err
	}
	t.value.CalculateTsMillis = t.now().UnixMilli()
	return nil
}

func (t *ImplTask) Validate(ctx context.Context) bool { return t.valid.Validate(ctx, t.spec, t.value) }

func (t *ImplTask) Persist(ctx context.Context) error { return t.store.SaveResult(ctx, t.value) }

func (t *ImplTask) Alert(ctx context.Context) bool {
	if t.alerts == nil {
		return false
	}
	return t.alerts.SendAlert(ctx, fmt.Sprintf("value Calculated! %d:%s", t.spec.ID(), t.value.Value.String()))
}

// Value returns the result of the last Compute.
func (t *ImplTask) Value() *spec.ImplValue { return t.value }

type Deps struct {
	Store      Store
	Calculator Calculator
	Validator  Validator
	Alerts     Alerter
	Log        logx.Logger
	Bus        eventbus.Bus
	// Now defaults to time.Now.
	Now func() time.Time
}

// RunEvent is published after every invocation that ran.
type RunEvent struct {
	SpecID    int    `json:"spec_id"`
	JobName   string `json:"job_name"`
	Attempts  int    `json:"attempts"`
	Persisted bool   `json:"persisted"`
}

// Factory builds the coordination job of each spec.
type Factory struct {
	deps Deps
	log  logx.Logger
}

func NewFactory(deps Deps) (*Factory, error) {
	if deps.Store == nil {
		return nil, errors.New("executor: store required")
	}
	if deps.Calculator == nil {
		deps.Calculator = FixedCalculator{Value: decimal.NewFromInt(1000)}
	}
	if deps.Validator == nil {
		deps.Validator = NonNegative
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{deps: deps, log: log}, nil
}

// JobFor returns the job triggered for s. The spec is re-read on every
// fire so flag changes apply without re-registration.
func (f *Factory) JobFor(s *spec.ImplSpec) coord.Job {
	id := s.ID()
	return coord.JobFunc(func(ctx context.Context, shard coord.ShardingContext) error {
		return f.Execute(ctx, id, shard)
	})
}

// Execute runs one invocation for spec id.
func (f *Factory) Execute(ctx context.Context, id int, shard coord.ShardingContext) error {
	log := f.log.With(logx.Int("spec_id", id), logx.String("job", shard.JobName), logx.Int("shard", shard.ShardItem))
	current, err := f.deps.Store.Spec(ctx, id)
	if err != nil {
		log.Warn("spec lookup failed, skipping fire", logx.Err(err))
		return nil
	}
	if !current.GenFlag() {
		log.Debug("generation paused")
		return nil
	}
	fire := shard.FireTime
	if fire.IsZero() {
		fire = f.deps.Now()
	}
	t := &ImplTask{
		spec:   current,
		fire:   fire.Truncate(time.Second),
		store:  f.deps.Store,
		calc:   f.deps.Calculator,
		valid:  f.deps.Validator,
		alerts: f.deps.Alerts,
		now:    f.deps.Now,
	}
	res, err := Run(ctx, t, current.GenFlag())
	for _, cerr := range res.ComputeErrs {
		log.Warn("compute failed", logx.Err(cerr))
	}
	eventbus.Emit(f.deps.Bus, "executor.run", RunEvent{SpecID: id, JobName: shard.JobName, Attempts: res.Attempts, Persisted: res.Persisted})
	switch {
	case err != nil:
		log.Error("invocation failed", logx.Int("attempts", res.Attempts), logx.Err(err))
		return err
	case !res.Validated:
		log.Warn("validation exhausted", logx.Int("attempts", res.Attempts))
		eventbus.Emit(f.deps.Bus, "executor.exhausted", RunEvent{SpecID: id, JobName: shard.JobName, Attempts: res.Attempts})
	default:
		if !res.Alerted {
			log.Warn("result alert not sent")
		}
		log.Info("value calculated", logx.Int("attempts", res.Attempts), logx.String("value", t.value.Value.String()))
	}
	return nil
}
