package coord

import (
	"context"
	"errors"
	"time"
)

// ErrCoordinationUnavailable wraps every failure talking to the
// coordination service.
var ErrCoordinationUnavailable = errors.New("coordination unavailable")

func unavailable(op, path string, err error) error {
	return &opError{op: op, path: path, err: err}
}

type opError struct {
	op   string
	path string
	err  error
}

func (e *opError) Error() string {
	return "coord " + e.op + " " + e.path + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error { return []error{ErrCoordinationUnavailable, e.err} }

type ShardingStrategy string

const (
	AverageAllocation ShardingStrategy = "AVG_ALLOCATION"
	RoundRobin        ShardingStrategy = "ROUND_ROBIN"
)

// JobConfig is the registration written to <job>/config.
type JobConfig struct {
	Name               string           `yaml:"name"`
	ShardingTotalCount int              `yaml:"shardingTotalCount"`
	Cron               string           `yaml:"cron"`
	TimeZone           string           `yaml:"timeZone"`
	ShardingStrategy   ShardingStrategy `yaml:"jobShardingStrategyType"`
	// Overwrite replaces an existing config node. Without it the stored
	// config wins over the local one.
	Overwrite bool `yaml:"overwrite"`
}

// ShardingContext describes one shard of one trigger.
type ShardingContext struct {
	JobName            string
	TaskID             string
	ShardingTotalCount int
	ShardItem          int
	FireTime           time.Time
}

// Job is the business logic behind a registration.
type Job interface {
	Execute(ctx context.Context, shard ShardingContext) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, shard ShardingContext) error

func (f JobFunc) Execute(ctx context.Context, shard ShardingContext) error { return f(ctx, shard) }

// Client is the coordination API the registry uses.
type Client interface {
	Exists(ctx context.Context, path string) (bool, error)
	// ScheduleOrReplace writes cfg and starts triggering job on this
	// instance, replacing any previous local schedule of cfg.Name.
	ScheduleOrReplace(ctx context.Context, cfg JobConfig, job Job) error
	// Shutdown stops jobName on every instance.
	Shutdown(ctx context.Context, jobName string) error
	// RemovePath deletes path and everything below it.
	RemovePath(ctx context.Context, path string) error
	// Done is closed when the session is lost for good; Err then says why.
	Done() <-chan struct{}
	Err() error
	Close() error
}
