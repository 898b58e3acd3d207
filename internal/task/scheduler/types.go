package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"specsync/internal/eventbus"
	"specsync/internal/task/engine"
	logx "specsync/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	// Location is the default zone for schedules added without one.
	// nil means UTC.
	Location *time.Location
}

type scheduleDef struct {
	name    string
	spec    string
	loc     *time.Location
	sched   cron.Schedule
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Location string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
}

type Snapshot struct {
	Running   bool
	Schedules []ScheduleInfo
	Engine    engine.Snapshot
}

// FireEvent is published on the bus for every cron trigger.
type FireEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}
