package app

import (
	"time"

	"specsync/internal/config"
	"specsync/internal/observability/ops"
	rtsup "specsync/internal/runtime/supervisor"
	"specsync/internal/task/scheduler"
)

// Status is served on /status.
type Status struct {
	Instance string                   `json:"instance"`
	Healthy  bool                     `json:"healthy"`
	Reason   string                   `json:"reason,omitempty"`
	At       time.Time                `json:"at"`
	Jobs     []scheduler.ScheduleInfo `json:"jobs"`
	Engine   EngineStatus             `json:"engine"`
	Listener ListenerStatus           `json:"listener"`
	Routines rtsup.Counters           `json:"goroutines"`
	Alerts   []string                 `json:"recent_alerts,omitempty"`
}

type EngineStatus struct {
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	InFlight int    `json:"in_flight"`
	Dropped  uint64 `json:"dropped"`
}

type ListenerStatus struct {
	Interval time.Duration `json:"interval"`
	Polls    uint64        `json:"polls"`
	Applied  uint64        `json:"applied"`
	Failed   uint64        `json:"failed"`
}

// Healthy is false once the coordination session is gone.
func (a *App) Healthy() (bool, string) {
	if a.coord == nil {
		return false, "starting"
	}
	select {
	case <-a.coord.Done():
		if err := a.coord.Err(); err != nil {
			return false, "coordination session lost: " + err.Error()
		}
		return false, "coordination session lost"
	default:
		return true, "ok"
	}
}

func (a *App) Status() any {
	ok, reason := a.Healthy()
	st := Status{Instance: instanceID(a.coord), Healthy: ok, At: time.Now().UTC()}
	if !ok {
		st.Reason = reason
	}
	if a.sup != nil {
		st.Routines = a.sup.Counters()
	}
	if a.sched != nil {
		snap := a.sched.Snapshot()
		st.Jobs = snap.Schedules
	}
	if a.engine != nil {
		es := a.engine.Snapshot()
		st.Engine = EngineStatus{Workers: es.Workers, QueueLen: es.QueueLen, InFlight: es.InFlight, Dropped: es.Dropped}
	}
	if a.listener != nil {
		polls, applied, failed := a.listener.Stats()
		st.Listener = ListenerStatus{Interval: a.listener.Interval(), Polls: polls, Applied: applied, Failed: failed}
	}
	if a.notif != nil {
		for _, h := range a.notif.Snapshot() {
			st.Alerts = append(st.Alerts, h.Text)
		}
	}
	return st
}

var _ ops.Source = (*App)(nil)

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profile/trace stream for up to 30s by default
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
