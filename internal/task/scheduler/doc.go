// Package scheduler triggers named cron schedules and hands each fire to
// the task engine.
//
// The scheduler is trigger-only: it owns the cron clock, the engine owns
// execution. Every schedule carries its own location, so jobs authored in
// different zones can share one scheduler.
package scheduler
