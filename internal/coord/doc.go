// Package coord is the coordination client jobs are registered with.
//
// Registrations live in a tree shared by every instance:
//
//	/<namespace>/<job>/config               YAML JobConfig, persistent
//	/<namespace>/<job>/instances/<instance> ephemeral, one per live instance
//
// Each instance triggers its jobs locally through task/scheduler and runs
// only the shard items the sharding strategy assigns to it. Deleting an
// instance node unschedules the job on that instance.
package coord
