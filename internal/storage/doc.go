// Package storage persists job specs and computed results.
//
// Three drivers are available:
//   - sqlite: a single database file; triggers write an outbox of change
//     payloads and tombstones for deleted specs
//   - postgres: triggers publish change payloads with pg_notify and keep
//     tombstones
//   - memory: in-process, for tests and local runs
//
// Stores that keep an outbox implement Outbox so a change feed can drain it.
package storage
