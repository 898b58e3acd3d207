// Package changefeed turns spec-table change notifications into registry
// actions.
//
// A Feed delivers raw notifications (postgres LISTEN, a store outbox, or an
// in-memory queue). The Listener polls a Feed on a fixed cadence, decodes
// each payload and registers, re-registers or deregisters the job. Each
// notification is handled independently: a failure is logged and alerted
// and never stops the rest of the batch.
package changefeed
