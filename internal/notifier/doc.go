// Package notifier is the alert sink.
//
// Alerts are small operator messages: spec change results, result values
// and failures. SendAlert never blocks the caller; messages are queued and
// delivered by a worker pool through a transport.Sender under a rate
// limit.
//
// # Dedup
//
// Identical texts within DedupWindow are suppressed.
//
// # History
//
// The service keeps a small in-memory history of delivered alerts.
package notifier
