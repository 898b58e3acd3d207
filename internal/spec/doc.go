// Package spec holds job definitions and computed results.
//
// A JobSpec carries identity and schedule; ImplSpec is the concrete,
// registrable kind. Cron expressions are stored only in canonical form
// (see CanonicalizeCron), so consumers never re-canonicalize.
package spec
