// Package executor runs one scheduled invocation of a spec's job:
// Initialize, then Compute and Validate up to MaxAttempts times, then
// Persist and Alert on the first validated attempt.
package executor

import (
	"context"
	"fmt"
)

// MaxAttempts bounds the Compute/Validate loop of one invocation.
const MaxAttempts = 3

// Task is one invocation's state machine.
type Task interface {
	// Initialize prepares a fresh result for this invocation.
	Initialize(ctx context.Context) error
	Compute(ctx context.Context) error
	Validate(ctx context.Context) bool
	Persist(ctx context.Context) error
	// Alert is best-effort; its result is informational only.
	Alert(ctx context.Context) bool
}

// Result describes what an invocation did.
type Result struct {
	Attempts  int
	Validated bool
	Persisted bool
	Alerted   bool
	// ComputeErrs holds errors from attempts whose Compute failed.
	ComputeErrs []error
}

// Run drives t. With genFlag false nothing runs. Exhausting the attempts is
// not an error; errors come from Initialize and Persist only.
func Run(ctx context.Context, t Task, genFlag bool) (Result, error) {
	var res Result
	if !genFlag {
		return res, nil
	}
	if err := t.Initialize(ctx); err != nil {
		return res, fmt.Errorf("initialize: %w", err)
	}
	for res.Attempts < MaxAttempts {
		res.Attempts++
		if err := t.Compute(ctx); err != nil {
			res.ComputeErrs = append(res.ComputeErrs, err)
			continue
		}
		if t.Validate(ctx) {
			res.Validated = true
			break
		}
	}
	if !res.Validated {
		return res, nil
	}
	if err := t.Persist(ctx); err != nil {
		return res, fmt.Errorf("persist: %w", err)
	}
	res.Persisted = true
	res.Alerted = t.Alert(ctx)
	return res, nil
}
